package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/subswap/lndbackend"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[swapcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Name = "swapcli"
	app.Usage = "submarine swap tooling"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "configfile",
			Value: defaultConfigFile,
			Usage: "path to the configuration file",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "network to run on",
		},
		cli.StringFlag{
			Name:  "datadir",
			Usage: "directory of the swap database and pairs cache",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "logging level of all or individual subsystems",
		},
		cli.StringFlag{
			Name:  "serverurl",
			Usage: "swap server base url",
		},
		cli.StringFlag{
			Name:  "lnd.host",
			Usage: "lnd instance rpc address",
		},
		cli.StringFlag{
			Name:  "lnd.macaroondir",
			Usage: "path to the directory of the lnd macaroons",
		},
		cli.StringFlag{
			Name:  "lnd.tlspath",
			Usage: "path to the lnd tls certificate",
		},
		cli.StringSliceFlag{
			Name:  "electrum.server",
			Usage: "electrum server host:port, may be repeated",
		},
		cli.BoolFlag{
			Name:  "electrum.tls",
			Usage: "connect to the electrum servers over TLS",
		},
	}
	app.Commands = []cli.Command{
		getPairsCommand, quoteCommand, checkScriptCommand,
		verifyTxCommand, listSwapsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// getConfig loads the config file and applies the global flags on top.
func getConfig(ctx *cli.Context) (*config, error) {
	cfg, err := loadConfig(
		ctx.GlobalString("configfile"), ctx.GlobalIsSet("configfile"),
	)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"network":         &cfg.Network,
		"datadir":         &cfg.DataDir,
		"debuglevel":      &cfg.DebugLevel,
		"serverurl":       &cfg.ServerURL,
		"lnd.host":        &cfg.Lnd.Host,
		"lnd.macaroondir": &cfg.Lnd.MacaroonDir,
		"lnd.tlspath":     &cfg.Lnd.TLSPath,
	}
	for name, value := range overrides {
		if ctx.GlobalIsSet(name) {
			*value = ctx.GlobalString(name)
		}
	}

	if ctx.GlobalIsSet("electrum.server") {
		cfg.Electrum.Servers = ctx.GlobalStringSlice("electrum.server")
	}
	if ctx.GlobalIsSet("electrum.tls") {
		cfg.Electrum.TLS = ctx.GlobalBool("electrum.tls")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := setupLogging(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// commandContext returns a context that is cancelled on interrupt.
func commandContext() (context.Context, func()) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func newServerClient(cfg *config) *swapserver.Client {
	return swapserver.NewClient(cfg.ServerURL)
}

// connectLnd connects to lnd and returns the swap backend on top of it.
func connectLnd(ctx context.Context, cfg *config) (*lndbackend.Backend,
	func(), error) {

	lnd, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  cfg.Lnd.Host,
		Network:     lndclient.Network(cfg.Network),
		MacaroonDir: cfg.Lnd.MacaroonDir,
		TLSPath:     cfg.Lnd.TLSPath,
		CallerCtx:   ctx,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to lnd: %w", err)
	}

	return lndbackend.NewFromServices(&lnd.LndServices), lnd.Close, nil
}

func printJSON(resp interface{}) error {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))

	return nil
}
