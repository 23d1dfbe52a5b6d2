package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapserver"
)

const (
	defaultConfigFilename = "swapcli.conf"
	defaultNetwork        = "mainnet"
	defaultLogLevel       = "info"
	defaultLndHost        = "localhost:10009"
)

var (
	swapDirBase = btcutil.AppDataDir("subswap", false)

	defaultConfigFile = filepath.Join(swapDirBase, defaultConfigFilename)

	defaultLndDir         = btcutil.AppDataDir("lnd", false)
	defaultLndMacaroonDir = filepath.Join(
		defaultLndDir, "data", "chain", "bitcoin", defaultNetwork,
	)
	defaultLndTLSPath = filepath.Join(defaultLndDir, "tls.cert")
)

type lndConfig struct {
	Host        string `long:"host" description:"lnd instance rpc address"`
	MacaroonDir string `long:"macaroondir" description:"Path to the directory containing all the required lnd macaroons"`
	TLSPath     string `long:"tlspath" description:"Path to lnd tls certificate"`
}

type electrumConfig struct {
	Servers []string `long:"server" description:"Electrum server host:port, may be given multiple times"`
	TLS     bool     `long:"tls" description:"Connect to the electrum servers over TLS"`
	Proxy   string   `long:"proxy" description:"Tor SOCKS5 proxy host:port to reach the electrum servers through"`
}

type config struct {
	Network    string `long:"network" description:"network to run on" choice:"regtest" choice:"testnet" choice:"signet" choice:"mainnet" choice:"simnet"`
	DataDir    string `long:"datadir" description:"Directory for the swap database and the pairs cache"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,..."`

	ServerURL string `long:"serverurl" description:"Swap server base url, defaults to the public server of the network"`
	PairID    string `long:"pairid" description:"Pair to request swaps for"`

	Lnd      *lndConfig      `group:"lnd" namespace:"lnd"`
	Electrum *electrumConfig `group:"electrum" namespace:"electrum"`
}

func defaultConfig() config {
	return config{
		Network:    defaultNetwork,
		DataDir:    swapDirBase,
		DebugLevel: defaultLogLevel,
		PairID:     swapserver.DefaultPairID,
		Lnd: &lndConfig{
			Host:        defaultLndHost,
			MacaroonDir: defaultLndMacaroonDir,
			TLSPath:     defaultLndTLSPath,
		},
		Electrum: &electrumConfig{},
	}
}

// loadConfig reads the config file on top of the defaults. A missing file
// is not an error unless it was asked for explicitly. The result still
// needs to be validated once command line overrides are applied.
func loadConfig(configFile string, explicit bool) (*config, error) {
	cfg := defaultConfig()

	err := flags.IniParse(configFile, &cfg)
	if err != nil {
		var iniErr *flags.IniError
		switch {
		case errors.As(err, &iniErr):
			return nil, err

		case explicit || !os.IsNotExist(err):
			return nil, fmt.Errorf("unable to read config file "+
				"%v: %w", configFile, err)
		}
	}

	return &cfg, nil
}

func (c *config) validate() error {
	if _, err := c.chainParams(); err != nil {
		return err
	}

	c.DataDir = cleanAndExpandPath(c.DataDir)
	c.Lnd.MacaroonDir = cleanAndExpandPath(c.Lnd.MacaroonDir)
	c.Lnd.TLSPath = cleanAndExpandPath(c.Lnd.TLSPath)
	if c.ServerURL == "" {
		c.ServerURL = swapserver.DefaultURL(c.Network)
	}
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")

	if c.ServerURL == "" {
		return fmt.Errorf("no default swap server on %v, set "+
			"serverurl", c.Network)
	}

	return nil
}

// networkDir is the data directory of the configured network.
func (c *config) networkDir() string {
	return filepath.Join(c.DataDir, c.Network)
}

func (c *config) chainParams() (*chaincfg.Params, error) {
	return swap.ChainParamsFromNetwork(c.Network)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", homeDir, 1)
		}
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
