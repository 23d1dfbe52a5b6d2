package main

import (
	"encoding/hex"
	"fmt"

	"github.com/lightninglabs/subswap/swap"
	"github.com/urfave/cli"
)

var checkScriptCommand = cli.Command{
	Name:      "checkscript",
	Usage:     "validate a swap redeem script",
	ArgsUsage: "script_hex",
	Description: `
	Matches a redeem script against the lockup template of forward swaps,
	or of reverse swaps if --reverse is set, and shows its fields and
	lockup address.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "reverse",
			Usage: "match the reverse swap template",
		},
	},
	Action: checkScript,
}

type scriptResponse struct {
	Type          string `json:"type"`
	Hash160       string `json:"hash160"`
	ClaimKey      string `json:"claim_pubkey"`
	RefundKey     string `json:"refund_pubkey"`
	Locktime      int32  `json:"locktime"`
	LockupAddress string `json:"lockup_address"`
	WitnessSize   int    `json:"max_witness_size"`
}

func checkScript(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "checkscript")
	}

	script, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid script hex: %w", err)
	}

	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	chainParams, err := cfg.chainParams()
	if err != nil {
		return err
	}

	swapType := swap.TypeFromReverse(ctx.Bool("reverse"))
	htlc, err := swap.NewHtlc(swapType, script, chainParams)
	if err != nil {
		return err
	}

	return printJSON(&scriptResponse{
		Type:          swapType.String(),
		Hash160:       hex.EncodeToString(htlc.Hash160[:]),
		ClaimKey:      hex.EncodeToString(htlc.ClaimKey),
		RefundKey:     hex.EncodeToString(htlc.RefundKey),
		Locktime:      htlc.Locktime,
		LockupAddress: htlc.Address.String(),
		WitnessSize:   swap.ClaimWitnessSize(swapType, len(script)),
	})
}
