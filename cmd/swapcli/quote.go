package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/subswap"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/urfave/cli"
)

var getPairsCommand = cli.Command{
	Name:   "getpairs",
	Usage:  "show the fee schedule and limits of the swap server",
	Action: getPairs,
}

var quoteCommand = cli.Command{
	Name:      "quote",
	Usage:     "compute the amounts of a swap",
	ArgsUsage: "amt",
	Description: `
	Shows what is received when sending amt, and what needs to be sent to
	receive amt. Forward swaps send on-chain, reverse swaps send off-chain.

	The claim fee of reverse swaps is estimated by lnd unless a fee rate
	is given.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "reverse",
			Usage: "quote a reverse swap",
		},
		cli.Uint64Flag{
			Name:  "sat_per_vbyte",
			Usage: "claim fee rate to use instead of asking lnd",
		},
	},
	Action: quote,
}

type pairsResponse struct {
	PairID     string  `json:"pair_id"`
	Percentage float64 `json:"fee_percentage"`
	NormalFee  int64   `json:"normal_fee_sat"`
	LockupFee  int64   `json:"lockup_fee_sat"`
	MinAmount  int64   `json:"min_amount_sat"`
	MaxAmount  int64   `json:"max_amount_sat"`
}

func getPairs(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	cmdCtx, cancel := commandContext()
	defer cancel()

	raw, err := newServerClient(cfg).GetPairs(cmdCtx)
	if err != nil {
		return err
	}

	pair, err := swapserver.ParsePairs(raw, cfg.PairID)
	if err != nil {
		return err
	}

	fees := pair.Fees.MinerFees.BaseAsset

	return printJSON(&pairsResponse{
		PairID:     cfg.PairID,
		Percentage: pair.Fees.Percentage,
		NormalFee:  fees.Normal,
		LockupFee:  fees.Reverse.Lockup,
		MinAmount:  pair.Limits.Minimal,
		MaxAmount:  pair.Limits.Maximal,
	})
}

// staticFeeEstimator returns the same fee rate for every target.
type staticFeeEstimator chainfee.SatPerKWeight

func (s staticFeeEstimator) EstimateFeeRate(_ context.Context,
	_ int32) (chainfee.SatPerKWeight, error) {

	return chainfee.SatPerKWeight(s), nil
}

type quoteResponse struct {
	Reverse    bool     `json:"reverse"`
	Amount     int64    `json:"amount_sat"`
	RecvAmount *int64   `json:"recv_for_send_sat,omitempty"`
	SendAmount *int64   `json:"send_for_recv_sat,omitempty"`
	ClaimFee   int64    `json:"claim_fee_sat"`
	Percentage float64  `json:"fee_percentage"`
	Errors     []string `json:"errors,omitempty"`
}

func quote(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "quote")
	}

	amt, err := strconv.ParseInt(ctx.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	chainParams, err := cfg.chainParams()
	if err != nil {
		return err
	}

	cmdCtx, cancel := commandContext()
	defer cancel()

	var estimator subswap.FeeEstimator
	if ctx.IsSet("sat_per_vbyte") {
		satPerKVByte := chainfee.SatPerKVByte(
			ctx.Uint64("sat_per_vbyte") * 1000,
		)
		estimator = staticFeeEstimator(satPerKVByte.FeePerKWeight())
	} else {
		backend, cleanup, err := connectLnd(cmdCtx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		estimator = backend
	}

	if err := os.MkdirAll(cfg.networkDir(), 0700); err != nil {
		return err
	}

	manager, err := subswap.NewManager(&subswap.Config{
		Server:       newServerClient(cfg),
		FeeEstimator: estimator,
		ChainParams:  chainParams,
		DataDir:      cfg.networkDir(),
		PairID:       cfg.PairID,
	})
	if err != nil {
		return err
	}

	manager.LoadPairsCache()
	if err := manager.RefreshPairs(cmdCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Using cached pairs: %v\n", err)
	}

	calc, err := manager.Calculator(cmdCtx)
	if err != nil {
		return err
	}

	isReverse := ctx.Bool("reverse")
	resp := &quoteResponse{
		Reverse:    isReverse,
		Amount:     amt,
		ClaimFee:   int64(calc.ClaimFee),
		Percentage: swap.FeeRateAsPercentage(calc.FeeRate),
	}

	recv, err := calc.RecvAmount(btcutil.Amount(amt), isReverse)
	err = quoteResult(resp, int64(recv), err, &resp.RecvAmount)
	if err != nil {
		return err
	}

	send, err := calc.SendAmount(btcutil.Amount(amt), isReverse)
	err = quoteResult(resp, int64(send), err, &resp.SendAmount)
	if err != nil {
		return err
	}

	return printJSON(resp)
}

// quoteResult stores a computed amount. Amounts out of range are reported
// in the response, other errors abort.
func quoteResult(resp *quoteResponse, amt int64, err error,
	target **int64) error {

	switch {
	case errors.Is(err, swap.ErrAmountOutOfRange):
		resp.Errors = append(resp.Errors, err.Error())
		return nil

	case err != nil:
		return err
	}

	*target = &amt

	return nil
}
