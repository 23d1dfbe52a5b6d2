package main

import (
	"time"

	"github.com/lightninglabs/subswap/swapdb"
	"github.com/urfave/cli"
)

var listSwapsCommand = cli.Command{
	Name:   "listswaps",
	Usage:  "list the swaps in the swap database",
	Action: listSwaps,
}

type swapResponse struct {
	PaymentHash     string `json:"payment_hash"`
	Type            string `json:"type"`
	ServerID        string `json:"server_id"`
	OnchainAmount   int64  `json:"onchain_amount_sat"`
	LightningAmount int64  `json:"lightning_amount_sat"`
	LockupAddress   string `json:"lockup_address"`
	Locktime        int32  `json:"locktime"`
	FundingOutpoint string `json:"funding_outpoint,omitempty"`
	SpendingTxid    string `json:"spending_txid,omitempty"`
	IsRedeemed      bool   `json:"is_redeemed"`
	CreatedAt       string `json:"created_at"`
}

func newSwapResponse(rec *swapdb.SwapRecord) *swapResponse {
	resp := &swapResponse{
		PaymentHash:     rec.PaymentHash().String(),
		Type:            rec.Type().String(),
		ServerID:        rec.ServerID,
		OnchainAmount:   int64(rec.OnchainAmount),
		LightningAmount: int64(rec.LightningAmount),
		LockupAddress:   rec.LockupAddress,
		Locktime:        rec.Locktime,
		IsRedeemed:      rec.IsRedeemed,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
	}

	if rec.FundingOutpoint != nil {
		resp.FundingOutpoint = rec.FundingOutpoint.String()
	}
	if rec.SpendingTxid != nil {
		resp.SpendingTxid = rec.SpendingTxid.String()
	}

	return resp
}

func listSwaps(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	store, err := swapdb.NewBoltStore(cfg.networkDir())
	if err != nil {
		return err
	}
	defer store.Close()

	swaps, err := store.FetchSwaps()
	if err != nil {
		return err
	}

	index := swapdb.NewIndex()
	for _, rec := range swaps {
		index.AddOrReindex(rec)
	}

	resp := make([]*swapResponse, 0, index.Len())
	for _, rec := range index.All() {
		resp = append(resp, newSwapResponse(rec))
	}

	return printJSON(resp)
}
