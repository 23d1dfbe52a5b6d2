package swapserver

import (
	"encoding/json"
	"fmt"
)

const (
	// SwapTypeSubmarine is the createswap type of forward swaps.
	SwapTypeSubmarine = "submarine"

	// SwapTypeReverse is the createswap type of reverse swaps.
	SwapTypeReverse = "reversesubmarine"

	// DefaultPairID is the pair swaps are requested for.
	DefaultPairID = "BTC/BTC"
)

// CreateSwapRequest requests a forward swap: we lock up on-chain, the
// server pays our invoice.
type CreateSwapRequest struct {
	Type            string `json:"type"`
	PairID          string `json:"pairId"`
	OrderSide       string `json:"orderSide"`
	Invoice         string `json:"invoice"`
	RefundPublicKey string `json:"refundPublicKey"`
}

// CreateSwapResponse is the server's forward swap offer.
type CreateSwapResponse struct {
	ID                 string `json:"id"`
	AcceptZeroConf     bool   `json:"acceptZeroConf"`
	ExpectedAmount     int64  `json:"expectedAmount"`
	TimeoutBlockHeight int32  `json:"timeoutBlockHeight"`
	Address            string `json:"address"`
	RedeemScript       string `json:"redeemScript"`
}

// CreateReverseSwapRequest requests a reverse swap: we pay off-chain, the
// server locks up on-chain.
type CreateReverseSwapRequest struct {
	Type           string `json:"type"`
	PairID         string `json:"pairId"`
	OrderSide      string `json:"orderSide"`
	InvoiceAmount  int64  `json:"invoiceAmount"`
	PreimageHash   string `json:"preimageHash"`
	ClaimPublicKey string `json:"claimPublicKey"`
}

// CreateReverseSwapResponse is the server's reverse swap offer. The miner
// fee invoice is optional.
type CreateReverseSwapResponse struct {
	ID                 string `json:"id"`
	Invoice            string `json:"invoice"`
	MinerFeeInvoice    string `json:"minerFeeInvoice,omitempty"`
	LockupAddress      string `json:"lockupAddress"`
	RedeemScript       string `json:"redeemScript"`
	TimeoutBlockHeight int32  `json:"timeoutBlockHeight"`
	OnchainAmount      int64  `json:"onchainAmount"`
}

// ReverseFees are the miner fees of a reverse swap.
type ReverseFees struct {
	Claim  int64 `json:"claim"`
	Lockup int64 `json:"lockup"`
}

// AssetFees are the miner fees charged in one asset.
type AssetFees struct {
	Normal  int64       `json:"normal"`
	Reverse ReverseFees `json:"reverse"`
}

// MinerFees are the miner fees per asset of a pair.
type MinerFees struct {
	BaseAsset  AssetFees `json:"baseAsset"`
	QuoteAsset AssetFees `json:"quoteAsset"`
}

// Fees is the fee schedule of a pair.
type Fees struct {
	// Percentage is the proportional fee, in percent.
	Percentage float64   `json:"percentage"`
	MinerFees  MinerFees `json:"minerFees"`
}

// Limits are the smallest and largest swap amounts of a pair.
type Limits struct {
	Minimal int64 `json:"minimal"`
	Maximal int64 `json:"maximal"`
}

// Pair is the offer of the server for one pair.
type Pair struct {
	Rate   float64 `json:"rate"`
	Limits Limits  `json:"limits"`
	Fees   Fees    `json:"fees"`
}

// PairsResponse is the result of getpairs.
type PairsResponse struct {
	Pairs map[string]Pair `json:"pairs"`
}

// ParsePairs decodes a getpairs body and returns the given pair.
func ParsePairs(raw []byte, pairID string) (*Pair, error) {
	var resp PairsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode pairs: %v", ErrSwapServer,
			err)
	}

	pair, ok := resp.Pairs[pairID]
	if !ok {
		return nil, fmt.Errorf("%w: pair %v not offered", ErrSwapServer,
			pairID)
	}

	return &pair, nil
}
