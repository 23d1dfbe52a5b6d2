package swapdb

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightningnetwork/lnd/lntypes"
)

// SwapRecord is the persisted state of a single swap.
type SwapRecord struct {
	// IsReverse is true for swaps that pay off-chain and receive
	// on-chain.
	IsReverse bool

	// Locktime is the absolute height after which the lockup output is
	// refundable.
	Locktime int32

	// OnchainAmount is the amount locked up on-chain.
	OnchainAmount btcutil.Amount

	// LightningAmount is the amount paid or received off-chain.
	LightningAmount btcutil.Amount

	// RedeemScript is the witness script of the lockup output.
	RedeemScript []byte

	// Preimage unlocks the swap. The payment hash of the swap is derived
	// from it.
	Preimage lntypes.Preimage

	// PrepayHash is the payment hash of the miner fee invoice of a
	// reverse swap, if the server asked for one.
	PrepayHash *lntypes.Hash

	// PrivKey is the single use key that claims or refunds the lockup
	// output.
	PrivKey [32]byte

	// LockupAddress is the P2WSH address of the redeem script.
	LockupAddress string

	// ReceiveAddress receives the claimed or refunded funds.
	ReceiveAddress string

	// FundingOutpoint is the lockup output once it has been seen.
	FundingOutpoint *wire.OutPoint

	// SpendingTxid is the transaction spending the lockup output once we
	// created or observed one.
	SpendingTxid *chainhash.Hash

	// IsRedeemed is set once the spend is buried deep enough to stop
	// watching the swap.
	IsRedeemed bool

	// ServerID is the swap id assigned by the swap server.
	ServerID string

	// CreatedAt is the time the swap was initiated.
	CreatedAt time.Time
}

// PaymentHash returns the hash identifying the swap.
func (s *SwapRecord) PaymentHash() lntypes.Hash {
	return s.Preimage.Hash()
}

// Type returns the swap type.
func (s *SwapRecord) Type() swap.Type {
	return swap.TypeFromReverse(s.IsReverse)
}

// FundingTxid returns the id of the funding transaction, or nil if no
// funding has been seen yet.
func (s *SwapRecord) FundingTxid() *chainhash.Hash {
	if s.FundingOutpoint == nil {
		return nil
	}

	txid := s.FundingOutpoint.Hash
	return &txid
}

// Copy returns a deep copy of the record.
func (s *SwapRecord) Copy() *SwapRecord {
	c := *s

	c.RedeemScript = append([]byte(nil), s.RedeemScript...)

	if s.PrepayHash != nil {
		hash := *s.PrepayHash
		c.PrepayHash = &hash
	}

	if s.FundingOutpoint != nil {
		op := *s.FundingOutpoint
		c.FundingOutpoint = &op
	}

	if s.SpendingTxid != nil {
		txid := *s.SpendingTxid
		c.SpendingTxid = &txid
	}

	return &c
}
