package swapdb

import (
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Index keeps the in-memory lookups over the swap records of a session. It
// is not safe for concurrent use; the owner serializes access.
type Index struct {
	swaps map[lntypes.Hash]*SwapRecord

	// prepayments maps the hash of a miner fee invoice to the payment
	// hash of its swap.
	prepayments map[lntypes.Hash]lntypes.Hash

	byFundingOutpoint map[wire.OutPoint]*SwapRecord
	byLockupAddress   map[string]*SwapRecord
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		swaps:             make(map[lntypes.Hash]*SwapRecord),
		prepayments:       make(map[lntypes.Hash]lntypes.Hash),
		byFundingOutpoint: make(map[wire.OutPoint]*SwapRecord),
		byLockupAddress:   make(map[string]*SwapRecord),
	}
}

// AddOrReindex inserts the record under its payment hash if the hash is new
// and refreshes the secondary lookups from the fields of rec. It is safe to
// call repeatedly as the funding and spending fields of a record are
// discovered. The record first added under a payment hash stays the one all
// lookups resolve to. Entries of a replaced funding outpoint are kept so
// that a lookup by the old outpoint still resolves the swap.
func (i *Index) AddOrReindex(rec *SwapRecord) {
	hash := rec.PaymentHash()

	stored, ok := i.swaps[hash]
	if !ok {
		i.swaps[hash] = rec
		stored = rec
	}

	if rec.PrepayHash != nil {
		i.prepayments[*rec.PrepayHash] = hash
	}

	if rec.FundingOutpoint != nil {
		i.byFundingOutpoint[*rec.FundingOutpoint] = stored
	}

	i.byLockupAddress[rec.LockupAddress] = stored
}

// HasActiveSwap returns true if a swap that is not redeemed yet locks funds
// to addr.
func (i *Index) HasActiveSwap(addr string) bool {
	rec, ok := i.byLockupAddress[addr]
	return ok && !rec.IsRedeemed
}

// ByPaymentHash returns the swap with the given payment hash. The payment
// hash of a miner fee invoice resolves to its swap too.
func (i *Index) ByPaymentHash(hash lntypes.Hash) (*SwapRecord, bool) {
	if rec, ok := i.swaps[hash]; ok {
		return rec, true
	}

	swapHash, ok := i.prepayments[hash]
	if !ok {
		return nil, false
	}

	rec, ok := i.swaps[swapHash]
	return rec, ok
}

// ByFundingOutpoint returns the swap whose lockup output is op.
func (i *Index) ByFundingOutpoint(op wire.OutPoint) (*SwapRecord, bool) {
	rec, ok := i.byFundingOutpoint[op]
	return rec, ok
}

// ByClaimTxIn returns the swap whose lockup output is spent by txin.
func (i *Index) ByClaimTxIn(txin *wire.TxIn) (*SwapRecord, bool) {
	return i.ByFundingOutpoint(txin.PreviousOutPoint)
}

// ByFundingTx returns the swap funded by one of the outputs of tx.
func (i *Index) ByFundingTx(tx *wire.MsgTx) (*SwapRecord, bool) {
	txid := tx.TxHash()
	for idx := range tx.TxOut {
		op := wire.OutPoint{Hash: txid, Index: uint32(idx)}
		if rec, ok := i.byFundingOutpoint[op]; ok {
			return rec, true
		}
	}

	return nil, false
}

// ByLockupAddress returns the swap locking funds to addr.
func (i *Index) ByLockupAddress(addr string) (*SwapRecord, bool) {
	rec, ok := i.byLockupAddress[addr]
	return rec, ok
}

// Len returns the number of swaps.
func (i *Index) Len() int {
	return len(i.swaps)
}

// All returns all swaps, oldest first.
func (i *Index) All() []*SwapRecord {
	swaps := make([]*SwapRecord, 0, len(i.swaps))
	for _, rec := range i.swaps {
		swaps = append(swaps, rec)
	}

	sort.Slice(swaps, func(a, b int) bool {
		return swaps[a].CreatedAt.Before(swaps[b].CreatedAt)
	})

	return swaps
}
