package subswap

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/labels"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/sweep"
	"github.com/lightningnetwork/lnd/lntypes"
)

// claimSwap inspects the outputs paid to the lockup address of a swap. It
// records the funding outpoint, marks the swap redeemed once its spend is
// buried, rebroadcasts our own pending spend and otherwise creates a claim
// for reverse swaps or a refund for timed out forward swaps.
func (m *Manager) claimSwap(ctx context.Context, hash lntypes.Hash) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	if !m.cfg.ChainView.IsUpToDate() {
		return
	}

	m.mu.Lock()
	rec, ok := m.index.ByPaymentHash(hash)
	if !ok || rec.IsRedeemed {
		m.mu.Unlock()
		return
	}
	// The record's immutable fields are safe to read without mu.
	swapType := rec.Type()
	script := rec.RedeemScript
	lockupAddress := rec.LockupAddress
	onchainAmount := rec.OnchainAmount
	locktime := rec.Locktime
	m.mu.Unlock()

	swapLog := m.swapLog(hash)

	htlc, err := swap.NewHtlc(swapType, script, m.cfg.ChainParams)
	if err != nil {
		swapLog.Errorf("Invalid stored redeem script: %v", err)
		return
	}

	height := m.cfg.ChainView.BestHeight()
	for _, out := range m.cfg.ChainView.AddrOutputs(lockupAddress) {
		// Claiming reveals the preimage. Never do so for less than
		// the server agreed to lock up.
		if swapType.IsReverse() && out.Value < onchainAmount {
			swapLog.Warnf("Amount too low, not claiming %v: %v < %v",
				out.OutPoint, out.Value, onchainAmount)
			continue
		}

		if err := m.setFundingOutpoint(hash, out.OutPoint); err != nil {
			swapLog.Errorf("Unable to store funding outpoint: %v",
				err)
		}

		if out.SpentTxid != nil {
			m.handleSpentOutput(ctx, hash, htlc, out, height, swapLog)
			continue
		}

		if !swapType.IsReverse() && height < locktime {
			swapLog.Debugf("Refund locked until height %d, now %d",
				locktime, height)
			return
		}

		err := m.createClaim(ctx, hash, htlc, out)
		switch {
		case errors.Is(err, sweep.ErrBelowDustLimit):
			if _, ok := m.belowDust[out.OutPoint]; !ok {
				m.belowDust[out.OutPoint] = struct{}{}
				swapLog.Warnf("Not sweeping %v: %v", out.OutPoint,
					err)
			}

		case err != nil:
			swapLog.Errorf("Unable to sweep %v: %v", out.OutPoint,
				err)
		}
	}
}

// setFundingOutpoint records the lockup output of a swap. Earlier
// outpoints stay indexed so that replaced funding transactions still
// resolve to the swap.
func (m *Manager) setFundingOutpoint(hash lntypes.Hash,
	op wire.OutPoint) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index.ByPaymentHash(hash)
	if !ok {
		return ErrSwapNotFound
	}

	return m.updateSwap(rec, func(updated *swapdb.SwapRecord) bool {
		if updated.FundingOutpoint != nil &&
			*updated.FundingOutpoint == op {

			return false
		}

		updated.FundingOutpoint = &op
		return true
	})
}

// handleSpentOutput tracks the spend of a lockup output. Deep spends
// finish the swap, our own spends that never left the wallet are
// broadcast.
func (m *Manager) handleSpentOutput(ctx context.Context, hash lntypes.Hash,
	htlc *swap.Htlc, out *Output, height int32, swapLog *swap.PrefixLog) {

	spentTxid := *out.SpentTxid

	m.mu.Lock()
	rec, ok := m.index.ByPaymentHash(hash)
	if !ok {
		m.mu.Unlock()
		return
	}

	deep := out.SpentHeight > 0 &&
		height-out.SpentHeight > RedeemAfterDoubleSpentDelay

	err := m.updateSwap(rec, func(updated *swapdb.SwapRecord) bool {
		if updated.SpendingTxid != nil &&
			*updated.SpendingTxid == spentTxid &&
			updated.IsRedeemed == deep {

			return false
		}

		updated.SpendingTxid = &spentTxid
		updated.IsRedeemed = deep
		return true
	})
	lockupAddress := rec.LockupAddress
	m.mu.Unlock()

	if err != nil {
		swapLog.Errorf("Unable to store spend %v: %v", spentTxid, err)
		return
	}

	if deep {
		swapLog.Infof("Lockup output %v spent by %v at height %d, "+
			"swap redeemed", out.OutPoint, spentTxid,
			out.SpentHeight)

		m.cfg.Watcher.Unregister(lockupAddress)
		return
	}

	if out.SpentHeight != TxHeightLocal {
		return
	}

	// An unconfirmed lockup output is only spent by us if we opted into
	// trusting the server with it.
	if out.Height <= 0 && !m.cfg.AllowInstantSwaps {
		return
	}

	tx, ok := m.cfg.ChainView.Transaction(spentTxid)
	if !ok {
		swapLog.Warnf("Local spend %v not found in wallet", spentTxid)
		return
	}

	swapLog.Infof("Broadcasting %v", spentTxid)

	err = m.cfg.Broadcaster.PublishTransaction(
		ctx, tx, labels.Spend(htlc.Type.IsReverse(), hash.String()),
	)
	if err != nil {
		swapLog.Warnf("Unable to broadcast %v: %v", spentTxid, err)
	}
}

// createClaim builds and signs the spend of an unspent lockup output and
// hands it to the wallet. The spend is broadcast by a later run once the
// wallet reports it as ours.
func (m *Manager) createClaim(ctx context.Context, hash lntypes.Hash,
	htlc *swap.Htlc, out *Output) error {

	feeRate, err := m.cfg.FeeEstimator.EstimateFeeRate(
		ctx, m.cfg.ClaimConfTarget,
	)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index.ByPaymentHash(hash)
	if !ok {
		return ErrSwapNotFound
	}

	tx, err := claimTx(rec, htlc, out, sweep.ClaimFee(feeRate), m.cfg)
	if err != nil {
		return err
	}

	if err := m.cfg.ChainView.AddLocalTransaction(tx); err != nil {
		return err
	}

	txid := tx.TxHash()
	err = m.updateSwap(rec, func(updated *swapdb.SwapRecord) bool {
		updated.SpendingTxid = &txid
		return true
	})
	if err != nil {
		return err
	}

	log.Infof("Created %v %v for swap %v spending %v",
		claimDescription(rec), txid, hash, out.OutPoint)

	return nil
}

// updateSwap applies update to a copy of the indexed record rec and
// persists the copy. rec only changes once the store accepted it, and
// nothing is written if update reports no change. The caller must hold mu.
func (m *Manager) updateSwap(rec *swapdb.SwapRecord,
	update func(*swapdb.SwapRecord) bool) error {

	updated := rec.Copy()
	if !update(updated) {
		return nil
	}

	if err := m.cfg.Store.UpdateSwap(updated); err != nil {
		return err
	}

	*rec = *updated
	m.index.AddOrReindex(rec)

	return nil
}

// claimTx creates the claim or refund transaction of a record.
func claimTx(rec *swapdb.SwapRecord, htlc *swap.Htlc, out *Output,
	fee btcutil.Amount, cfg *Config) (*wire.MsgTx, error) {

	destAddr, err := btcutil.DecodeAddress(
		rec.ReceiveAddress, cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	privKey, _ := btcec.PrivKeyFromBytes(rec.PrivKey[:])

	return sweep.CreateClaimTx(&sweep.ClaimRequest{
		Htlc:     htlc,
		OutPoint: out.OutPoint,
		Value:    out.Value,
		Preimage: rec.Preimage,
		Locktime: rec.Locktime,
		PrivKey:  privKey,
		DestAddr: destAddr,
		Fee:      fee,
	})
}

func claimDescription(rec *swapdb.SwapRecord) string {
	if rec.IsReverse {
		return "claim"
	}

	return "refund"
}
