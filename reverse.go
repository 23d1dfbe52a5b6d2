package subswap

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
)

// ReverseSwapRequest initiates a swap paying off-chain and receiving
// on-chain.
type ReverseSwapRequest struct {
	// LightningAmount is the total amount we pay off-chain, including
	// the miner fee invoice if the server sends one.
	LightningAmount btcutil.Amount

	// ExpectedOnchainAmount is the least the server must lock up for
	// us, before our claim fee.
	ExpectedOnchainAmount btcutil.Amount
}

// ReverseSwapResult describes the outcome of a reverse swap.
type ReverseSwapResult struct {
	// SwapHash identifies the swap.
	SwapHash lntypes.Hash

	// ServerID is the id the server assigned to the swap.
	ServerID string

	// LockupAddress is the address the server locks funds to.
	LockupAddress string

	// OnchainAmount is the amount the server agreed to lock up.
	OnchainAmount btcutil.Amount

	// Success is true once our claim of the lockup output exists. A
	// false result does not mean the swap failed for good: the payment
	// may still complete and the claim watcher keeps running.
	Success bool

	// ClaimTxid is the transaction spending the lockup output, if any.
	ClaimTxid *chainhash.Hash
}

// ReverseSwap pays off-chain and receives on-chain. The server locks up
// funds we can claim with our preimage, which the server learns from the
// payment settling.
//
// The invoice payment is started in the background and races a wait for
// our claim transaction. It is never cancelled when the wait wins or ctx
// ends: a payment in flight may still settle, and the claim watcher picks
// up the lockup output whenever it appears.
func (m *Manager) ReverseSwap(ctx context.Context,
	req *ReverseSwapRequest) (*ReverseSwapResult, error) {

	runCtx, err := m.runContext()
	if err != nil {
		return nil, err
	}

	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	claimKey := privKey.PubKey().SerializeCompressed()

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}
	hash := preimage.Hash()

	resp, err := m.cfg.Server.CreateReverseSwap(
		ctx, &swapserver.CreateReverseSwapRequest{
			PairID:         m.cfg.PairID,
			InvoiceAmount:  int64(req.LightningAmount),
			PreimageHash:   hex.EncodeToString(hash[:]),
			ClaimPublicKey: hex.EncodeToString(claimKey),
		},
	)
	if err != nil {
		return nil, err
	}

	htlc, err := m.validateReverseOffer(resp, hash, claimKey, req)
	if err != nil {
		return nil, err
	}

	prepayHash, err := m.validateReverseInvoices(resp, hash, req)
	if err != nil {
		return nil, err
	}

	receiveAddr, err := m.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		return nil, err
	}

	rec := &swapdb.SwapRecord{
		IsReverse:       true,
		Locktime:        htlc.Locktime,
		OnchainAmount:   btcutil.Amount(resp.OnchainAmount),
		LightningAmount: req.LightningAmount,
		RedeemScript:    htlc.Script,
		Preimage:        preimage,
		PrepayHash:      prepayHash,
		LockupAddress:   resp.LockupAddress,
		ReceiveAddress:  receiveAddr.String(),
		ServerID:        resp.ID,
		CreatedAt:       m.cfg.Clock.Now(),
	}
	copy(rec.PrivKey[:], privKey.Serialize())

	if err := m.addSwap(rec); err != nil {
		return nil, err
	}
	m.watch(hash, rec.LockupAddress)

	swapLog := m.swapLog(hash)
	swapLog.Infof("Reverse swap %v: paying %v for %v at %v, timeout %d",
		resp.ID, req.LightningAmount, rec.OnchainAmount,
		resp.LockupAddress, htlc.Locktime)

	if resp.MinerFeeInvoice != "" {
		m.payDetached(runCtx, swapLog, "miner fee", resp.MinerFeeInvoice)
	}

	paymentDone := make(chan error, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		paymentDone <- m.cfg.Lightning.PayInvoice(
			runCtx, resp.Invoice, m.cfg.PaymentAttempts,
		)
	}()

	claimTxid := m.waitForClaim(ctx, hash, paymentDone, swapLog)

	return &ReverseSwapResult{
		SwapHash:      hash,
		ServerID:      resp.ID,
		LockupAddress: resp.LockupAddress,
		OnchainAmount: rec.OnchainAmount,
		Success:       claimTxid != nil,
		ClaimTxid:     claimTxid,
	}, nil
}

// validateReverseOffer checks that the lockup script of the server can be
// claimed by us with our preimage and leaves enough time to do so.
func (m *Manager) validateReverseOffer(
	resp *swapserver.CreateReverseSwapResponse, hash lntypes.Hash,
	claimKey []byte, req *ReverseSwapRequest) (*swap.Htlc, error) {

	htlc, err := m.parseHtlc(swap.TypeReverse, resp.RedeemScript)
	if err != nil {
		return nil, err
	}

	switch {
	case htlc.Address.String() != resp.LockupAddress:
		return nil, fmt.Errorf("%w: inconsistent scriptcode and "+
			"address", ErrProtocolViolation)

	case !htlc.HasHash(hash):
		return nil, fmt.Errorf("%w: our preimage not in script",
			ErrProtocolViolation)

	case !bytes.Equal(htlc.ClaimKey, claimKey):
		return nil, fmt.Errorf("%w: our pubkey not in script",
			ErrProtocolViolation)

	case htlc.Locktime != resp.TimeoutBlockHeight:
		return nil, fmt.Errorf("%w: inconsistent locktime and script",
			ErrProtocolViolation)

	case btcutil.Amount(resp.OnchainAmount) < req.ExpectedOnchainAmount:
		return nil, fmt.Errorf("%w: onchain amount %v below expected "+
			"%v", ErrProtocolViolation,
			btcutil.Amount(resp.OnchainAmount),
			req.ExpectedOnchainAmount)
	}

	height := m.cfg.ChainView.BestHeight()
	if htlc.Locktime-height <= MinReverseLocktimeDelta {
		return nil, fmt.Errorf("%w: locktime %d too close at height %d",
			ErrProtocolViolation, htlc.Locktime, height)
	}

	return htlc, nil
}

// validateReverseInvoices checks the invoices of a reverse swap offer and
// returns the payment hash of the miner fee invoice, if any.
func (m *Manager) validateReverseInvoices(
	resp *swapserver.CreateReverseSwapResponse, hash lntypes.Hash,
	req *ReverseSwapRequest) (*lntypes.Hash, error) {

	invoiceHash, invoiceAmt, err := m.cfg.Lightning.DecodeInvoice(
		resp.Invoice,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid invoice: %v",
			ErrProtocolViolation, err)
	}

	if invoiceHash != hash {
		return nil, fmt.Errorf("%w: invoice payment hash %v does not "+
			"match preimage", ErrProtocolViolation, invoiceHash)
	}

	var (
		prepayHash *lntypes.Hash
		prepayAmt  btcutil.Amount
	)
	if resp.MinerFeeInvoice != "" {
		feeHash, feeAmt, err := m.cfg.Lightning.DecodeInvoice(
			resp.MinerFeeInvoice,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid miner fee "+
				"invoice: %v", ErrProtocolViolation, err)
		}

		prepayHash = &feeHash
		prepayAmt = feeAmt
	}

	if invoiceAmt+prepayAmt != req.LightningAmount {
		return nil, fmt.Errorf("%w: invoice amounts %v + %v differ "+
			"from requested %v", ErrProtocolViolation, invoiceAmt,
			prepayAmt, req.LightningAmount)
	}

	return prepayHash, nil
}

// payDetached pays an invoice in the background. The result is only
// logged.
func (m *Manager) payDetached(ctx context.Context, swapLog *swap.PrefixLog,
	desc, invoice string) {

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		err := m.cfg.Lightning.PayInvoice(
			ctx, invoice, m.cfg.PaymentAttempts,
		)
		if err != nil {
			swapLog.Warnf("Paying %v invoice failed: %v", desc, err)
			return
		}

		swapLog.Infof("Paid %v invoice", desc)
	}()
}

// waitForClaim blocks until the payment completes, our claim of the lockup
// output exists or ctx ends. It returns the claim txid if there is one.
func (m *Manager) waitForClaim(ctx context.Context, hash lntypes.Hash,
	paymentDone <-chan error, swapLog *swap.PrefixLog) *chainhash.Hash {

	poll := ticker.New(m.cfg.FundingPollInterval)
	poll.Resume()
	defer poll.Stop()

	for {
		if txid := m.spendingTxid(hash); txid != nil {
			return txid
		}

		select {
		case err := <-paymentDone:
			if err != nil {
				swapLog.Warnf("Swap payment failed: %v", err)
			}

			return m.spendingTxid(hash)

		case <-poll.Ticks():

		case <-ctx.Done():
			return m.spendingTxid(hash)
		}
	}
}

// spendingTxid returns the spend of the lockup output of a swap.
func (m *Manager) spendingTxid(hash lntypes.Hash) *chainhash.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index.ByPaymentHash(hash)
	if !ok || rec.SpendingTxid == nil {
		return nil
	}

	txid := *rec.SpendingTxid
	return &txid
}
