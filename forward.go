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
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/labels"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// ForwardSwapRequest initiates a swap paying on-chain and receiving
// off-chain.
type ForwardSwapRequest struct {
	// LightningAmount is the amount we receive off-chain.
	LightningAmount btcutil.Amount

	// MaxOnchainAmount is the most we are willing to lock up on-chain,
	// usually the send amount quoted by the calculator.
	MaxOnchainAmount btcutil.Amount

	// FeeRate is the fee rate of the funding transaction. It is
	// estimated if zero.
	FeeRate chainfee.SatPerKWeight

	// ProbeTx is an optional unsigned funding transaction built ahead
	// of the swap. Its output paying MaxOnchainAmount to ProbePkScript
	// is replaced by the lockup output.
	ProbeTx *wire.MsgTx

	// ProbePkScript is the placeholder output script of ProbeTx.
	ProbePkScript []byte

	// Label is an optional user label added to the invoice memo.
	Label string
}

// ForwardSwapResult describes a funded forward swap.
type ForwardSwapResult struct {
	// SwapHash identifies the swap.
	SwapHash lntypes.Hash

	// ServerID is the id the server assigned to the swap.
	ServerID string

	// LockupAddress is the address the funds were sent to.
	LockupAddress string

	// OnchainAmount is the amount locked up.
	OnchainAmount btcutil.Amount

	// FundingTxid is the id of the broadcast funding transaction.
	FundingTxid chainhash.Hash
}

// NormalSwap sends on-chain and receives off-chain. We create an invoice
// and lock up funds to a script the server can claim with its preimage
// once it paid us. The offer of the server is validated before any funds
// move. Validation failures leave no trace in the store.
func (m *Manager) NormalSwap(ctx context.Context,
	req *ForwardSwapRequest) (*ForwardSwapResult, error) {

	if _, err := m.runContext(); err != nil {
		return nil, err
	}

	if err := labels.Validate(req.Label); err != nil {
		return nil, err
	}

	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	refundKey := privKey.PubKey().SerializeCompressed()

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}
	hash := preimage.Hash()

	invoice, err := m.cfg.Lightning.AddInvoice(
		ctx, req.LightningAmount, preimage,
		labels.SwapLabel(swap.TypeForward, req.Label),
	)
	if err != nil {
		return nil, err
	}

	resp, err := m.cfg.Server.CreateSwap(
		ctx, &swapserver.CreateSwapRequest{
			PairID:          m.cfg.PairID,
			Invoice:         invoice,
			RefundPublicKey: hex.EncodeToString(refundKey),
		},
	)
	if err != nil {
		return nil, err
	}

	htlc, err := m.validateForwardOffer(resp, hash, refundKey, req)
	if err != nil {
		return nil, err
	}

	swapLog := m.swapLog(hash)
	swapLog.Infof("Forward swap %v: locking up %v to %v, timeout %d",
		resp.ID, btcutil.Amount(resp.ExpectedAmount), resp.Address,
		htlc.Locktime)

	onchainAmt := btcutil.Amount(resp.ExpectedAmount)
	fundingTx, err := m.createFundingTx(ctx, req, htlc, onchainAmt)
	if err != nil {
		return nil, err
	}

	// Until the swap is stored the funding tx is ours to drop.
	releaseFunding := func() {
		err := m.cfg.Wallet.ReleaseInputs(
			context.WithoutCancel(ctx), fundingTx,
		)
		if err != nil {
			swapLog.Errorf("Unable to release funding inputs: %v",
				err)
		}
	}

	receiveAddr, err := m.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		releaseFunding()
		return nil, err
	}

	rec := &swapdb.SwapRecord{
		IsReverse:       false,
		Locktime:        htlc.Locktime,
		OnchainAmount:   onchainAmt,
		LightningAmount: req.LightningAmount,
		RedeemScript:    htlc.Script,
		Preimage:        preimage,
		LockupAddress:   resp.Address,
		ReceiveAddress:  receiveAddr.String(),
		ServerID:        resp.ID,
		CreatedAt:       m.cfg.Clock.Now(),
	}
	copy(rec.PrivKey[:], privKey.Serialize())

	if err := m.addSwap(rec); err != nil {
		releaseFunding()
		return nil, err
	}
	m.watch(hash, rec.LockupAddress)

	err = m.cfg.Broadcaster.PublishTransaction(
		ctx, fundingTx, labels.ForwardFunding(hash.String()),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to publish funding tx: %w", err)
	}

	return &ForwardSwapResult{
		SwapHash:      hash,
		ServerID:      resp.ID,
		LockupAddress: resp.Address,
		OnchainAmount: onchainAmt,
		FundingTxid:   fundingTx.TxHash(),
	}, nil
}

// validateForwardOffer checks that the lockup script of the server pays us
// back after a near timeout and can only be claimed with our preimage.
func (m *Manager) validateForwardOffer(resp *swapserver.CreateSwapResponse,
	hash lntypes.Hash, refundKey []byte,
	req *ForwardSwapRequest) (*swap.Htlc, error) {

	htlc, err := m.parseHtlc(swap.TypeForward, resp.RedeemScript)
	if err != nil {
		return nil, err
	}

	switch {
	case htlc.Address.String() != resp.Address:
		return nil, fmt.Errorf("%w: inconsistent scriptcode and "+
			"address", ErrProtocolViolation)

	case !htlc.HasHash(hash):
		return nil, fmt.Errorf("%w: our preimage not in script",
			ErrProtocolViolation)

	case !bytes.Equal(htlc.RefundKey, refundKey):
		return nil, fmt.Errorf("%w: our pubkey not in script",
			ErrProtocolViolation)

	case htlc.Locktime != resp.TimeoutBlockHeight:
		return nil, fmt.Errorf("%w: inconsistent locktime and script",
			ErrProtocolViolation)

	case btcutil.Amount(resp.ExpectedAmount) > req.MaxOnchainAmount:
		return nil, fmt.Errorf("%w: onchain amount %v above budget %v",
			ErrProtocolViolation,
			btcutil.Amount(resp.ExpectedAmount),
			req.MaxOnchainAmount)
	}

	height := m.cfg.ChainView.BestHeight()
	if htlc.Locktime-height >= MaxForwardLocktimeDelta {
		return nil, fmt.Errorf("%w: locktime %d too far in future at "+
			"height %d", ErrProtocolViolation, htlc.Locktime,
			height)
	}

	return htlc, nil
}

// parseHtlc decodes a redeem script sent by the server and matches it
// against the template of the swap type.
func (m *Manager) parseHtlc(swapType swap.Type,
	scriptHex string) (*swap.Htlc, error) {

	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redeem script hex: %v",
			ErrProtocolViolation, err)
	}

	htlc, err := swap.NewHtlc(swapType, script, m.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	return htlc, nil
}

// createFundingTx funds a transaction paying amt to the lockup script, or
// completes the probe transaction of the request.
func (m *Manager) createFundingTx(ctx context.Context,
	req *ForwardSwapRequest, htlc *swap.Htlc,
	amt btcutil.Amount) (*wire.MsgTx, error) {

	lockupOutput := &wire.TxOut{
		Value:    int64(amt),
		PkScript: htlc.PkScript,
	}

	if req.ProbeTx != nil {
		tx := req.ProbeTx.Copy()
		if !swap.RemoveOutput(
			tx, req.ProbePkScript, req.MaxOnchainAmount,
		) {

			return nil, fmt.Errorf("probe tx has no placeholder "+
				"output of %v", req.MaxOnchainAmount)
		}

		tx.AddTxOut(lockupOutput)
		for _, txIn := range tx.TxIn {
			txIn.Sequence = wire.MaxTxInSequenceNum - 2
		}

		return m.cfg.Wallet.SignTransaction(ctx, tx)
	}

	feeRate := req.FeeRate
	if feeRate == 0 {
		var err error
		feeRate, err = m.cfg.FeeEstimator.EstimateFeeRate(
			ctx, m.cfg.FundingConfTarget,
		)
		if err != nil {
			return nil, err
		}
	}

	return m.cfg.Wallet.FundTransaction(
		ctx, []*wire.TxOut{lockupOutput}, feeRate,
	)
}

// swapLog returns a logger prefixed with the swap hash.
func (m *Manager) swapLog(hash lntypes.Hash) *swap.PrefixLog {
	return &swap.PrefixLog{
		Logger: log,
		Hash:   hash,
	}
}
