package sweep

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// claimTxWeight is the weight budgeted for a claim or a refund.
	claimTxWeight = swap.ClaimTxVSize * 4

	// rbfSequence signals replaceability and keeps CLTV enforceable.
	rbfSequence = wire.MaxTxInSequenceNum - 2
)

var (
	// ErrBelowDustLimit is returned when the lockup output does not cover
	// the claim fee plus a non-dust output.
	ErrBelowDustLimit = errors.New("claim output below dust limit")
)

// ClaimFee returns what a claim or refund costs at the given fee rate.
func ClaimFee(feeRate chainfee.SatPerKWeight) btcutil.Amount {
	return feeRate.FeeForWeight(claimTxWeight)
}

// DustLimitForPkScript returns the dust limit for a given pkScript. An output
// must be greater or equal to this value.
func DustLimitForPkScript(pkscript []byte) btcutil.Amount {
	return btcutil.Amount(mempool.GetDustThreshold(&wire.TxOut{
		PkScript: pkscript,
	}))
}

// ClaimRequest describes the spend of a swap lockup output.
type ClaimRequest struct {
	// Htlc is the lockup script of the swap.
	Htlc *swap.Htlc

	// OutPoint is the lockup output.
	OutPoint wire.OutPoint

	// Value is the value of the lockup output.
	Value btcutil.Amount

	// Preimage unlocks the claim path of reverse swaps. It is ignored for
	// forward swap refunds.
	Preimage lntypes.Preimage

	// Locktime is the timeout of a forward swap. Reverse swap claims are
	// not time locked.
	Locktime int32

	// PrivKey is the swap key that signs the spend.
	PrivKey *btcec.PrivateKey

	// DestAddr receives the swept funds.
	DestAddr btcutil.Address

	// Fee is the absolute fee of the spend.
	Fee btcutil.Amount
}

// CreateClaimTx creates and signs a replaceable transaction that sweeps the
// lockup output to DestAddr. Reverse swaps are claimed with the preimage,
// forward swaps are refunded once the locktime is reached.
func CreateClaimTx(req *ClaimRequest) (*wire.MsgTx, error) {
	destPkScript, err := txscript.PayToAddrScript(req.DestAddr)
	if err != nil {
		return nil, err
	}

	amount := req.Value - req.Fee
	dustLimit := DustLimitForPkScript(destPkScript)
	if amount < dustLimit {
		return nil, fmt.Errorf("%w: %v - fee %v < %v",
			ErrBelowDustLimit, req.Value, req.Fee, dustLimit)
	}

	// Compose tx.
	claimTx := wire.NewMsgTx(2)

	isReverse := req.Htlc.Type.IsReverse()
	if !isReverse {
		claimTx.LockTime = uint32(req.Locktime)
	}

	claimTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: req.OutPoint,
		Sequence:         rbfSequence,
	})
	claimTx.AddTxOut(&wire.TxOut{
		PkScript: destPkScript,
		Value:    int64(amount),
	})

	// Generate a signature for the lockup input.
	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		req.Htlc.PkScript, int64(req.Value),
	)
	sigHashes := txscript.NewTxSigHashes(claimTx, prevOutFetcher)

	sig, err := txscript.RawTxInWitnessSignature(
		claimTx, sigHashes, 0, int64(req.Value), req.Htlc.Script,
		txscript.SigHashAll, req.PrivKey,
	)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	// Add witness stack to the tx input.
	if isReverse {
		claimTx.TxIn[0].Witness, err = req.Htlc.GenClaimWitness(
			sig, req.Preimage,
		)
		if err != nil {
			return nil, err
		}
	} else {
		claimTx.TxIn[0].Witness = req.Htlc.GenRefundWitness(sig)
	}

	return claimTx, nil
}
