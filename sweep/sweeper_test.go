package sweep

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

// assertEngineExecution executes the script of the first input of tx,
// printing a step-by-step trace if the result does not match the
// expectation.
func assertEngineExecution(t *testing.T, valid bool, tx *wire.MsgTx,
	pkScript []byte, value btcutil.Amount) {

	t.Helper()

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		pkScript, int64(value),
	)
	newEngine := func() (*txscript.Engine, error) {
		return txscript.NewEngine(
			pkScript, tx, 0, txscript.StandardVerifyFlags, nil,
			txscript.NewTxSigHashes(tx, prevOutFetcher),
			int64(value), prevOutFetcher,
		)
	}

	vm, err := newEngine()
	require.NoError(t, err, "unable to create engine")

	vmErr := vm.Execute()
	if valid == (vmErr == nil) {
		return
	}

	vm, err = newEngine()
	require.NoError(t, err, "unable to create engine")

	var debugBuf bytes.Buffer
	done := false
	for !done {
		dis, err := vm.DisasmPC()
		require.NoError(t, err)
		debugBuf.WriteString(fmt.Sprintf("stepping %v\n", dis))

		done, err = vm.Step()
		if err != nil {
			break
		}

		debugBuf.WriteString(
			fmt.Sprintf("Stack: %v\n", vm.GetStack()),
		)
	}

	t.Fatalf("expected valid=%v, got %v\n%v", valid, vmErr,
		debugBuf.String())
}

type claimTestContext struct {
	preimage lntypes.Preimage
	htlc     *swap.Htlc
	request  *ClaimRequest
}

// newClaimTestContext creates a swap of the given type where key 1 claims
// with the preimage and key 2 refunds after the locktime. The request spends
// with the key that is ours for that swap type.
func newClaimTestContext(t *testing.T, swapType swap.Type,
	value btcutil.Amount) *claimTestContext {

	preimage := lntypes.Preimage{7, 7, 7}
	claimPriv, _ := test.CreateKey(1)
	refundPriv, _ := test.CreateKey(2)
	_, claimKey := test.CreateKeyBytes(1)
	_, refundKey := test.CreateKeyBytes(2)

	const locktime = 800_000

	script, err := swap.NewScript(
		swapType, preimage.Hash(), claimKey, refundKey, locktime,
	)
	require.NoError(t, err)

	htlc, err := swap.NewHtlc(
		swapType, script, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	ourKey := refundPriv
	if swapType.IsReverse() {
		ourKey = claimPriv
	}

	return &claimTestContext{
		preimage: preimage,
		htlc:     htlc,
		request: &ClaimRequest{
			Htlc: htlc,
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{1},
				Index: 1,
			},
			Value:    value,
			Preimage: preimage,
			Locktime: locktime,
			PrivKey:  ourKey,
			DestAddr: test.GetDestAddr(t, 0),
			Fee:      ClaimFee(chainfee.SatPerKWeight(1000)),
		},
	}
}

// TestCreateClaimTx tests that reverse claims and forward refunds produce
// valid spends of the lockup output paying exactly value minus fee.
func TestCreateClaimTx(t *testing.T) {
	const value = btcutil.Amount(100_000)

	for _, swapType := range []swap.Type{swap.TypeForward, swap.TypeReverse} {
		ctx := newClaimTestContext(t, swapType, value)

		tx, err := CreateClaimTx(ctx.request)
		require.NoError(t, err)

		require.EqualValues(t, 2, tx.Version)
		require.Len(t, tx.TxIn, 1)
		require.Len(t, tx.TxOut, 1)
		require.Empty(t, tx.TxIn[0].SignatureScript)
		require.Equal(t, ctx.request.OutPoint,
			tx.TxIn[0].PreviousOutPoint)
		require.Less(t, tx.TxIn[0].Sequence,
			uint32(wire.MaxTxInSequenceNum-1))
		require.EqualValues(t, value-ctx.request.Fee,
			tx.TxOut[0].Value)

		if swapType.IsReverse() {
			require.Zero(t, tx.LockTime)
			require.Equal(t, ctx.preimage[:],
				tx.TxIn[0].Witness[1])
		} else {
			require.EqualValues(t, 800_000, tx.LockTime)
			require.Empty(t, tx.TxIn[0].Witness[1])
		}

		assertEngineExecution(t, true, tx, ctx.htlc.PkScript, value)
	}
}

// TestCreateClaimTxWrongKey asserts that a spend signed with the other
// party's key does not validate.
func TestCreateClaimTxWrongKey(t *testing.T) {
	const value = btcutil.Amount(100_000)

	ctx := newClaimTestContext(t, swap.TypeReverse, value)
	ctx.request.PrivKey, _ = test.CreateKey(2)

	tx, err := CreateClaimTx(ctx.request)
	require.NoError(t, err)

	assertEngineExecution(t, false, tx, ctx.htlc.PkScript, value)
}

// TestCreateClaimTxDust tests that the output is refused when value minus
// fee does not reach the dust limit of the destination.
func TestCreateClaimTxDust(t *testing.T) {
	ctx := newClaimTestContext(t, swap.TypeReverse, 0)

	pkScript := test.PkScript(t, ctx.request.DestAddr)
	dust := DustLimitForPkScript(pkScript)

	ctx.request.Value = ctx.request.Fee + dust - 1
	_, err := CreateClaimTx(ctx.request)
	require.ErrorIs(t, err, ErrBelowDustLimit)

	ctx.request.Value = ctx.request.Fee + dust
	tx, err := CreateClaimTx(ctx.request)
	require.NoError(t, err)
	require.EqualValues(t, dust, tx.TxOut[0].Value)
}

// TestClaimFee tests the fixed size fee budget.
func TestClaimFee(t *testing.T) {
	// 1000 sat/kw over 544 weight units.
	require.EqualValues(t, 544, ClaimFee(chainfee.SatPerKWeight(1000)))
	require.EqualValues(t, 136, ClaimFee(chainfee.SatPerKWeight(250)))
}
