package subswap

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/labels"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

func testForwardRequest() *ForwardSwapRequest {
	return &ForwardSwapRequest{
		LightningAmount:  99_000,
		MaxOnchainAmount: testOnchainAmount + 500,
	}
}

// TestNormalSwap asserts that a valid offer is persisted, watched and
// funded.
func TestNormalSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()
	defer c.manager.Stop()

	result, err := c.manager.NormalSwap(
		context.Background(), testForwardRequest(),
	)
	require.NoError(t, err)

	// The funding tx was estimated and pays the server's amount.
	require.Equal(t, []chainfee.SatPerKWeight{testFeeRate}, c.wallet.feeRates)

	published := c.broadcaster.getPublished()
	require.Len(t, published, 1)
	require.Equal(
		t, labels.ForwardFunding(result.SwapHash.String()),
		published[0].label,
	)
	require.Equal(t, result.FundingTxid, published[0].tx.TxHash())

	rec := c.getSwap(result.SwapHash)
	require.False(t, rec.IsReverse)
	require.Equal(t, testOnchainAmount, rec.OnchainAmount)
	require.Equal(t, btcutil.Amount(99_000), rec.LightningAmount)
	require.Equal(t, testHeight+testForwardCltvDelta, rec.Locktime)
	require.Equal(t, result.LockupAddress, rec.LockupAddress)
	require.Equal(t, testTime, rec.CreatedAt)
	require.True(t, c.notifier.IsWatched(rec.LockupAddress))

	htlc, err := swap.NewHtlc(swap.TypeForward, rec.RedeemScript, c.params)
	require.NoError(t, err)

	_, value, err := swap.FindOutput(published[0].tx, htlc.PkScript)
	require.NoError(t, err)
	require.Equal(t, testOnchainAmount, value)

	// The refund key of the script is the one we stored.
	privKey, _ := btcec.PrivKeyFromBytes(rec.PrivKey[:])
	require.Equal(
		t, privKey.PubKey().SerializeCompressed(), htlc.RefundKey,
	)

	stored, ok := c.store.get(result.SwapHash)
	require.True(t, ok)
	require.Equal(t, rec.LockupAddress, stored.LockupAddress)

	// The invoice we handed the server settles with our preimage.
	require.Len(t, c.lightning.preimages, 1)
	require.Equal(t, c.lightning.preimages[0], rec.Preimage)

	reqs := c.server.forwardRequests
	require.Len(t, reqs, 1)
	require.Equal(t, swapserver.DefaultPairID, reqs[0].PairID)
}

// TestNormalSwapProbe asserts that the placeholder output of a probe
// transaction is replaced by the lockup output.
func TestNormalSwapProbe(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()
	defer c.manager.Stop()

	req := testForwardRequest()
	placeholder := test.PkScript(t, test.GetDestAddr(t, 7))
	change := test.PkScript(t, test.GetDestAddr(t, 8))

	probe := wire.NewMsgTx(2)
	probe.AddTxIn(&wire.TxIn{})
	probe.AddTxOut(&wire.TxOut{Value: 20_000, PkScript: change})
	probe.AddTxOut(&wire.TxOut{
		Value:    int64(req.MaxOnchainAmount),
		PkScript: placeholder,
	})
	req.ProbeTx = probe
	req.ProbePkScript = placeholder

	result, err := c.manager.NormalSwap(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, c.wallet.signed, 1)
	require.Empty(t, c.wallet.funded)

	tx := c.wallet.signed[0]
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, change, tx.TxOut[0].PkScript)
	require.Equal(t, int64(testOnchainAmount), tx.TxOut[1].Value)
	require.Equal(t, wire.MaxTxInSequenceNum-2, tx.TxIn[0].Sequence)

	// The caller's probe is left untouched.
	require.Len(t, probe.TxOut, 2)

	require.Equal(t, result.FundingTxid, tx.TxHash())
}

// TestNormalSwapProbeMismatch asserts that a probe without the expected
// placeholder output fails before anything is persisted.
func TestNormalSwapProbeMismatch(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()
	defer c.manager.Stop()

	req := testForwardRequest()
	req.ProbeTx = wire.NewMsgTx(2)
	req.ProbePkScript = []byte{0x51}

	_, err := c.manager.NormalSwap(context.Background(), req)
	require.Error(t, err)
	c.assertNoSwap()
}

// TestNormalSwapValidation asserts that every deviation of the offer from
// what we requested aborts the swap before funds move.
func TestNormalSwapValidation(t *testing.T) {
	tests := []struct {
		name string

		modify func(c *testContext, h lntypes.Hash,
			resp *swapserver.CreateSwapResponse)

		scriptMismatch bool
	}{
		{
			name: "reverse template",
			modify: func(c *testContext, h lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				script, err := swap.NewReverseScript(
					h, serverKey(), serverKey(),
					resp.TimeoutBlockHeight,
				)
				require.NoError(c.t, err)

				setForwardScript(c, resp, script)
			},
			scriptMismatch: true,
		},
		{
			name: "invalid hex",
			modify: func(_ *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				resp.RedeemScript = "zz"
			},
		},
		{
			name: "address mismatch",
			modify: func(c *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				resp.Address = test.GetDestAddr(c.t, 3).String()
			},
		},
		{
			name: "hash mismatch",
			modify: func(c *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				rebuildForward(c, resp, func(f *scriptFields) {
					f.hash = lntypes.Hash{1}
				})
			},
		},
		{
			name: "refund key mismatch",
			modify: func(c *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				rebuildForward(c, resp, func(f *scriptFields) {
					_, f.refundKey = test.CreateKeyBytes(4)
				})
			},
		},
		{
			name: "locktime mismatch",
			modify: func(_ *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				resp.TimeoutBlockHeight++
			},
		},
		{
			name: "above budget",
			modify: func(_ *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				resp.ExpectedAmount =
					int64(testOnchainAmount) + 501
			},
		},
		{
			name: "locktime too far",
			modify: func(c *testContext, _ lntypes.Hash,
				resp *swapserver.CreateSwapResponse) {

				locktime := testHeight + MaxForwardLocktimeDelta
				rebuildForward(c, resp, func(f *scriptFields) {
					f.locktime = locktime
				})
				resp.TimeoutBlockHeight = locktime
			},
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			c := newTestContext(t)
			c.start()

			c.server.modifyForward = func(
				resp *swapserver.CreateSwapResponse) {

				h := c.lightning.preimages[0].Hash()
				tc.modify(c, h, resp)
			}

			_, err := c.manager.NormalSwap(
				context.Background(), testForwardRequest(),
			)
			require.ErrorIs(t, err, ErrProtocolViolation)
			if tc.scriptMismatch {
				require.ErrorIs(t, err, swap.ErrScriptMismatch)
			}

			c.assertNoSwap()
		})
	}
}

// TestNormalSwapLocktimeBound asserts the largest accepted timeout.
func TestNormalSwapLocktimeBound(t *testing.T) {
	c := newTestContext(t)
	c.start()

	locktime := testHeight + MaxForwardLocktimeDelta - 1
	c.server.modifyForward = func(resp *swapserver.CreateSwapResponse) {
		rebuildForward(c, resp, func(f *scriptFields) {
			f.locktime = locktime
		})
		resp.TimeoutBlockHeight = locktime
	}

	result, err := c.manager.NormalSwap(
		context.Background(), testForwardRequest(),
	)
	require.NoError(t, err)
	require.Equal(t, locktime, c.getSwap(result.SwapHash).Locktime)
}

// TestNormalSwapNotStarted asserts that swaps need a running manager.
func TestNormalSwapNotStarted(t *testing.T) {
	c := newTestContext(t)

	_, err := c.manager.NormalSwap(
		context.Background(), testForwardRequest(),
	)
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = c.manager.ReverseSwap(
		context.Background(), testReverseRequest(),
	)
	require.ErrorIs(t, err, ErrNotStarted)
}

// TestNormalSwapLabel asserts that user labels may not claim the reserved
// prefix.
func TestNormalSwapLabel(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	c.start()
	defer c.manager.Stop()

	req := testForwardRequest()
	req.Label = labels.Reserved + " savings"

	_, err := c.manager.NormalSwap(context.Background(), req)
	require.ErrorIs(t, err, labels.ErrReservedPrefix)
	require.Empty(t, c.server.forwardRequests)

	req.Label = "savings"
	result, err := c.manager.NormalSwap(context.Background(), req)
	require.NoError(t, err)
	c.getSwap(result.SwapHash)
}

// TestNormalSwapReleasesFunding asserts that the inputs of a funding tx are
// given back to the wallet when the swap cannot be stored.
func TestNormalSwapReleasesFunding(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *testContext) error
	}{
		{
			name: "no receive address",
			setup: func(c *testContext) error {
				err := errors.New("wallet locked")
				c.wallet.addrErr = err

				return err
			},
		},
		{
			name: "store failure",
			setup: func(c *testContext) error {
				err := errors.New("disk full")
				c.store.setErrs(err, nil)

				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer test.Guard(t)()

			c := newTestContext(t)
			c.start()
			defer c.manager.Stop()

			expectedErr := tc.setup(c)

			_, err := c.manager.NormalSwap(
				context.Background(), testForwardRequest(),
			)
			require.ErrorIs(t, err, expectedErr)

			require.Len(t, c.wallet.funded, 1)
			require.Equal(
				t, []*wire.MsgTx{c.wallet.funded[0]},
				c.wallet.getReleased(),
			)
			require.Empty(t, c.broadcaster.getPublished())
			require.Empty(t, c.manager.ListSwaps())
		})
	}
}

// TestAddSwapLockupAddressInUse asserts that a lockup address can only be
// used by one swap until that swap is redeemed.
func TestAddSwapLockupAddressInUse(t *testing.T) {
	c := newTestContext(t)
	c.start()

	rec, _ := c.addRecord(false, testOnchainAmount, testHeight+10)

	other := rec.Copy()
	other.Preimage = lntypes.Preimage{7}
	err := c.manager.addSwap(other)
	require.ErrorIs(t, err, swapdb.ErrLockupAddressInUse)
	require.Equal(t, 1, c.store.count())

	c.manager.mu.Lock()
	stored, ok := c.manager.index.ByPaymentHash(rec.PaymentHash())
	require.True(t, ok)
	stored.IsRedeemed = true
	c.manager.mu.Unlock()

	require.NoError(t, c.manager.addSwap(other))
	require.Equal(t, 2, c.store.count())
}

// scriptFields are the inputs of a lockup script.
type scriptFields struct {
	hash      lntypes.Hash
	claimKey  [33]byte
	refundKey [33]byte
	locktime  int32
}

// rebuildForward rebuilds the script of an offer with modified fields and
// keeps its address consistent.
func rebuildForward(c *testContext, resp *swapserver.CreateSwapResponse,
	modify func(f *scriptFields)) {

	script, err := hex.DecodeString(resp.RedeemScript)
	require.NoError(c.t, err)

	htlc, err := swap.NewHtlc(swap.TypeForward, script, c.params)
	require.NoError(c.t, err)

	f := &scriptFields{
		hash:     c.lightning.preimages[0].Hash(),
		locktime: htlc.Locktime,
	}
	copy(f.claimKey[:], htlc.ClaimKey)
	copy(f.refundKey[:], htlc.RefundKey)
	modify(f)

	script, err = swap.NewForwardScript(
		f.hash, f.claimKey, f.refundKey, f.locktime,
	)
	require.NoError(c.t, err)

	setForwardScript(c, resp, script)
}

func setForwardScript(c *testContext, resp *swapserver.CreateSwapResponse,
	script []byte) {

	address, err := swap.LockupAddress(script, c.params)
	require.NoError(c.t, err)

	resp.RedeemScript = hex.EncodeToString(script)
	resp.Address = address
}
