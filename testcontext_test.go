package subswap

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/chainwatch"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

	testPreimage = lntypes.Preimage([32]byte{
		1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4,
		1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4,
	})

	testPollInterval = 10 * time.Millisecond

	// testClaimFee is the claim fee at testFeeRate.
	testClaimFee = btcutil.Amount(136)
)

// testContext wires a manager to mocks of all its collaborators.
type testContext struct {
	t *testing.T

	params      *chaincfg.Params
	server      *serverMock
	chain       *chainViewMock
	wallet      *walletMock
	lightning   *lightningMock
	broadcaster *broadcasterMock
	notifier    *chainwatch.Notifier
	store       *storeMock
	cfg         *Config

	manager *Manager
}

func newTestContext(t *testing.T) *testContext {
	params := &chaincfg.RegressionNetParams

	c := &testContext{
		t:           t,
		params:      params,
		server:      newServerMock(t, params),
		chain:       newChainViewMock(),
		wallet:      &walletMock{t: t},
		lightning:   &lightningMock{t: t, params: params},
		broadcaster: &broadcasterMock{},
		notifier:    chainwatch.NewNotifier(),
		store:       newStoreMock(),
	}

	c.cfg = &Config{
		ChainView:           c.chain,
		Wallet:              c.wallet,
		Lightning:           c.lightning,
		Server:              c.server,
		Broadcaster:         c.broadcaster,
		FeeEstimator:        &feeEstimatorMock{feeRate: testFeeRate},
		Watcher:             c.notifier,
		Store:               c.store,
		ChainParams:         params,
		DataDir:             t.TempDir(),
		FundingPollInterval: testPollInterval,
		Clock:               clock.NewTestClock(testTime),
	}

	manager, err := NewManager(c.cfg)
	require.NoError(t, err)
	c.manager = manager

	return c
}

// start starts the manager and stops it when the test ends. Tests that
// check for leaked goroutines stop it explicitly.
func (c *testContext) start() {
	require.NoError(c.t, c.manager.Start(context.Background()))
	c.t.Cleanup(c.manager.Stop)
}

// addRecord stores a swap and starts watching it the way a completed
// handshake does. Our key is test key 2, the server's test key 1.
func (c *testContext) addRecord(isReverse bool,
	onchainAmount btcutil.Amount, locktime int32) (*swapdb.SwapRecord,
	*swap.Htlc) {

	ourPriv, ourPub := test.CreateKeyBytes(2)

	claimKey, refundKey := serverKey(), ourPub
	if isReverse {
		claimKey, refundKey = ourPub, serverKey()
	}

	swapType := swap.TypeFromReverse(isReverse)
	script, err := swap.NewScript(
		swapType, testPreimage.Hash(), claimKey, refundKey, locktime,
	)
	require.NoError(c.t, err)

	htlc, err := swap.NewHtlc(swapType, script, c.params)
	require.NoError(c.t, err)

	rec := &swapdb.SwapRecord{
		IsReverse:       isReverse,
		Locktime:        locktime,
		OnchainAmount:   onchainAmount,
		LightningAmount: onchainAmount + 500,
		RedeemScript:    script,
		Preimage:        testPreimage,
		PrivKey:         ourPriv,
		LockupAddress:   htlc.Address.String(),
		ReceiveAddress:  test.GetDestAddr(c.t, 0).String(),
		ServerID:        "test",
		CreatedAt:       testTime,
	}

	require.NoError(c.t, c.manager.addSwap(rec))
	c.manager.watch(rec.PaymentHash(), rec.LockupAddress)

	return rec, htlc
}

// fund pays value to the lockup address of htlc and runs the claim
// watcher.
func (c *testContext) fund(htlc *swap.Htlc, value btcutil.Amount,
	height int32) *wire.MsgTx {

	tx := c.chain.addFunding(
		htlc.Address.String(), htlc.PkScript, value, height,
	)
	c.notifier.NotifyAddress(htlc.Address.String())

	return tx
}

func (c *testContext) getSwap(hash lntypes.Hash) *swapdb.SwapRecord {
	rec, err := c.manager.GetSwap(hash)
	require.NoError(c.t, err)

	return rec
}

// assertNoSwap checks that no swap was persisted, funded or broadcast.
func (c *testContext) assertNoSwap() {
	require.Zero(c.t, c.store.count())
	require.Empty(c.t, c.manager.ListSwaps())
	require.Empty(c.t, c.broadcaster.getPublished())
	require.Zero(c.t, c.wallet.numFunded())
	require.Empty(c.t, c.notifier.Addresses())
}
