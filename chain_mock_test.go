package subswap

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// testFeeRate results in a claim fee of 136 sat.
var testFeeRate = chainfee.SatPerKWeight(250)

// chainViewMock is the wallet's view of the chain. Outputs are added by
// tests, spends by AddLocalTransaction or by tests.
type chainViewMock struct {
	mu sync.Mutex

	upToDate bool
	height   int32
	outputs  map[string][]*Output
	txs      map[chainhash.Hash]*wire.MsgTx
	localTxs []*wire.MsgTx
}

var _ ChainView = (*chainViewMock)(nil)

func newChainViewMock() *chainViewMock {
	return &chainViewMock{
		upToDate: true,
		height:   testHeight,
		outputs:  make(map[string][]*Output),
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
	}
}

func (c *chainViewMock) IsUpToDate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.upToDate
}

func (c *chainViewMock) BestHeight() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

func (c *chainViewMock) AddrOutputs(addr string) []*Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	outputs := make([]*Output, 0, len(c.outputs[addr]))
	for _, out := range c.outputs[addr] {
		o := *out
		if out.SpentTxid != nil {
			txid := *out.SpentTxid
			o.SpentTxid = &txid
		}
		outputs = append(outputs, &o)
	}

	return outputs
}

func (c *chainViewMock) Transaction(txid chainhash.Hash) (*wire.MsgTx,
	bool) {

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[txid]
	return tx, ok
}

func (c *chainViewMock) AddLocalTransaction(tx *wire.MsgTx) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txid := tx.TxHash()
	c.txs[txid] = tx
	c.localTxs = append(c.localTxs, tx)

	for _, txIn := range tx.TxIn {
		for _, outputs := range c.outputs {
			for _, out := range outputs {
				if out.OutPoint != txIn.PreviousOutPoint {
					continue
				}

				out.SpentTxid = &txid
				out.SpentHeight = TxHeightLocal
			}
		}
	}

	return nil
}

// addFunding adds a transaction paying value to addr and returns it.
func (c *chainViewMock) addFunding(addr string, pkScript []byte,
	value btcutil.Amount, height int32) *wire.MsgTx {

	c.mu.Lock()
	defer c.mu.Unlock()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{byte(len(c.txs) + 1)},
			Index: 3,
		},
	})
	tx.AddTxOut(&wire.TxOut{Value: 5_000, PkScript: []byte{0x51}})
	tx.AddTxOut(&wire.TxOut{Value: int64(value), PkScript: pkScript})

	c.txs[tx.TxHash()] = tx
	c.outputs[addr] = append(c.outputs[addr], &Output{
		OutPoint: wire.OutPoint{Hash: tx.TxHash(), Index: 1},
		Value:    value,
		Height:   height,
	})

	return tx
}

// confirm sets the height of the funding and spend of all outputs of addr.
func (c *chainViewMock) confirm(addr string, height, spentHeight int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, out := range c.outputs[addr] {
		out.Height = height
		if out.SpentTxid != nil {
			out.SpentHeight = spentHeight
		}
	}
}

// spend marks all outputs of addr as spent by a foreign transaction.
func (c *chainViewMock) spend(addr string, txid chainhash.Hash,
	height int32) {

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, out := range c.outputs[addr] {
		out.SpentTxid = &txid
		out.SpentHeight = height
	}
}

func (c *chainViewMock) setHeight(height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height = height
}

func (c *chainViewMock) setUpToDate(upToDate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.upToDate = upToDate
}

func (c *chainViewMock) getLocalTxs() []*wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*wire.MsgTx(nil), c.localTxs...)
}

// walletMock funds transactions from a single fake coin.
type walletMock struct {
	t *testing.T

	mu       sync.Mutex
	funded   []*wire.MsgTx
	signed   []*wire.MsgTx
	released []*wire.MsgTx
	feeRates []chainfee.SatPerKWeight
	addrErr  error
}

var _ Wallet = (*walletMock)(nil)

func (w *walletMock) NewAddress(_ context.Context) (btcutil.Address,
	error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.addrErr != nil {
		return nil, w.addrErr
	}

	return test.GetDestAddr(w.t, 0), nil
}

func (w *walletMock) FundTransaction(_ context.Context,
	outputs []*wire.TxOut, feeRate chainfee.SatPerKWeight) (*wire.MsgTx,
	error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{9}},
		Sequence:         wire.MaxTxInSequenceNum - 2,
	})
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	w.funded = append(w.funded, tx)
	w.feeRates = append(w.feeRates, feeRate)

	return tx, nil
}

func (w *walletMock) SignTransaction(_ context.Context,
	tx *wire.MsgTx) (*wire.MsgTx, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	w.signed = append(w.signed, tx)

	return tx, nil
}

func (w *walletMock) ReleaseInputs(_ context.Context, tx *wire.MsgTx) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.released = append(w.released, tx)

	return nil
}

func (w *walletMock) getReleased() []*wire.MsgTx {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]*wire.MsgTx(nil), w.released...)
}

func (w *walletMock) numFunded() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.funded) + len(w.signed)
}

// publishedTx is a transaction handed to the broadcaster.
type publishedTx struct {
	tx    *wire.MsgTx
	label string
}

type broadcasterMock struct {
	mu        sync.Mutex
	published []publishedTx
}

var _ Broadcaster = (*broadcasterMock)(nil)

func (b *broadcasterMock) PublishTransaction(_ context.Context,
	tx *wire.MsgTx, label string) error {

	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, publishedTx{tx: tx, label: label})

	return nil
}

func (b *broadcasterMock) getPublished() []publishedTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]publishedTx(nil), b.published...)
}

type feeEstimatorMock struct {
	feeRate chainfee.SatPerKWeight
}

var _ FeeEstimator = (*feeEstimatorMock)(nil)

func (f *feeEstimatorMock) EstimateFeeRate(_ context.Context,
	_ int32) (chainfee.SatPerKWeight, error) {

	return f.feeRate, nil
}
