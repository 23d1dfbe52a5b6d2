package subswap

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/zpay32"
)

// lightningMock creates real encoded invoices and records payments. The
// onPay hook decides the outcome of a payment.
type lightningMock struct {
	t      *testing.T
	params *chaincfg.Params

	mu        sync.Mutex
	preimages []lntypes.Preimage
	paid      []string

	onPay func(invoice string) error
}

var _ Lightning = (*lightningMock)(nil)

func (l *lightningMock) AddInvoice(_ context.Context, amt btcutil.Amount,
	preimage lntypes.Preimage, memo string) (string, error) {

	l.mu.Lock()
	l.preimages = append(l.preimages, preimage)
	l.mu.Unlock()

	return test.GetInvoice(l.t, l.params, preimage.Hash(), amt, memo), nil
}

func (l *lightningMock) DecodeInvoice(invoice string) (lntypes.Hash,
	btcutil.Amount, error) {

	payReq, err := zpay32.Decode(invoice, l.params)
	if err != nil {
		return lntypes.Hash{}, 0, err
	}

	var amt btcutil.Amount
	if payReq.MilliSat != nil {
		amt = payReq.MilliSat.ToSatoshis()
	}

	return lntypes.Hash(*payReq.PaymentHash), amt, nil
}

func (l *lightningMock) PayInvoice(_ context.Context, invoice string,
	_ int) error {

	l.mu.Lock()
	l.paid = append(l.paid, invoice)
	onPay := l.onPay
	l.mu.Unlock()

	if onPay == nil {
		return nil
	}

	return onPay(invoice)
}

func (l *lightningMock) setOnPay(onPay func(invoice string) error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onPay = onPay
}

func (l *lightningMock) isPaid(invoice string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, paid := range l.paid {
		if paid == invoice {
			return true
		}
	}

	return false
}
