package test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
)

// invoiceTime is the fixed creation time of test invoices.
var invoiceTime = time.Unix(1700000000, 0)

// EncodePayReq encodes a zpay32 invoice with a fixed key.
func EncodePayReq(payReq *zpay32.Invoice) (string, error) {
	privKey, _ := CreateKey(5)

	return payReq.Encode(zpay32.MessageSigner{
		SignCompact: func(hash []byte) ([]byte, error) {
			// SignCompact returns a pubkey-recoverable signature.
			return ecdsa.SignCompact(privKey, hash, true), nil
		},
	})
}

// GetInvoice returns an encoded invoice for the payment hash and amount on
// the given network.
func GetInvoice(t *testing.T, params *chaincfg.Params, hash lntypes.Hash,
	amt btcutil.Amount, memo string) string {

	req, err := zpay32.NewInvoice(
		params, hash, invoiceTime,
		zpay32.Description(memo),
		zpay32.Amount(lnwire.NewMSatFromSatoshis(amt)),
	)
	require.NoError(t, err)

	invoice, err := EncodePayReq(req)
	require.NoError(t, err)

	return invoice
}
