package test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
)

// TestGetInvoice tests that test invoices decode and are signed by the
// fixed invoice key.
func TestGetInvoice(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	hash := lntypes.Hash{1, 2, 3}

	invoice := GetInvoice(t, params, hash, 50_000, "memo")

	decoded, err := zpay32.Decode(invoice, params)
	require.NoError(t, err)

	require.Equal(t, [32]byte(hash), *decoded.PaymentHash)
	require.Equal(t, lnwire.MilliSatoshi(50_000_000), *decoded.MilliSat)
	require.Equal(t, "memo", *decoded.Description)

	_, pubKey := CreateKey(5)
	require.True(t, pubKey.IsEqual(decoded.Destination))
}
