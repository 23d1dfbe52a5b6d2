package test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// GetDestAddr deterministically generates a P2WPKH address for testing.
func GetDestAddr(t *testing.T, nr byte) btcutil.Address {
	_, pubKey := CreateKey(int32(nr) + 100)

	destAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return destAddr
}

// PkScript returns the output script for an address.
func PkScript(t *testing.T, addr btcutil.Address) []byte {
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return pkScript
}
