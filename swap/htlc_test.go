package swap

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// TestNewHtlc tests that the builders produce template matching scripts and
// that the lockup address is the P2WSH of the script.
func TestNewHtlc(t *testing.T) {
	preimage := lntypes.Preimage{1, 2, 3}
	hash := preimage.Hash()

	_, claimPub := test.CreateKey(1)
	_, refundPub := test.CreateKey(2)

	var claimKey, refundKey [33]byte
	copy(claimKey[:], claimPub.SerializeCompressed())
	copy(refundKey[:], refundPub.SerializeCompressed())

	for _, swapType := range []Type{TypeForward, TypeReverse} {
		script, err := NewScript(
			swapType, hash, claimKey, refundKey, 800_000,
		)
		require.NoError(t, err)

		htlc, err := NewHtlc(swapType, script, &chaincfg.RegressionNetParams)
		require.NoError(t, err)

		require.True(t, htlc.HasHash(hash))
		require.False(t, htlc.HasHash(lntypes.Hash{}))
		require.Equal(t, claimKey[:], htlc.ClaimKey)
		require.Equal(t, refundKey[:], htlc.RefundKey)
		require.EqualValues(t, 800_000, htlc.Locktime)

		// The address must commit to the script.
		pkScript, err := txscript.PayToAddrScript(htlc.Address)
		require.NoError(t, err)
		require.Equal(t, htlc.PkScript, pkScript)

		addr, err := LockupAddress(
			script, &chaincfg.RegressionNetParams,
		)
		require.NoError(t, err)
		require.Equal(t, htlc.Address.String(), addr)

		// A script of one type never parses as the other.
		_, err = NewHtlc(
			TypeFromReverse(!swapType.IsReverse()), script,
			&chaincfg.RegressionNetParams,
		)
		require.ErrorIs(t, err, ErrScriptMismatch)

		_, err = htlc.GenClaimWitness([]byte{1}, lntypes.Preimage{})
		require.ErrorIs(t, err, ErrPreimageMismatch)

		witness, err := htlc.GenClaimWitness([]byte{1}, preimage)
		require.NoError(t, err)
		require.Len(t, witness, 3)
		require.Equal(t, preimage[:], witness[1])

		refund := htlc.GenRefundWitness([]byte{1})
		require.Len(t, refund, 3)
		require.Empty(t, refund[1])
	}
}

// TestClaimWitnessSize tests that a reverse claim reserves room for the
// preimage.
func TestClaimWitnessSize(t *testing.T) {
	require.Equal(
		t, ClaimWitnessSize(TypeForward, 100)+32,
		ClaimWitnessSize(TypeReverse, 100),
	)
	require.Equal(t, 1+1+73+1+1+100, ClaimWitnessSize(TypeForward, 100))
}
