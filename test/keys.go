package test

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// CreateKey returns a deterministically generated key pair.
func CreateKey(index int32) (*btcec.PrivateKey, *btcec.PublicKey) {
	// Avoid all zeros, because it results in an invalid key.
	privKey, pubKey := btcec.PrivKeyFromBytes([]byte{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, byte(index + 1),
	})

	return privKey, pubKey
}

// CreateKeyBytes returns the raw scalar and the compressed public key of the
// deterministic key with the given index, the form in which swap records
// and lockup scripts carry keys.
func CreateKeyBytes(index int32) ([32]byte, [33]byte) {
	privKey, pubKey := CreateKey(index)

	var (
		priv [32]byte
		pub  [33]byte
	)
	copy(priv[:], privKey.Serialize())
	copy(pub[:], pubKey.SerializeCompressed())

	return priv, pub
}
