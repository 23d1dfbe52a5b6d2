package swap

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ErrOutputNotFound is returned when a transaction does not pay to the
// script we look for.
var ErrOutputNotFound = errors.New("output not found")

// FindOutput locates the first output paying to pkScript and returns its
// outpoint and value.
func FindOutput(tx *wire.MsgTx, pkScript []byte) (*wire.OutPoint,
	btcutil.Amount, error) {

	for idx, output := range tx.TxOut {
		if bytes.Equal(output.PkScript, pkScript) {
			return &wire.OutPoint{
				Hash:  tx.TxHash(),
				Index: uint32(idx),
			}, btcutil.Amount(output.Value), nil
		}
	}

	return nil, 0, ErrOutputNotFound
}

// RemoveOutput drops the first output paying value to pkScript. It returns
// false if there is no such output.
func RemoveOutput(tx *wire.MsgTx, pkScript []byte,
	value btcutil.Amount) bool {

	for idx, output := range tx.TxOut {
		if output.Value != int64(value) ||
			!bytes.Equal(output.PkScript, pkScript) {

			continue
		}

		tx.TxOut = append(tx.TxOut[:idx], tx.TxOut[idx+1:]...)
		return true
	}

	return false
}
