package spv

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrSuspiciousInnerNode is returned when an intermediate hash of a
	// merkle branch parses as a transaction. Such a proof may be forged
	// and its source should not be trusted.
	ErrSuspiciousInnerNode = errors.New("merkle inner node is a valid " +
		"transaction")

	// ErrMerkleRootMismatch is returned when a merkle branch does not
	// lead to the root committed to by the block header.
	ErrMerkleRootMismatch = errors.New("merkle root mismatch")

	// ErrHeaderUnavailable is returned when the header a proof refers to
	// is not known locally yet.
	ErrHeaderUnavailable = errors.New("block header unavailable")
)

// TxPredicate reports whether the bytes form a serialized transaction.
type TxPredicate func([]byte) bool

// IsValidTx returns true if b deserializes as a transaction without any
// trailing bytes.
func IsValidTx(b []byte) bool {
	r := bytes.NewReader(b)

	var tx wire.MsgTx
	if err := tx.Deserialize(r); err != nil {
		return false
	}

	return r.Len() == 0
}

// HashMerkleRoot folds the branch into the leaf txid. Bit i of pos selects
// whether sibling i is the left (bit set) or the right (bit clear) input of
// step i. Every intermediate hash is checked against isTx before the next
// step, so a suspicious node aborts the computation even if the final root
// would match.
func HashMerkleRoot(branch []chainhash.Hash, txid chainhash.Hash, pos uint32,
	isTx TxPredicate) (chainhash.Hash, error) {

	if len(branch) < 32 && pos>>uint(len(branch)) != 0 {
		return chainhash.Hash{}, fmt.Errorf("%w: position %d beyond "+
			"branch of length %d", ErrMerkleRootMismatch, pos,
			len(branch))
	}

	var buf [chainhash.HashSize * 2]byte

	h := txid
	for i, sibling := range branch {
		if (pos>>uint(i))&1 == 1 {
			copy(buf[:chainhash.HashSize], sibling[:])
			copy(buf[chainhash.HashSize:], h[:])
		} else {
			copy(buf[:chainhash.HashSize], h[:])
			copy(buf[chainhash.HashSize:], sibling[:])
		}

		h = chainhash.DoubleHashH(buf[:])

		if isTx(h[:]) {
			return chainhash.Hash{}, fmt.Errorf("%w: step %d",
				ErrSuspiciousInnerNode, i)
		}
	}

	return h, nil
}
