package swap

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/txscript"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrScriptMismatch is returned when a redeem script handed to us by
	// the swap server does not have the exact shape we expect.
	ErrScriptMismatch = errors.New("redeem script does not match template")
)

const (
	// hash160Len is the length of a RIPEMD160(SHA256(x)) digest.
	hash160Len = 20

	// preimageLen is the only preimage size the reverse script accepts.
	preimageLen = 32

	// maxScriptNumLen is the largest locktime push we accept, matching
	// the operand limit of OP_CHECKLOCKTIMEVERIFY.
	maxScriptNumLen = 5
)

// token is a single parsed script element. Data is only set for pushes.
type token struct {
	opcode byte
	data   []byte
}

// isPush reports whether the token pushes data onto the stack.
func (t token) isPush() bool {
	return t.opcode <= txscript.OP_PUSHDATA4
}

// slot is one position of a template. A slot either requires a fixed opcode
// or, when push is set, any data push that satisfies the predicate.
type slot struct {
	opcode byte
	push   bool
	check  func([]byte) bool
}

func op(opcode byte) slot {
	return slot{opcode: opcode}
}

func pushData(check func([]byte) bool) slot {
	return slot{push: true, check: check}
}

func (s slot) matches(t token) bool {
	if !s.push {
		return !t.isPush() && t.opcode == s.opcode
	}

	if !t.isPush() {
		return false
	}

	return s.check == nil || s.check(t.data)
}

// Template is an opcode level description of a swap redeem script together
// with the token positions of the values we extract from it.
type Template struct {
	name  string
	slots []slot

	// HashIndex is the position of the RIPEMD160(SHA256(preimage)) push.
	HashIndex int

	// ClaimKeyIndex is the position of the key that spends with the
	// preimage.
	ClaimKeyIndex int

	// LocktimeIndex is the position of the CLTV operand.
	LocktimeIndex int

	// RefundKeyIndex is the position of the key that spends after the
	// timeout.
	RefundKeyIndex int
}

// String returns the template name.
func (t *Template) String() string {
	return t.name
}

// ForwardTemplate is the lockup script used by forward swaps. The server
// claims with the preimage, we refund after the timeout:
//
// OP_HASH160 <hash160> OP_EQUAL
// OP_IF
//
//	<claim pubkey>
//
// OP_ELSE
//
//	<locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	<refund pubkey>
//
// OP_ENDIF
// OP_CHECKSIG
var ForwardTemplate = &Template{
	name: "forward",
	slots: []slot{
		op(txscript.OP_HASH160),
		pushData(isHash160),
		op(txscript.OP_EQUAL),
		op(txscript.OP_IF),
		pushData(isPubKey),
		op(txscript.OP_ELSE),
		pushData(nil),
		op(txscript.OP_CHECKLOCKTIMEVERIFY),
		op(txscript.OP_DROP),
		pushData(isPubKey),
		op(txscript.OP_ENDIF),
		op(txscript.OP_CHECKSIG),
	},
	HashIndex:      1,
	ClaimKeyIndex:  4,
	LocktimeIndex:  6,
	RefundKeyIndex: 9,
}

// ReverseTemplate is the lockup script used by reverse swaps. We claim with
// the preimage, the server refunds after the timeout. The OP_SIZE guard pins
// the preimage to 32 bytes so that an on-chain claim always corresponds to a
// settleable off-chain payment:
//
// OP_SIZE 32 OP_EQUAL
// OP_IF
//
//	OP_HASH160 <hash160> OP_EQUALVERIFY
//	<claim pubkey>
//
// OP_ELSE
//
//	OP_DROP
//	<locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	<refund pubkey>
//
// OP_ENDIF
// OP_CHECKSIG
var ReverseTemplate = &Template{
	name: "reverse",
	slots: []slot{
		op(txscript.OP_SIZE),
		pushData(isPreimageSize),
		op(txscript.OP_EQUAL),
		op(txscript.OP_IF),
		op(txscript.OP_HASH160),
		pushData(isHash160),
		op(txscript.OP_EQUALVERIFY),
		pushData(isPubKey),
		op(txscript.OP_ELSE),
		op(txscript.OP_DROP),
		pushData(nil),
		op(txscript.OP_CHECKLOCKTIMEVERIFY),
		op(txscript.OP_DROP),
		pushData(isPubKey),
		op(txscript.OP_ENDIF),
		op(txscript.OP_CHECKSIG),
	},
	HashIndex:      5,
	ClaimKeyIndex:  7,
	LocktimeIndex:  10,
	RefundKeyIndex: 13,
}

// TemplateForType returns the lockup template for the given swap type.
func TemplateForType(swapType Type) *Template {
	if swapType == TypeReverse {
		return ReverseTemplate
	}

	return ForwardTemplate
}

// ScriptFields holds the values extracted from a matching redeem script.
type ScriptFields struct {
	// Hash160 is RIPEMD160(SHA256(preimage)).
	Hash160 [hash160Len]byte

	// ClaimKey is the serialized key of the preimage path.
	ClaimKey []byte

	// RefundKey is the serialized key of the timeout path.
	RefundKey []byte

	// Locktime is the absolute block height of the timeout path.
	Locktime int32
}

// MatchScript parses the script and compares it token by token against the
// template. Any deviation, including a script that fails to parse or carries
// trailing opcodes, results in ErrScriptMismatch.
func MatchScript(script []byte, template *Template) (*ScriptFields, error) {
	tokens, err := tokenize(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptMismatch, err)
	}

	if len(tokens) != len(template.slots) {
		return nil, fmt.Errorf("%w: %v script has %d elements, "+
			"expected %d", ErrScriptMismatch, template, len(tokens),
			len(template.slots))
	}

	for i, s := range template.slots {
		if !s.matches(tokens[i]) {
			return nil, fmt.Errorf("%w: %v script element %d "+
				"unexpected", ErrScriptMismatch, template, i)
		}
	}

	locktime, err := decodeLocktime(tokens[template.LocktimeIndex].data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptMismatch, err)
	}

	fields := &ScriptFields{
		ClaimKey:  tokens[template.ClaimKeyIndex].data,
		RefundKey: tokens[template.RefundKeyIndex].data,
		Locktime:  locktime,
	}
	copy(fields.Hash160[:], tokens[template.HashIndex].data)

	return fields, nil
}

func tokenize(script []byte) ([]token, error) {
	var tokens []token

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		tokens = append(tokens, token{
			opcode: tokenizer.Opcode(),
			data:   tokenizer.Data(),
		})
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return tokens, nil
}

// decodeLocktime decodes a little endian script number. Negative values and
// values that do not fit a block height are rejected. Small int opcodes
// never reach here because the locktime slot only matches data pushes, so
// heights up to 16 are refused.
func decodeLocktime(data []byte) (int32, error) {
	if len(data) == 0 || len(data) > maxScriptNumLen {
		return 0, fmt.Errorf("invalid locktime length %d", len(data))
	}

	last := data[len(data)-1]
	if last&0x80 != 0 {
		return 0, errors.New("negative locktime")
	}

	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * uint(i))
	}

	if v > math.MaxInt32 {
		return 0, fmt.Errorf("locktime %d out of range", v)
	}

	return int32(v), nil
}

func isHash160(data []byte) bool {
	return len(data) == hash160Len
}

func isPreimageSize(data []byte) bool {
	return bytes.Equal(data, []byte{preimageLen})
}

func isPubKey(data []byte) bool {
	switch len(data) {
	case secp.PubKeyBytesLenCompressed:
		return data[0] == secp.PubKeyFormatCompressedEven ||
			data[0] == secp.PubKeyFormatCompressedOdd

	case secp.PubKeyBytesLenUncompressed:
		return data[0] == secp.PubKeyFormatUncompressed

	default:
		return false
	}
}
