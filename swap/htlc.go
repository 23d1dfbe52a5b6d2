package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrPreimageMismatch is returned when a claim witness is requested
	// for a preimage that does not unlock the htlc.
	ErrPreimageMismatch = errors.New("preimage doesn't match hash")
)

// Htlc is a parsed and validated swap lockup script together with the
// P2WSH output it is committed to.
type Htlc struct {
	ScriptFields

	// Type is the swap type the script was matched against.
	Type Type

	// Script is the witness script.
	Script []byte

	// PkScript is the P2WSH output script.
	PkScript []byte

	// Address is the P2WSH lockup address.
	Address btcutil.Address
}

// NewHtlc matches the script against the template of the given swap type and
// derives the lockup address it pays to.
func NewHtlc(swapType Type, script []byte,
	chainParams *chaincfg.Params) (*Htlc, error) {

	fields, err := MatchScript(script, TemplateForType(swapType))
	if err != nil {
		return nil, err
	}

	address, pkScript, err := witnessScriptAddress(script, chainParams)
	if err != nil {
		return nil, err
	}

	return &Htlc{
		ScriptFields: *fields,
		Type:         swapType,
		Script:       script,
		PkScript:     pkScript,
		Address:      address,
	}, nil
}

// LockupAddress returns the P2WSH address for a witness script.
func LockupAddress(script []byte, chainParams *chaincfg.Params) (string,
	error) {

	address, _, err := witnessScriptAddress(script, chainParams)
	if err != nil {
		return "", err
	}

	return address.String(), nil
}

// witnessScriptAddress provides the address and pkScript for a segwit v0
// witness script.
func witnessScriptAddress(script []byte, chainParams *chaincfg.Params) (
	btcutil.Address, []byte, error) {

	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return nil, nil, err
	}

	address, err := btcutil.NewAddressWitnessScriptHash(
		pkScript[2:], chainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	return address, pkScript, nil
}

// Hash160 returns RIPEMD160(SHA256(preimage)) given the payment hash
// SHA256(preimage).
func Hash160(hash lntypes.Hash) []byte {
	return input.Ripemd160H(hash[:])
}

// HasHash returns true if the script locks to the given payment hash.
func (h *Htlc) HasHash(hash lntypes.Hash) bool {
	return bytes.Equal(h.Hash160[:], Hash160(hash))
}

// GenClaimWitness returns the witness that spends the htlc through the
// preimage path. The signature must already carry its sighash flag.
func (h *Htlc) GenClaimWitness(sig []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	if !h.HasHash(preimage.Hash()) {
		return nil, ErrPreimageMismatch
	}

	return wire.TxWitness{sig, preimage[:], h.Script}, nil
}

// GenRefundWitness returns the witness that spends the htlc through the
// timeout path. The empty element fails the hash check and selects the
// OP_ELSE branch.
func (h *Htlc) GenRefundWitness(sig []byte) wire.TxWitness {
	return wire.TxWitness{sig, {}, h.Script}
}

// NewForwardScript builds a lockup script of the forward template shape.
func NewForwardScript(hash lntypes.Hash, claimKey, refundKey [33]byte,
	locktime int32) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(Hash160(hash))
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddData(claimKey[:])

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(locktime))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundKey[:])

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// NewReverseScript builds a lockup script of the reverse template shape.
func NewReverseScript(hash lntypes.Hash, claimKey, refundKey [33]byte,
	locktime int32) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(preimageLen)
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(Hash160(hash))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(claimKey[:])

	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_DROP)
	builder.AddInt64(int64(locktime))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundKey[:])

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// NewScript builds the lockup script for the given swap type.
func NewScript(swapType Type, hash lntypes.Hash, claimKey,
	refundKey [33]byte, locktime int32) ([]byte, error) {

	switch swapType {
	case TypeForward:
		return NewForwardScript(hash, claimKey, refundKey, locktime)

	case TypeReverse:
		return NewReverseScript(hash, claimKey, refundKey, locktime)

	default:
		return nil, fmt.Errorf("unknown swap type %v", swapType)
	}
}

// ClaimWitnessSize returns the maximum serialized witness size of a spend of
// the lockup script, which wallets use to size fee bumps of claim and refund
// transactions.
func ClaimWitnessSize(swapType Type, scriptLen int) int {
	// - number_of_witness_elements: 1 byte
	// - sig_length: 1 byte
	// - sig: 73 bytes
	// - preimage_length: 1 byte
	// - preimage: 32 bytes, empty for refunds
	// - witness_script_length: 1 byte
	// - witness_script: len(script) bytes
	size := 1 + 1 + 73 + 1 + 1 + scriptLen
	if swapType == TypeReverse {
		size += preimageLen
	}

	return size
}
