package swapdb

import (
	"bytes"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	isReverseType       tlv.Type = 0
	locktimeType        tlv.Type = 1
	onchainAmountType   tlv.Type = 2
	lightningAmountType tlv.Type = 3
	redeemScriptType    tlv.Type = 4
	preimageType        tlv.Type = 5
	privKeyType         tlv.Type = 6
	lockupAddressType   tlv.Type = 7
	receiveAddressType  tlv.Type = 8
	isRedeemedType      tlv.Type = 9
	serverIDType        tlv.Type = 10
	createdAtType       tlv.Type = 11
	prepayHashType      tlv.Type = 12
	fundingTxidType     tlv.Type = 13
	fundingIndexType    tlv.Type = 14
	spendingTxidType    tlv.Type = 15
)

// swapFields holds the flat encoding of a record. Optional fields are only
// written when set and are recognized on read by their presence in the
// stream.
type swapFields struct {
	isReverse       uint8
	locktime        uint32
	onchainAmount   uint64
	lightningAmount uint64
	redeemScript    []byte
	preimage        [32]byte
	privKey         [32]byte
	lockupAddress   []byte
	receiveAddress  []byte
	isRedeemed      uint8
	serverID        []byte
	createdAt       uint64
	prepayHash      [32]byte
	fundingTxid     [32]byte
	fundingIndex    uint32
	spendingTxid    [32]byte
}

func (f *swapFields) requiredRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(isReverseType, &f.isReverse),
		tlv.MakePrimitiveRecord(locktimeType, &f.locktime),
		tlv.MakePrimitiveRecord(onchainAmountType, &f.onchainAmount),
		tlv.MakePrimitiveRecord(
			lightningAmountType, &f.lightningAmount,
		),
		tlv.MakePrimitiveRecord(redeemScriptType, &f.redeemScript),
		tlv.MakePrimitiveRecord(preimageType, &f.preimage),
		tlv.MakePrimitiveRecord(privKeyType, &f.privKey),
		tlv.MakePrimitiveRecord(lockupAddressType, &f.lockupAddress),
		tlv.MakePrimitiveRecord(receiveAddressType, &f.receiveAddress),
		tlv.MakePrimitiveRecord(isRedeemedType, &f.isRedeemed),
		tlv.MakePrimitiveRecord(serverIDType, &f.serverID),
		tlv.MakePrimitiveRecord(createdAtType, &f.createdAt),
	}
}

func (f *swapFields) prepayRecord() tlv.Record {
	return tlv.MakePrimitiveRecord(prepayHashType, &f.prepayHash)
}

func (f *swapFields) fundingRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(fundingTxidType, &f.fundingTxid),
		tlv.MakePrimitiveRecord(fundingIndexType, &f.fundingIndex),
	}
}

func (f *swapFields) spendingRecord() tlv.Record {
	return tlv.MakePrimitiveRecord(spendingTxidType, &f.spendingTxid)
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

// serializeSwap writes the record as a tlv stream.
func serializeSwap(w io.Writer, rec *SwapRecord) error {
	f := &swapFields{
		isReverse:       boolToUint8(rec.IsReverse),
		locktime:        uint32(rec.Locktime),
		onchainAmount:   uint64(rec.OnchainAmount),
		lightningAmount: uint64(rec.LightningAmount),
		redeemScript:    rec.RedeemScript,
		preimage:        rec.Preimage,
		privKey:         rec.PrivKey,
		lockupAddress:   []byte(rec.LockupAddress),
		receiveAddress:  []byte(rec.ReceiveAddress),
		isRedeemed:      boolToUint8(rec.IsRedeemed),
		serverID:        []byte(rec.ServerID),
		createdAt:       uint64(rec.CreatedAt.UnixNano()),
	}

	records := f.requiredRecords()

	if rec.PrepayHash != nil {
		f.prepayHash = *rec.PrepayHash
		records = append(records, f.prepayRecord())
	}

	if rec.FundingOutpoint != nil {
		f.fundingTxid = rec.FundingOutpoint.Hash
		f.fundingIndex = rec.FundingOutpoint.Index
		records = append(records, f.fundingRecords()...)
	}

	if rec.SpendingTxid != nil {
		f.spendingTxid = *rec.SpendingTxid
		records = append(records, f.spendingRecord())
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// deserializeSwap reads a record written by serializeSwap.
func deserializeSwap(r io.Reader) (*SwapRecord, error) {
	f := &swapFields{}

	records := f.requiredRecords()
	records = append(records, f.prepayRecord())
	records = append(records, f.fundingRecords()...)
	records = append(records, f.spendingRecord())

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	rec := &SwapRecord{
		IsReverse:       f.isReverse != 0,
		Locktime:        int32(f.locktime),
		OnchainAmount:   btcutil.Amount(f.onchainAmount),
		LightningAmount: btcutil.Amount(f.lightningAmount),
		RedeemScript:    f.redeemScript,
		Preimage:        lntypes.Preimage(f.preimage),
		PrivKey:         f.privKey,
		LockupAddress:   string(f.lockupAddress),
		ReceiveAddress:  string(f.receiveAddress),
		IsRedeemed:      f.isRedeemed != 0,
		ServerID:        string(f.serverID),
		CreatedAt:       time.Unix(0, int64(f.createdAt)),
	}

	if _, ok := parsed[prepayHashType]; ok {
		hash := lntypes.Hash(f.prepayHash)
		rec.PrepayHash = &hash
	}

	if _, ok := parsed[fundingTxidType]; ok {
		rec.FundingOutpoint = &wire.OutPoint{
			Hash:  chainhash.Hash(f.fundingTxid),
			Index: f.fundingIndex,
		}
	}

	if _, ok := parsed[spendingTxidType]; ok {
		txid := chainhash.Hash(f.spendingTxid)
		rec.SpendingTxid = &txid
	}

	return rec, nil
}

// encodeSwap returns the serialized record.
func encodeSwap(rec *SwapRecord) ([]byte, error) {
	var b bytes.Buffer
	if err := serializeSwap(&b, rec); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
