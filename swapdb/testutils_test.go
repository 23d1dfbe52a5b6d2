package swapdb

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

var testTime = time.Date(2024, time.March, 9, 14, 0, 0, 0, time.UTC)

func newTestRecord(seed byte) *SwapRecord {
	return &SwapRecord{
		IsReverse:       seed%2 == 1,
		Locktime:        800_000 + int32(seed),
		OnchainAmount:   100_000,
		LightningAmount: 101_000,
		RedeemScript:    []byte{0xa9, seed, 0x87},
		Preimage:        lntypes.Preimage{seed, 1, 2, 3},
		PrivKey:         [32]byte{seed, 9},
		LockupAddress:   fmt.Sprintf("bcrt1qlockup%d", seed),
		ReceiveAddress:  "bcrt1qreceive",
		ServerID:        fmt.Sprintf("swap-%d", seed),
		CreatedAt:       testTime.Add(time.Duration(seed) * time.Minute),
	}
}

func testOutpoint(seed byte) wire.OutPoint {
	return wire.OutPoint{
		Hash:  chainhash.Hash{seed, 0xfd},
		Index: uint32(seed),
	}
}
