package lndbackend

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// LightningClient is the subset of lndclient.LightningClient we use.
type LightningClient interface {
	PayInvoice(ctx context.Context, invoice string,
		maxFee btcutil.Amount,
		outgoingChannel *uint64) chan lndclient.PaymentResult

	AddInvoice(ctx context.Context, in *invoicesrpc.AddInvoiceData) (
		lntypes.Hash, string, error)
}

// WalletKitClient is the subset of lndclient.WalletKitClient we use.
type WalletKitClient interface {
	EstimateFeeRate(ctx context.Context,
		confTarget int32) (chainfee.SatPerKWeight, error)

	PublishTransaction(ctx context.Context, tx *wire.MsgTx,
		label string) error

	NextAddr(ctx context.Context, account string,
		addrType walletrpc.AddressType,
		change bool) (btcutil.Address, error)

	FundPsbt(ctx context.Context,
		req *walletrpc.FundPsbtRequest) (*psbt.Packet, int32,
		[]*walletrpc.UtxoLease, error)

	FinalizePsbt(ctx context.Context, packet *psbt.Packet,
		account string) (*psbt.Packet, *wire.MsgTx, error)

	ReleaseOutput(ctx context.Context, lockID wtxmgr.LockID,
		op wire.OutPoint) error
}

// ChainNotifierClient is the subset of lndclient.ChainNotifierClient we use.
type ChainNotifierClient interface {
	RegisterBlockEpochNtfn(ctx context.Context) (chan int32, chan error,
		error)
}
