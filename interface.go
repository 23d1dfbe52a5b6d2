package subswap

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// TxHeightLocal is the spend height of a transaction that is only
	// known to the local wallet and was not seen in the mempool.
	TxHeightLocal int32 = -2

	// TxHeightUnconfirmed is the height of a transaction in the mempool.
	TxHeightUnconfirmed int32 = 0
)

// Output is an output paying to a watched address as seen by the wallet.
type Output struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// Value is the value of the output.
	Value btcutil.Amount

	// Height is the height of the funding transaction. Values below
	// one mean that it is unconfirmed.
	Height int32

	// SpentTxid is the transaction spending the output, if any.
	SpentTxid *chainhash.Hash

	// SpentHeight is the height of the spending transaction. It is
	// TxHeightLocal for spends not broadcast yet.
	SpentHeight int32
}

// ChainView is the wallet's synchronized view of the chain.
type ChainView interface {
	// IsUpToDate returns false while the wallet is still syncing.
	IsUpToDate() bool

	// BestHeight returns the local chain height.
	BestHeight() int32

	// AddrOutputs returns all outputs ever paid to addr.
	AddrOutputs(addr string) []*Output

	// Transaction returns a transaction known to the wallet.
	Transaction(txid chainhash.Hash) (*wire.MsgTx, bool)

	// AddLocalTransaction adds a transaction to the wallet without
	// broadcasting it.
	AddLocalTransaction(tx *wire.MsgTx) error
}

// Wallet funds and signs our on-chain transactions.
type Wallet interface {
	// NewAddress returns a fresh receive address.
	NewAddress(ctx context.Context) (btcutil.Address, error)

	// FundTransaction creates a signed transaction paying the outputs
	// that signals replaceability.
	FundTransaction(ctx context.Context, outputs []*wire.TxOut,
		feeRate chainfee.SatPerKWeight) (*wire.MsgTx, error)

	// SignTransaction signs the wallet inputs of a transaction.
	SignTransaction(ctx context.Context,
		tx *wire.MsgTx) (*wire.MsgTx, error)

	// ReleaseInputs gives back the inputs locked for a transaction
	// returned by FundTransaction that is not going to be published.
	ReleaseInputs(ctx context.Context, tx *wire.MsgTx) error
}

// Lightning is the off-chain side of the wallet.
type Lightning interface {
	// AddInvoice creates an invoice for amt that settles with
	// preimage.
	AddInvoice(ctx context.Context, amt btcutil.Amount,
		preimage lntypes.Preimage, memo string) (string, error)

	// DecodeInvoice returns the payment hash and amount of an invoice.
	DecodeInvoice(invoice string) (lntypes.Hash, btcutil.Amount, error)

	// PayInvoice pays an invoice with a bounded number of attempts.
	PayInvoice(ctx context.Context, invoice string, attempts int) error
}

// SwapServer is the counterparty of our swaps.
type SwapServer interface {
	// CreateSwap requests a forward swap.
	CreateSwap(ctx context.Context, req *swapserver.CreateSwapRequest) (
		*swapserver.CreateSwapResponse, error)

	// CreateReverseSwap requests a reverse swap.
	CreateReverseSwap(ctx context.Context,
		req *swapserver.CreateReverseSwapRequest) (
		*swapserver.CreateReverseSwapResponse, error)

	// GetPairs returns the raw fee schedule and limits.
	GetPairs(ctx context.Context) ([]byte, error)
}

// Broadcaster publishes transactions.
type Broadcaster interface {
	PublishTransaction(ctx context.Context, tx *wire.MsgTx,
		label string) error
}

// FeeEstimator estimates on-chain fee rates.
type FeeEstimator interface {
	EstimateFeeRate(ctx context.Context,
		confTarget int32) (chainfee.SatPerKWeight, error)
}

// Watcher invokes a callback whenever the outputs of a watched address may
// have changed or a new block arrived. Callbacks carry no payload.
type Watcher interface {
	Register(addr string, cb func())
	Unregister(addr string)
}
