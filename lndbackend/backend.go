package lndbackend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	// DefaultMaxRoutingFeePPM is the routing fee limit, in parts per
	// million of the invoice amount.
	DefaultMaxRoutingFeePPM = 10_000

	// minRoutingFee is the routing fee always allowed for small
	// payments.
	minRoutingFee btcutil.Amount = 10

	// invoiceExpiry is the expiry of the invoices we create for forward
	// swaps.
	invoiceExpiry = 24 * time.Hour

	// rbfSequence signals replaceability of the funding inputs.
	rbfSequence = wire.MaxTxInSequenceNum - 2
)

var (
	// ErrNoAmount is returned for invoices that do not specify an
	// amount.
	ErrNoAmount = errors.New("invoice without amount")

	// ErrPaymentFailed is returned when all payment attempts failed.
	ErrPaymentFailed = errors.New("payment failed")
)

// Config holds the lnd services the backend wraps.
type Config struct {
	Lightning     LightningClient
	WalletKit     WalletKitClient
	ChainNotifier ChainNotifierClient

	// ChainParams are the parameters of the chain lnd runs on.
	ChainParams *chaincfg.Params

	// MaxRoutingFeePPM limits the routing fee of our payments.
	MaxRoutingFeePPM int64

	// MinConfs is the number of confirmations required on funding
	// inputs.
	MinConfs int32
}

// Backend implements the lightning, wallet, fee estimation and broadcast
// collaborators of the swap manager on top of lnd.
type Backend struct {
	cfg *Config

	// leases holds the wallet leases of funded transactions that were
	// not published yet.
	leasesMu sync.Mutex
	leases   map[chainhash.Hash][]*walletrpc.UtxoLease
}

// New creates a backend.
func New(cfg *Config) *Backend {
	if cfg.MaxRoutingFeePPM <= 0 {
		cfg.MaxRoutingFeePPM = DefaultMaxRoutingFeePPM
	}

	return &Backend{
		cfg:    cfg,
		leases: make(map[chainhash.Hash][]*walletrpc.UtxoLease),
	}
}

// NewFromServices creates a backend from a connected set of lnd services.
func NewFromServices(lnd *lndclient.LndServices) *Backend {
	return New(&Config{
		Lightning:     lnd.Client,
		WalletKit:     lnd.WalletKit,
		ChainNotifier: lnd.ChainNotifier,
		ChainParams:   lnd.ChainParams,
	})
}

// AddInvoice creates an invoice for amt locked to the given preimage.
func (b *Backend) AddInvoice(ctx context.Context, amt btcutil.Amount,
	preimage lntypes.Preimage, memo string) (string, error) {

	_, invoice, err := b.cfg.Lightning.AddInvoice(
		ctx, &invoicesrpc.AddInvoiceData{
			Preimage: &preimage,
			Value:    lnwire.NewMSatFromSatoshis(amt),
			Memo:     memo,
			Expiry:   int64(invoiceExpiry.Seconds()),
		},
	)
	if err != nil {
		return "", fmt.Errorf("unable to add invoice: %w", err)
	}

	return invoice, nil
}

// DecodeInvoice returns the payment hash and amount of a bolt11 invoice.
func (b *Backend) DecodeInvoice(invoice string) (lntypes.Hash,
	btcutil.Amount, error) {

	payReq, err := zpay32.Decode(invoice, b.cfg.ChainParams)
	if err != nil {
		return lntypes.Hash{}, 0, err
	}

	if payReq.PaymentHash == nil {
		return lntypes.Hash{}, 0, errors.New("invoice without " +
			"payment hash")
	}

	if payReq.MilliSat == nil {
		return lntypes.Hash{}, 0, ErrNoAmount
	}

	return lntypes.Hash(*payReq.PaymentHash),
		payReq.MilliSat.ToSatoshis(), nil
}

// PayInvoice pays the invoice, retrying up to attempts times.
func (b *Backend) PayInvoice(ctx context.Context, invoice string,
	attempts int) error {

	hash, amt, err := b.DecodeInvoice(invoice)
	if err != nil {
		return err
	}

	maxFee := b.maxRoutingFee(amt)

	var lastErr error
	for i := 0; i < attempts; i++ {
		select {
		case res := <-b.cfg.Lightning.PayInvoice(
			ctx, invoice, maxFee, nil,
		):
			if res.Err == nil {
				log.Infof("Paid invoice %v, fee %v", hash,
					res.PaidFee)

				return nil
			}

			lastErr = res.Err
			log.Debugf("Payment attempt %d of %v failed: %v", i+1,
				hash, res.Err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %v after %d attempts: %v", ErrPaymentFailed,
		hash, attempts, lastErr)
}

func (b *Backend) maxRoutingFee(amt btcutil.Amount) btcutil.Amount {
	fee := amt * btcutil.Amount(b.cfg.MaxRoutingFeePPM) / 1_000_000
	if fee < minRoutingFee {
		return minRoutingFee
	}

	return fee
}

// EstimateFeeRate returns the fee rate for the confirmation target.
func (b *Backend) EstimateFeeRate(ctx context.Context,
	confTarget int32) (chainfee.SatPerKWeight, error) {

	return b.cfg.WalletKit.EstimateFeeRate(ctx, confTarget)
}

// PublishTransaction broadcasts a transaction. The leases of a funded
// transaction are kept by the wallet from then on.
func (b *Backend) PublishTransaction(ctx context.Context, tx *wire.MsgTx,
	label string) error {

	err := b.cfg.WalletKit.PublishTransaction(ctx, tx, label)
	if err != nil {
		return err
	}

	b.leasesMu.Lock()
	delete(b.leases, tx.TxHash())
	b.leasesMu.Unlock()

	return nil
}

// NewAddress returns a fresh receive address of the wallet.
func (b *Backend) NewAddress(ctx context.Context) (btcutil.Address, error) {
	return b.cfg.WalletKit.NextAddr(
		ctx, lnwallet.DefaultAccountName,
		walletrpc.AddressType_WITNESS_PUBKEY_HASH, false,
	)
}

// FundTransaction funds and signs a transaction paying the outputs. The
// inputs signal replaceability. The leased inputs are released if signing
// fails.
func (b *Backend) FundTransaction(ctx context.Context,
	outputs []*wire.TxOut,
	feeRate chainfee.SatPerKWeight) (*wire.MsgTx, error) {

	template := &walletrpc.TxTemplate{
		Outputs: make(map[string]uint64, len(outputs)),
	}
	for _, out := range outputs {
		addr, err := pkScriptAddress(out.PkScript, b.cfg.ChainParams)
		if err != nil {
			return nil, err
		}

		template.Outputs[addr] += uint64(out.Value)
	}

	packet, _, leases, err := b.cfg.WalletKit.FundPsbt(
		ctx, &walletrpc.FundPsbtRequest{
			Template: &walletrpc.FundPsbtRequest_Raw{
				Raw: template,
			},
			Fees: &walletrpc.FundPsbtRequest_SatPerVbyte{
				SatPerVbyte: uint64(feeRate.FeePerVByte()),
			},
			MinConfs: b.cfg.MinConfs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fund transaction: %w", err)
	}

	for _, txIn := range packet.UnsignedTx.TxIn {
		txIn.Sequence = rbfSequence
	}

	_, tx, err := b.cfg.WalletKit.FinalizePsbt(ctx, packet, "")
	if err != nil {
		b.releaseLeases(ctx, leases)

		return nil, fmt.Errorf("unable to sign transaction: %w", err)
	}

	b.leasesMu.Lock()
	b.leases[tx.TxHash()] = leases
	b.leasesMu.Unlock()

	return tx, nil
}

// ReleaseInputs releases the inputs leased when funding tx, which is not
// going to be published. Transactions not funded by FundTransaction are
// ignored.
func (b *Backend) ReleaseInputs(ctx context.Context, tx *wire.MsgTx) error {
	txid := tx.TxHash()

	b.leasesMu.Lock()
	leases, ok := b.leases[txid]
	delete(b.leases, txid)
	b.leasesMu.Unlock()

	if !ok {
		return nil
	}

	b.releaseLeases(ctx, leases)

	return nil
}

// SignTransaction signs all inputs of an unsigned transaction spending
// wallet outputs.
func (b *Backend) SignTransaction(ctx context.Context,
	tx *wire.MsgTx) (*wire.MsgTx, error) {

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	_, signed, err := b.cfg.WalletKit.FinalizePsbt(ctx, packet, "")
	if err != nil {
		return nil, fmt.Errorf("unable to sign transaction: %w", err)
	}

	return signed, nil
}

func (b *Backend) releaseLeases(ctx context.Context,
	leases []*walletrpc.UtxoLease) {

	for _, lease := range leases {
		if lease.Outpoint == nil {
			continue
		}

		hash, err := chainhash.NewHash(lease.Outpoint.TxidBytes)
		if err != nil {
			log.Errorf("Invalid leased outpoint: %v", err)
			continue
		}

		var lockID wtxmgr.LockID
		copy(lockID[:], lease.Id)

		op := wire.OutPoint{
			Hash:  *hash,
			Index: lease.Outpoint.OutputIndex,
		}
		err = b.cfg.WalletKit.ReleaseOutput(ctx, lockID, op)
		if err != nil {
			log.Errorf("Unable to release %v: %v", op, err)
		}
	}
}

// WatchBlocks calls notify for every new block until the context is
// cancelled or the subscription fails.
func (b *Backend) WatchBlocks(ctx context.Context,
	notify func(height int32)) error {

	blockChan, errChan, err := b.cfg.ChainNotifier.RegisterBlockEpochNtfn(
		ctx,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case height := <-blockChan:
			log.Debugf("New block at height %d", height)
			notify(height)

		case err := <-errChan:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pkScriptAddress(pkScript []byte,
	params *chaincfg.Params) (string, error) {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil {
		return "", err
	}

	if len(addrs) != 1 {
		return "", fmt.Errorf("output script %x is not a single "+
			"address", pkScript)
	}

	return addrs[0].String(), nil
}
