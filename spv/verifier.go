package spv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultMaxRequests bounds the number of proofs fetched in parallel.
	defaultMaxRequests = 8

	// defaultSyncInterval is the default time between two syncs.
	defaultSyncInterval = 10 * time.Second
)

// MerkleResponse is a merkle branch for a transaction as returned by an
// indexing server.
type MerkleResponse struct {
	// TxHash is the transaction the branch proves.
	TxHash chainhash.Hash

	// Merkle holds the sibling hashes from the leaf upwards.
	Merkle []chainhash.Hash

	// BlockHeight is the height of the block containing the transaction.
	BlockHeight int32

	// Pos is the position of the transaction in the block.
	Pos uint32
}

// VerifiedTx describes where a transaction was proven to be included.
type VerifiedTx struct {
	// Height is the height of the including block.
	Height int32

	// Pos is the position of the transaction in the block.
	Pos uint32

	// BlockHash is the hash of the including block.
	BlockHash chainhash.Hash

	// Timestamp is the block timestamp.
	Timestamp time.Time
}

// HeaderStore gives access to the locally synced block headers.
type HeaderStore interface {
	// HeaderByHeight returns the header at height, or false if it is
	// not available yet.
	HeaderByHeight(height int32) (*wire.BlockHeader, bool)

	// BestHeight returns the height of the local header chain.
	BestHeight() int32
}

// ProofSource fetches merkle branches.
type ProofSource interface {
	// GetMerkle returns the merkle branch of txid in the block at
	// height.
	GetMerkle(ctx context.Context, txid chainhash.Hash,
		height int32) (*MerkleResponse, error)
}

// TxSource is the wallet side of verification.
type TxSource interface {
	// UnverifiedTxs returns the mined but not yet verified transactions
	// and their heights.
	UnverifiedTxs() map[chainhash.Hash]int32

	// AddVerifiedTx is called once a transaction has been verified.
	AddVerifiedTx(txid chainhash.Hash, info *VerifiedTx)
}

// Config holds the verifier dependencies.
type Config struct {
	// Headers is the local header chain.
	Headers HeaderStore

	// Proofs is where merkle branches are fetched from.
	Proofs ProofSource

	// Txs provides the transactions to verify.
	Txs TxSource

	// IsTx detects inner nodes that parse as transactions. IsValidTx is
	// used if nil.
	IsTx TxPredicate

	// MaxRequests bounds the number of concurrent proof requests.
	MaxRequests int

	// SyncInterval is the time between two syncs in Run.
	SyncInterval time.Duration
}

// Verifier tracks the inclusion proofs of the wallet's transactions. A
// txid is either unknown, requested or verified, never both of the latter.
type Verifier struct {
	cfg *Config

	mu          sync.Mutex
	proofs      ProofSource
	merkleRoots map[chainhash.Hash]*VerifiedTx
	requested   map[chainhash.Hash]struct{}
}

// NewVerifier creates a verifier.
func NewVerifier(cfg *Config) *Verifier {
	if cfg.IsTx == nil {
		cfg.IsTx = IsValidTx
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}

	return &Verifier{
		cfg:         cfg,
		proofs:      cfg.Proofs,
		merkleRoots: make(map[chainhash.Hash]*VerifiedTx),
		requested:   make(map[chainhash.Hash]struct{}),
	}
}

// Request marks a proof for txid as outstanding. It returns false if the
// txid is already requested or verified.
func (v *Verifier) Request(txid chainhash.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.merkleRoots[txid]; ok {
		return false
	}
	if _, ok := v.requested[txid]; ok {
		return false
	}

	v.requested[txid] = struct{}{}

	return true
}

// release drops an outstanding request so that the next sync retries it.
func (v *Verifier) release(txid chainhash.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.requested, txid)
}

// Verify checks a merkle branch against the local header chain. On success
// the txid moves to the verified set. A missing header releases the request
// for a later retry. A suspicious or mismatching proof leaves the txid
// requested so the same source is not asked again; SwitchSource releases
// it once the caller connected to another source.
func (v *Verifier) Verify(resp *MerkleResponse) (*VerifiedTx, error) {
	root, err := HashMerkleRoot(
		resp.Merkle, resp.TxHash, resp.Pos, v.cfg.IsTx,
	)
	if err != nil {
		return nil, err
	}

	header, ok := v.cfg.Headers.HeaderByHeight(resp.BlockHeight)
	if !ok {
		v.release(resp.TxHash)

		return nil, fmt.Errorf("%w: height %d", ErrHeaderUnavailable,
			resp.BlockHeight)
	}

	if header.MerkleRoot != root {
		return nil, fmt.Errorf("%w: %v != %v at height %d",
			ErrMerkleRootMismatch, root, header.MerkleRoot,
			resp.BlockHeight)
	}

	info := &VerifiedTx{
		Height:    resp.BlockHeight,
		Pos:       resp.Pos,
		BlockHash: header.BlockHash(),
		Timestamp: header.Timestamp,
	}

	v.mu.Lock()
	delete(v.requested, resp.TxHash)
	v.merkleRoots[resp.TxHash] = info
	v.mu.Unlock()

	log.Debugf("Verified %v at height %d", resp.TxHash, resp.BlockHeight)

	return info, nil
}

// IsVerified returns the inclusion info of a verified txid.
func (v *Verifier) IsVerified(txid chainhash.Hash) (*VerifiedTx, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	info, ok := v.merkleRoots[txid]
	return info, ok
}

// IsRequested returns true if a proof for txid is outstanding.
func (v *Verifier) IsRequested(txid chainhash.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.requested[txid]
	return ok
}

// IsUpToDate returns true if no proofs are outstanding.
func (v *Verifier) IsUpToDate() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.requested) == 0
}

// Undo forgets everything about the given txids so they are verified again.
func (v *Verifier) Undo(txids ...chainhash.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, txid := range txids {
		delete(v.merkleRoots, txid)
		delete(v.requested, txid)
	}
}

// UndoFrom forgets the verification of every txid mined at or above height
// and returns them. It is called when the chain reorganized below height.
func (v *Verifier) UndoFrom(height int32) []chainhash.Hash {
	v.mu.Lock()
	defer v.mu.Unlock()

	var undone []chainhash.Hash
	for txid, info := range v.merkleRoots {
		if info.Height < height {
			continue
		}

		log.Infof("Redoing %v", txid)

		delete(v.merkleRoots, txid)
		undone = append(undone, txid)
	}

	return undone
}

// SwitchSource replaces the proof source and releases all outstanding
// requests, including those a previous source failed to prove. Verified
// txids are kept.
func (v *Verifier) SwitchSource(proofs ProofSource) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.proofs = proofs
	v.requested = make(map[chainhash.Hash]struct{})
}

func (v *Verifier) proofSource() ProofSource {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.proofs
}

// Reset clears all verification state.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.merkleRoots = make(map[chainhash.Hash]*VerifiedTx)
	v.requested = make(map[chainhash.Hash]struct{})
}

// Sync requests and verifies proofs for all unverified transactions whose
// block header is available locally. Missing headers and failed requests are
// retried on the next sync. A suspicious or mismatching proof is returned so
// that the caller can switch to another source.
func (v *Verifier) Sync(ctx context.Context) error {
	localHeight := v.cfg.Headers.BestHeight()
	proofs := v.proofSource()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.MaxRequests)

	for txid, height := range v.cfg.Txs.UnverifiedTxs() {
		// Do not request merkle branches before headers are
		// available.
		if height <= 0 || height > localHeight {
			continue
		}

		if _, ok := v.cfg.Headers.HeaderByHeight(height); !ok {
			continue
		}

		if !v.Request(txid) {
			continue
		}

		txid, height := txid, height
		g.Go(func() error {
			return v.fetchAndVerify(gctx, proofs, txid, height)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func (v *Verifier) fetchAndVerify(ctx context.Context, proofs ProofSource,
	txid chainhash.Hash, height int32) error {

	log.Debugf("Requesting merkle branch of %v at height %d", txid,
		height)

	resp, err := proofs.GetMerkle(ctx, txid, height)
	if err != nil {
		v.release(txid)
		log.Warnf("Merkle request for %v failed: %v", txid, err)

		return nil
	}

	if resp.TxHash != txid || resp.BlockHeight != height {
		v.release(txid)
		log.Warnf("Merkle response for %v at %d does not match "+
			"request for %v at %d", resp.TxHash, resp.BlockHeight,
			txid, height)

		return nil
	}

	info, err := v.Verify(resp)
	switch {
	case errors.Is(err, ErrHeaderUnavailable):
		log.Debugf("Verification of %v postponed: %v", txid, err)
		return nil

	case err != nil:
		log.Errorf("Verification of %v failed: %v", txid, err)
		return err
	}

	v.cfg.Txs.AddVerifiedTx(txid, info)

	return nil
}

// Run syncs on every tick until the context is cancelled or a proof fails
// verification. In the latter case the error is returned and the failing
// txids stay requested, so the source that served the proof is not asked
// for them again. The caller is expected to connect to another source and
// call SwitchSource before running again.
func (v *Verifier) Run(ctx context.Context) error {
	t := ticker.New(v.cfg.SyncInterval)
	t.Resume()
	defer t.Stop()

	for {
		err := v.Sync(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()

		case err != nil:
			return fmt.Errorf("proof source failed: %w", err)
		}

		select {
		case <-t.Ticks():

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
