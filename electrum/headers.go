package electrum

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultConfDepth is the number of linked headers fetched from a
	// block on before it is used for verification.
	DefaultConfDepth = 6
)

var (
	// ErrInvalidHeader is returned when a header fails its proof of work
	// or does not connect to its neighbours.
	ErrInvalidHeader = errors.New("invalid block header")
)

// HeaderSource serves block headers by height.
type HeaderSource interface {
	// BestHeight returns the height of the chain tip.
	BestHeight(ctx context.Context) (int32, error)

	// BlockHeader returns the header at height.
	BlockHeader(ctx context.Context, height int32) (*wire.BlockHeader,
		error)
}

// HeaderCache is a header store filled from an untrusted server. It only
// holds the headers that were fetched explicitly, which is enough to verify
// a handful of transactions without syncing the whole chain. A header is
// only accepted together with the ConfDepth-1 headers built on top of it,
// each of which must satisfy its proof of work and link to its parent.
type HeaderCache struct {
	source    HeaderSource
	params    *chaincfg.Params
	confDepth int32

	mu      sync.Mutex
	best    int32
	headers map[int32]*wire.BlockHeader
}

// NewHeaderCache creates an empty header cache. A confDepth of zero selects
// DefaultConfDepth.
func NewHeaderCache(source HeaderSource, params *chaincfg.Params,
	confDepth int32) *HeaderCache {

	if confDepth <= 0 {
		confDepth = DefaultConfDepth
	}

	return &HeaderCache{
		source:    source,
		params:    params,
		confDepth: confDepth,
		headers:   make(map[int32]*wire.BlockHeader),
	}
}

// Fetch updates the tip and fetches the headers at the given heights along
// with the headers confirming them. Heights without enough confirmations
// are skipped.
func (h *HeaderCache) Fetch(ctx context.Context, heights ...int32) error {
	best, err := h.source.BestHeight(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.best = best
	h.mu.Unlock()

	for _, height := range heights {
		if height <= 0 || height+h.confDepth-1 > best {
			continue
		}

		if _, ok := h.HeaderByHeight(height); ok {
			continue
		}

		if err := h.fetchRun(ctx, height); err != nil {
			return err
		}
	}

	return nil
}

// fetchRun fetches confDepth headers from height on, validates them as a
// chain and adds them to the cache.
func (h *HeaderCache) fetchRun(ctx context.Context, height int32) error {
	run := make([]*wire.BlockHeader, 0, h.confDepth)
	for i := int32(0); i < h.confDepth; i++ {
		header, err := h.source.BlockHeader(ctx, height+i)
		if err != nil {
			return err
		}

		run = append(run, header)
	}

	if err := h.checkRun(height, run); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// The run must agree with headers fetched earlier.
	first, last := height, height+int32(len(run))-1
	for i, header := range run {
		cached, ok := h.headers[height+int32(i)]
		if ok && cached.BlockHash() != header.BlockHash() {
			return fmt.Errorf("%w: conflicting header at height %d",
				ErrInvalidHeader, height+int32(i))
		}
	}
	if prev, ok := h.headers[first-1]; ok &&
		run[0].PrevBlock != prev.BlockHash() {

		return fmt.Errorf("%w: header at height %d does not connect "+
			"to its parent", ErrInvalidHeader, first)
	}
	if next, ok := h.headers[last+1]; ok &&
		next.PrevBlock != run[len(run)-1].BlockHash() {

		return fmt.Errorf("%w: header at height %d does not connect "+
			"to its child", ErrInvalidHeader, last)
	}

	for i, header := range run {
		h.headers[height+int32(i)] = header
	}

	return nil
}

// checkRun checks the proof of work of every header of a run starting at
// height and that each one commits to its predecessor.
func (h *HeaderCache) checkRun(height int32, run []*wire.BlockHeader) error {
	for i, header := range run {
		headerHeight := height + int32(i)

		block := btcutil.NewBlock(&wire.MsgBlock{Header: *header})
		err := blockchain.CheckProofOfWork(block, h.params.PowLimit)
		if err != nil {
			return fmt.Errorf("%w: height %d: %w", ErrInvalidHeader,
				headerHeight, err)
		}

		if i == 0 {
			continue
		}

		prev := run[i-1]
		if header.PrevBlock != prev.BlockHash() {
			return fmt.Errorf("%w: header at height %d does not "+
				"connect to its parent", ErrInvalidHeader,
				headerHeight)
		}

		// Outside a retarget boundary the difficulty is fixed unless
		// the network allows minimum difficulty blocks.
		retarget := int32(h.params.TargetTimespan /
			h.params.TargetTimePerBlock)
		if !h.params.ReduceMinDifficulty &&
			headerHeight%retarget != 0 && header.Bits != prev.Bits {

			return fmt.Errorf("%w: difficulty change at height %d",
				ErrInvalidHeader, headerHeight)
		}
	}

	return nil
}

// HeaderByHeight returns a fetched header.
func (h *HeaderCache) HeaderByHeight(height int32) (*wire.BlockHeader, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	header, ok := h.headers[height]
	return header, ok
}

// BestHeight returns the tip height seen on the last fetch.
func (h *HeaderCache) BestHeight() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.best
}

// Invalidate drops every header at or above height after a reorg.
func (h *HeaderCache) Invalidate(height int32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for hh := range h.headers {
		if hh >= height {
			delete(h.headers, hh)
		}
	}
}
