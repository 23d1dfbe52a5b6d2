package subswap

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Manager initiates forward and reverse swaps and watches the chain to
// claim or refund them. It owns the swap records of the wallet session.
type Manager struct {
	cfg *Config

	// mu guards the index, the records in it and the pairs. It is never
	// held across network calls.
	mu    sync.Mutex
	index *swapdb.Index
	pairs PairsConfig

	// belowDust holds the lockup outputs already reported as too small
	// to claim. It is guarded by claimMu.
	belowDust map[wire.OutPoint]struct{}

	// claimMu serializes claim watcher runs.
	claimMu sync.Mutex

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a swap manager. The fee schedule starts at its
// defaults; call LoadPairsCache or RefreshPairs to update it.
func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Manager{
		cfg:       cfg,
		index:     swapdb.NewIndex(),
		pairs:     defaultPairs(),
		belowDust: make(map[wire.OutPoint]struct{}),
	}, nil
}

// Start loads the stored swaps, resumes watching the unredeemed ones and
// starts refreshing the fee schedule.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.cfg.validateRunning(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return fmt.Errorf("swap manager already started")
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	swaps, err := m.cfg.Store.FetchSwaps()
	if err != nil {
		m.cancel()
		return err
	}

	m.mu.Lock()
	for _, rec := range swaps {
		m.index.AddOrReindex(rec)
	}
	m.mu.Unlock()

	log.Infof("Loaded %d swaps", len(swaps))

	m.LoadPairsCache()
	if err := m.RefreshPairs(ctx); err != nil {
		log.Warnf("Unable to fetch pairs, using cached values: %v",
			err)
	}

	for _, rec := range swaps {
		if rec.IsRedeemed {
			continue
		}

		m.watch(rec.PaymentHash(), rec.LockupAddress)
	}

	m.wg.Add(1)
	go m.refreshPairsLoop(m.runCtx)

	return nil
}

// Stop cancels all background work and waits for it to finish, including
// payments still in flight.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.wg.Wait()
}

// runContext returns the context of the running manager.
func (m *Manager) runContext() (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runCtx == nil {
		return nil, ErrNotStarted
	}

	return m.runCtx, nil
}

// watch registers the claim watcher of a swap.
func (m *Manager) watch(hash lntypes.Hash, lockupAddress string) {
	m.cfg.Watcher.Register(lockupAddress, func() {
		ctx, err := m.runContext()
		if err != nil {
			return
		}

		m.claimSwap(ctx, hash)
	})
}

// addSwap persists a new swap and adds it to the index.
func (m *Manager) addSwap(rec *swapdb.SwapRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index.HasActiveSwap(rec.LockupAddress) {
		return fmt.Errorf("%w: %v", swapdb.ErrLockupAddressInUse,
			rec.LockupAddress)
	}

	if err := m.cfg.Store.CreateSwap(rec); err != nil {
		return err
	}

	m.index.AddOrReindex(rec)

	return nil
}

// GetSwap returns a copy of the swap with the given payment hash. The hash
// of a miner fee invoice resolves to its swap.
func (m *Manager) GetSwap(hash lntypes.Hash) (*swapdb.SwapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index.ByPaymentHash(hash)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}

	return rec.Copy(), nil
}

// GetSwapByFundingTx returns the swap funded by tx, which may be a
// replacement of the original funding transaction.
func (m *Manager) GetSwapByFundingTx(tx *wire.MsgTx) (*swapdb.SwapRecord,
	bool) {

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index.ByFundingTx(tx)
	if !ok {
		return nil, false
	}

	return rec.Copy(), true
}

// GetSwapByClaimTxIn returns the swap whose lockup output txin spends.
func (m *Manager) GetSwapByClaimTxIn(txin *wire.TxIn) (*swapdb.SwapRecord,
	bool) {

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.index.ByClaimTxIn(txin)
	if !ok {
		return nil, false
	}

	return rec.Copy(), true
}

// IsLockupAddress returns true if addr is the lockup address of a swap.
func (m *Manager) IsLockupAddress(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.index.ByLockupAddress(addr)
	return ok
}

// ListSwaps returns copies of all swaps, oldest first.
func (m *Manager) ListSwaps() []*swapdb.SwapRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.index.All()
	swaps := make([]*swapdb.SwapRecord, 0, len(all))
	for _, rec := range all {
		swaps = append(swaps, rec.Copy())
	}

	return swaps
}
