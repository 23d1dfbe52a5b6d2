package subswap

import (
	"sync"

	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightningnetwork/lnd/lntypes"
)

// storeMock implements an in-memory swap store. It keeps copies so that
// tests observe what was persisted rather than the live records.
type storeMock struct {
	mu      sync.Mutex
	swaps   map[lntypes.Hash]*swapdb.SwapRecord
	updates int

	createErr error
	updateErr error
}

var _ swapdb.Store = (*storeMock)(nil)

func newStoreMock() *storeMock {
	return &storeMock{
		swaps: make(map[lntypes.Hash]*swapdb.SwapRecord),
	}
}

func (s *storeMock) CreateSwap(rec *swapdb.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}

	hash := rec.PaymentHash()
	if _, ok := s.swaps[hash]; ok {
		return swapdb.ErrSwapExists
	}

	s.swaps[hash] = rec.Copy()

	return nil
}

func (s *storeMock) UpdateSwap(rec *swapdb.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}

	hash := rec.PaymentHash()
	if _, ok := s.swaps[hash]; !ok {
		return swapdb.ErrSwapNotFound
	}

	s.swaps[hash] = rec.Copy()
	s.updates++

	return nil
}

func (s *storeMock) FetchSwaps() ([]*swapdb.SwapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swaps := make([]*swapdb.SwapRecord, 0, len(s.swaps))
	for _, rec := range s.swaps {
		swaps = append(swaps, rec.Copy())
	}

	return swaps, nil
}

func (s *storeMock) Close() error {
	return nil
}

func (s *storeMock) get(hash lntypes.Hash) (*swapdb.SwapRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.swaps[hash]
	if !ok {
		return nil, false
	}

	return rec.Copy(), true
}

func (s *storeMock) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.swaps)
}

func (s *storeMock) setErrs(createErr, updateErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createErr = createErr
	s.updateErr = updateErr
}

func (s *storeMock) numUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updates
}
