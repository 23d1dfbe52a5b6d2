package swapdb

import (
	"errors"
)

var (
	// ErrSwapExists is returned when creating a swap whose payment hash
	// is already stored.
	ErrSwapExists = errors.New("swap already exists")

	// ErrSwapNotFound is returned when updating a swap that was never
	// created.
	ErrSwapNotFound = errors.New("swap not found")

	// ErrLockupAddressInUse is returned when creating a swap whose lockup
	// address belongs to another swap that is not redeemed yet.
	ErrLockupAddressInUse = errors.New("lockup address used by an " +
		"active swap")
)

// Store is the persistent storage of swap records.
type Store interface {
	// CreateSwap adds a new swap record. It fails if another swap that
	// is not redeemed yet uses the same lockup address.
	CreateSwap(rec *SwapRecord) error

	// UpdateSwap overwrites an existing swap record.
	UpdateSwap(rec *SwapRecord) error

	// FetchSwaps returns all stored swap records.
	FetchSwaps() ([]*SwapRecord, error)

	// Close releases the store.
	Close() error
}
