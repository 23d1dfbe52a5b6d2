package chainwatch

import (
	"sort"
	"sync"
)

// Callback is invoked when something relevant to a watched address
// happened on chain.
type Callback func()

// Notifier keeps one callback per watched address. Callbacks are invoked
// outside of the notifier lock, so they may register or unregister
// addresses themselves.
type Notifier struct {
	mu        sync.Mutex
	callbacks map[string]Callback
	height    int32
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		callbacks: make(map[string]Callback),
	}
}

// Register sets the callback of addr, replacing a previous one.
func (n *Notifier) Register(addr string, cb func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.callbacks[addr]; ok {
		log.Debugf("Replacing callback of %v", addr)
	}

	n.callbacks[addr] = cb
}

// Unregister removes the callback of addr. Unknown addresses are ignored.
func (n *Notifier) Unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.callbacks, addr)
}

// IsWatched returns true if a callback is registered for addr.
func (n *Notifier) IsWatched(addr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok := n.callbacks[addr]
	return ok
}

// Addresses returns the watched addresses in sorted order.
func (n *Notifier) Addresses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return sortedKeys(n.callbacks)
}

// NotifyAddress invokes the callback of a single address, if any. It
// returns whether a callback was found.
func (n *Notifier) NotifyAddress(addr string) bool {
	n.mu.Lock()
	cb, ok := n.callbacks[addr]
	n.mu.Unlock()

	if !ok {
		return false
	}

	cb()

	return true
}

// NotifyBlock records the new height and invokes every callback. A new
// block may make a timeout path spendable or deepen a spend, which affects
// all watched swaps.
func (n *Notifier) NotifyBlock(height int32) {
	n.mu.Lock()
	n.height = height

	cbs := make([]Callback, 0, len(n.callbacks))
	for _, addr := range sortedKeys(n.callbacks) {
		cbs = append(cbs, n.callbacks[addr])
	}
	n.mu.Unlock()

	log.Debugf("Block %d, notifying %d watched addresses", height,
		len(cbs))

	for _, cb := range cbs {
		cb()
	}
}

// Height returns the height of the last notified block.
func (n *Notifier) Height() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.height
}

func sortedKeys(m map[string]Callback) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
