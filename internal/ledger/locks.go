package ledger

import "sync"

// addressLocks serializes all mutations per account address. Different
// addresses proceed in parallel; the same address never interleaves a
// read-modify-write of its collateral under naive load-then-save
// persistence.
//
// Lock entries are never evicted; the map grows with the set of addresses
// seen by this process, which is bounded by the user base.
type addressLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAddressLocks() *addressLocks {
	return &addressLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for address and returns it for unlocking.
func (l *addressLocks) acquire(address string) *sync.Mutex {
	l.mu.Lock()
	m, ok := l.locks[address]
	if !ok {
		m = &sync.Mutex{}
		l.locks[address] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m
}
