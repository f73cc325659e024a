package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/claerdex/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	history  map[string][]model.OHLCPoint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		history:  make(map[string][]model.OHLCPoint),
	}
}

// copyAccount clones an account so callers never share position slices
// with stored state.
func copyAccount(a *model.Account) *model.Account {
	clone := *a
	clone.Positions = make([]model.Position, len(a.Positions))
	copy(clone.Positions, a.Positions)
	return &clone
}

func (s *MemoryStore) GetAccount(_ context.Context, address string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[address]
	if !ok {
		return nil, fmt.Errorf("get account %s: %w", address, ErrAccountNotFound)
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.Address] = copyAccount(account)
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, address)
	return nil
}

func historyKey(asset, interval string) string {
	return asset + ":" + interval
}

func (s *MemoryStore) AppendPricePoint(_ context.Context, asset, interval string, point model.OHLCPoint, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(asset, interval)
	series := append(s.history[key], point)
	if keep > 0 && len(series) > keep {
		series = series[len(series)-keep:]
	}
	s.history[key] = series
	return nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, asset, interval string, limit int) ([]model.OHLCPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.history[historyKey(asset, interval)]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]model.OHLCPoint, len(series))
	copy(out, series)
	return out, nil
}
