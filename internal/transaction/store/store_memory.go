// Package store persists transactions. Both implementations serialize
// read-modify-write per transaction through Update.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"mobility-bap/internal/transaction/models"
	"mobility-bap/pkg/platform/sentinel"
)

// InMemoryStore keeps transactions in a map guarded by one mutex.
type InMemoryStore struct {
	mu           sync.Mutex
	transactions map[string]*models.Transaction
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{transactions: make(map[string]*models.Transaction)}
}

func (s *InMemoryStore) Create(_ context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[txn.ID]; ok {
		return sentinel.ErrConflict
	}
	s.transactions[txn.ID] = txn.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return txn.Clone(), nil
}

// Update runs fn on a working copy under the store lock and commits the
// copy only when fn succeeds.
func (s *InMemoryStore) Update(_ context.Context, id string, fn func(*models.Transaction) error) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transactions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.transactions[id] = working
	return working.Clone(), nil
}

// ListStale returns in-flight transactions not updated since before, oldest first.
func (s *InMemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for _, txn := range s.transactions {
		if txn.Phase.InFlight() && txn.UpdatedAt.Before(before) {
			out = append(out, txn.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored transactions.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions), nil
}
