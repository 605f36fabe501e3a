package memory

import (
	"context"
	"sync"

	"mobility-bap/internal/audit"
)

// Store keeps entries per transaction in insertion order.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]audit.Entry
}

func New() *Store {
	return &Store{entries: make(map[string][]audit.Entry)}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.TransactionID] = append(s.entries[entry.TransactionID], entry)
	return nil
}

func (s *Store) ListByTransaction(_ context.Context, transactionID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry{}, s.entries[transactionID]...), nil
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]audit.Entry)
}
