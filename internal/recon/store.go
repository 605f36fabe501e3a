package recon

import (
	"context"
	"sync"
)

// Store upserts settlement records by order id.
type Store interface {
	Upsert(ctx context.Context, rec *SettlementRecord) error
	FindByOrderID(ctx context.Context, orderID string) (*SettlementRecord, error)
}

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SettlementRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*SettlementRecord)}
}

func (s *InMemoryStore) Upsert(_ context.Context, rec *SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.records[rec.OrderID] = &c
	return nil
}

func (s *InMemoryStore) FindByOrderID(_ context.Context, orderID string) (*SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}
