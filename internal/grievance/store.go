package grievance

import (
	"context"
	"sort"
	"sync"
)

// Store persists grievances keyed by issue id.
type Store interface {
	Create(ctx context.Context, g *Grievance) error
	FindByID(ctx context.Context, issueID string) (*Grievance, error)
	Update(ctx context.Context, issueID string, fn func(*Grievance) error) (*Grievance, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Grievance, error)
}

// InMemoryStore keeps grievances in a map guarded by a mutex.
type InMemoryStore struct {
	mu     sync.Mutex
	issues map[string]*Grievance
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{issues: make(map[string]*Grievance)}
}

func (s *InMemoryStore) Create(_ context.Context, g *Grievance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[g.IssueID]; ok {
		return ErrConflict
	}
	c := *g
	s.issues[g.IssueID] = &c
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, issueID string) (*Grievance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.issues[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *InMemoryStore) Update(_ context.Context, issueID string, fn func(*Grievance) error) (*Grievance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.issues[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	working := *g
	if err := fn(&working); err != nil {
		return nil, err
	}
	s.issues[issueID] = &working
	out := working
	return &out, nil
}

func (s *InMemoryStore) ListByTransaction(_ context.Context, transactionID string) ([]*Grievance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Grievance
	for _, g := range s.issues {
		if g.TransactionID == transactionID {
			c := *g
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
