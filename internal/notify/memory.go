package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 32

// MemoryBroker is an in-process broker. Slow subscribers lose events
// rather than stall publishers.
type MemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	buffer  int
	dropped atomic.Int64
}

// NewMemoryBroker creates a broker whose subscriptions buffer up to
// buffer events each.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryBroker{subs: make(map[string]map[*memorySub]struct{}), buffer: buffer}
}

func (b *MemoryBroker) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[event.Topic] {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	sub := &memorySub{broker: b, topics: topics, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		if b.subs[t] == nil {
			b.subs[t] = make(map[*memorySub]struct{})
		}
		b.subs[t][sub] = struct{}{}
	}
	return sub, nil
}

// Dropped reports how many deliveries were skipped for full buffers.
func (b *MemoryBroker) Dropped() int64 {
	return b.dropped.Load()
}

func (b *MemoryBroker) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range sub.topics {
		delete(b.subs[t], sub)
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
	close(sub.ch)
}

type memorySub struct {
	broker *MemoryBroker
	topics []string
	ch     chan Event
	once   sync.Once
}

func (s *memorySub) Events() <-chan Event { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}
