package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker shares events between instances through Redis pub/sub, so a
// client streaming from one node sees callbacks handled by another.
type RedisBroker struct {
	client *redis.Client
	buffer int
	logger *slog.Logger
}

// NewRedisBroker wraps client; its lifecycle stays with the caller.
func NewRedisBroker(client *redis.Client, buffer int, logger *slog.Logger) *RedisBroker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, buffer: buffer, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(ctx, event.Topic, body).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topics...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := &redisSub{ps: ps, ch: make(chan Event, b.buffer)}
	go sub.pump(ctx, b.logger)
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	once sync.Once
}

func (s *redisSub) pump(ctx context.Context, logger *slog.Logger) {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			logger.WarnContext(ctx, "discarding malformed event", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
