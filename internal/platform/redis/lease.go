package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// Lease hands out short exclusive holds on a key. Holds are never released
// early; they lapse after their ttl.
type Lease struct {
	locker *redislock.Client
}

func NewLease(c *Client) *Lease {
	return &Lease{locker: redislock.New(c.Client)}
}

// TryAcquire reports whether this caller now holds key.
func (l *Lease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_, err := l.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obtain lease %s: %w", key, err)
	}
	return true, nil
}
