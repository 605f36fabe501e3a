package service

import (
	"context"
	"log/slog"
	"time"

	"mobility-bap/internal/transaction/models"
	dErrors "mobility-bap/pkg/domain-errors"
)

const expireBatch = 100

// ExpireStale moves in-flight transactions untouched for ttl to EXPIRED and
// returns how many moved.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	now := s.now(ctx)
	cutoff := now.Add(-ttl)
	stale, err := s.store.ListStale(ctx, cutoff, expireBatch)
	if err != nil {
		return 0, wrapStoreErr(err)
	}

	expired := 0
	for _, candidate := range stale {
		txn, err := s.store.Update(ctx, candidate.ID, func(t *models.Transaction) error {
			// A callback may have landed since the listing.
			if t.UpdatedAt.After(cutoff) {
				return models.ErrInvalidTransition
			}
			return t.Expire(now)
		})
		if err != nil {
			if !dErrors.HasCode(err, dErrors.CodePrecondition) {
				s.logger.WarnContext(ctx, "failed to expire transaction",
					"transaction_id", candidate.ID,
					"error", err,
				)
			}
			continue
		}
		expired++
		s.publish(ctx, "expire", txn)
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "expired stale transactions", "count", expired)
	}
	return expired, nil
}

// Lease grants one replica the right to sweep for ttl. ok is false while
// another holder keeps it.
type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)
}

const expirerLeaseKey = "lease:transaction-expirer"

// Expirer periodically expires stale transactions.
type Expirer struct {
	service  *Service
	ttl      time.Duration
	interval time.Duration
	lease    Lease
	logger   *slog.Logger
}

type ExpirerOption func(*Expirer)

// WithLease makes replicas take turns; without one every instance sweeps.
func WithLease(l Lease) ExpirerOption {
	return func(e *Expirer) {
		e.lease = l
	}
}

// NewExpirer sweeps every ttl/4, bounded to [1s, 1m].
func NewExpirer(svc *Service, ttl time.Duration, logger *slog.Logger, opts ...ExpirerOption) *Expirer {
	interval := min(max(ttl/4, time.Second), time.Minute)
	if logger == nil {
		logger = slog.Default()
	}
	e := &Expirer{service: svc, ttl: ttl, interval: interval, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run sweeps until ctx is done. A non-positive ttl disables expiry.
func (e *Expirer) Run(ctx context.Context) error {
	if e.ttl <= 0 {
		e.logger.InfoContext(ctx, "transaction expiry disabled")
		return nil
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass if this replica holds the lease. The lease is
// left to lapse so the next pass may land on any replica.
func (e *Expirer) Sweep(ctx context.Context) int {
	if e.lease != nil {
		ok, err := e.lease.TryAcquire(ctx, expirerLeaseKey, e.interval)
		if err != nil {
			e.logger.WarnContext(ctx, "expiry lease unavailable", "error", err)
			return 0
		}
		if !ok {
			return 0
		}
	}
	n, err := e.service.ExpireStale(ctx, e.ttl)
	if err != nil {
		e.logger.WarnContext(ctx, "expiry sweep failed", "error", err)
	}
	return n
}
