package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/audit/store/memory"
	"mobility-bap/internal/platform/logger"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/platform/worker"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Entry) error {
	return errors.New("disk full")
}

func (failingStore) ListByTransaction(context.Context, string) ([]audit.Entry, error) {
	return nil, errors.New("disk full")
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Publish(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fullPool struct{}

func (fullPool) Submit(worker.Task) error { return worker.ErrQueueFull }

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("stamps and persists entries inline without a pool", func(t *testing.T) {
		store := memory.New()
		sink := &recordingSink{}
		svc := audit.NewService(store, nil, audit.WithSink(sink), audit.WithLogger(logger.Discard()))

		svc.Record(ctx, audit.Entry{TransactionID: "t1", MessageID: "m1", Action: "search", Direction: audit.DirectionOutbound})

		entries, err := svc.ListByTransaction(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.NotEmpty(t, entries[0].ID)
		assert.False(t, entries[0].Timestamp.IsZero())
		assert.Len(t, sink.entries, 1)
	})

	t.Run("persists through the worker pool", func(t *testing.T) {
		store := memory.New()
		pool := worker.New(2, 16, logger.Discard())
		pool.Start(ctx)
		svc := audit.NewService(store, pool)

		for range 5 {
			svc.Record(ctx, audit.Entry{TransactionID: "t2", Action: "on_status", Direction: audit.DirectionInbound})
		}
		require.NoError(t, pool.Stop(ctx))

		entries, err := store.ListByTransaction(ctx, "t2")
		require.NoError(t, err)
		assert.Len(t, entries, 5)
	})

	t.Run("store failures are swallowed and counted", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		svc := audit.NewService(failingStore{}, nil, audit.WithMetrics(m), audit.WithLogger(logger.Discard()))

		assert.NotPanics(t, func() {
			svc.Record(ctx, audit.Entry{TransactionID: "t3", Action: "init"})
		})
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures))
	})

	t.Run("full queue drops and counts", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		svc := audit.NewService(memory.New(), fullPool{}, audit.WithMetrics(m), audit.WithLogger(logger.Discard()))

		svc.Record(ctx, audit.Entry{TransactionID: "t4", Action: "confirm"})
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	})
}

func TestListByTransaction(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	store := memory.New()
	svc := audit.NewService(store, nil)
	require.NoError(t, store.Append(ctx, audit.Entry{ID: "b", TransactionID: "t", Action: "on_search", Timestamp: base.Add(time.Second)}))
	require.NoError(t, store.Append(ctx, audit.Entry{ID: "a", TransactionID: "t", Action: "search", Timestamp: base}))

	t.Run("orders by timestamp", func(t *testing.T) {
		entries, err := svc.ListByTransaction(ctx, "t")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].ID)
	})

	t.Run("requires a transaction id", func(t *testing.T) {
		_, err := svc.ListByTransaction(ctx, "")
		assert.Error(t, err)
	})

	t.Run("store errors are internal", func(t *testing.T) {
		_, err := audit.NewService(failingStore{}, nil).ListByTransaction(ctx, "t")
		assert.Error(t, err)
	})
}

func TestPair(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{MessageID: "m1", Action: "search", Direction: audit.DirectionOutbound, Timestamp: base},
		{MessageID: "m1", Action: "on_search", Direction: audit.DirectionInbound, Timestamp: base.Add(1 * time.Second)},
		{MessageID: "m1", Action: "on_search", Direction: audit.DirectionInbound, Timestamp: base.Add(2 * time.Second)},
		{MessageID: "m2", Action: "select", Direction: audit.DirectionOutbound, Timestamp: base.Add(3 * time.Second)},
		{MessageID: "m9", Action: "on_status", Direction: audit.DirectionInbound, Timestamp: base.Add(4 * time.Second)},
	}

	exchanges := audit.Pair(entries)
	require.Len(t, exchanges, 3)

	assert.Equal(t, "search", exchanges[0].Action)
	require.NotNil(t, exchanges[0].Request)
	assert.Len(t, exchanges[0].Responses, 2)

	assert.Equal(t, "select", exchanges[1].Action)
	assert.Empty(t, exchanges[1].Responses)

	assert.Nil(t, exchanges[2].Request)
	assert.Equal(t, "on_status", exchanges[2].Action)
	assert.Len(t, exchanges[2].Responses, 1)
}
