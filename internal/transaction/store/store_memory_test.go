package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-bap/internal/transaction/models"
	"mobility-bap/pkg/platform/sentinel"
)

func newTxn(t *testing.T, id string, at time.Time) *models.Transaction {
	t.Helper()
	txn, err := models.NewTransaction(id, models.Location{Lat: 19.07, Lng: 72.87}, models.Location{Lat: 19.05, Lng: 72.84}, at)
	require.NoError(t, err)
	return txn
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("create and find return isolated copies", func(t *testing.T) {
		s := NewInMemoryStore()
		txn := newTxn(t, "T1", now)
		require.NoError(t, s.Create(ctx, txn))
		assert.ErrorIs(t, s.Create(ctx, txn), sentinel.ErrConflict)

		txn.Phase = models.PhaseConfirmed
		got, err := s.FindByID(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, models.PhaseSearchInitiated, got.Phase)

		_, err = s.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("failed validation leaves the record unchanged", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.Create(ctx, newTxn(t, "T2", now)))

		boom := errors.New("nope")
		_, err := s.Update(ctx, "T2", func(txn *models.Transaction) error {
			txn.Phase = models.PhaseConfirmed
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, _ := s.FindByID(ctx, "T2")
		assert.Equal(t, models.PhaseSearchInitiated, got.Phase)
	})

	t.Run("concurrent merges are not lost", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.Create(ctx, newTxn(t, "T3", now)))

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Update(ctx, "T3", func(txn *models.Transaction) error {
					_, err := txn.MergeResults([]models.Result{{
						ID:         "I" + string(rune('a'+i)),
						ProviderID: "P1",
						Price:      decimal.NewFromInt(int64(100 + i)),
						Currency:   "INR",
					}}, now)
					return err
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, _ := s.FindByID(ctx, "T3")
		assert.Len(t, got.Results, 20)
	})

	t.Run("stale listing only returns in-flight transactions", func(t *testing.T) {
		s := NewInMemoryStore()
		old := newTxn(t, "old", now.Add(-time.Hour))
		fresh := newTxn(t, "fresh", now)
		done := newTxn(t, "done", now.Add(-time.Hour))
		done.Phase = models.PhaseConfirmed
		for _, txn := range []*models.Transaction{old, fresh, done} {
			require.NoError(t, s.Create(ctx, txn))
		}

		stale, err := s.ListStale(ctx, now.Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "old", stale[0].ID)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}
