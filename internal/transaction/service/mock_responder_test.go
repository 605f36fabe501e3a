package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/platform/logger"
	"mobility-bap/internal/platform/worker"
	"mobility-bap/internal/transaction/models"
	"mobility-bap/internal/transaction/service/mocks"
	"mobility-bap/internal/transaction/store"
)

var mockProvider = beckn.Counterparty{ID: "mock.bpp", URI: "http://localhost:8080/mock"}

func newMockModeService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	dispatcher.EXPECT().Prepare(gomock.Any(), gomock.Any()).DoAndReturn(signPayload).AnyTimes()
	gateway := mocks.NewMockGatewayResolver(ctrl)

	opts = append([]Option{
		WithLogger(logger.Discard()),
		WithMockResponder(NewMockResponder(mockProvider), 0),
	}, opts...)
	return New(store.NewInMemoryStore(), dispatcher, gateway, participant, opts...)
}

func TestMockModeBooking(t *testing.T) {
	svc := newMockModeService(t)
	ctx := context.Background()

	id, err := svc.Search(ctx, origin, destination)
	require.NoError(t, err)

	results, err := svc.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, len(mockOffers))
	for _, r := range results {
		assert.Equal(t, mockProvider.URI, r.BPPURI)
		assert.True(t, r.Price.IsPositive())
	}

	chosen := results[0]
	_, err = svc.Select(ctx, id, chosen.ProviderID, chosen.ID)
	require.NoError(t, err)
	txn, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PhaseQuoteReceived, txn.Phase)
	assert.True(t, chosen.Price.Equal(txn.Quote.Price))
	require.Len(t, txn.Quote.Breakup, 2)
	assert.True(t, txn.Quote.Breakup[0].Amount.Add(txn.Quote.Breakup[1].Amount).Equal(txn.Quote.Price))

	_, err = svc.Init(ctx, id, beckn.Billing{Name: "Asha", Phone: "9876543210"})
	require.NoError(t, err)
	txn, err = svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PhaseInitCompleted, txn.Phase)

	_, err = svc.Confirm(ctx, id)
	require.NoError(t, err)
	txn, err = svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PhaseConfirmed, txn.Phase)
	assert.Equal(t, models.FulfillmentAssigned, txn.Fulfillment)
	assert.NotEmpty(t, txn.ConfirmedOrder.ID)
	assert.NotNil(t, txn.DriverLocation)

	for range 3 {
		_, err = svc.Status(ctx, id)
		require.NoError(t, err)
	}
	txn, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.FulfillmentStarted, txn.Fulfillment)

	_, err = svc.Cancel(ctx, id, "001")
	require.NoError(t, err)
	txn, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseConfirmed, txn.Phase)
	assert.Equal(t, models.FulfillmentCancelled, txn.Fulfillment)
}

func TestMockModeSchedulesCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	scheduler := mocks.NewMockScheduler(ctrl)

	var delays []time.Duration
	scheduler.EXPECT().Submit(gomock.Any()).DoAndReturn(func(task worker.Task) error {
		assert.Equal(t, "mock.on_search", task.Name)
		delays = append(delays, task.Delay)
		return nil
	}).Times(len(mockOffers))

	svc := newMockModeService(t, WithScheduler(scheduler), WithMockResponder(NewMockResponder(mockProvider), time.Second))
	_, err := svc.Search(context.Background(), origin, destination)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestMockResponder(t *testing.T) {
	m := NewMockResponder(mockProvider)

	t.Run("unsupported action", func(t *testing.T) {
		body, err := json.Marshal(beckn.Request{Context: beckn.Context{Action: "rating"}})
		require.NoError(t, err)
		_, err = m.Respond(body)
		assert.Error(t, err)
	})

	t.Run("status for unknown order", func(t *testing.T) {
		body, err := json.Marshal(beckn.Outbound[beckn.StatusMessage]{
			Context: beckn.Context{Action: beckn.ActionStatus},
			Message: beckn.StatusMessage{OrderID: "nope"},
		})
		require.NoError(t, err)
		_, err = m.Respond(body)
		assert.Error(t, err)
	})

	t.Run("search prices by distance", func(t *testing.T) {
		body, err := json.Marshal(beckn.Outbound[beckn.SearchMessage]{
			Context: participant.NewContext(beckn.ActionSearch, "T", "M", nil, time.Now()),
			Message: searchIntent(origin, destination),
		})
		require.NoError(t, err)
		out, err := m.Respond(body)
		require.NoError(t, err)
		require.Len(t, out, len(mockOffers))
		for _, r := range out {
			assert.Equal(t, beckn.ActionOnSearch, r.Context.Action)
			assert.Equal(t, "T", r.Context.TransactionID)
			assert.Equal(t, "M", r.Context.MessageID)
			assert.Equal(t, mockProvider.ID, r.Context.BPPID)
		}
	})
}

func TestDistanceKm(t *testing.T) {
	// Bengaluru MG Road to Koramangala is roughly 5 km.
	d := distanceKm(origin, destination)
	assert.InDelta(t, 5.0, d, 1.0)
	assert.Zero(t, distanceKm(origin, origin))
}
