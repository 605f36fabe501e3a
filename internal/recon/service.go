package recon

import (
	"context"
	"errors"
	"log/slog"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/platform/metrics"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/requestcontext"
)

type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnReceiverRecon upserts every settlement line of the batch. A bad line is
// counted and skipped; only an unreadable envelope fails the whole call.
func (s *Service) OnReceiverRecon(ctx context.Context, req beckn.Request) (Summary, error) {
	var msg beckn.ReconMessage
	if err := req.Decode(&msg); err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid on_receiver_recon message")
	}

	now := requestcontext.Now(ctx).UTC()
	var summary Summary
	for i, raw := range msg.Orderbook.Orders {
		rec, err := recordFromLine(raw, now)
		if err == nil {
			if upsertErr := s.store.Upsert(ctx, rec); upsertErr != nil {
				err = dErrors.Wrap(upsertErr, dErrors.CodeInternal, "settlement could not be stored")
			}
		}
		if err != nil {
			failure := LineFailure{Index: i, Reason: dErrors.MessageOf(err)}
			if rec != nil {
				failure.OrderID = rec.OrderID
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, failure)
			s.metrics.IncSettlement("failed")
			s.logger.WarnContext(ctx, "settlement line rejected",
				"transaction_id", req.Context.TransactionID,
				"index", i,
				"order_id", failure.OrderID,
				"error", err,
			)
			continue
		}
		summary.Processed++
		s.metrics.IncSettlement("upserted")
	}

	s.logger.InfoContext(ctx, "reconciliation processed",
		"transaction_id", req.Context.TransactionID,
		"processed", summary.Processed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// Get returns the settlement recorded for an order.
func (s *Service) Get(ctx context.Context, orderID string) (*SettlementRecord, error) {
	rec, err := s.store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "settlement not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "settlement store failure")
	}
	return rec, nil
}
