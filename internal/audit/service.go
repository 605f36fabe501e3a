// Package audit records every protocol message this node sends or receives.
// Recording is fire-and-forget: it never blocks or fails the operation that
// produced the message.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/platform/worker"
	dErrors "mobility-bap/pkg/domain-errors"
)

// Submitter schedules background work.
type Submitter interface {
	Submit(task worker.Task) error
}

// Service appends entries on the worker pool and serves the trail back.
type Service struct {
	store   Store
	pool    Submitter
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Option configures the Service.
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

// WithSink adds a downstream exporter.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates an audit service. A nil pool writes inline, which is
// only meant for tests and tooling.
func NewService(store Store, pool Submitter, opts ...Option) *Service {
	s := &Service{
		store:  store,
		pool:   pool,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stamps entry and schedules its persistence. Failures are logged
// and counted only.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock().UTC()
	}
	if s.pool == nil {
		s.write(ctx, entry)
		return
	}
	err := s.pool.Submit(worker.Task{
		Name: "audit." + entry.Action,
		Run: func(taskCtx context.Context) error {
			s.write(taskCtx, entry)
			return nil
		},
	})
	if err != nil {
		s.metrics.IncAuditDropped()
		s.logger.WarnContext(ctx, "audit entry dropped",
			"transaction_id", entry.TransactionID,
			"message_id", entry.MessageID,
			"action", entry.Action,
			"error", err,
		)
	}
}

func (s *Service) write(ctx context.Context, entry Entry) {
	if err := s.store.Append(ctx, entry); err != nil {
		s.metrics.IncAuditFailure()
		s.logger.ErrorContext(ctx, "audit append failed",
			"transaction_id", entry.TransactionID,
			"action", entry.Action,
			"error", err,
		)
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, entry); err != nil {
			s.metrics.IncAuditFailure()
			s.logger.WarnContext(ctx, "audit export failed",
				"transaction_id", entry.TransactionID,
				"action", entry.Action,
				"error", err,
			)
		}
	}
}

// ListByTransaction returns the trail ordered by timestamp.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]Entry, error) {
	if transactionID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "txnId is required")
	}
	entries, err := s.store.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Export groups the trail into request/response exchanges keyed by message
// id. Inbound messages with no matching request form their own exchange.
func (s *Service) Export(ctx context.Context, transactionID string) ([]Exchange, error) {
	entries, err := s.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return Pair(entries), nil
}

// Pair groups time-ordered entries by message id.
func Pair(entries []Entry) []Exchange {
	exchanges := make([]Exchange, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		i, ok := index[e.MessageID]
		if !ok || e.MessageID == "" {
			exchanges = append(exchanges, Exchange{MessageID: e.MessageID, Action: e.Action, Responses: []Entry{}})
			i = len(exchanges) - 1
			if e.MessageID != "" {
				index[e.MessageID] = i
			}
		}
		ex := &exchanges[i]
		if e.Direction == DirectionOutbound && ex.Request == nil {
			req := e
			ex.Request = &req
			ex.Action = e.Action
			continue
		}
		ex.Responses = append(ex.Responses, e)
	}
	return exchanges
}
