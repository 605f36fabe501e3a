//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// Package service is the transaction engine: it sends booking actions to the
// network and folds the asynchronous callbacks back into each transaction.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/network"
	"mobility-bap/internal/notify"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/platform/worker"
	"mobility-bap/internal/transaction/models"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/platform/sentinel"
	"mobility-bap/pkg/requestcontext"
)

// ErrUnknownTransaction is returned for callbacks that reference no known
// transaction. Callers acknowledge and drop such callbacks.
var ErrUnknownTransaction = errors.New("unknown transaction")

type Store interface {
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
	Update(ctx context.Context, id string, fn func(*models.Transaction) error) (*models.Transaction, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error)
}

type Dispatcher interface {
	Prepare(action string, payload any) (network.Signed, error)
	Send(ctx context.Context, baseURL string, msg network.Signed) (beckn.AckResponse, error)
}

type GatewayResolver interface {
	ResolveGateway(ctx context.Context) (string, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

type EventPublisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

type Scheduler interface {
	Submit(task worker.Task) error
}

// Service orchestrates the booking flow.
type Service struct {
	store       Store
	network     Dispatcher
	gateway     GatewayResolver
	participant beckn.Participant

	audit     AuditRecorder
	events    EventPublisher
	scheduler Scheduler
	estimator FareEstimator
	insights  InsightGenerator
	mock      *MockResponder
	mockDelay time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
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

func WithAudit(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithScheduler runs synthetic callbacks on a worker pool. Without one they
// run inline.
func WithScheduler(sched Scheduler) Option {
	return func(s *Service) { s.scheduler = sched }
}

func WithFareEstimator(e FareEstimator) Option {
	return func(s *Service) { s.estimator = e }
}

func WithInsightGenerator(g InsightGenerator) Option {
	return func(s *Service) { s.insights = g }
}

// WithMockResponder replaces network dispatch with synthetic callbacks
// delivered after delay.
func WithMockResponder(m *MockResponder, delay time.Duration) Option {
	return func(s *Service) {
		s.mock = m
		s.mockDelay = delay
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a Service.
func New(store Store, dispatcher Dispatcher, gateway GatewayResolver, participant beckn.Participant, opts ...Option) *Service {
	s := &Service{
		store:       store,
		network:     dispatcher,
		gateway:     gateway,
		participant: participant,
		audit:       nopAudit{},
		events:      nopPublisher{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("mobility-bap/transaction"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current state of a transaction.
func (s *Service) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.store.FindByID(ctx, transactionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return txn, nil
}

// Results returns the accumulated search results.
func (s *Service) Results(ctx context.Context, transactionID string) ([]models.Result, error) {
	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return txn.Results, nil
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}

func (s *Service) startSpan(ctx context.Context, name, transactionID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "transaction."+name, trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish emits the transaction snapshot on the action's topic.
func (s *Service) publish(ctx context.Context, action string, txn *models.Transaction) {
	event, err := notify.NewEvent(action, txn.ID, txn, s.now(ctx))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to build event", "transaction_id", txn.ID, "error", err)
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event",
			"transaction_id", txn.ID,
			"topic", event.Topic,
			"error", err,
		)
	}
}

func wrapStoreErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "transaction not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "transaction already exists")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "transaction store failure")
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, audit.Entry) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, notify.Event) error { return nil }
