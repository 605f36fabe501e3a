//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

package grievance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/network"
	"mobility-bap/internal/notify"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/platform/worker"
	"mobility-bap/internal/transaction/models"
	"mobility-bap/pkg/domain"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/requestcontext"
)

// TransactionReader exposes the booking a grievance is raised against.
type TransactionReader interface {
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
}

type Dispatcher interface {
	Prepare(action string, payload any) (network.Signed, error)
	Send(ctx context.Context, baseURL string, msg network.Signed) (beckn.AckResponse, error)
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

// Service raises grievances with providers and folds their responses back.
type Service struct {
	store        Store
	transactions TransactionReader
	network      Dispatcher
	participant  beckn.Participant
	validate     *validator.Validate

	audit     AuditRecorder
	events    EventPublisher
	scheduler Scheduler
	mock      bool
	mockDelay time.Duration

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

func WithScheduler(sched Scheduler) Option {
	return func(s *Service) { s.scheduler = sched }
}

// WithMockResponses answers each issue with a synthetic PROCESSING and then
// RESOLVED on_issue instead of contacting the provider.
func WithMockResponses(delay time.Duration) Option {
	return func(s *Service) {
		s.mock = true
		s.mockDelay = delay
	}
}

func New(store Store, transactions TransactionReader, dispatcher Dispatcher, participant beckn.Participant, opts ...Option) *Service {
	s := &Service{
		store:        store,
		transactions: transactions,
		network:      dispatcher,
		participant:  participant,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		audit:        nopAudit{},
		events:       nopPublisher{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIssue persists an OPEN grievance and sends it to the provider of the
// transaction's selected offer.
func (s *Service) CreateIssue(ctx context.Context, req CreateIssueRequest) (*Grievance, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, validationError(err)
	}
	txn, err := s.transactions.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.SelectedItem == nil {
		return nil, ErrNoCounterparty
	}

	now := s.now(ctx)
	g := &Grievance{
		IssueID:       domain.NewIssueID().String(),
		TransactionID: txn.ID,
		Category:      req.Category,
		SubCategory:   req.SubCategory,
		Description:   req.Description,
		Details:       req.Details,
		Complainant:   req.Complainant,
		Status:        StatusOpen,
		BPPID:         txn.SelectedItem.BPPID,
		BPPURI:        txn.SelectedItem.BPPURI,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if txn.ConfirmedOrder != nil {
		g.OrderID = txn.ConfirmedOrder.ID
	}

	msgID := domain.NewMessageID().String()
	signed, err := s.network.Prepare(beckn.ActionIssue, beckn.Outbound[beckn.IssueMessage]{
		Context: s.participant.NewIGMContext(beckn.ActionIssue, txn.ID, msgID, g.Counterparty(), now),
		Message: beckn.IssueMessage{Issue: s.issuePayload(g, txn, beckn.ComplainantOpen, now)},
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, g); err != nil {
		return nil, wrapStoreErr(err)
	}
	s.logger.InfoContext(ctx, "issue raised",
		"issue_id", g.IssueID,
		"transaction_id", g.TransactionID,
		"category", g.Category,
	)
	s.publish(ctx, beckn.ActionIssue, g)

	if err := s.send(ctx, g, msgID, signed); err != nil {
		return g, err
	}
	return g, nil
}

// CloseIssue records the complainant closing the issue and notifies the
// provider.
func (s *Service) CloseIssue(ctx context.Context, issueID string) (*Grievance, error) {
	g, err := s.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if g.Status == StatusClosed {
		return nil, ErrIssueClosed
	}

	now := s.now(ctx)
	closed := *g
	if err := closed.Close(now); err != nil {
		return nil, err
	}
	msgID := domain.NewMessageID().String()
	signed, err := s.network.Prepare(beckn.ActionIssue, beckn.Outbound[beckn.IssueMessage]{
		Context: s.participant.NewIGMContext(beckn.ActionIssue, g.TransactionID, msgID, g.Counterparty(), now),
		Message: beckn.IssueMessage{Issue: s.issuePayload(&closed, nil, beckn.ComplainantClose, now)},
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, issueID, func(current *Grievance) error {
		return current.Close(now)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.publish(ctx, beckn.ActionIssue, updated)
	return updated, s.send(ctx, updated, msgID, signed)
}

// IssueStatus polls the provider for the issue's progress. The answer
// arrives through on_issue_status.
func (s *Service) IssueStatus(ctx context.Context, issueID string) (string, error) {
	g, err := s.Get(ctx, issueID)
	if err != nil {
		return "", err
	}
	now := s.now(ctx)
	msgID := domain.NewMessageID().String()
	signed, err := s.network.Prepare(beckn.ActionIssueStatus, beckn.Outbound[beckn.IssueStatusMessage]{
		Context: s.participant.NewIGMContext(beckn.ActionIssueStatus, g.TransactionID, msgID, g.Counterparty(), now),
		Message: beckn.IssueStatusMessage{IssueID: g.IssueID},
	})
	if err != nil {
		return "", err
	}
	return msgID, s.send(ctx, g, msgID, signed)
}

// OnIssue merges an on_issue or on_issue_status callback.
func (s *Service) OnIssue(ctx context.Context, req beckn.Request) error {
	if req.Error != nil {
		s.logger.WarnContext(ctx, "issue callback carries error",
			"transaction_id", req.Context.TransactionID,
			"action", req.Context.Action,
			"code", req.Error.Code,
			"message", req.Error.Message,
		)
		return nil
	}
	var msg beckn.IssueMessage
	if err := req.Decode(&msg); err != nil {
		return s.reject(ctx, req, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid "+req.Context.Action+" message"))
	}
	if msg.Issue.ID == "" {
		return s.reject(ctx, req, dErrors.New(dErrors.CodeBadRequest, req.Context.Action+" has no issue id"))
	}

	now := s.now(ctx)
	g, err := s.store.Update(ctx, msg.Issue.ID, func(current *Grievance) error {
		current.ApplyResponse(msg.Issue, now)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		s.metrics.IncCallback(req.Context.Action, "unknown")
		s.logger.WarnContext(ctx, "callback for unknown issue",
			"issue_id", msg.Issue.ID,
			"transaction_id", req.Context.TransactionID,
		)
		return ErrUnknownIssue
	}
	if err != nil {
		s.metrics.IncCallback(req.Context.Action, "failed")
		return wrapStoreErr(err)
	}
	s.metrics.IncCallback(req.Context.Action, "applied")
	s.logger.InfoContext(ctx, "issue updated",
		"issue_id", g.IssueID,
		"status", g.Status,
		"respondent_action", g.RespondentAction,
	)
	s.publish(ctx, beckn.ActionIssue, g)
	return nil
}

func (s *Service) Get(ctx context.Context, issueID string) (*Grievance, error) {
	g, err := s.store.FindByID(ctx, issueID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return g, nil
}

func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]*Grievance, error) {
	out, err := s.store.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}

func (s *Service) issuePayload(g *Grievance, txn *models.Transaction, complainantAction string, now time.Time) beckn.Issue {
	ts := beckn.FormatTimestamp(now)
	issue := beckn.Issue{
		ID:          g.IssueID,
		Category:    g.Category,
		SubCategory: g.SubCategory,
		ComplainantInfo: &beckn.ComplainantInfo{
			Person:  beckn.Person{Name: g.Complainant.Name},
			Contact: beckn.Contact{Phone: g.Complainant.Phone, Email: g.Complainant.Email},
		},
		Description: &beckn.IssueDescription{ShortDesc: g.Description, LongDesc: g.Details},
		Source: &beckn.IssueSource{
			NetworkParticipantID: s.participant.SubscriberID,
			Type:                 "CONSUMER",
		},
		ExpectedResponseTime:   &beckn.Duration{Duration: "PT2H"},
		ExpectedResolutionTime: &beckn.Duration{Duration: "P1D"},
		Status:                 beckn.IssueStatusOpen,
		IssueType:              "ISSUE",
		IssueActions: &beckn.IssueActions{ComplainantActions: []beckn.ComplainantAction{{
			ComplainantAction: complainantAction,
			ShortDesc:         g.Description,
			UpdatedAt:         ts,
		}}},
		CreatedAt: beckn.FormatTimestamp(g.CreatedAt),
		UpdatedAt: ts,
	}
	if complainantAction == beckn.ComplainantClose {
		issue.Status = beckn.IssueStatusClosed
	}
	if g.OrderID != "" || txn != nil {
		details := &beckn.IssueOrderDetails{ID: g.OrderID}
		if txn != nil && txn.SelectedItem != nil {
			details.ProviderID = txn.SelectedItem.ProviderID
			details.Items = []beckn.Item{{ID: txn.SelectedItem.ID}}
		}
		if txn != nil && txn.ConfirmedOrder != nil {
			details.State = txn.ConfirmedOrder.State
		}
		issue.OrderDetails = details
	}
	return issue
}

// send audits and dispatches an issue message. A failed dispatch leaves the
// stored record untouched so the rider can poll or retry.
func (s *Service) send(ctx context.Context, g *Grievance, msgID string, signed network.Signed) error {
	s.audit.Record(ctx, audit.Entry{
		TransactionID: g.TransactionID,
		MessageID:     msgID,
		Action:        signed.Action,
		Direction:     audit.DirectionOutbound,
		Source:        s.participant.SubscriberURI,
		Destination:   g.BPPURI,
		Payload:       json.RawMessage(signed.Body),
		Headers: map[string]string{
			"Authorization": signed.Authorization,
			"Content-Type":  "application/json",
		},
		Status: "SENT",
	})

	if s.mock {
		return s.scheduleMock(ctx, g, signed)
	}

	ack, err := s.network.Send(ctx, g.BPPURI, signed)
	s.recordAck(ctx, g, msgID, signed.Action, ack)
	if err != nil {
		s.logger.WarnContext(ctx, "issue dispatch failed",
			"issue_id", g.IssueID,
			"action", signed.Action,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUpstream, fmt.Sprintf("%s not accepted by provider", signed.Action))
	}
	return nil
}

func (s *Service) recordAck(ctx context.Context, g *Grievance, msgID, action string, ack beckn.AckResponse) {
	status := ack.Message.Ack.Status
	if status == "" {
		status = "ERROR"
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		payload = nil
	}
	s.audit.Record(ctx, audit.Entry{
		TransactionID: g.TransactionID,
		MessageID:     msgID,
		Action:        action,
		Direction:     audit.DirectionInbound,
		Source:        g.BPPURI,
		Destination:   s.participant.SubscriberURI,
		Payload:       payload,
		Status:        status,
	})
}

func (s *Service) reject(ctx context.Context, req beckn.Request, err error) error {
	s.metrics.IncCallback(req.Context.Action, "rejected")
	s.logger.WarnContext(ctx, "issue callback rejected",
		"transaction_id", req.Context.TransactionID,
		"action", req.Context.Action,
		"error", err,
	)
	return err
}

// publish emits the grievance on its transaction's issue topic.
func (s *Service) publish(ctx context.Context, action string, g *Grievance) {
	event, err := notify.NewEvent(action, g.TransactionID, g, s.now(ctx))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to build event", "issue_id", g.IssueID, "error", err)
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event",
			"issue_id", g.IssueID,
			"topic", event.Topic,
			"error", err,
		)
	}
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid issue request")
}

func wrapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "issue not found")
	case errors.Is(err, ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "issue already exists")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "grievance store failure")
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, audit.Entry) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, notify.Event) error { return nil }
