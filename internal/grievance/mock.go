package grievance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/network"
	"mobility-bap/internal/platform/worker"
	dErrors "mobility-bap/pkg/domain-errors"
)

// mockResolution is what the synthetic provider offers every complaint.
var mockResolution = beckn.IssueResolution{
	ShortDesc:       "Fare difference refunded",
	LongDesc:        "The provider reviewed the ride and refunded the disputed amount.",
	ActionTriggered: "REFUND",
	RefundAmount:    "25.00",
}

// mockResponses answers an outbound issue message the way a provider's IGM
// desk would. Closing needs no answer.
func mockResponses(signed network.Signed, now time.Time) ([]beckn.Request, error) {
	var envelope struct {
		Context beckn.Context   `json:"context"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(signed.Body, &envelope); err != nil {
		return nil, err
	}

	switch envelope.Context.Action {
	case beckn.ActionIssue:
		var msg beckn.IssueMessage
		if err := json.Unmarshal(envelope.Message, &msg); err != nil {
			return nil, err
		}
		if msg.Issue.Status == beckn.IssueStatusClosed {
			return nil, nil
		}
		processing := respond(envelope.Context, beckn.ActionOnIssue, msg.Issue.ID, beckn.RespondentProcessing, now)
		resolved := respond(envelope.Context, beckn.ActionOnIssue, msg.Issue.ID, beckn.RespondentResolved, now.Add(time.Second))
		return []beckn.Request{processing, resolved}, nil
	case beckn.ActionIssueStatus:
		var msg beckn.IssueStatusMessage
		if err := json.Unmarshal(envelope.Message, &msg); err != nil {
			return nil, err
		}
		return []beckn.Request{respond(envelope.Context, beckn.ActionOnIssueStatus, msg.IssueID, beckn.RespondentProcessing, now)}, nil
	}
	return nil, nil
}

func respond(in beckn.Context, action, issueID, respondentAction string, at time.Time) beckn.Request {
	ctx := in
	ctx.Action = action
	ctx.Timestamp = beckn.FormatTimestamp(at)

	issue := beckn.Issue{
		ID:     issueID,
		Status: beckn.IssueStatusOpen,
		IssueActions: &beckn.IssueActions{RespondentActions: []beckn.RespondentAction{{
			RespondentAction: respondentAction,
			ShortDesc:        "Complaint " + respondentAction,
			UpdatedAt:        beckn.FormatTimestamp(at),
		}}},
		UpdatedAt: beckn.FormatTimestamp(at),
	}
	if respondentAction == beckn.RespondentResolved {
		resolution := mockResolution
		issue.Resolution = &resolution
	}
	raw, _ := json.Marshal(beckn.IssueMessage{Issue: issue})
	return beckn.Request{Context: ctx, Message: raw}
}

func (s *Service) scheduleMock(ctx context.Context, g *Grievance, signed network.Signed) error {
	responses, err := mockResponses(signed, s.now(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mock responder failed")
	}
	for i, resp := range responses {
		task := worker.Task{
			Name:  "mock." + resp.Context.Action,
			Delay: s.mockDelay * time.Duration(i+1),
			Run: func(taskCtx context.Context) error {
				return s.deliverMockCallback(taskCtx, g, resp)
			},
		}
		if s.scheduler == nil {
			if err := task.Run(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "mock issue callback failed", "action", resp.Context.Action, "error", err)
			}
			continue
		}
		if err := s.scheduler.Submit(task); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule mock callback")
		}
	}
	return nil
}

func (s *Service) deliverMockCallback(ctx context.Context, g *Grievance, req beckn.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Entry{
		TransactionID: req.Context.TransactionID,
		MessageID:     req.Context.MessageID,
		Action:        req.Context.Action,
		Direction:     audit.DirectionInbound,
		Source:        g.BPPURI,
		Destination:   s.participant.SubscriberURI,
		Payload:       raw,
		Status:        "RECEIVED",
	})
	err = s.OnIssue(ctx, req)
	if errors.Is(err, ErrUnknownIssue) {
		return nil
	}
	return err
}
