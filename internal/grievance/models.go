// Package grievance runs the issue and grievance sub-protocol: a rider's
// complaint about a booking, its escalation to the provider and the
// provider's responses.
package grievance

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mobility-bap/internal/beckn"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/platform/sentinel"
)

// ErrUnknownIssue is returned for callbacks that reference no known issue.
var ErrUnknownIssue = errors.New("unknown issue")

var (
	ErrIssueClosed    = dErrors.New(dErrors.CodePrecondition, "issue is already closed")
	ErrNoCounterparty = dErrors.New(dErrors.CodePrecondition, "transaction has no provider to address the issue to")
)

// Status is the lifecycle stage of a grievance.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusProcessing Status = "PROCESSING"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
)

var statusRank = map[Status]int{
	StatusOpen:       0,
	StatusProcessing: 1,
	StatusResolved:   2,
	StatusClosed:     3,
}

func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// CanTransitionTo reports whether next is not behind s.
func (s Status) CanTransitionTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to >= from
}

// StatusFromNetwork maps an issue's wire status and latest respondent
// action. Unknown values return false.
func StatusFromNetwork(issue beckn.Issue) (Status, bool) {
	if strings.EqualFold(issue.Status, beckn.IssueStatusClosed) {
		return StatusClosed, true
	}
	switch strings.ToUpper(issue.LatestRespondentAction()) {
	case beckn.RespondentProcessing, beckn.RespondentCascaded, beckn.RespondentNeedMoreInfo:
		return StatusProcessing, true
	case beckn.RespondentResolved:
		return StatusResolved, true
	}
	return "", false
}

// Complainant is the rider raising the issue.
type Complainant struct {
	Name  string `json:"name" validate:"required,max=128"`
	Phone string `json:"phone" validate:"required,max=32"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Resolution is the provider's outcome for a grievance.
type Resolution struct {
	ShortDesc       string           `json:"shortDesc,omitempty"`
	LongDesc        string           `json:"longDesc,omitempty"`
	ActionTriggered string           `json:"actionTriggered,omitempty"`
	RefundAmount    *decimal.Decimal `json:"refundAmount,omitempty"`
}

func resolutionFromNetwork(r *beckn.IssueResolution) *Resolution {
	if r == nil {
		return nil
	}
	out := &Resolution{ShortDesc: r.ShortDesc, LongDesc: r.LongDesc, ActionTriggered: r.ActionTriggered}
	if amount, err := decimal.NewFromString(r.RefundAmount); err == nil {
		out.RefundAmount = &amount
	}
	return out
}

// Grievance is one complaint lifecycle.
//
// Invariants:
//   - Status never moves backwards
//   - Resolution is set once, when the status is terminal
type Grievance struct {
	IssueID          string      `json:"issueId"`
	TransactionID    string      `json:"transactionId"`
	OrderID          string      `json:"orderId,omitempty"`
	Category         string      `json:"category"`
	SubCategory      string      `json:"subCategory"`
	Description      string      `json:"description"`
	Details          string      `json:"details,omitempty"`
	Complainant      Complainant `json:"complainant"`
	Status           Status      `json:"status"`
	RespondentAction string      `json:"respondentAction,omitempty"`
	Resolution       *Resolution `json:"resolution,omitempty"`
	BPPID            string      `json:"bppId"`
	BPPURI           string      `json:"bppUri"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// ApplyResponse merges a respondent update. Stale updates that would move
// the status backwards are accepted without effect.
func (g *Grievance) ApplyResponse(issue beckn.Issue, now time.Time) {
	if action := issue.LatestRespondentAction(); action != "" {
		g.RespondentAction = action
	}
	if next, ok := StatusFromNetwork(issue); ok && g.Status.CanTransitionTo(next) {
		g.Status = next
	}
	if g.Status.IsTerminal() && g.Resolution == nil {
		g.Resolution = resolutionFromNetwork(issue.Resolution)
	}
	g.UpdatedAt = now
}

// Close records the complainant closing the issue.
func (g *Grievance) Close(now time.Time) error {
	if g.Status == StatusClosed {
		return ErrIssueClosed
	}
	g.Status = StatusClosed
	g.UpdatedAt = now
	return nil
}

// Counterparty returns the provider handling the grievance.
func (g *Grievance) Counterparty() *beckn.Counterparty {
	return &beckn.Counterparty{ID: g.BPPID, URI: g.BPPURI}
}

// CreateIssueRequest is the local request to raise a grievance.
type CreateIssueRequest struct {
	TransactionID string      `json:"transactionId" validate:"required"`
	Category      string      `json:"category" validate:"required,oneof=ORDER FULFILLMENT PAYMENT AGENT ITEM"`
	SubCategory   string      `json:"subCategory" validate:"required,max=32"`
	Description   string      `json:"description" validate:"required,max=256"`
	Details       string      `json:"details,omitempty" validate:"max=4096"`
	Complainant   Complainant `json:"complainant" validate:"required"`
}

// Store sentinels, aliased so callers can test with errors.Is against either.
var (
	ErrNotFound = sentinel.ErrNotFound
	ErrConflict = sentinel.ErrConflict
)
