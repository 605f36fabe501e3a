package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "mobility-bap/pkg/domain-errors"
)

// maxIDLength bounds identifiers accepted from the network. Beckn ids are
// opaque strings, so only shape is checked, not format.
const maxIDLength = 128

// TransactionID correlates an outbound action with all of its callbacks.
type TransactionID string

// MessageID identifies a single request/callback pair within a transaction.
type MessageID string

// IssueID identifies one grievance lifecycle.
type IssueID string

func (id TransactionID) String() string { return string(id) }
func (id MessageID) String() string     { return string(id) }
func (id IssueID) String() string       { return string(id) }

func (id TransactionID) IsNil() bool { return id == "" }
func (id MessageID) IsNil() bool     { return id == "" }
func (id IssueID) IsNil() bool       { return id == "" }

// NewTransactionID returns a fresh random transaction id.
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }

// NewMessageID returns a fresh random message id.
func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

// NewIssueID returns a fresh random issue id.
func NewIssueID() IssueID { return IssueID(uuid.NewString()) }

// ParseTransactionID validates an id received at a trust boundary.
func ParseTransactionID(s string) (TransactionID, error) {
	v, err := parseOpaque("transaction_id", s)
	return TransactionID(v), err
}

// ParseMessageID validates an id received at a trust boundary.
func ParseMessageID(s string) (MessageID, error) {
	v, err := parseOpaque("message_id", s)
	return MessageID(v), err
}

// ParseIssueID validates an id received at a trust boundary.
func ParseIssueID(s string) (IssueID, error) {
	v, err := parseOpaque("issue_id", s)
	return IssueID(v), err
}

func parseOpaque(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > maxIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, field+" is too long")
	}
	if strings.ContainsAny(s, "\r\n\t") {
		return "", dErrors.New(dErrors.CodeInvalidInput, field+" contains control characters")
	}
	return s, nil
}
