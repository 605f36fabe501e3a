package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Direction tells whether an entry left or reached this node.
type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// Entry is one append-only record of a protocol message.
type Entry struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transactionId"`
	MessageID     string            `json:"messageId"`
	Action        string            `json:"action"`
	Direction     Direction         `json:"direction"`
	Source        string            `json:"source,omitempty"`
	Destination   string            `json:"destination,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Status        string            `json:"status,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Exchange pairs an outbound request with the callbacks that answered it.
type Exchange struct {
	MessageID string  `json:"messageId"`
	Action    string  `json:"action"`
	Request   *Entry  `json:"request,omitempty"`
	Responses []Entry `json:"responses"`
}

// Store persists entries. Implementations must never mutate stored entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByTransaction(ctx context.Context, transactionID string) ([]Entry, error)
}

// Sink receives every recorded entry after it is stored.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}
