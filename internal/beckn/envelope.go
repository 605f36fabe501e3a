// Package beckn holds the wire shapes of the mobility network protocol:
// the request context, the ACK/NACK envelope and the message bodies this
// participant sends and receives. Shapes are fixed to the mobility domain.
package beckn

import (
	"encoding/json"
	"time"
)

// Actions this participant sends or receives.
const (
	ActionSearch    = "search"
	ActionSelect    = "select"
	ActionInit      = "init"
	ActionConfirm   = "confirm"
	ActionStatus    = "status"
	ActionCancel    = "cancel"
	ActionOnSearch  = "on_search"
	ActionOnSelect  = "on_select"
	ActionOnInit    = "on_init"
	ActionOnConfirm = "on_confirm"
	ActionOnStatus  = "on_status"
	ActionOnCancel  = "on_cancel"

	ActionIssue           = "issue"
	ActionOnIssue         = "on_issue"
	ActionIssueStatus     = "issue_status"
	ActionOnIssueStatus   = "on_issue_status"
	ActionOnReceiverRecon = "on_receiver_recon"
)

// CallbackFor returns the on_* action answering action.
func CallbackFor(action string) string { return "on_" + action }

// RequestFor strips the on_ prefix from a callback action.
func RequestFor(callback string) string {
	if len(callback) > 3 && callback[:3] == "on_" {
		return callback[3:]
	}
	return callback
}

// TimestampLayout is the millisecond precision UTC layout the network expects.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the network layout.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// Context is the routing and correlation header of every message.
type Context struct {
	Domain        string           `json:"domain"`
	Location      *ContextLocation `json:"location,omitempty"`
	Country       string           `json:"country,omitempty"`
	City          string           `json:"city,omitempty"`
	Action        string           `json:"action"`
	Version       string           `json:"version,omitempty"`
	CoreVersion   string           `json:"core_version,omitempty"`
	BAPID         string           `json:"bap_id"`
	BAPURI        string           `json:"bap_uri"`
	BPPID         string           `json:"bpp_id,omitempty"`
	BPPURI        string           `json:"bpp_uri,omitempty"`
	TransactionID string           `json:"transaction_id"`
	MessageID     string           `json:"message_id"`
	Timestamp     string           `json:"timestamp"`
	TTL           string           `json:"ttl,omitempty"`
}

// ContextLocation scopes a message to a country and city.
type ContextLocation struct {
	Country Code `json:"country"`
	City    Code `json:"city"`
}

// Code wraps a single code value.
type Code struct {
	Code string `json:"code"`
}

// Request is the generic envelope; Message is decoded per action.
type Request struct {
	Context Context         `json:"context"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Decode unmarshals the message body into v.
func (r Request) Decode(v any) error {
	if len(r.Message) == 0 {
		return nil
	}
	return json.Unmarshal(r.Message, v)
}

// Outbound is the typed envelope used when building requests.
type Outbound[M any] struct {
	Context Context `json:"context"`
	Message M       `json:"message"`
}

// Error is an application level error carried in a callback or NACK.
type Error struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// AckStatus values.
const (
	StatusACK  = "ACK"
	StatusNACK = "NACK"
)

// AckResponse is the synchronous answer to any protocol request.
type AckResponse struct {
	Message AckMessage `json:"message"`
	Error   *Error     `json:"error,omitempty"`
}

// AckMessage wraps the ack.
type AckMessage struct {
	Ack Ack `json:"ack"`
}

// Ack carries ACK or NACK.
type Ack struct {
	Status string `json:"status"`
}

// IsACK reports whether the counterparty accepted the message.
func (r AckResponse) IsACK() bool { return r.Message.Ack.Status == StatusACK && r.Error == nil }

// NewACK builds an ACK response.
func NewACK() AckResponse {
	return AckResponse{Message: AckMessage{Ack: Ack{Status: StatusACK}}}
}

// NewNACK builds a NACK response with an error.
func NewNACK(errType, code, message string) AckResponse {
	return AckResponse{
		Message: AckMessage{Ack: Ack{Status: StatusNACK}},
		Error:   &Error{Type: errType, Code: code, Message: message},
	}
}
