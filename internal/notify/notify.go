// Package notify fans transaction progress out to connected clients.
// Publishing never waits for subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Actions that produce transaction-scoped events.
var transactionActions = []string{"search", "select", "init", "confirm", "status", "cancel", "issue", "expire"}

// Event is one progress notification.
type Event struct {
	Topic         string          `json:"topic"`
	TransactionID string          `json:"transactionId"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscription delivers events until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Subscriber opens subscriptions on exact topics.
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}

// Broker is both ends of the channel.
type Broker interface {
	Publisher
	Subscriber
}

// Topic names the channel for action on transactionID.
func Topic(action, transactionID string) string {
	return action + "_update_" + transactionID
}

// TransactionTopics lists every topic a transaction can publish on.
func TransactionTopics(transactionID string) []string {
	topics := make([]string, 0, len(transactionActions))
	for _, a := range transactionActions {
		topics = append(topics, Topic(a, transactionID))
	}
	return topics
}

// NewEvent builds an event with payload serialized once.
func NewEvent(action, transactionID string, payload any, now time.Time) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return Event{
		Topic:         Topic(action, transactionID),
		TransactionID: transactionID,
		Action:        action,
		Payload:       raw,
		Timestamp:     now.UTC(),
	}, nil
}
