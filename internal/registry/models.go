package registry

import (
	"crypto/ed25519"
	"time"

	"mobility-bap/internal/signing"
)

// Subscriber types published by the registry.
const (
	TypeGateway = "BG"
	TypeBAP     = "BAP"
	TypeBPP     = "BPP"
)

// Entry is one registry subscription record.
type Entry struct {
	SubscriberID     string    `json:"subscriber_id"`
	SubscriberURL    string    `json:"subscriber_url"`
	Type             string    `json:"type"`
	Domain           string    `json:"domain"`
	City             string    `json:"city"`
	Country          string    `json:"country"`
	Status           string    `json:"status,omitempty"`
	SigningPublicKey string    `json:"signing_public_key"`
	UKID             string    `json:"ukId,omitempty"`
	UniqueKeyID      string    `json:"unique_key_id,omitempty"`
	ValidFrom        time.Time `json:"valid_from,omitempty"`
	ValidUntil       time.Time `json:"valid_until,omitempty"`
}

// KeyID returns the unique key id under either of the names registries use.
func (e Entry) KeyID() string {
	if e.UniqueKeyID != "" {
		return e.UniqueKeyID
	}
	return e.UKID
}

// ValidAt reports whether the entry's validity window covers t. Missing
// bounds are treated as open.
func (e Entry) ValidAt(t time.Time) bool {
	if !e.ValidFrom.IsZero() && t.Before(e.ValidFrom) {
		return false
	}
	if !e.ValidUntil.IsZero() && !t.Before(e.ValidUntil) {
		return false
	}
	return true
}

// PublicKey decodes the entry's signing key.
func (e Entry) PublicKey() (ed25519.PublicKey, error) {
	return signing.ParsePublicKey(e.SigningPublicKey)
}

// LookupRequest is the registry lookup filter.
type LookupRequest struct {
	SubscriberID string `json:"subscriber_id,omitempty"`
	Type         string `json:"type,omitempty"`
	Domain       string `json:"domain,omitempty"`
	City         string `json:"city,omitempty"`
	Country      string `json:"country,omitempty"`
	UKID         string `json:"ukId,omitempty"`
}
