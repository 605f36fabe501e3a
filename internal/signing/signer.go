// Package signing implements the network's request authentication: an
// Ed25519 signature over a BLAKE2b-512 digest of the exact body bytes,
// bounded by a created/expires validity window.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	minValidity     = 10 * time.Second
	maxValidity     = 30 * time.Second
	defaultValidity = 30 * time.Second
)

// Signer produces Authorization headers for outbound messages.
type Signer struct {
	subscriberID string
	keyID        string
	key          ed25519.PrivateKey
	validity     time.Duration
	clock        func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithValidity sets the signature lifetime, clamped to 10–30s.
func WithValidity(d time.Duration) SignerOption {
	return func(s *Signer) {
		switch {
		case d <= 0:
			s.validity = defaultValidity
		case d < minValidity:
			s.validity = minValidity
		case d > maxValidity:
			s.validity = maxValidity
		default:
			s.validity = d
		}
	}
}

// WithSignerClock injects the clock used for created/expires.
func WithSignerClock(clock func() time.Time) SignerOption {
	return func(s *Signer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSigner builds a Signer for this participant's key.
func NewSigner(subscriberID, keyID string, key ed25519.PrivateKey, opts ...SignerOption) (*Signer, error) {
	if subscriberID == "" || keyID == "" {
		return nil, errors.New("subscriber id and key id are required")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("signing key must be an ed25519 private key")
	}
	s := &Signer{
		subscriberID: subscriberID,
		keyID:        keyID,
		key:          key,
		validity:     defaultValidity,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubscriberID returns the identity this signer signs as.
func (s *Signer) SubscriberID() string { return s.subscriberID }

// PublicKey returns the public half of the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign returns the Authorization header for body. body must be the exact
// bytes that will be transmitted.
func (s *Signer) Sign(body []byte) (string, error) {
	created := s.clock().Unix()
	expires := created + int64(s.validity/time.Second)
	signingString := SigningString(created, expires, Digest(body))
	sig := ed25519.Sign(s.key, []byte(signingString))
	return Header{
		SubscriberID: s.subscriberID,
		KeyID:        s.keyID,
		Algorithm:    AlgorithmEd25519,
		Created:      created,
		Expires:      expires,
		Headers:      signedHeaders,
		Signature:    base64.StdEncoding.EncodeToString(sig),
	}.String(), nil
}

// SignJSON serializes v once and signs the result. The returned bytes are
// the ones to send; re-marshalling v would invalidate the signature.
func (s *Signer) SignJSON(v any) ([]byte, string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal signed body: %w", err)
	}
	header, err := s.Sign(body)
	if err != nil {
		return nil, "", err
	}
	return body, header, nil
}
