package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"
)

// maxClockSkew tolerates peers whose clocks run slightly ahead.
const maxClockSkew = 5 * time.Second

// KeyResolver finds a subscriber's signing key. A nil key with a nil error
// means the registry does not know the key.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error)
}

// KeyRefresher is implemented by resolvers that cache keys. Verify calls it
// once when a cached key fails to verify, so a key rotated under the same
// key id is picked up before the cache entry expires.
type KeyRefresher interface {
	RefreshPublicKey(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error)
}

// Verifier validates Authorization headers on inbound messages.
type Verifier struct {
	resolver       KeyResolver
	lookupDisabled bool
	selfKey        ed25519.PublicKey
	clock          func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithSelfKey disables registry lookup and verifies every header against
// this participant's own key. Used in offline mode where all callbacks
// are signed locally.
func WithSelfKey(pub ed25519.PublicKey) VerifierOption {
	return func(v *Verifier) {
		v.lookupDisabled = true
		v.selfKey = pub
	}
}

// WithVerifierClock injects the clock used for expiry checks.
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewVerifier builds a Verifier backed by resolver.
func NewVerifier(resolver KeyResolver, opts ...VerifierOption) *Verifier {
	v := &Verifier{resolver: resolver, clock: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks header against the raw body bytes as received. It returns
// the parsed header on success. Failures are *AuthError except registry
// outages, which are returned wrapped so callers can tell them apart.
func (v *Verifier) Verify(ctx context.Context, header string, body []byte) (Header, error) {
	h, err := ParseHeader(header)
	if err != nil {
		return Header{}, err
	}
	if h.Algorithm != AlgorithmEd25519 {
		return Header{}, newAuthError(CodeUnsupportedAlgorithm, "unsupported algorithm "+h.Algorithm, nil)
	}
	now := v.clock().Unix()
	if now > h.Expires {
		return Header{}, newAuthError(CodeSignatureExpired, "signature expired", nil)
	}
	if h.Created > now+int64(maxClockSkew/time.Second) {
		return Header{}, newAuthError(CodeMalformedHeader, "created is in the future", nil)
	}

	pub, err := v.publicKey(ctx, h)
	if err != nil {
		return Header{}, err
	}

	sig, err := base64.StdEncoding.DecodeString(h.Signature)
	if err != nil {
		return Header{}, newAuthError(CodeMalformedHeader, "signature is not base64", err)
	}
	signingString := []byte(SigningString(h.Created, h.Expires, Digest(body)))
	if ed25519.Verify(pub, signingString, sig) {
		return h, nil
	}
	fresh, err := v.refreshKey(ctx, h, pub)
	if err != nil {
		return Header{}, err
	}
	if len(fresh) == 0 || !ed25519.Verify(fresh, signingString, sig) {
		return Header{}, newAuthError(CodeSignatureInvalid, "signature does not match body", nil)
	}
	return h, nil
}

// refreshKey reloads a resolver-sourced key that failed to verify. It
// returns nil when no refresh is possible or the key did not change.
func (v *Verifier) refreshKey(ctx context.Context, h Header, stale ed25519.PublicKey) (ed25519.PublicKey, error) {
	if v.lookupDisabled {
		return nil, nil
	}
	refresher, ok := v.resolver.(KeyRefresher)
	if !ok {
		return nil, nil
	}
	fresh, err := refresher.RefreshPublicKey(ctx, h.SubscriberID, h.KeyID)
	if err != nil && len(fresh) == 0 {
		return nil, fmt.Errorf("refresh key %s|%s: %w", h.SubscriberID, h.KeyID, err)
	}
	if len(fresh) == 0 || stale.Equal(fresh) {
		return nil, nil
	}
	return fresh, nil
}

func (v *Verifier) publicKey(ctx context.Context, h Header) (ed25519.PublicKey, error) {
	if v.lookupDisabled {
		if len(v.selfKey) == 0 {
			return nil, newAuthError(CodeKeyNotFound, "no local key configured", nil)
		}
		return v.selfKey, nil
	}
	if v.resolver == nil {
		return nil, newAuthError(CodeKeyNotFound, "no key resolver configured", nil)
	}
	pub, err := v.resolver.ResolvePublicKey(ctx, h.SubscriberID, h.KeyID)
	if err != nil {
		return nil, fmt.Errorf("resolve key %s|%s: %w", h.SubscriberID, h.KeyID, err)
	}
	if len(pub) == 0 {
		return nil, newAuthError(CodeKeyNotFound, fmt.Sprintf("key %s not registered for %s", h.KeyID, h.SubscriberID), nil)
	}
	return pub, nil
}
