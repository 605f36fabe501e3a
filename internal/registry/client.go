// Package registry resolves network participants and their signing keys
// from the subscriber registry.
package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mobility-bap/internal/registry/cache"
	"mobility-bap/internal/signing"
	dErrors "mobility-bap/pkg/domain-errors"
)

// ErrNoGatewayAvailable is returned when no gateway is configured and the
// registry lists none for this domain.
var ErrNoGatewayAvailable = errors.New("no gateway available")

// Scope narrows lookups to this node's domain and location.
type Scope struct {
	Domain  string
	City    string
	Country string
}

// Client talks to the registry lookup endpoint.
type Client struct {
	baseURL    string
	gatewayURL string
	scope      Scope
	http       *http.Client
	signer     *signing.Signer
	keys       *cache.KeyCache
	logger     *slog.Logger
	clock      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithSigner signs lookup requests with this node's key.
func WithSigner(s *signing.Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithGatewayURL pins the gateway and skips its lookup.
func WithGatewayURL(url string) Option {
	return func(c *Client) {
		c.gatewayURL = strings.TrimSpace(url)
	}
}

// WithKeyBackend enables key caching on the given backend.
func WithKeyBackend(backend cache.Backend, ttl time.Duration) Option {
	return func(c *Client) {
		if backend == nil {
			return
		}
		keys, err := cache.New(backend, ttl, c.lookupKey)
		if err == nil {
			c.keys = keys
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects the clock used for validity checks.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a registry client. baseURL may be empty when only a static
// gateway is used.
func New(baseURL string, scope Scope, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		scope:   scope,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveGateway returns the gateway URI for search broadcasts.
func (c *Client) ResolveGateway(ctx context.Context) (string, error) {
	if c.gatewayURL != "" {
		return c.gatewayURL, nil
	}
	if c.baseURL == "" {
		return "", ErrNoGatewayAvailable
	}
	entries, err := c.Lookup(ctx, LookupRequest{
		Type:    TypeGateway,
		Domain:  c.scope.Domain,
		City:    c.scope.City,
		Country: c.scope.Country,
	})
	if err != nil {
		return "", err
	}
	now := c.clock()
	for _, e := range entries {
		if e.SubscriberURL != "" && e.ValidAt(now) {
			return e.SubscriberURL, nil
		}
	}
	return "", ErrNoGatewayAvailable
}

// ResolvePublicKey returns the signing key of subscriberID/keyID, or
// nil, nil when the registry does not know it.
func (c *Client) ResolvePublicKey(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error) {
	if c.keys != nil {
		return c.keys.Get(ctx, subscriberID, keyID)
	}
	return c.lookupKey(ctx, subscriberID, keyID)
}

// RefreshPublicKey bypasses the key cache.
func (c *Client) RefreshPublicKey(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error) {
	if c.keys != nil {
		return c.keys.Refresh(ctx, subscriberID, keyID)
	}
	return c.lookupKey(ctx, subscriberID, keyID)
}

// ResolveSubscriber returns the first valid entry for subscriberID.
func (c *Client) ResolveSubscriber(ctx context.Context, subscriberID string) (*Entry, error) {
	entries, err := c.Lookup(ctx, LookupRequest{SubscriberID: subscriberID, Domain: c.scope.Domain})
	if err != nil {
		return nil, err
	}
	now := c.clock()
	for i := range entries {
		if entries[i].ValidAt(now) {
			return &entries[i], nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "subscriber not registered")
}

func (c *Client) lookupKey(ctx context.Context, subscriberID, keyID string) (ed25519.PublicKey, error) {
	entries, err := c.Lookup(ctx, LookupRequest{
		SubscriberID: subscriberID,
		UKID:         keyID,
		Domain:       c.scope.Domain,
		City:         c.scope.City,
		Country:      c.scope.Country,
	})
	if err != nil {
		return nil, err
	}
	now := c.clock()
	for _, e := range entries {
		if e.SubscriberID != subscriberID || !e.ValidAt(now) {
			continue
		}
		if id := e.KeyID(); id != "" && id != keyID {
			continue
		}
		pub, err := e.PublicKey()
		if err != nil {
			c.logger.WarnContext(ctx, "registry entry has unusable signing key",
				"subscriber_id", subscriberID,
				"key_id", keyID,
				"error", err,
			)
			continue
		}
		return pub, nil
	}
	return nil, nil
}

// Lookup posts a filter to the registry and returns matching entries.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) ([]Entry, error) {
	if c.baseURL == "" {
		return nil, dErrors.New(dErrors.CodeUpstream, "registry url not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode lookup")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build lookup request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.signer != nil {
		header, err := c.signer.Sign(body)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign lookup")
		}
		httpReq.Header.Set("Authorization", header)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "registry unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "read lookup response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dErrors.New(dErrors.CodeUpstream,
			fmt.Sprintf("registry lookup failed with status %d", resp.StatusCode))
	}
	return decodeEntries(raw)
}

// decodeEntries accepts either a bare array or {"message": [...]}.
func decodeEntries(raw []byte) ([]Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []Entry
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "decode lookup response")
		}
		return entries, nil
	}
	var wrapped struct {
		Message []Entry `json:"message"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "decode lookup response")
	}
	return wrapped.Message, nil
}
