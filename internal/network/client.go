// Package network sends signed protocol messages to counterparties.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/signing"
	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/platform/circuit"
)

const maxResponseBytes = 1 << 20

// Signed is a message ready for dispatch. Body is the exact byte sequence
// covered by Authorization.
type Signed struct {
	Action        string
	Body          []byte
	Authorization string
}

// NackError carries the counterparty's synchronous rejection.
type NackError struct {
	Action string
	Reason *beckn.Error
	Status int
}

func (e *NackError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("%s rejected: %s %s", e.Action, e.Reason.Code, e.Reason.Message)
	}
	return fmt.Sprintf("%s rejected with status %d", e.Action, e.Status)
}

// Client signs and posts protocol messages.
type Client struct {
	signer  *signing.Signer
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger

	breakerOpts []circuit.Option
	breakersMu  sync.Mutex
	breakers    map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCircuitBreaker enables one breaker per counterparty URI. Transport
// failures and 5xx responses count against it; NACKs do not.
func WithCircuitBreaker(opts ...circuit.Option) Option {
	return func(c *Client) {
		c.breakerOpts = opts
		c.breakers = make(map[string]*circuit.Breaker)
	}
}

// New creates a Client that signs with signer.
func New(signer *signing.Signer, opts ...Option) *Client {
	c := &Client{
		signer: signer,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare serializes and signs payload exactly once.
func (c *Client) Prepare(action string, payload any) (Signed, error) {
	body, header, err := c.signer.SignJSON(payload)
	if err != nil {
		return Signed{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign "+action)
	}
	return Signed{Action: action, Body: body, Authorization: header}, nil
}

// Send posts msg to {baseURL}/{action}. A nil error means the counterparty
// acknowledged; a NACK is returned as a CodeUpstream error wrapping
// *NackError together with the decoded response.
func (c *Client) Send(ctx context.Context, baseURL string, msg Signed) (beckn.AckResponse, error) {
	start := time.Now()
	breaker := c.breaker(baseURL)
	if breaker != nil && !breaker.Allow() {
		c.metrics.ObserveOutbound(msg.Action, "circuit_open", time.Since(start))
		return beckn.AckResponse{}, dErrors.New(dErrors.CodeUpstream, "counterparty "+baseURL+" is unavailable")
	}
	ack, err := c.send(ctx, baseURL, msg)
	outcome := "ack"
	switch {
	case err == nil:
	case isNack(err):
		outcome = "nack"
	default:
		outcome = "error"
	}
	if breaker != nil {
		c.record(ctx, breaker, err)
	}
	c.metrics.ObserveOutbound(msg.Action, outcome, time.Since(start))
	if err != nil {
		c.logger.WarnContext(ctx, "outbound message not acknowledged",
			"action", msg.Action,
			"target", baseURL,
			"outcome", outcome,
			"error", err,
		)
	}
	return ack, err
}

func (c *Client) send(ctx context.Context, baseURL string, msg Signed) (beckn.AckResponse, error) {
	if strings.TrimSpace(baseURL) == "" {
		return beckn.AckResponse{}, dErrors.New(dErrors.CodePrecondition, "counterparty uri is unknown")
	}
	target := strings.TrimRight(baseURL, "/") + "/" + msg.Action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(msg.Body))
	if err != nil {
		return beckn.AckResponse{}, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", msg.Authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return beckn.AckResponse{}, dErrors.Wrap(err, dErrors.CodeUpstream, "dispatch "+msg.Action)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return beckn.AckResponse{}, dErrors.Wrap(err, dErrors.CodeUpstream, "read "+msg.Action+" response")
	}

	var ack beckn.AckResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil && resp.StatusCode < 300 {
			return beckn.AckResponse{}, dErrors.Wrap(err, dErrors.CodeUpstream, "decode "+msg.Action+" response")
		}
	} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		ack = beckn.NewACK()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !ack.IsACK() {
		return ack, dErrors.Wrap(&NackError{Action: msg.Action, Reason: ack.Error, Status: resp.StatusCode},
			dErrors.CodeUpstream, msg.Action+" was not acknowledged")
	}
	return ack, nil
}

func (c *Client) breaker(baseURL string) *circuit.Breaker {
	if c.breakers == nil {
		return nil
	}
	key := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if key == "" {
		return nil
	}
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	b, ok := c.breakers[key]
	if !ok {
		b = circuit.New(key, c.breakerOpts...)
		c.breakers[key] = b
	}
	return b
}

func (c *Client) record(ctx context.Context, b *circuit.Breaker, err error) {
	failed := err != nil
	if nack, ok := AsNack(err); ok && nack.Status < 500 {
		failed = false
	}
	if !failed {
		if _, change := b.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "counterparty circuit closed", "target", b.Name())
		}
		return
	}
	if _, change := b.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "counterparty circuit opened", "target", b.Name())
	}
}

// AsNack extracts the counterparty rejection from err.
func AsNack(err error) (*NackError, bool) {
	var n *NackError
	if errors.As(err, &n) {
		return n, true
	}
	return nil, false
}

func isNack(err error) bool {
	_, ok := AsNack(err)
	return ok
}
