// Package middleware holds the network-facing middleware: signature
// verification on callbacks and route latency metrics.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/signing"
	request "mobility-bap/pkg/platform/middleware/request"
	"mobility-bap/pkg/requestcontext"
)

// MaxCallbackBytes bounds a callback body.
const MaxCallbackBytes = 2 << 20

// SignatureVerifier checks the network Authorization header over the body.
type SignatureVerifier interface {
	Verify(ctx context.Context, header string, body []byte) (signing.Header, error)
}

type rawBodyKey struct{}

// RawBody returns the exact verified bytes of the request body.
func RawBody(ctx context.Context) []byte {
	if b, ok := ctx.Value(rawBodyKey{}).([]byte); ok {
		return b
	}
	return nil
}

// reasonKeyUnavailable labels verifications that could not run because the
// registry was unreachable.
const reasonKeyUnavailable = "registry_unavailable"

// VerifySignature rejects callbacks whose Authorization header does not
// verify with a NACK and 401. A registry outage is answered with a NACK and
// 503 so the sender can redeliver. Verified requests carry the raw body and
// the caller's subscriber id in their context.
func VerifySignature(verifier SignatureVerifier, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxCallbackBytes+1))
			if err != nil || len(body) > MaxCallbackBytes {
				logger.WarnContext(ctx, "unreadable callback body",
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				WriteAck(w, http.StatusBadRequest, beckn.NewNACK("CONTEXT-ERROR", "10000", "unreadable request body"))
				return
			}

			header, err := verifier.Verify(ctx, r.Header.Get("Authorization"), body)
			if err != nil {
				ae, ok := signing.AsAuthError(err)
				if !ok {
					m.IncSignatureFailure(reasonKeyUnavailable)
					logger.ErrorContext(ctx, "callback signature not checked",
						"path", r.URL.Path,
						"error", err,
						"request_id", request.GetRequestID(ctx),
					)
					WriteAck(w, http.StatusServiceUnavailable, beckn.NewNACK("CORE-ERROR", "20000", "signing key could not be resolved"))
					return
				}
				code := string(ae.Code)
				m.IncSignatureFailure(code)
				logger.WarnContext(ctx, "callback signature rejected",
					"path", r.URL.Path,
					"reason", code,
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				WriteAck(w, http.StatusUnauthorized, beckn.NewNACK("POLICY-ERROR", code, "signature verification failed"))
				return
			}

			ctx = requestcontext.WithNetworkSubscriber(ctx, header.SubscriberID)
			ctx = context.WithValue(ctx, rawBodyKey{}, body)
			r = r.WithContext(ctx)
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// WriteAck writes a protocol ACK or NACK envelope.
func WriteAck(w http.ResponseWriter, status int, ack beckn.AckResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LatencyMiddleware observes handler latency labelled by route.
func LatencyMiddleware(m *metrics.Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.ObserveHTTP(route, sw.status, time.Since(start))
		})
	}
}
