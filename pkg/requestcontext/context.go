// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them without importing net/http.
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//	caller := requestcontext.NetworkSubscriber(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	riderIDKey           struct{}
	requestIDKey         struct{}
	requestTimeKey       struct{}
	networkSubscriberKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRiderID           = riderIDKey{}
	ContextKeyRequestID         = requestIDKey{}
	ContextKeyRequestTime       = requestTimeKey{}
	ContextKeyNetworkSubscriber = networkSubscriberKey{}
)

// RiderID retrieves the authenticated rider from the context, or "".
func RiderID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRiderID).(string); ok {
		return v
	}
	return ""
}

// WithRiderID injects the authenticated rider into the context.
func WithRiderID(ctx context.Context, riderID string) context.Context {
	return context.WithValue(ctx, ContextKeyRiderID, riderID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// NetworkSubscriber returns the subscriber id of a verified network caller.
func NetworkSubscriber(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyNetworkSubscriber).(string); ok {
		return v
	}
	return ""
}

// WithNetworkSubscriber records the subscriber id proven by signature verification.
func WithNetworkSubscriber(ctx context.Context, subscriberID string) context.Context {
	return context.WithValue(ctx, ContextKeyNetworkSubscriber, subscriberID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, synthetic callbacks, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
