package shared

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/platform/middleware"
	dErrors "mobility-bap/pkg/domain-errors"
	request "mobility-bap/pkg/platform/middleware/request"
)

// AuditRecorder receives every inbound callback before it is processed.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// CallbackFunc applies a decoded callback. Returning nil acknowledges it.
type CallbackFunc func(ctx context.Context, req beckn.Request) error

// Callbacks turns CallbackFuncs into network endpoints.
type Callbacks struct {
	Audit         AuditRecorder
	SubscriberURI string
	Logger        *slog.Logger
}

// Handle answers ACK when fn succeeds, NACK 400 when the message is
// malformed, and NACK 500 otherwise. The raw body is audited as received
// before fn runs.
func (c Callbacks) Handle(action string, fn CallbackFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := middleware.RawBody(ctx)
		if raw == nil {
			body, err := io.ReadAll(io.LimitReader(r.Body, middleware.MaxCallbackBytes))
			if err != nil {
				middleware.WriteAck(w, http.StatusBadRequest, beckn.NewNACK("CONTEXT-ERROR", "10000", "unreadable request body"))
				return
			}
			raw = body
		}

		var req beckn.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.Logger.WarnContext(ctx, "malformed callback",
				"action", action,
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			middleware.WriteAck(w, http.StatusBadRequest, beckn.NewNACK("JSON-SCHEMA-ERROR", "30000", "invalid callback envelope"))
			return
		}
		if req.Context.Action != action {
			middleware.WriteAck(w, http.StatusBadRequest,
				beckn.NewNACK("CONTEXT-ERROR", "10001", "context.action must be "+action))
			return
		}

		if c.Audit != nil {
			c.Audit.Record(ctx, audit.Entry{
				TransactionID: req.Context.TransactionID,
				MessageID:     req.Context.MessageID,
				Action:        req.Context.Action,
				Direction:     audit.DirectionInbound,
				Source:        req.Context.BPPURI,
				Destination:   c.SubscriberURI,
				Payload:       json.RawMessage(raw),
				Headers:       map[string]string{"Authorization": r.Header.Get("Authorization")},
				Status:        "RECEIVED",
			})
		}

		err := fn(ctx, req)
		switch {
		case err == nil:
			middleware.WriteAck(w, http.StatusOK, beckn.NewACK())
		case dErrors.HasCode(err, dErrors.CodeBadRequest), dErrors.HasCode(err, dErrors.CodeValidation):
			middleware.WriteAck(w, http.StatusBadRequest, beckn.NewNACK("JSON-SCHEMA-ERROR", "30000", dErrors.MessageOf(err)))
		default:
			c.Logger.ErrorContext(ctx, "callback processing failed",
				"action", action,
				"transaction_id", req.Context.TransactionID,
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			middleware.WriteAck(w, http.StatusInternalServerError, beckn.NewNACK("CORE-ERROR", "40000", "internal error"))
		}
	}
}
