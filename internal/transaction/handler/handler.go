//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Package handler exposes the booking flow over HTTP: the rider-facing API,
// the progress stream and the network callbacks.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/notify"
	"mobility-bap/internal/transaction/models"
	"mobility-bap/internal/transaction/service"
	"mobility-bap/internal/transport/http/shared"
	dErrors "mobility-bap/pkg/domain-errors"
	request "mobility-bap/pkg/platform/middleware/request"
)

// Service is the booking engine as seen by HTTP.
type Service interface {
	Search(ctx context.Context, origin, destination models.Location) (string, error)
	Select(ctx context.Context, transactionID, providerID, itemID string) (string, error)
	Init(ctx context.Context, transactionID string, billing beckn.Billing) (string, error)
	Confirm(ctx context.Context, transactionID string) (string, error)
	Status(ctx context.Context, transactionID string) (string, error)
	Cancel(ctx context.Context, transactionID, reasonCode string) (string, error)
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	Results(ctx context.Context, transactionID string) ([]models.Result, error)
	Handle(ctx context.Context, req beckn.Request) error
}

type Handler struct {
	svc       Service
	events    notify.Subscriber
	callbacks shared.Callbacks
	logger    *slog.Logger
	timeout   time.Duration
	keepAlive time.Duration
}

func New(svc Service, events notify.Subscriber, callbacks shared.Callbacks, logger *slog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		events:    events,
		callbacks: callbacks,
		logger:    logger,
		timeout:   30 * time.Second,
		keepAlive: 15 * time.Second,
	}
}

// RegisterLocal mounts the rider-facing routes.
func (h *Handler) RegisterLocal(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(h.timeout))
		r.Use(request.ContentTypeJSON)
		r.Post("/search", h.handleSearch)
		r.Post("/select", h.handleSelect)
		r.Post("/init", h.handleInit)
		r.Post("/confirm", h.handleConfirm)
		r.Post("/status", h.handleStatus)
		r.Post("/cancel", h.handleCancel)
		r.Get("/results/{transactionId}", h.handleResults)
		r.Get("/transactions/{transactionId}", h.handleGet)
	})
	r.Get("/events/{transactionId}", h.handleEvents)
}

// RegisterNetwork mounts the booking callbacks. The router is expected to
// verify signatures.
func (h *Handler) RegisterNetwork(r chi.Router) {
	for _, action := range []string{
		beckn.ActionOnSearch,
		beckn.ActionOnSelect,
		beckn.ActionOnInit,
		beckn.ActionOnConfirm,
		beckn.ActionOnStatus,
		beckn.ActionOnCancel,
	} {
		r.Post("/"+action, h.callbacks.Handle(action, h.handleCallback))
	}
}

// handleCallback acknowledges callbacks for unknown transactions and
// callbacks that arrive out of order; both are logged by the service.
func (h *Handler) handleCallback(ctx context.Context, req beckn.Request) error {
	err := h.svc.Handle(ctx, req)
	if errors.Is(err, service.ErrUnknownTransaction) || dErrors.HasCode(err, dErrors.CodePrecondition) {
		return nil
	}
	return err
}

type searchRequest struct {
	Origin      *models.Location `json:"origin" validate:"required"`
	Destination *models.Location `json:"destination" validate:"required"`
}

type selectRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	ProviderID    string `json:"providerId" validate:"required"`
	ItemID        string `json:"itemId" validate:"required"`
}

type initRequest struct {
	TransactionID string        `json:"transactionId" validate:"required"`
	Billing       beckn.Billing `json:"billing"`
}

type transactionRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
}

type cancelRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	ReasonCode    string `json:"reasonCode" validate:"required"`
}

type messageResponse struct {
	MessageID string `json:"messageId"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "search", err)
		return
	}
	txnID, err := h.svc.Search(r.Context(), *req.Origin, *req.Destination)
	if err != nil {
		h.fail(w, r, "search", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"transactionId": txnID})
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "select", err)
		return
	}
	h.respondMessage(w, r, "select", func(ctx context.Context) (string, error) {
		return h.svc.Select(ctx, req.TransactionID, req.ProviderID, req.ItemID)
	})
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "init", err)
		return
	}
	h.respondMessage(w, r, "init", func(ctx context.Context) (string, error) {
		return h.svc.Init(ctx, req.TransactionID, req.Billing)
	})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "confirm", err)
		return
	}
	h.respondMessage(w, r, "confirm", func(ctx context.Context) (string, error) {
		return h.svc.Confirm(ctx, req.TransactionID)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "status", err)
		return
	}
	h.respondMessage(w, r, "status", func(ctx context.Context) (string, error) {
		return h.svc.Status(ctx, req.TransactionID)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "cancel", err)
		return
	}
	h.respondMessage(w, r, "cancel", func(ctx context.Context) (string, error) {
		return h.svc.Cancel(ctx, req.TransactionID, req.ReasonCode)
	})
}

func (h *Handler) respondMessage(w http.ResponseWriter, r *http.Request, op string, call func(context.Context) (string, error)) {
	msgID, err := call(r.Context())
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, messageResponse{MessageID: msgID})
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.Results(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		h.fail(w, r, "results", err)
		return
	}
	if results == nil {
		results = []models.Result{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Get(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, txn)
}

// handleEvents streams the transaction's progress as server-sent events
// until the client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txnID := chi.URLParam(r, "transactionId")
	if _, err := h.svc.Get(ctx, txnID); err != nil {
		h.fail(w, r, "events", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}
	sub, err := h.events.Subscribe(ctx, notify.TransactionTopics(txnID)...)
	if err != nil {
		h.fail(w, r, "events", dErrors.Wrap(err, dErrors.CodeInternal, "subscribe failed"))
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WarnContext(ctx, "failed to encode event", "topic", event.Topic, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	} else {
		h.logger.WarnContext(ctx, op+" rejected",
			"code", code,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
	shared.WriteError(w, err)
}
