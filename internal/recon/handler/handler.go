// Package handler receives settlement reports and serves settlement lookups.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/recon"
	"mobility-bap/internal/transport/http/shared"
	dErrors "mobility-bap/pkg/domain-errors"
)

type Service interface {
	OnReceiverRecon(ctx context.Context, req beckn.Request) (recon.Summary, error)
	Get(ctx context.Context, orderID string) (*recon.SettlementRecord, error)
}

type Handler struct {
	svc       Service
	callbacks shared.Callbacks
	logger    *slog.Logger
}

func New(svc Service, callbacks shared.Callbacks, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, callbacks: callbacks, logger: logger}
}

func (h *Handler) RegisterLocal(r chi.Router) {
	r.Get("/settlements/{orderId}", h.handleGet)
}

func (h *Handler) RegisterNetwork(r chi.Router) {
	r.Post("/"+beckn.ActionOnReceiverRecon, h.callbacks.Handle(beckn.ActionOnReceiverRecon, h.handleRecon))
}

// handleRecon acknowledges a batch once its envelope is readable; individual
// bad lines are reported in the logs, not to the sender.
func (h *Handler) handleRecon(ctx context.Context, req beckn.Request) error {
	summary, err := h.svc.OnReceiverRecon(ctx, req)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		h.logger.WarnContext(ctx, "settlement batch partially applied",
			"transaction_id", req.Context.TransactionID,
			"processed", summary.Processed,
			"failed", summary.Failed,
		)
	}
	return nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(r.Context(), "settlement lookup failed", "error", err)
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, rec)
}
