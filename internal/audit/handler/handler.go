// Package handler serves the audit trail export.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/transport/http/shared"
	dErrors "mobility-bap/pkg/domain-errors"
)

type Exporter interface {
	Export(ctx context.Context, transactionID string) ([]audit.Exchange, error)
}

type Handler struct {
	exporter Exporter
	logger   *slog.Logger
}

func New(exporter Exporter, logger *slog.Logger) *Handler {
	return &Handler{exporter: exporter, logger: logger}
}

// Register mounts GET /export-logs?txnId=. Callers wrap r with the admin
// guard.
func (h *Handler) Register(r chi.Router) {
	r.Get("/export-logs", h.handleExport)
}

type exportResponse struct {
	TransactionID string           `json:"transactionId"`
	Exchanges     []audit.Exchange `json:"exchanges"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	txnID := r.URL.Query().Get("txnId")
	exchanges, err := h.exporter.Export(r.Context(), txnID)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(r.Context(), "audit export failed", "transaction_id", txnID, "error", err)
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, exportResponse{TransactionID: txnID, Exchanges: exchanges})
}
