// Package handler exposes grievances over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/grievance"
	"mobility-bap/internal/transport/http/shared"
	dErrors "mobility-bap/pkg/domain-errors"
	request "mobility-bap/pkg/platform/middleware/request"
)

type Service interface {
	CreateIssue(ctx context.Context, req grievance.CreateIssueRequest) (*grievance.Grievance, error)
	CloseIssue(ctx context.Context, issueID string) (*grievance.Grievance, error)
	IssueStatus(ctx context.Context, issueID string) (string, error)
	OnIssue(ctx context.Context, req beckn.Request) error
	Get(ctx context.Context, issueID string) (*grievance.Grievance, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*grievance.Grievance, error)
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
	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(30 * time.Second))
		r.Use(request.ContentTypeJSON)
		r.Post("/issue", h.handleCreate)
		r.Post("/issue_status", h.handleStatus)
		r.Post("/issue/close", h.handleClose)
		r.Get("/issues", h.handleList)
		r.Get("/issues/{issueId}", h.handleGet)
	})
}

func (h *Handler) RegisterNetwork(r chi.Router) {
	r.Post("/"+beckn.ActionOnIssue, h.callbacks.Handle(beckn.ActionOnIssue, h.handleCallback))
	r.Post("/"+beckn.ActionOnIssueStatus, h.callbacks.Handle(beckn.ActionOnIssueStatus, h.handleCallback))
}

func (h *Handler) handleCallback(ctx context.Context, req beckn.Request) error {
	err := h.svc.OnIssue(ctx, req)
	if errors.Is(err, grievance.ErrUnknownIssue) {
		return nil
	}
	return err
}

type issueRef struct {
	IssueID string `json:"issueId" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req grievance.CreateIssueRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "create issue", err)
		return
	}
	g, err := h.svc.CreateIssue(r.Context(), req)
	if err != nil {
		// The issue is stored even when the provider could not be reached.
		if g != nil && dErrors.HasCode(err, dErrors.CodeUpstream) {
			h.logger.WarnContext(r.Context(), "issue stored but not delivered",
				"issue_id", g.IssueID,
				"error", err,
			)
			shared.WriteJSON(w, http.StatusAccepted, g)
			return
		}
		h.fail(w, r, "create issue", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, g)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req issueRef
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "issue status", err)
		return
	}
	msgID, err := h.svc.IssueStatus(r.Context(), req.IssueID)
	if err != nil {
		h.fail(w, r, "issue status", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"messageId": msgID})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	var req issueRef
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "close issue", err)
		return
	}
	g, err := h.svc.CloseIssue(r.Context(), req.IssueID)
	if err != nil && (g == nil || !dErrors.HasCode(err, dErrors.CodeUpstream)) {
		h.fail(w, r, "close issue", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Get(r.Context(), chi.URLParam(r, "issueId"))
	if err != nil {
		h.fail(w, r, "get issue", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	txnID := r.URL.Query().Get("transactionId")
	if txnID == "" {
		h.fail(w, r, "list issues", dErrors.New(dErrors.CodeBadRequest, "transactionId is required"))
		return
	}
	issues, err := h.svc.ListByTransaction(r.Context(), txnID)
	if err != nil {
		h.fail(w, r, "list issues", err)
		return
	}
	if issues == nil {
		issues = []*grievance.Grievance{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	h.logger.WarnContext(ctx, op+" failed",
		"code", dErrors.CodeOf(err),
		"error", err,
		"request_id", request.GetRequestID(ctx),
	)
	shared.WriteError(w, err)
}
