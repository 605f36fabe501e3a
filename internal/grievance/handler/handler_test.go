package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/grievance"
	"mobility-bap/internal/platform/logger"
	"mobility-bap/internal/transport/http/shared"
	dErrors "mobility-bap/pkg/domain-errors"
)

type fakeService struct {
	created   grievance.CreateIssueRequest
	createErr error
	onIssue   error
	issues    map[string]*grievance.Grievance
}

func (f *fakeService) CreateIssue(_ context.Context, req grievance.CreateIssueRequest) (*grievance.Grievance, error) {
	f.created = req
	g := &grievance.Grievance{IssueID: "issue-1", TransactionID: req.TransactionID, Status: grievance.StatusOpen}
	return g, f.createErr
}

func (f *fakeService) CloseIssue(_ context.Context, issueID string) (*grievance.Grievance, error) {
	g, ok := f.issues[issueID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "issue not found")
	}
	g.Status = grievance.StatusClosed
	return g, nil
}

func (f *fakeService) IssueStatus(_ context.Context, issueID string) (string, error) {
	if _, ok := f.issues[issueID]; !ok {
		return "", dErrors.New(dErrors.CodeNotFound, "issue not found")
	}
	return "msg-1", nil
}

func (f *fakeService) OnIssue(context.Context, beckn.Request) error { return f.onIssue }

func (f *fakeService) Get(_ context.Context, issueID string) (*grievance.Grievance, error) {
	g, ok := f.issues[issueID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "issue not found")
	}
	return g, nil
}

func (f *fakeService) ListByTransaction(_ context.Context, transactionID string) ([]*grievance.Grievance, error) {
	var out []*grievance.Grievance
	for _, g := range f.issues {
		if g.TransactionID == transactionID {
			out = append(out, g)
		}
	}
	return out, nil
}

func newRouter(svc Service) chi.Router {
	h := New(svc, shared.Callbacks{Logger: logger.Discard()}, logger.Discard())
	r := chi.NewRouter()
	h.RegisterLocal(r)
	h.RegisterNetwork(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

const createBody = `{
	"transactionId": "txn-1",
	"category": "FULFILLMENT",
	"subCategory": "FLM08",
	"description": "Driver took a longer route",
	"complainant": {"name": "Asha", "phone": "9876543210"}
}`

func TestCreateIssue(t *testing.T) {
	t.Run("201 with the stored issue", func(t *testing.T) {
		svc := &fakeService{}
		status, body := do(t, newRouter(svc), http.MethodPost, "/issue", createBody)
		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "issue-1", body["issueId"])
		assert.Equal(t, "FLM08", svc.created.SubCategory)
	})

	t.Run("400 when the category is unknown", func(t *testing.T) {
		status, body := do(t, newRouter(&fakeService{}), http.MethodPost, "/issue",
			strings.Replace(createBody, "FULFILLMENT", "WEATHER", 1))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(dErrors.CodeValidation), body["error"])
	})

	t.Run("202 when stored but not delivered", func(t *testing.T) {
		svc := &fakeService{createErr: dErrors.New(dErrors.CodeUpstream, "issue not accepted by provider")}
		status, body := do(t, newRouter(svc), http.MethodPost, "/issue", createBody)
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, "OPEN", body["status"])
	})

	t.Run("409 when no provider was selected", func(t *testing.T) {
		svc := &fakeService{createErr: grievance.ErrNoCounterparty}
		status, _ := do(t, newRouter(svc), http.MethodPost, "/issue", createBody)
		assert.Equal(t, http.StatusConflict, status)
	})
}

func TestIssueLifecycleRoutes(t *testing.T) {
	svc := &fakeService{issues: map[string]*grievance.Grievance{
		"issue-1": {IssueID: "issue-1", TransactionID: "txn-1", Status: grievance.StatusProcessing},
	}}
	r := newRouter(svc)

	status, body := do(t, r, http.MethodPost, "/issue_status", `{"issueId":"issue-1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "msg-1", body["messageId"])

	status, _ = do(t, r, http.MethodPost, "/issue_status", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, r, http.MethodGet, "/issues/issue-1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PROCESSING", body["status"])

	status, body = do(t, r, http.MethodGet, "/issues?transactionId=txn-1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["issues"], 1)

	status, _ = do(t, r, http.MethodGet, "/issues", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, r, http.MethodPost, "/issue/close", `{"issueId":"issue-1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CLOSED", body["status"])

	status, _ = do(t, r, http.MethodGet, "/issues/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestIssueCallbacks(t *testing.T) {
	body := `{"context":{"action":"on_issue","transaction_id":"txn-1","message_id":"m-1"},"message":{"issue":{"id":"issue-9"}}}`

	t.Run("unknown issue is acknowledged", func(t *testing.T) {
		status, _ := do(t, newRouter(&fakeService{onIssue: grievance.ErrUnknownIssue}), http.MethodPost, "/on_issue", body)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("store failure is a NACK 500", func(t *testing.T) {
		svc := &fakeService{onIssue: dErrors.New(dErrors.CodeInternal, "grievance store failure")}
		status, _ := do(t, newRouter(svc), http.MethodPost, "/on_issue", body)
		assert.Equal(t, http.StatusInternalServerError, status)
	})

	t.Run("on_issue_status shares the merge", func(t *testing.T) {
		statusBody := strings.Replace(body, `"on_issue"`, `"on_issue_status"`, 1)
		status, _ := do(t, newRouter(&fakeService{}), http.MethodPost, "/on_issue_status", statusBody)
		assert.Equal(t, http.StatusOK, status)
	})
}
