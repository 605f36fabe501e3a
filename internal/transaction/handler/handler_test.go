package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/notify"
	"mobility-bap/internal/platform/logger"
	"mobility-bap/internal/transaction/handler/mocks"
	"mobility-bap/internal/transaction/models"
	"mobility-bap/internal/transaction/service"
	"mobility-bap/internal/transport/http/shared"
	dErrors "mobility-bap/pkg/domain-errors"
)

type recordedAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordedAudit) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordedAudit) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	svc    *mocks.MockService
	broker *notify.MemoryBroker
	audit  *recordedAudit
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	s.broker = notify.NewMemoryBroker(8)
	s.audit = &recordedAudit{}

	h := New(s.svc, s.broker, shared.Callbacks{
		Audit:         s.audit,
		SubscriberURI: "https://bap.example.com",
		Logger:        logger.Discard(),
	}, logger.Discard())
	r := chi.NewRouter()
	h.RegisterLocal(r)
	h.RegisterNetwork(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func callbackBody(action, txnID string) string {
	raw, _ := json.Marshal(beckn.Request{
		Context: beckn.Context{Action: action, TransactionID: txnID, MessageID: "m-1", BPPURI: "https://bpp.example.com"},
		Message: json.RawMessage(`{}`),
	})
	return string(raw)
}

// =============================================================================
// Rider API
// =============================================================================

func (s *HandlerSuite) TestSearch() {
	s.Run("returns the transaction id", func() {
		s.svc.EXPECT().
			Search(gomock.Any(), models.Location{Lat: 12.97, Lng: 77.59}, models.Location{Lat: 12.93, Lng: 77.62}).
			Return("txn-1", nil)

		rec, body := s.do(http.MethodPost, "/search", `{"origin":{"lat":12.97,"lng":77.59},"destination":{"lat":12.93,"lng":77.62}}`)

		s.Equal(http.StatusOK, rec.Code)
		s.Equal("txn-1", body["transactionId"])
	})

	s.Run("missing destination is a validation error", func() {
		rec, body := s.do(http.MethodPost, "/search", `{"origin":{"lat":12.97,"lng":77.59}}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeValidation), body["error"])
	})

	s.Run("malformed json", func() {
		rec, body := s.do(http.MethodPost, "/search", `{"origin":`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeBadRequest), body["error"])
	})

	s.Run("no gateway is a bad gateway", func() {
		s.svc.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", dErrors.New(dErrors.CodeUpstream, "no gateway available"))
		rec, body := s.do(http.MethodPost, "/search", `{"origin":{"lat":1,"lng":1},"destination":{"lat":2,"lng":2}}`)
		s.Equal(http.StatusBadGateway, rec.Code)
		s.Equal("no gateway available", body["error_description"])
	})

	s.Run("non-json content type is rejected", func() {
		req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader("origin=1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusUnsupportedMediaType, rec.Code)
	})
}

func (s *HandlerSuite) TestFollowUpActions() {
	s.Run("select", func() {
		s.svc.EXPECT().Select(gomock.Any(), "txn-1", "prov-1", "item-1").Return("msg-1", nil)
		rec, body := s.do(http.MethodPost, "/select", `{"transactionId":"txn-1","providerId":"prov-1","itemId":"item-1"}`)
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("msg-1", body["messageId"])
	})

	s.Run("init passes billing", func() {
		s.svc.EXPECT().Init(gomock.Any(), "txn-1", beckn.Billing{Name: "Asha", Phone: "9876543210"}).Return("msg-2", nil)
		rec, body := s.do(http.MethodPost, "/init", `{"transactionId":"txn-1","billing":{"name":"Asha","phone":"9876543210"}}`)
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("msg-2", body["messageId"])
	})

	s.Run("confirm before init is a conflict", func() {
		s.svc.EXPECT().Confirm(gomock.Any(), "txn-1").
			Return("", dErrors.New(dErrors.CodePrecondition, "confirm requires a completed init"))
		rec, body := s.do(http.MethodPost, "/confirm", `{"transactionId":"txn-1"}`)
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal(string(dErrors.CodePrecondition), body["error"])
	})

	s.Run("status", func() {
		s.svc.EXPECT().Status(gomock.Any(), "txn-1").Return("msg-3", nil)
		rec, _ := s.do(http.MethodPost, "/status", `{"transactionId":"txn-1"}`)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("cancel requires a reason", func() {
		rec, body := s.do(http.MethodPost, "/cancel", `{"transactionId":"txn-1"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeValidation), body["error"])
	})

	s.Run("cancel", func() {
		s.svc.EXPECT().Cancel(gomock.Any(), "txn-1", "7").Return("msg-4", nil)
		rec, body := s.do(http.MethodPost, "/cancel", `{"transactionId":"txn-1","reasonCode":"7"}`)
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("msg-4", body["messageId"])
	})

	s.Run("internal errors hide their description", func() {
		s.svc.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", dErrors.New(dErrors.CodeInternal, "database on fire"))
		rec, body := s.do(http.MethodPost, "/select", `{"transactionId":"txn-1","providerId":"p","itemId":"i"}`)
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.NotContains(body, "error_description")
	})
}

func (s *HandlerSuite) TestReads() {
	s.Run("results default to an empty list", func() {
		s.svc.EXPECT().Results(gomock.Any(), "txn-1").Return(nil, nil)
		rec, body := s.do(http.MethodGet, "/results/txn-1", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal([]any{}, body["results"])
	})

	s.Run("results", func() {
		s.svc.EXPECT().Results(gomock.Any(), "txn-1").Return([]models.Result{{
			ID: "item-1", ProviderID: "prov-1", Price: decimal.RequireFromString("120"), Currency: "INR",
		}}, nil)
		rec, body := s.do(http.MethodGet, "/results/txn-1", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Len(body["results"], 1)
	})

	s.Run("unknown transaction", func() {
		s.svc.EXPECT().Get(gomock.Any(), "nope").Return(nil, dErrors.New(dErrors.CodeNotFound, "transaction not found"))
		rec, _ := s.do(http.MethodGet, "/transactions/nope", "")
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("transaction snapshot", func() {
		s.svc.EXPECT().Get(gomock.Any(), "txn-1").Return(&models.Transaction{ID: "txn-1", Phase: models.PhaseConfirmed}, nil)
		rec, body := s.do(http.MethodGet, "/transactions/txn-1", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("CONFIRMED", body["status"])
	})
}

// =============================================================================
// Network callbacks
// =============================================================================

func (s *HandlerSuite) TestCallbacks() {
	s.Run("applied callback is acknowledged and audited", func() {
		s.svc.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req beckn.Request) error {
			s.Equal(beckn.ActionOnSearch, req.Context.Action)
			return nil
		})
		rec, body := s.do(http.MethodPost, "/on_search", callbackBody(beckn.ActionOnSearch, "txn-1"))

		s.Equal(http.StatusOK, rec.Code)
		s.Equal(map[string]any{"ack": map[string]any{"status": "ACK"}}, body["message"])
		entries := s.audit.all()
		s.Require().NotEmpty(entries)
		last := entries[len(entries)-1]
		s.Equal(audit.DirectionInbound, last.Direction)
		s.Equal("txn-1", last.TransactionID)
		s.Equal("https://bpp.example.com", last.Source)
	})

	s.Run("unknown transaction is acknowledged", func() {
		s.svc.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(service.ErrUnknownTransaction)
		rec, _ := s.do(http.MethodPost, "/on_select", callbackBody(beckn.ActionOnSelect, "ghost"))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("out of order callback is acknowledged", func() {
		s.svc.EXPECT().Handle(gomock.Any(), gomock.Any()).
			Return(dErrors.New(dErrors.CodePrecondition, "phase cannot move backwards"))
		rec, _ := s.do(http.MethodPost, "/on_init", callbackBody(beckn.ActionOnInit, "txn-1"))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("malformed message is a NACK 400", func() {
		s.svc.EXPECT().Handle(gomock.Any(), gomock.Any()).
			Return(dErrors.New(dErrors.CodeBadRequest, "on_select order has no quote"))
		rec, body := s.do(http.MethodPost, "/on_select", callbackBody(beckn.ActionOnSelect, "txn-1"))
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(map[string]any{"ack": map[string]any{"status": "NACK"}}, body["message"])
	})

	s.Run("internal failure is a NACK 500", func() {
		s.svc.EXPECT().Handle(gomock.Any(), gomock.Any()).
			Return(dErrors.New(dErrors.CodeInternal, "transaction store failure"))
		rec, _ := s.do(http.MethodPost, "/on_confirm", callbackBody(beckn.ActionOnConfirm, "txn-1"))
		s.Equal(http.StatusInternalServerError, rec.Code)
	})

	s.Run("action mismatch is rejected before the service", func() {
		rec, _ := s.do(http.MethodPost, "/on_status", callbackBody(beckn.ActionOnCancel, "txn-1"))
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("broken envelope is rejected", func() {
		rec, _ := s.do(http.MethodPost, "/on_cancel", `{"context":`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// Event stream
// =============================================================================

func TestEventsStream(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	broker := notify.NewMemoryBroker(8)
	svc.EXPECT().Get(gomock.Any(), "txn-1").Return(&models.Transaction{ID: "txn-1"}, nil)

	h := New(svc, broker, shared.Callbacks{Logger: logger.Discard()}, logger.Discard())
	r := chi.NewRouter()
	h.RegisterLocal(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/txn-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	event, err := notify.NewEvent("select", "txn-1", map[string]string{"status": "SELECT_INITIATED"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, event))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: select_update_txn-1\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, "SELECT_INITIATED")
}

func TestEventsUnknownTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().Get(gomock.Any(), "nope").Return(nil, dErrors.New(dErrors.CodeNotFound, "transaction not found"))

	h := New(svc, notify.NewMemoryBroker(1), shared.Callbacks{Logger: logger.Discard()}, logger.Discard())
	r := chi.NewRouter()
	h.RegisterLocal(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
