//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mobility-bap/internal/audit"
	"mobility-bap/internal/audit/store/postgres"
	"mobility-bap/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_log"))
}

func entry(id, action string, dir audit.Direction, at time.Time, payload string) audit.Entry {
	return audit.Entry{
		ID:            id,
		TransactionID: "txn-1",
		MessageID:     "msg-1",
		Action:        action,
		Direction:     dir,
		Source:        "bap.example.com",
		Destination:   "bpp.example.com",
		Payload:       json.RawMessage(payload),
		Headers:       map[string]string{"Authorization": "Signature keyId=\"bap|k1|ed25519\""},
		Status:        "ACK",
		Timestamp:     at.UTC().Truncate(time.Microsecond),
	}
}

func (s *StoreSuite) TestListsOldestFirstAndIgnoresReplays() {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	callback := entry("e2", "on_select", audit.DirectionInbound, base.Add(time.Second), `{"message": {"order": {}}}`)
	request := entry("e1", "select", audit.DirectionOutbound, base, `{"context":{"action":"select"}}`)

	s.Require().NoError(s.store.Append(ctx, callback))
	s.Require().NoError(s.store.Append(ctx, request))
	s.Require().NoError(s.store.Append(ctx, request))

	got, err := s.store.ListByTransaction(ctx, "txn-1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("e1", got[0].ID)
	s.Equal(audit.DirectionOutbound, got[0].Direction)
	s.Equal("e2", got[1].ID)
	s.JSONEq(`{"message":{"order":{}}}`, string(got[1].Payload))
	s.Equal(request.Headers, got[0].Headers)
	s.True(request.Timestamp.Equal(got[0].Timestamp))
}

func (s *StoreSuite) TestNonJSONPayloadIsKeptAsString() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, entry("e1", "on_search", audit.DirectionInbound, time.Now(), "not json")))

	got, err := s.store.ListByTransaction(ctx, "txn-1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.JSONEq(`"not json"`, string(got[0].Payload))
}
