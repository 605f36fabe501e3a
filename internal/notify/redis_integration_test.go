//go:build integration

package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mobility-bap/internal/notify"
	"mobility-bap/internal/platform/logger"
	"mobility-bap/pkg/testutil/containers"
)

type RedisBrokerSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisBrokerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBrokerSuite))
}

func (s *RedisBrokerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

// TestEventsCrossInstances publishes on one broker and receives on another
// sharing the same Redis, as two replicas would.
func (s *RedisBrokerSuite) TestEventsCrossInstances() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publisher := notify.NewRedisBroker(s.redis.Client, 8, logger.Discard())
	subscriber := notify.NewRedisBroker(s.redis.Client, 8, logger.Discard())

	sub, err := subscriber.Subscribe(ctx, notify.TransactionTopics("txn-1")...)
	s.Require().NoError(err)
	defer sub.Close()

	other, err := notify.NewEvent("on_select", "txn-2", nil, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(publisher.Publish(ctx, other))

	event, err := notify.NewEvent("on_select", "txn-1", map[string]string{"status": "QUOTE_RECEIVED"}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(publisher.Publish(ctx, event))

	select {
	case got := <-sub.Events():
		s.Equal(notify.Topic("on_select", "txn-1"), got.Topic)
		s.Equal("txn-1", got.TransactionID)
		s.JSONEq(`{"status":"QUOTE_RECEIVED"}`, string(got.Payload))
	case <-ctx.Done():
		s.Fail("event not delivered")
	}
}

func (s *RedisBrokerSuite) TestCloseEndsStream() {
	ctx := context.Background()
	broker := notify.NewRedisBroker(s.redis.Client, 8, logger.Discard())
	sub, err := broker.Subscribe(ctx, notify.Topic("on_status", "txn-3"))
	s.Require().NoError(err)
	s.Require().NoError(sub.Close())

	select {
	case _, open := <-sub.Events():
		s.False(open)
	case <-time.After(5 * time.Second):
		s.Fail("stream not closed")
	}
}
