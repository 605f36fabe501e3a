//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mobility-bap/internal/registry/cache"
	"mobility-bap/pkg/testutil/containers"
)

type RedisBackendSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	backend *cache.Redis
}

func TestRedisBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBackendSuite))
}

func (s *RedisBackendSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.backend = cache.NewRedis(s.redis.Client)
}

func (s *RedisBackendSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBackendSuite) TestStoreLoadDelete() {
	ctx := context.Background()
	_, ok, err := s.backend.Load(ctx, "bpp.example.com|k1")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.backend.Store(ctx, "bpp.example.com|k1", []byte("pubkey"), time.Minute))
	got, ok, err := s.backend.Load(ctx, "bpp.example.com|k1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]byte("pubkey"), got)

	s.Require().NoError(s.backend.Delete(ctx, "bpp.example.com|k1"))
	_, ok, err = s.backend.Load(ctx, "bpp.example.com|k1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisBackendSuite) TestEntriesExpire() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Store(ctx, "short", []byte("x"), 100*time.Millisecond))
	s.Eventually(func() bool {
		_, ok, err := s.backend.Load(ctx, "short")
		return err == nil && !ok
	}, 3*time.Second, 50*time.Millisecond)
}
