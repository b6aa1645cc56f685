//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"demarches/internal/ratelimit"
	"demarches/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestAdmitsUpToLimit() {
	ctx := context.Background()
	for i := range 3 {
		res, err := s.store.AllowN(ctx, "assessment:203.0.113.7", 1, 3, time.Hour)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}
	res, err := s.store.AllowN(ctx, "assessment:203.0.113.7", 1, 3, time.Hour)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.True(res.ResetAt.After(time.Now()))
}

func (s *RedisStoreSuite) TestWindowKeyExpires() {
	ctx := context.Background()
	_, err := s.store.AllowN(ctx, "lookup:198.51.100.1", 1, 5, time.Hour)
	s.Require().NoError(err)

	keys, err := s.redis.Client.Keys(ctx, "demarches:ratelimit:lookup:198.51.100.1:*").Result()
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	ttl, err := s.redis.Client.TTL(ctx, keys[0]).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}
