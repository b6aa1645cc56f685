//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"demarches/internal/jurisdiction/store"
	"demarches/pkg/platform/sentinel"
	"demarches/pkg/testutil/containers"
)

type PostgresCacheSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	cache    *store.PostgresCache
}

func TestPostgresCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCacheSuite))
}

func (s *PostgresCacheSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.cache = store.NewPostgresCache(s.postgres.Pool)
	s.Require().NoError(s.cache.EnsureSchema(context.Background()))
}

func (s *PostgresCacheSuite) SetupTest() {
	_, err := s.postgres.Pool.Exec(context.Background(), `TRUNCATE jurisdiction_cache`)
	s.Require().NoError(err)
}

func (s *PostgresCacheSuite) TestRoundTrip() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "lyon", makeJurisdiction(), time.Hour))

	got, err := s.cache.Get(ctx, "lyon")
	s.Require().NoError(err)
	s.Equal("pref-69", got.PrefectureID)
	s.Equal("Lyon", got.Code.CommuneName)
}

func (s *PostgresCacheSuite) TestUpsertReplacesEntry() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "lyon", makeJurisdiction(), time.Hour))

	updated := makeJurisdiction()
	updated.CAFOfficeID = "caf-692"
	s.Require().NoError(s.cache.Put(ctx, "lyon", updated, time.Hour))

	got, err := s.cache.Get(ctx, "lyon")
	s.Require().NoError(err)
	s.Equal("caf-692", got.CAFOfficeID)
}

func (s *PostgresCacheSuite) TestExpiredEntryIsNotServed() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "stale", makeJurisdiction(), -time.Minute))

	_, err := s.cache.Get(ctx, "stale")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresCacheSuite) TestEnsureSchemaIsIdempotent() {
	s.NoError(s.cache.EnsureSchema(context.Background()))
}

func (s *PostgresCacheSuite) TestNilJurisdictionRejected() {
	s.Error(s.cache.Put(context.Background(), "nil", nil, time.Hour))
}
