//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"demarches/internal/jurisdiction/models"
	"demarches/internal/jurisdiction/store"
	"demarches/pkg/platform/sentinel"
	"demarches/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *store.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = store.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeJurisdiction() *models.Jurisdiction {
	return &models.Jurisdiction{
		Code: models.AdministrativeCode{
			CommuneCode:    "69123",
			DepartmentCode: "69",
			RegionCode:     "84",
			CommuneName:    "Lyon",
		},
		PrefectureID: "pref-69",
		CAFOfficeID:  "caf-691",
		CPAMOfficeID: "cpam-691",
		HolidayZone:  "metropole",
		Location: models.GeoPoint{
			Latitude:   45.764,
			Longitude:  4.8357,
			Confidence: 0.91,
			Label:      "Place Bellecour 69002 Lyon",
		},
		ResolvedAt: time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC),
	}
}

func (s *RedisCacheSuite) TestRoundTrip() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "place bellecour 69002 lyon", makeJurisdiction(), time.Minute))

	got, err := s.cache.Get(ctx, "place bellecour 69002 lyon")
	s.Require().NoError(err)
	s.Equal("69123", got.Code.CommuneCode)
	s.Equal("caf-691", got.CAFOfficeID)
	s.InDelta(0.91, got.Location.Confidence, 1e-9)
	s.True(got.ResolvedAt.Equal(makeJurisdiction().ResolvedAt))
}

func (s *RedisCacheSuite) TestMissingKey() {
	_, err := s.cache.Get(context.Background(), "nowhere")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCacheSuite) TestKeyExpires() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "short", makeJurisdiction(), time.Second))

	s.Eventually(func() bool {
		_, err := s.cache.Get(ctx, "short")
		return err != nil
	}, 5*time.Second, 100*time.Millisecond)

	_, err := s.cache.Get(ctx, "short")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCacheSuite) TestKeysArePrefixed() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "abc", makeJurisdiction(), time.Minute))

	n, err := s.redis.Client.Exists(ctx, "demarches:jurisdiction:abc").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}
