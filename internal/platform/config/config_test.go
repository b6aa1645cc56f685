package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, CacheMemory, cfg.CacheBackend)
		assert.Equal(t, 7*24*time.Hour, cfg.JurisdictionTTL)
		assert.Equal(t, 3, cfg.Upstreams.MaxAttempts)
		assert.Equal(t, "https://api-adresse.data.gouv.fr", cfg.Upstreams.GeocodeBaseURL)
		assert.Empty(t, cfg.Kafka.Brokers)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DEMARCHES_ADDR", ":9090")
		t.Setenv("CACHE_BACKEND", "Redis")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("JURISDICTION_CACHE_TTL", "36h")
		t.Setenv("UPSTREAM_MAX_ATTEMPTS", "5")
		t.Setenv("POSTAL_TRUNCATION", "true")
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

		cfg, err := FromEnv()
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, CacheRedis, cfg.CacheBackend)
		assert.Equal(t, 36*time.Hour, cfg.JurisdictionTTL)
		assert.Equal(t, 5, cfg.Upstreams.MaxAttempts)
		assert.True(t, cfg.PostalTruncation)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("UPSTREAM_TIMEOUT", "ten seconds")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UPSTREAM_TIMEOUT")
	})

	t.Run("backend without its connection string", func(t *testing.T) {
		t.Setenv("CACHE_BACKEND", "postgres")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("CACHE_BACKEND", "memcached")

		_, err := FromEnv()
		assert.Error(t, err)
	})

	t.Run("non positive ttl", func(t *testing.T) {
		t.Setenv("JURISDICTION_CACHE_TTL", "0s")

		_, err := FromEnv()
		assert.Error(t, err)
	})
}
