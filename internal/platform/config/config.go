// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "demarches/pkg/platform/strings"
)

type CacheBackend string

const (
	CacheMemory   CacheBackend = "memory"
	CacheRedis    CacheBackend = "redis"
	CachePostgres CacheBackend = "postgres"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
}

// Upstreams holds base URLs and the shared retry policy of the public APIs.
type Upstreams struct {
	GeocodeBaseURL   string
	GeoBaseURL       string
	HolidaysBaseURL  string
	SimulatorBaseURL string
	Timeout          time.Duration
	MaxAttempts      int
	UserAgent        string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL      string
	MaxConns int32
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Tables points at YAML overrides of the embedded reference tables. Empty uses the
// compiled-in default.
type Tables struct {
	OfficesFile string
	CatalogFile string
	RulesFile   string
}

// RateLimit bounds the upstream lookups one client IP may trigger per minute.
type RateLimit struct {
	Disabled  bool
	PerMinute int
}

type Config struct {
	Server           Server
	RateLimit        RateLimit
	Upstreams        Upstreams
	CacheBackend     CacheBackend
	JurisdictionTTL  time.Duration
	PostalTruncation bool
	Redis            RedisConfig
	Postgres         PostgresConfig
	Kafka            KafkaConfig
	Tables           Tables
}

// FromEnv builds a Config from environment variables so main stays lean. Malformed
// values are errors rather than silent defaults.
func FromEnv() (Config, error) {
	e := &env{}
	cfg := Config{
		Server: Server{
			Addr:           e.str("DEMARCHES_ADDR", ":8080"),
			RequestTimeout: e.duration("REQUEST_TIMEOUT", 30*time.Second),
			LogLevel:       e.str("LOG_LEVEL", "info"),
			LogFormat:      e.str("LOG_FORMAT", "json"),
		},
		Upstreams: Upstreams{
			GeocodeBaseURL:   e.str("GEOCODE_BASE_URL", "https://api-adresse.data.gouv.fr"),
			GeoBaseURL:       e.str("GEO_BASE_URL", "https://geo.api.gouv.fr"),
			HolidaysBaseURL:  e.str("HOLIDAYS_BASE_URL", "https://calendrier.api.gouv.fr"),
			SimulatorBaseURL: e.str("SIMULATOR_BASE_URL", "https://api.fr.openfisca.org/latest"),
			Timeout:          e.duration("UPSTREAM_TIMEOUT", 10*time.Second),
			MaxAttempts:      e.integer("UPSTREAM_MAX_ATTEMPTS", 3),
			UserAgent:        e.str("UPSTREAM_USER_AGENT", "demarches/1.0"),
		},
		RateLimit: RateLimit{
			Disabled:  e.boolean("RATE_LIMIT_DISABLED", false),
			PerMinute: e.integer("RATE_LIMIT_PER_MINUTE", 120),
		},
		CacheBackend:     CacheBackend(strings.ToLower(e.str("CACHE_BACKEND", string(CacheMemory)))),
		JurisdictionTTL:  e.duration("JURISDICTION_CACHE_TTL", 7*24*time.Hour),
		PostalTruncation: e.boolean("POSTAL_TRUNCATION", false),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:      e.str("DATABASE_URL", ""),
			MaxConns: int32(e.integer("DATABASE_MAX_CONNS", 10)),
		},
		Kafka: KafkaConfig{
			Brokers: e.list("KAFKA_BROKERS"),
			Topic:   e.str("DEADLINE_TOPIC", "demarches.deadlines"),
		},
		Tables: Tables{
			OfficesFile: e.str("OFFICES_FILE", ""),
			CatalogFile: e.str("CATALOG_FILE", ""),
			RulesFile:   e.str("RULES_FILE", ""),
		},
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("config: CACHE_BACKEND=redis requires REDIS_URL")
		}
	case CachePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("config: CACHE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.JurisdictionTTL <= 0 {
		return fmt.Errorf("config: JURISDICTION_CACHE_TTL must be positive")
	}
	if !c.RateLimit.Disabled && c.RateLimit.PerMinute < 1 {
		return fmt.Errorf("config: RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.Upstreams.MaxAttempts < 1 {
		return fmt.Errorf("config: UPSTREAM_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// env reads typed variables and keeps the first parse error.
type env struct {
	err error
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) list(key string) []string {
	return platformstrings.SplitList(e.str(key, ""))
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s=%q: %w", key, value, err)
	}
}
