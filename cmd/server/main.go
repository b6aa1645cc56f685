package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"demarches/internal/assessment"
	"demarches/internal/calendar"
	"demarches/internal/deadline"
	"demarches/internal/deadline/publisher"
	"demarches/internal/eligibility"
	eligibilityMetrics "demarches/internal/eligibility/metrics"
	"demarches/internal/eligibility/openfisca"
	"demarches/internal/jurisdiction/geo"
	"demarches/internal/jurisdiction/geocode"
	jurisdictionMetrics "demarches/internal/jurisdiction/metrics"
	"demarches/internal/jurisdiction/offices"
	"demarches/internal/jurisdiction/service"
	"demarches/internal/jurisdiction/store"
	"demarches/internal/platform/config"
	"demarches/internal/platform/httpserver"
	"demarches/internal/platform/logger"
	"demarches/internal/platform/metrics"
	"demarches/internal/platform/postgres"
	"demarches/internal/platform/redis"
	"demarches/internal/platform/upstream"
	"demarches/internal/ratelimit"
	httptransport "demarches/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	upstreamMetrics := upstream.NewMetrics(reg)

	fetcher := func(name, baseURL string) upstream.Fetcher {
		return upstream.NewHTTPFetcher(name, baseURL,
			upstream.WithTimeout(cfg.Upstreams.Timeout),
			upstream.WithMaxAttempts(cfg.Upstreams.MaxAttempts),
			upstream.WithUserAgent(cfg.Upstreams.UserAgent),
			upstream.WithMetrics(upstreamMetrics),
			upstream.WithLogger(log.With("upstream", name)),
		)
	}

	officeTable, err := offices.LoadFile(cfg.Tables.OfficesFile)
	if err != nil {
		return err
	}
	catalog, err := eligibility.LoadCatalogFile(cfg.Tables.CatalogFile)
	if err != nil {
		return err
	}
	rules, err := deadline.LoadRulesFile(cfg.Tables.RulesFile)
	if err != nil {
		return err
	}

	health := map[string]httptransport.HealthCheck{}
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}
	cache, closeCache, err := openCache(ctx, cfg, redisClient, health)
	if err != nil {
		return err
	}
	defer closeCache()

	var limitStore ratelimit.Store = ratelimit.NewInMemoryStore()
	if redisClient != nil {
		limitStore = ratelimit.NewRedisStore(redisClient)
	}
	limiter := ratelimit.NewMiddleware(limitStore, time.Minute, log.With("component", "ratelimit"),
		ratelimit.WithDisabled(cfg.RateLimit.Disabled))

	resolver := service.New(
		geocode.New(fetcher("geocode", cfg.Upstreams.GeocodeBaseURL)),
		geo.New(fetcher("geo", cfg.Upstreams.GeoBaseURL)),
		cache,
		officeTable,
		service.WithTTL(cfg.JurisdictionTTL),
		service.WithPostalTruncation(cfg.PostalTruncation),
		service.WithLogger(log.With("component", "jurisdiction")),
		service.WithMetrics(jurisdictionMetrics.New(reg)),
	)
	holidays := calendar.NewHolidayClient(fetcher("holidays", cfg.Upstreams.HolidaysBaseURL), log.With("component", "calendar"))
	engine := eligibility.NewEngine(
		openfisca.New(fetcher("openfisca", cfg.Upstreams.SimulatorBaseURL)),
		catalog,
		eligibility.WithLogger(log.With("component", "eligibility")),
		eligibility.WithMetrics(eligibilityMetrics.New(reg)),
	)
	generator := deadline.NewGenerator(rules, holidays,
		deadline.WithLogger(log.With("component", "deadline")),
		deadline.WithMetrics(deadline.NewMetrics(reg)),
	)

	assessOpts := []assessment.Option{assessment.WithLogger(log.With("component", "assessment"))}
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := publisher.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer client.Close()
		health["kafka"] = client.Ping
		assessOpts = append(assessOpts, assessment.WithSink(publisher.New(client, cfg.Kafka.Topic, log.With("component", "publisher"))))
		log.Info("deadline hand-off enabled", "topic", cfg.Kafka.Topic)
	}
	assessor := assessment.New(resolver, engine, generator, holidays, assessOpts...)

	handler := httptransport.NewHandler(resolver, engine, assessor, log.With("component", "http"))
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		HealthChecks:   health,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimiter:    limiter,
		RateLimit:      cfg.RateLimit.PerMinute,
	})
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout+5*time.Second)

	log.Info("starting demarches",
		"addr", cfg.Server.Addr,
		"cache_backend", cfg.CacheBackend,
		"offices_version", officeTable.Version(),
		"catalog_version", catalog.Version(),
		"rules_version", rules.Version(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// openCache builds the configured jurisdiction cache and registers its health check.
func openCache(ctx context.Context, cfg config.Config, redisClient *redis.Client, health map[string]httptransport.HealthCheck) (service.Cache, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		return store.NewRedisCache(redisClient), func() {}, nil
	case config.CachePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		cache := store.NewPostgresCache(pool)
		if err := cache.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		health["postgres"] = pool.Ping
		return cache, pool.Close, nil
	}
	return store.NewInMemoryCache(), func() {}, nil
}
