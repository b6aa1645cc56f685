// Package service resolves free-form addresses into administrative jurisdictions. Results
// are cached under a normalized address fingerprint and concurrent resolutions of the same
// fingerprint share a single upstream round trip.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"demarches/internal/jurisdiction/fingerprint"
	"demarches/internal/jurisdiction/metrics"
	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

// DefaultTTL bounds how long a resolved jurisdiction is reused.
const DefaultTTL = 7 * 24 * time.Hour

// Geocoder turns address text into the best matching point.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (models.GeoPoint, error)
}

// Describer returns the canonical codes of a commune.
type Describer interface {
	Describe(ctx context.Context, communeCode string) (models.AdministrativeCode, error)
}

// Cache stores resolved jurisdictions. Get returns sentinel.ErrNotFound when the key is
// absent or expired.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Jurisdiction, error)
	Put(ctx context.Context, key string, j *models.Jurisdiction, ttl time.Duration) error
}

// OfficeTable maps a department code to its offices.
type OfficeTable interface {
	Lookup(departmentCode string) (models.Offices, bool)
}

// Service is the jurisdiction resolver.
type Service struct {
	geocoder  Geocoder
	describer Describer
	cache     Cache
	offices   OfficeTable

	ttl            time.Duration
	truncatePostal bool
	now            func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics

	flight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPostalTruncation drops everything after the postal code when fingerprinting, so
// "... 75001 Paris" and "... 75001 Paris France" share a cache entry.
func WithPostalTruncation(enabled bool) Option {
	return func(s *Service) { s.truncatePostal = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(geocoder Geocoder, describer Describer, cache Cache, offices OfficeTable, opts ...Option) *Service {
	s := &Service{
		geocoder:  geocoder,
		describer: describer,
		cache:     cache,
		offices:   offices,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the jurisdiction of address.
//
// Errors:
//   - sentinel.ErrUnresolvableAddress when the address is empty or matches no commune
//   - sentinel.ErrUnsupportedJurisdiction when the department has no office mapping
//   - sentinel.ErrUpstreamUnavailable when a lookup service stays unreachable
func (s *Service) Resolve(ctx context.Context, address string) (*models.Jurisdiction, error) {
	key := fingerprint.Of(address, s.truncatePostal)
	if key == "" {
		return nil, fmt.Errorf("resolve address: empty input: %w: %w", sentinel.ErrUnresolvableAddress, sentinel.ErrInvalidInput)
	}

	if j, ok := s.lookup(ctx, key); ok {
		return j, nil
	}

	// The shared lookup outlives any single caller: each waiter gives up on its own context,
	// while the upstream clients bound the flight with their attempt timeouts and retry limit.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.resolveUncached(flightCtx, key, address)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.metrics.IncrementCoalesced()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		j := *res.Val.(*models.Jurisdiction)
		return &j, nil
	}
}

func (s *Service) lookup(ctx context.Context, key string) (*models.Jurisdiction, bool) {
	j, err := s.cache.Get(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncrementCacheLookup("miss")
		return nil, false
	case err != nil:
		s.metrics.IncrementCacheLookup("error")
		s.logger.WarnContext(ctx, "jurisdiction cache read failed",
			"fingerprint", key,
			"error", err,
		)
		return nil, false
	case j == nil || !j.FreshAt(s.now(), s.ttl):
		s.metrics.IncrementCacheLookup("stale")
		return nil, false
	}
	s.metrics.IncrementCacheLookup("hit")
	return j, true
}

func (s *Service) resolveUncached(ctx context.Context, key, address string) (*models.Jurisdiction, error) {
	// A flight that finished just before this one started may already have stored the answer.
	if j, ok := s.lookup(ctx, key); ok {
		return j, nil
	}

	start := s.now()
	j, err := s.resolveFresh(ctx, address)
	s.metrics.ObserveResolution(outcomeOf(err), s.now().Sub(start))
	if err != nil {
		s.logger.InfoContext(ctx, "jurisdiction resolution failed",
			"fingerprint", key,
			"error", err,
		)
		return nil, err
	}

	if err := s.cache.Put(ctx, key, j, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "jurisdiction cache write failed",
			"fingerprint", key,
			"error", err,
		)
	}
	s.logger.InfoContext(ctx, "jurisdiction resolved",
		"fingerprint", key,
		"commune_code", j.Code.CommuneCode,
		"department_code", j.Code.DepartmentCode,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return j, nil
}

func (s *Service) resolveFresh(ctx context.Context, address string) (*models.Jurisdiction, error) {
	point, err := s.geocoder.Resolve(ctx, address)
	if err != nil {
		if unresolvable(err) {
			return nil, fmt.Errorf("geocode address: %w: %v", sentinel.ErrUnresolvableAddress, err)
		}
		return nil, fmt.Errorf("geocode address: %w", err)
	}
	if point.CityCode == "" {
		return nil, fmt.Errorf("geocode address: no commune code: %w", sentinel.ErrUnresolvableAddress)
	}

	code, err := s.describer.Describe(ctx, point.CityCode)
	if err != nil {
		if unresolvable(err) {
			return nil, fmt.Errorf("describe commune %s: %w: %v", point.CityCode, sentinel.ErrUnresolvableAddress, err)
		}
		return nil, fmt.Errorf("describe commune %s: %w", point.CityCode, err)
	}

	offices, ok := s.offices.Lookup(code.DepartmentCode)
	if !ok {
		return nil, fmt.Errorf("department %s: %w", code.DepartmentCode, sentinel.ErrUnsupportedJurisdiction)
	}

	return &models.Jurisdiction{
		Code:         code,
		PrefectureID: offices.PrefectureID,
		CAFOfficeID:  offices.CAFOfficeID,
		CPAMOfficeID: offices.CPAMOfficeID,
		HolidayZone:  offices.HolidayZone,
		Location:     point,
		ResolvedAt:   s.now(),
	}, nil
}

func unresolvable(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrInvalidInput)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, sentinel.ErrUnresolvableAddress):
		return "unresolvable"
	case errors.Is(err, sentinel.ErrUnsupportedJurisdiction):
		return "unsupported"
	default:
		return "failed"
	}
}
