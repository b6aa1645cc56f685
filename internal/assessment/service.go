// Package assessment runs the whole pipeline for one household: jurisdiction resolution,
// benefit evaluation and deadline generation.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"demarches/internal/calendar"
	"demarches/internal/deadline"
	"demarches/internal/eligibility"
	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

type Resolver interface {
	Resolve(ctx context.Context, address string) (*models.Jurisdiction, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, profile eligibility.HouseholdProfile, j *models.Jurisdiction) ([]eligibility.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, j *models.Jurisdiction, results []eligibility.Result, profile eligibility.HouseholdProfile, asOf time.Time) ([]deadline.Deadline, error)
}

// DeadlineSink receives generated deadlines, typically the reminder scheduler's topic.
type DeadlineSink interface {
	Publish(ctx context.Context, household string, deadlines []deadline.Deadline) error
}

type Request struct {
	HouseholdID string
	Address     string
	Profile     eligibility.HouseholdProfile
	AsOf        time.Time
}

type Assessment struct {
	Jurisdiction *models.Jurisdiction `json:"jurisdiction"`
	Eligibility  []eligibility.Result `json:"eligibility"`
	Deadlines    []deadline.Deadline  `json:"deadlines"`
	AsOf         time.Time            `json:"as_of"`
}

type Service struct {
	resolver  Resolver
	evaluator Evaluator
	generator Generator
	holidays  deadline.HolidayProvider
	sink      DeadlineSink
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

// WithSink publishes deadlines of requests that carry a household id.
func WithSink(sink DeadlineSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(resolver Resolver, evaluator Evaluator, generator Generator, holidays deadline.HolidayProvider, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		evaluator: evaluator,
		generator: generator,
		holidays:  holidays,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assess resolves the address, then evaluates eligibility while warming the holiday
// calendars the deadlines will need, then generates deadlines. The first failure of the
// concurrent stage cancels the other.
func (s *Service) Assess(ctx context.Context, req Request) (*Assessment, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	j, err := s.resolver.Resolve(ctx, req.Address)
	if err != nil {
		return nil, fmt.Errorf("assess household: %w", err)
	}

	var results []eligibility.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.evaluator.Evaluate(gctx, req.Profile, j)
		if err != nil {
			return err
		}
		results = r
		return nil
	})
	for _, year := range []int{asOf.Year(), asOf.Year() + 1} {
		g.Go(func() error {
			return s.prefetch(gctx, year, j.HolidayZone)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assess household: %w", err)
	}

	deadlines, err := s.generator.Generate(ctx, j, results, req.Profile, asOf)
	if err != nil {
		return nil, fmt.Errorf("assess household: %w", err)
	}

	if s.sink != nil && req.HouseholdID != "" {
		if err := s.sink.Publish(ctx, req.HouseholdID, deadlines); err != nil {
			s.logger.WarnContext(ctx, "deadline hand-off failed",
				"household_id", req.HouseholdID,
				"deadlines", len(deadlines),
				"error", err,
			)
		}
	}

	return &Assessment{
		Jurisdiction: j,
		Eligibility:  results,
		Deadlines:    deadlines,
		AsOf:         asOf,
	}, nil
}

// prefetch loads a holiday calendar into the provider's cache. Unpublished years are fine:
// the generator falls back to weekends for them.
func (s *Service) prefetch(ctx context.Context, year int, zone calendar.Zone) error {
	if _, err := s.holidays.HolidaysFor(ctx, year, zone); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("prefetch holidays %d: %w", year, err)
	}
	return nil
}
