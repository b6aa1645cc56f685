// Package eligibility evaluates which social benefits a household can claim and how much,
// by running a benefit microsimulation for the household's commune.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"demarches/internal/eligibility/metrics"
	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
	"demarches/pkg/platform/validation"
)

// SimulationRequest is everything the simulator needs for one household.
type SimulationRequest struct {
	Profile     HouseholdProfile
	CommuneCode string
	Month       time.Time
	Variables   []Variable
}

// Values holds simulator outputs keyed by variable name: float64 for amounts, bool for
// eligibility flags.
type Values map[string]any

// Simulator runs a benefit microsimulation. Errors that are not worth retrying are
// reported as sentinel.ErrSimulationFailed.
type Simulator interface {
	Simulate(ctx context.Context, req SimulationRequest) (Values, error)
}

// Engine evaluates the catalog against a household.
type Engine struct {
	simulator Simulator
	catalog   *Catalog
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(simulator Simulator, catalog *Catalog, opts ...Option) *Engine {
	e := &Engine{
		simulator: simulator,
		catalog:   catalog,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns one result per catalog benefit, in catalog order.
//
// Errors:
//   - sentinel.ErrInvalidInput when the jurisdiction has no commune code
//   - sentinel.ErrIncompleteProfile when the profile misses data the simulator needs
//   - sentinel.ErrSimulationFailed when the simulator answer is unusable
//   - sentinel.ErrUpstreamUnavailable when the simulator stays unreachable after retries
func (e *Engine) Evaluate(ctx context.Context, profile HouseholdProfile, j *models.Jurisdiction) ([]Result, error) {
	if j == nil || j.Code.CommuneCode == "" {
		return nil, fmt.Errorf("evaluate eligibility: jurisdiction without commune code: %w", sentinel.ErrInvalidInput)
	}
	if err := ValidateProfile(profile); err != nil {
		e.metrics.ObserveEvaluation("incomplete_profile", 0)
		return nil, err
	}

	now := e.now()
	req := SimulationRequest{
		Profile:     profile,
		CommuneCode: j.Code.CommuneCode,
		Month:       time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		Variables:   e.catalog.Variables(),
	}

	start := time.Now()
	values, err := e.simulator.Simulate(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.ObserveEvaluation(outcomeOf(err), elapsed)
		e.logger.WarnContext(ctx, "benefit simulation failed",
			"commune_code", j.Code.CommuneCode,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("evaluate eligibility: %w", err)
	}

	results := make([]Result, 0, len(e.catalog.benefits))
	for _, b := range e.catalog.benefits {
		r, err := readResult(b, values, now)
		if err != nil {
			e.metrics.ObserveEvaluation("simulation_failed", elapsed)
			return nil, fmt.Errorf("evaluate eligibility: %w", err)
		}
		e.metrics.IncrementResult(r.BenefitID, r.Eligible)
		results = append(results, r)
	}
	e.metrics.ObserveEvaluation("ok", elapsed)
	e.logger.InfoContext(ctx, "eligibility evaluated",
		"commune_code", j.Code.CommuneCode,
		"benefits", len(results),
		"duration_ms", elapsed.Milliseconds(),
	)
	return results, nil
}

func readResult(b Benefit, values Values, now time.Time) (Result, error) {
	amount, err := amountOf(values, b.Variable)
	if err != nil {
		return Result{}, fmt.Errorf("benefit %s: %w", b.ID, err)
	}

	eligible := amount > 0
	if b.EligibilityVariable != "" {
		raw, ok := values[b.EligibilityVariable]
		if !ok {
			return Result{}, fmt.Errorf("benefit %s: missing %s: %w", b.ID, b.EligibilityVariable, sentinel.ErrSimulationFailed)
		}
		flag, ok := raw.(bool)
		if !ok {
			return Result{}, fmt.Errorf("benefit %s: %s is %T, want bool: %w", b.ID, b.EligibilityVariable, raw, sentinel.ErrSimulationFailed)
		}
		eligible = flag
	}
	if !eligible {
		amount = 0
	}

	return Result{
		BenefitID:       b.ID,
		Eligible:        eligible,
		EstimatedAmount: amount,
		Period:          b.Period,
		ComputedAt:      now,
	}, nil
}

// amountOf converts a euro amount into cents, rounding half away from zero.
func amountOf(values Values, name string) (int64, error) {
	raw, ok := values[name]
	if !ok {
		return 0, fmt.Errorf("missing %s: %w", name, sentinel.ErrSimulationFailed)
	}
	euros, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%s is %T, want number: %w", name, raw, sentinel.ErrSimulationFailed)
	}
	if math.IsNaN(euros) || math.IsInf(euros, 0) || euros < 0 {
		return 0, fmt.Errorf("%s has invalid amount %v: %w", name, euros, sentinel.ErrSimulationFailed)
	}
	return int64(math.Round(euros * 100)), nil
}

// ValidateProfile checks that profile carries everything a baseline simulation needs.
func ValidateProfile(profile HouseholdProfile) error {
	problems, err := validation.Struct(profile)
	if err != nil {
		return fmt.Errorf("validate profile: %w", err)
	}
	if profile.Housing.Status == HousingTenant && profile.Housing.MonthlyRent == nil {
		problems = append(problems, "housing.monthly_rent: required for tenants")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", sentinel.ErrIncompleteProfile, strings.Join(problems, "; "))
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrSimulationFailed):
		return "simulation_failed"
	case errors.Is(err, sentinel.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
