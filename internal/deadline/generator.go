// Package deadline derives dated administrative obligations from a household's
// jurisdiction, benefit eligibility and profile, and tracks their procedural stage.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"demarches/internal/calendar"
	"demarches/internal/eligibility"
	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

// HolidayProvider returns the public holidays of a year in a zone. Unpublished years are
// sentinel.ErrNotFound.
type HolidayProvider interface {
	HolidaysFor(ctx context.Context, year int, zone calendar.Zone) (calendar.Set, error)
}

// Metrics counts generated deadlines by type.
type Metrics struct {
	Generated *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Generated: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "demarches_deadlines_generated_total",
			Help: "Generated deadlines by type and whether the holiday calendar was available",
		}, []string{"type", "calendar_verified"}),
	}
}

func (m *Metrics) incrementGenerated(d Deadline) {
	if m != nil {
		verified := "false"
		if d.CalendarVerified {
			verified = "true"
		}
		m.Generated.WithLabelValues(string(d.Type), verified).Inc()
	}
}

// Generator applies a RuleSet.
type Generator struct {
	rules    *RuleSet
	holidays HolidayProvider
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Generator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

func NewGenerator(rules *RuleSet, holidays HolidayProvider, opts ...Option) *Generator {
	g := &Generator{
		rules:    rules,
		holidays: holidays,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the upcoming deadlines of a household as of asOf, sorted by date, then
// type, then rule id. The output depends only on its inputs: the same arguments always
// produce the same deadlines, ids included. Dates before asOf are left out.
func (g *Generator) Generate(ctx context.Context, j *models.Jurisdiction, results []eligibility.Result, profile eligibility.HouseholdProfile, asOf time.Time) ([]Deadline, error) {
	if j == nil {
		return nil, fmt.Errorf("generate deadlines: jurisdiction is required: %w", sentinel.ErrInvalidInput)
	}
	today := calendar.Truncate(asOf)
	cal := &yearCalendars{provider: g.holidays, zone: j.HolidayZone, sets: map[int]calendar.Set{}}

	var out []Deadline
	for _, rule := range g.rules.rules {
		benefitID, anchor, ok := g.trigger(rule, results, profile, today)
		if !ok {
			continue
		}
		date, ok := g.dateFor(rule, anchor, today, j.Code.DepartmentCode)
		if !ok {
			continue
		}

		d := Deadline{
			Type:               rule.Type,
			Stage:              StagePreparing,
			ReminderDaysBefore: rule.ReminderDaysBefore,
			RuleID:             rule.ID,
			BenefitID:          benefitID,
			CalendarVerified:   true,
		}
		if rule.BusinessDay {
			holidays, verified, err := cal.forYear(ctx, date.Year())
			if err != nil {
				return nil, fmt.Errorf("generate deadlines: rule %s: %w", rule.ID, err)
			}
			date, d.Shifted = calendar.NextBusinessDay(date, holidays)
			d.CalendarVerified = verified
		}
		if date.Before(today) {
			continue
		}
		d.Date = date
		d.ID = deadlineID(rule.ID, rule.Type, date)
		out = append(out, d)
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].Date.Equal(out[b].Date) {
			return out[a].Date.Before(out[b].Date)
		}
		if out[a].Type != out[b].Type {
			return out[a].Type < out[b].Type
		}
		return out[a].RuleID < out[b].RuleID
	})

	for _, d := range out {
		g.metrics.incrementGenerated(d)
	}
	g.logger.InfoContext(ctx, "deadlines generated",
		"commune_code", j.Code.CommuneCode,
		"as_of", today.Format(time.DateOnly),
		"count", len(out),
	)
	return out, nil
}

// trigger reports whether rule applies and the date its offset is anchored on.
func (g *Generator) trigger(rule Rule, results []eligibility.Result, profile eligibility.HouseholdProfile, today time.Time) (string, time.Time, bool) {
	if len(rule.Trigger.Benefits) > 0 {
		for _, id := range rule.Trigger.Benefits {
			if eligibility.IsEligible(results, id) {
				return id, today, true
			}
		}
		return "", time.Time{}, false
	}

	switch rule.Trigger.Event {
	case EventAlways:
		return "", today, true
	case EventResidencePermitExpiry:
		if profile.ResidencePermitExpiry != nil {
			return "", calendar.Truncate(*profile.ResidencePermitExpiry), true
		}
	case EventArrival:
		if profile.ArrivalDate != nil {
			return "", calendar.Truncate(*profile.ArrivalDate), true
		}
	}
	return "", time.Time{}, false
}

func (g *Generator) dateFor(rule Rule, anchor, today time.Time, departmentCode string) (time.Time, bool) {
	o := rule.Offset
	switch o.Kind {
	case OffsetNextQuarterStart:
		return nextQuarterStart(anchor), true
	case OffsetBefore:
		return anchor.AddDate(0, -o.Months, -o.Days), true
	case OffsetAfter:
		return anchor.AddDate(0, o.Months, o.Days), true
	case OffsetAnnual:
		return nextAnnual(today, o.Month, o.Day), true
	case OffsetTaxZone:
		band, ok := g.rules.taxBand(departmentCode)
		if !ok {
			g.logger.Warn("no tax band for department", "rule_id", rule.ID, "department_code", departmentCode)
			return time.Time{}, false
		}
		return nextAnnual(today, band.Month, band.Day), true
	}
	return time.Time{}, false
}

// nextQuarterStart returns the first day of the calendar quarter after d.
func nextQuarterStart(d time.Time) time.Time {
	quarterStart := (int(d.Month())-1)/3*3 + 1
	return calendar.Date(d.Year(), time.Month(quarterStart+3), 1)
}

// nextAnnual returns the next month/day on or after today.
func nextAnnual(today time.Time, month, day int) time.Time {
	d := calendar.Date(today.Year(), time.Month(month), day)
	if d.Before(today) {
		d = calendar.Date(today.Year()+1, time.Month(month), day)
	}
	return d
}

// yearCalendars memoizes holiday sets for one Generate call.
type yearCalendars struct {
	provider HolidayProvider
	zone     calendar.Zone
	sets     map[int]calendar.Set
	missing  map[int]bool
}

// forYear returns the holidays of year and whether they are the published calendar. An
// unpublished year yields an empty set so only weekends are shifted.
func (c *yearCalendars) forYear(ctx context.Context, year int) (calendar.Set, bool, error) {
	if set, ok := c.sets[year]; ok {
		return set, !c.missing[year], nil
	}
	set, err := c.provider.HolidaysFor(ctx, year, c.zone)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		if c.missing == nil {
			c.missing = map[int]bool{}
		}
		c.missing[year] = true
		c.sets[year] = calendar.Set{}
		return c.sets[year], false, nil
	case err != nil:
		return nil, false, err
	}
	c.sets[year] = set
	return set, true, nil
}
