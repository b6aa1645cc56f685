package deadline

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Event names a profile date a rule is anchored on.
type Event string

const (
	EventAlways                Event = "always"
	EventResidencePermitExpiry Event = "residence_permit_expiry"
	EventArrival               Event = "arrival"
)

// OffsetKind selects how a rule turns its anchor into a date.
type OffsetKind string

const (
	OffsetNextQuarterStart OffsetKind = "next_quarter_start"
	OffsetBefore           OffsetKind = "before"
	OffsetAfter            OffsetKind = "after"
	OffsetAnnual           OffsetKind = "annual"
	OffsetTaxZone          OffsetKind = "tax_zone"
)

// Trigger decides whether a rule applies. Exactly one of Benefits and Event is set.
type Trigger struct {
	Benefits []string `yaml:"benefits"`
	Event    Event    `yaml:"event"`
}

type Offset struct {
	Kind   OffsetKind `yaml:"kind"`
	Days   int        `yaml:"days"`
	Months int        `yaml:"months"`
	Month  int        `yaml:"month"`
	Day    int        `yaml:"day"`
}

type Rule struct {
	ID                 string  `yaml:"id"`
	Type               Type    `yaml:"type"`
	Trigger            Trigger `yaml:"trigger"`
	Offset             Offset  `yaml:"offset"`
	BusinessDay        bool    `yaml:"business_day"`
	ReminderDaysBefore int     `yaml:"reminder_days_before"`
}

// TaxBand is the closing date of the online tax declaration for departments up to UpTo.
type TaxBand struct {
	UpTo  int `yaml:"up_to"`
	Month int `yaml:"month"`
	Day   int `yaml:"day"`
}

// RuleSet is the immutable rule table used by the generator.
type RuleSet struct {
	version  string
	rules    []Rule
	taxBands []TaxBand
}

type rulesDocument struct {
	Version     string    `yaml:"version"`
	Rules       []Rule    `yaml:"rules"`
	TaxCalendar []TaxBand `yaml:"tax_calendar"`
}

// DefaultRules returns the rule table compiled into the binary.
func DefaultRules() (*RuleSet, error) {
	return ParseRules(defaultRules)
}

// LoadRulesFile reads rules from path, or the default rules when path is empty.
func LoadRulesFile(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deadline rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode deadline rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("deadline rules are empty")
	}

	seen := make(map[string]bool, len(doc.Rules))
	needsTax := false
	for _, r := range doc.Rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("deadline rules: %w", err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("deadline rules: rule %s listed twice", r.ID)
		}
		seen[r.ID] = true
		needsTax = needsTax || r.Offset.Kind == OffsetTaxZone
	}

	bands := append([]TaxBand(nil), doc.TaxCalendar...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].UpTo < bands[j].UpTo })
	for _, b := range bands {
		if !validMonthDay(b.Month, b.Day) {
			return nil, fmt.Errorf("deadline rules: tax band up to %d has invalid date %d/%d", b.UpTo, b.Month, b.Day)
		}
	}
	if needsTax && len(bands) == 0 {
		return nil, fmt.Errorf("deadline rules: tax_zone offset used without tax_calendar")
	}

	return &RuleSet{version: doc.Version, rules: doc.Rules, taxBands: bands}, nil
}

func validateRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	}
	if r.ReminderDaysBefore < 0 {
		return fmt.Errorf("rule %s: negative reminder_days_before", r.ID)
	}

	hasBenefits := len(r.Trigger.Benefits) > 0
	hasEvent := r.Trigger.Event != ""
	if hasBenefits == hasEvent {
		return fmt.Errorf("rule %s: trigger needs exactly one of benefits or event", r.ID)
	}
	switch r.Trigger.Event {
	case "", EventAlways, EventResidencePermitExpiry, EventArrival:
	default:
		return fmt.Errorf("rule %s: unknown event %q", r.ID, r.Trigger.Event)
	}

	switch r.Offset.Kind {
	case OffsetNextQuarterStart, OffsetTaxZone:
	case OffsetBefore, OffsetAfter:
		if r.Offset.Days < 0 || r.Offset.Months < 0 || r.Offset.Days+r.Offset.Months == 0 {
			return fmt.Errorf("rule %s: %s offset needs positive days or months", r.ID, r.Offset.Kind)
		}
	case OffsetAnnual:
		if !validMonthDay(r.Offset.Month, r.Offset.Day) {
			return fmt.Errorf("rule %s: annual offset has invalid date %d/%d", r.ID, r.Offset.Month, r.Offset.Day)
		}
	default:
		return fmt.Errorf("rule %s: unknown offset kind %q", r.ID, r.Offset.Kind)
	}
	return nil
}

func validMonthDay(month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	// 2024 is a leap year so 29 February is accepted.
	days := [...]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	return day <= days[month-1]
}

// Rules returns the rules in declaration order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *RuleSet) Version() string {
	return s.version
}

// taxBand returns the band covering departmentCode.
func (s *RuleSet) taxBand(departmentCode string) (TaxBand, bool) {
	n, ok := departmentNumber(departmentCode)
	if !ok {
		return TaxBand{}, false
	}
	for _, b := range s.taxBands {
		if n <= b.UpTo {
			return b, true
		}
	}
	return TaxBand{}, false
}

// departmentNumber maps a department code onto the numeric scale used by tax bands.
func departmentNumber(code string) (int, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "2A" || code == "2B" {
		return 20, true
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
