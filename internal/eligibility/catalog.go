package eligibility

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entity is the simulator entity a variable is computed on.
type Entity string

const (
	EntityIndividus     Entity = "individus"
	EntityFamilles      Entity = "familles"
	EntityFoyersFiscaux Entity = "foyers_fiscaux"
	EntityMenages       Entity = "menages"
)

func (e Entity) valid() bool {
	switch e {
	case EntityIndividus, EntityFamilles, EntityFoyersFiscaux, EntityMenages:
		return true
	}
	return false
}

// Period is the period an amount is expressed for.
type Period string

const (
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Benefit is one catalog entry. When EligibilityVariable is set, eligibility is read from
// that boolean; otherwise a benefit is eligible when its amount is positive.
type Benefit struct {
	ID                  string `yaml:"id"`
	Label               string `yaml:"label"`
	Entity              Entity `yaml:"entity"`
	Variable            string `yaml:"variable"`
	EligibilityVariable string `yaml:"eligibility_variable"`
	Period              Period `yaml:"period"`
}

// Variable is one simulator output the engine asks for.
type Variable struct {
	Entity Entity
	Name   string
	Period Period
}

// Catalog is the immutable, ordered list of benefits the engine evaluates.
type Catalog struct {
	version  string
	benefits []Benefit
}

type catalogDocument struct {
	Version  string    `yaml:"version"`
	Benefits []Benefit `yaml:"benefits"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalogFile reads a catalog from path, or the default catalog when path is empty.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read benefit catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode benefit catalog: %w", err)
	}
	if len(doc.Benefits) == 0 {
		return nil, fmt.Errorf("benefit catalog is empty")
	}
	seen := make(map[string]bool, len(doc.Benefits))
	for i, b := range doc.Benefits {
		if b.ID == "" || b.Variable == "" {
			return nil, fmt.Errorf("benefit catalog: entry %d needs an id and a variable", i)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("benefit catalog: benefit %s listed twice", b.ID)
		}
		seen[b.ID] = true
		if !b.Entity.valid() {
			return nil, fmt.Errorf("benefit catalog: benefit %s has unknown entity %q", b.ID, b.Entity)
		}
		switch b.Period {
		case "":
			doc.Benefits[i].Period = PeriodMonth
		case PeriodMonth, PeriodYear:
		default:
			return nil, fmt.Errorf("benefit catalog: benefit %s has unknown period %q", b.ID, b.Period)
		}
	}
	return &Catalog{version: doc.Version, benefits: doc.Benefits}, nil
}

// Benefits returns the entries in evaluation order.
func (c *Catalog) Benefits() []Benefit {
	out := make([]Benefit, len(c.benefits))
	copy(out, c.benefits)
	return out
}

// Variables lists every simulator output the catalog needs, without duplicates.
func (c *Catalog) Variables() []Variable {
	seen := make(map[Variable]bool)
	var vars []Variable
	add := func(v Variable) {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	for _, b := range c.benefits {
		add(Variable{Entity: b.Entity, Name: b.Variable, Period: b.Period})
		if b.EligibilityVariable != "" {
			add(Variable{Entity: b.Entity, Name: b.EligibilityVariable, Period: b.Period})
		}
	}
	return vars
}

func (c *Catalog) Version() string {
	return c.version
}
