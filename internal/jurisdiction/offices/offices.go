// Package offices maps department codes to the prefecture, CAF and CPAM offices
// responsible for them, plus the holiday calendar zone in force there.
package offices

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"demarches/internal/jurisdiction/models"
)

//go:embed offices.yaml
var defaultTable []byte

// Table is an immutable department → offices mapping.
type Table struct {
	version     string
	departments map[string]models.Offices
}

type document struct {
	Version     string                    `yaml:"version"`
	Departments map[string]models.Offices `yaml:"departments"`
}

// Default returns the table compiled into the binary.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a table from r.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read offices table: %w", err)
	}
	return Parse(data)
}

// LoadFile reads a table from path, or the default table when path is empty.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open offices table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Parse decodes and validates a YAML table.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode offices table: %w", err)
	}
	if len(doc.Departments) == 0 {
		return nil, fmt.Errorf("offices table has no departments")
	}
	t := &Table{version: doc.Version, departments: make(map[string]models.Offices, len(doc.Departments))}
	for dept, o := range doc.Departments {
		key := strings.ToUpper(strings.TrimSpace(dept))
		if o.PrefectureID == "" || o.CAFOfficeID == "" || o.CPAMOfficeID == "" {
			return nil, fmt.Errorf("offices table: department %s has an empty office id", key)
		}
		if !o.HolidayZone.Valid() {
			return nil, fmt.Errorf("offices table: department %s has unknown holiday zone %q", key, o.HolidayZone)
		}
		if _, dup := t.departments[key]; dup {
			return nil, fmt.Errorf("offices table: department %s listed twice", key)
		}
		t.departments[key] = o
	}
	return t, nil
}

// Lookup returns the offices of a normalized department code.
func (t *Table) Lookup(departmentCode string) (models.Offices, bool) {
	o, ok := t.departments[departmentCode]
	return o, ok
}

func (t *Table) Version() string {
	return t.version
}

func (t *Table) Len() int {
	return len(t.departments)
}
