package models

import (
	"time"

	"demarches/internal/calendar"
)

// GeoPoint is one geocoding candidate: a point, the provider's confidence score and the
// raw administrative identifiers the provider attached to it.
type GeoPoint struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Confidence     float64 `json:"confidence"`
	Label          string  `json:"label,omitempty"`
	CityCode       string  `json:"city_code,omitempty"`
	PostCode       string  `json:"post_code,omitempty"`
	DepartmentCode string  `json:"department_code,omitempty"`
	RegionName     string  `json:"region_name,omitempty"`
}

// Completeness counts populated hierarchy levels, commune weighing the most.
func (p GeoPoint) Completeness() int {
	score := 0
	if p.CityCode != "" {
		score += 4
	}
	if p.DepartmentCode != "" {
		score += 2
	}
	if p.RegionName != "" {
		score++
	}
	return score
}

// AdministrativeCode holds the canonical government identifiers of a commune.
type AdministrativeCode struct {
	CommuneCode    string `json:"commune_code"`
	DepartmentCode string `json:"department_code"`
	RegionCode     string `json:"region_code"`
	CommuneName    string `json:"commune_name"`
}

// Offices are the administrative offices responsible for a department.
type Offices struct {
	PrefectureID string        `json:"prefecture_id" yaml:"prefecture"`
	CAFOfficeID  string        `json:"caf_office_id" yaml:"caf"`
	CPAMOfficeID string        `json:"cpam_office_id" yaml:"cpam"`
	HolidayZone  calendar.Zone `json:"holiday_zone" yaml:"holiday_zone"`
}

// Jurisdiction is the resolved administrative context of one address.
type Jurisdiction struct {
	Code         AdministrativeCode `json:"administrative_code"`
	PrefectureID string             `json:"prefecture_id"`
	CAFOfficeID  string             `json:"caf_office_id"`
	CPAMOfficeID string             `json:"cpam_office_id"`
	HolidayZone  calendar.Zone      `json:"holiday_zone"`
	Location     GeoPoint           `json:"location"`
	ResolvedAt   time.Time          `json:"resolved_at"`
}

// FreshAt reports whether the jurisdiction may still be served at now under ttl.
func (j *Jurisdiction) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(j.ResolvedAt) < ttl
}
