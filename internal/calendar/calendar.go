// Package calendar supplies public-holiday calendars and the business-day arithmetic
// used to place administrative deadlines.
package calendar

import (
	"fmt"
	"time"
)

// Zone identifies a holiday calendar as published by calendrier.api.gouv.fr.
type Zone string

const (
	ZoneMetropole           Zone = "metropole"
	ZoneAlsaceMoselle       Zone = "alsace-moselle"
	ZoneGuadeloupe          Zone = "guadeloupe"
	ZoneGuyane              Zone = "guyane"
	ZoneLaReunion           Zone = "la-reunion"
	ZoneMartinique          Zone = "martinique"
	ZoneMayotte             Zone = "mayotte"
	ZoneNouvelleCaledonie   Zone = "nouvelle-caledonie"
	ZonePolynesieFrancaise  Zone = "polynesie-francaise"
	ZoneSaintBarthelemy     Zone = "saint-barthelemy"
	ZoneSaintMartin         Zone = "saint-martin"
	ZoneSaintPierreMiquelon Zone = "saint-pierre-et-miquelon"
	ZoneWallisFutuna        Zone = "wallis-et-futuna"
)

var zones = map[Zone]struct{}{
	ZoneMetropole: {}, ZoneAlsaceMoselle: {}, ZoneGuadeloupe: {}, ZoneGuyane: {},
	ZoneLaReunion: {}, ZoneMartinique: {}, ZoneMayotte: {}, ZoneNouvelleCaledonie: {},
	ZonePolynesieFrancaise: {}, ZoneSaintBarthelemy: {}, ZoneSaintMartin: {},
	ZoneSaintPierreMiquelon: {}, ZoneWallisFutuna: {},
}

// Valid reports whether z is a published zone.
func (z Zone) Valid() bool {
	_, ok := zones[z]
	return ok
}

const dateLayout = "2006-01-02"

// Set is a holiday calendar keyed by ISO date, valued by holiday name.
type Set map[string]string

// Contains reports whether d (any time of day) is a holiday.
func (s Set) Contains(d time.Time) bool {
	_, ok := s[d.Format(dateLayout)]
	return ok
}

// Merge returns a new set holding the holidays of s and other.
func (s Set) Merge(other Set) Set {
	out := make(Set, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Date returns midnight UTC of the given civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time of day, keeping the civil date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses an ISO date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func isWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsBusinessDay reports whether d is neither a weekend day nor a holiday.
func IsBusinessDay(d time.Time, holidays Set) bool {
	return !isWeekend(d) && !holidays.Contains(d)
}

// NextBusinessDay moves d forward when it falls on a weekend or a holiday. The shift is
// applied once: the first weekday after d is returned even if it is itself a holiday.
// The second result reports whether a shift happened.
func NextBusinessDay(d time.Time, holidays Set) (time.Time, bool) {
	d = Truncate(d)
	if IsBusinessDay(d, holidays) {
		return d, false
	}
	next := d.AddDate(0, 0, 1)
	for isWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next, true
}
