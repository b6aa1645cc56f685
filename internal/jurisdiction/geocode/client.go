// Package geocode resolves free-text French addresses to a point and the raw
// administrative identifiers attached to it, using the Base Adresse Nationale search API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"demarches/internal/jurisdiction/models"
	"demarches/internal/platform/upstream"
	"demarches/pkg/platform/sentinel"
)

// DefaultMinScore discards candidates the provider itself is unsure about.
const DefaultMinScore = 0.4

// Client queries the /search endpoint of api-adresse.data.gouv.fr.
type Client struct {
	fetcher  upstream.Fetcher
	limit    int
	minScore float64
}

// Option configures a Client.
type Option func(*Client)

// WithMinScore overrides DefaultMinScore.
func WithMinScore(s float64) Option {
	return func(c *Client) { c.minScore = s }
}

// WithLimit sets how many candidates are requested.
func WithLimit(n int) Option {
	return func(c *Client) { c.limit = n }
}

func New(fetcher upstream.Fetcher, opts ...Option) *Client {
	c := &Client{fetcher: fetcher, limit: 5, minScore: DefaultMinScore}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Label    string   `json:"label"`
		Score    *float64 `json:"score"`
		CityCode string   `json:"citycode"`
		PostCode string   `json:"postcode"`
		Context  string   `json:"context"`
	} `json:"properties"`
}

// Resolve returns the best candidate for addressText. Zero usable candidates and queries
// the provider refuses are sentinel.ErrNotFound; transport failures keep their
// upstream category.
func (c *Client) Resolve(ctx context.Context, addressText string) (models.GeoPoint, error) {
	q := strings.TrimSpace(addressText)
	if q == "" {
		return models.GeoPoint{}, fmt.Errorf("geocode: empty address: %w", sentinel.ErrInvalidInput)
	}

	resp, err := c.fetcher.Fetch(ctx, upstream.Request{
		Path: "/search/",
		Query: url.Values{
			"q":     {q},
			"limit": {strconv.Itoa(c.limit)},
		},
	})
	if err != nil {
		if upstream.CategoryOf(err) == upstream.CategoryRejected {
			return models.GeoPoint{}, fmt.Errorf("geocode %q refused: %w", q, sentinel.ErrNotFound)
		}
		return models.GeoPoint{}, fmt.Errorf("geocode %q: %w", q, err)
	}

	var fc featureCollection
	if err := json.Unmarshal(resp.Body, &fc); err != nil {
		return models.GeoPoint{}, fmt.Errorf("geocode %q: %w", q,
			upstream.NewError(upstream.CategoryBadData, "geocode", "malformed response", err))
	}

	candidates := make([]models.GeoPoint, 0, len(fc.Features))
	for _, f := range fc.Features {
		p, ok := toGeoPoint(f)
		if !ok || p.Confidence < c.minScore {
			continue
		}
		candidates = append(candidates, p)
	}
	best, err := pickBest(candidates)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("geocode %q: %w", q, err)
	}
	return best, nil
}

func toGeoPoint(f feature) (models.GeoPoint, bool) {
	if len(f.Geometry.Coordinates) != 2 || f.Properties.Score == nil {
		return models.GeoPoint{}, false
	}
	dept, region := parseContext(f.Properties.Context)
	return models.GeoPoint{
		Longitude:      f.Geometry.Coordinates[0],
		Latitude:       f.Geometry.Coordinates[1],
		Confidence:     *f.Properties.Score,
		Label:          f.Properties.Label,
		CityCode:       strings.TrimSpace(f.Properties.CityCode),
		PostCode:       strings.TrimSpace(f.Properties.PostCode),
		DepartmentCode: dept,
		RegionName:     region,
	}, true
}

// parseContext splits "75, Paris, Île-de-France" into department code and region name.
func parseContext(s string) (string, string) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch {
	case len(parts) >= 3:
		return parts[0], parts[len(parts)-1]
	case len(parts) >= 1:
		return parts[0], ""
	}
	return "", ""
}

var errNoCandidate = errors.New("no candidate")

// pickBest returns the highest-confidence candidate, preferring the most complete
// administrative hierarchy on ties. Equal candidates keep provider order.
func pickBest(candidates []models.GeoPoint) (models.GeoPoint, error) {
	if len(candidates) == 0 {
		return models.GeoPoint{}, fmt.Errorf("%w: %w", errNoCandidate, sentinel.ErrNotFound)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Completeness() > b.Completeness()
	})
	return candidates[0], nil
}
