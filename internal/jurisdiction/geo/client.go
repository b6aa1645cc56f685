// Package geo describes communes through the geo.api.gouv.fr administrative geography API.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"demarches/internal/jurisdiction/models"
	"demarches/internal/platform/upstream"
	"demarches/pkg/platform/sentinel"
)

var communeCodePattern = regexp.MustCompile(`^[0-9][0-9AB][0-9]{3}$`)

// Client looks up communes and municipal arrondissements by INSEE code.
type Client struct {
	fetcher upstream.Fetcher
}

func New(fetcher upstream.Fetcher) *Client {
	return &Client{fetcher: fetcher}
}

type communeResponse struct {
	Name           string `json:"nom"`
	Code           string `json:"code"`
	DepartmentCode string `json:"codeDepartement"`
	RegionCode     string `json:"codeRegion"`
}

// Describe returns the canonical codes of communeCode. The lookup is deterministic for a
// given code; unknown codes and answers missing the commune identity are
// sentinel.ErrNotFound.
func (c *Client) Describe(ctx context.Context, communeCode string) (models.AdministrativeCode, error) {
	code := strings.ToUpper(strings.TrimSpace(communeCode))
	if !communeCodePattern.MatchString(code) {
		return models.AdministrativeCode{}, fmt.Errorf("describe commune %q: malformed code: %w", communeCode, sentinel.ErrNotFound)
	}

	resp, err := c.fetcher.Fetch(ctx, upstream.Request{
		Path: "/communes/" + url.PathEscape(code),
		Query: url.Values{
			"fields": {"nom,code,codeDepartement,codeRegion"},
			"type":   {"commune-actuelle,arrondissement-municipal"},
		},
	})
	if err != nil {
		return models.AdministrativeCode{}, fmt.Errorf("describe commune %s: %w", code, err)
	}

	var body communeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return models.AdministrativeCode{}, fmt.Errorf("describe commune %s: %w", code,
			upstream.NewError(upstream.CategoryBadData, "geo", "malformed response", err))
	}
	if strings.TrimSpace(body.Code) == "" || strings.TrimSpace(body.Name) == "" {
		return models.AdministrativeCode{}, fmt.Errorf("describe commune %s: incomplete answer: %w", code, sentinel.ErrNotFound)
	}

	canonical := strings.ToUpper(strings.TrimSpace(body.Code))
	dept := NormalizeDepartment(body.DepartmentCode)
	if dept == "" {
		dept = DepartmentFromCommune(canonical)
	}
	return models.AdministrativeCode{
		CommuneCode:    canonical,
		DepartmentCode: dept,
		RegionCode:     strings.TrimSpace(body.RegionCode),
		CommuneName:    strings.TrimSpace(body.Name),
	}, nil
}

// NormalizeDepartment canonicalizes a department code. Corsican (2A, 2B) and overseas
// (971..988) codes are valid as they are; single digits are zero-padded.
func NormalizeDepartment(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) == 1 && c[0] >= '0' && c[0] <= '9' {
		return "0" + c
	}
	return c
}

// DepartmentFromCommune derives the department from an INSEE commune code: three
// characters overseas, two elsewhere.
func DepartmentFromCommune(communeCode string) string {
	c := strings.ToUpper(strings.TrimSpace(communeCode))
	if len(c) < 2 {
		return ""
	}
	if strings.HasPrefix(c, "97") || strings.HasPrefix(c, "98") {
		if len(c) < 3 {
			return ""
		}
		return c[:3]
	}
	return c[:2]
}
