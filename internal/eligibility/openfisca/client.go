// Package openfisca runs household simulations against the OpenFisca France web API.
package openfisca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"demarches/internal/eligibility"
	"demarches/internal/platform/upstream"
	"demarches/pkg/platform/sentinel"
)

const (
	applicantID = "demandeur"
	partnerID   = "conjoint"
	familyID    = "famille_1"
	taxHouseID  = "foyer_fiscal_1"
	householdID = "menage_1"
)

// situation is the /calculate document: entity -> instance id -> variable -> value, where
// value is either a period map or a list of person ids.
type situation map[string]map[string]map[string]any

// Client implements eligibility.Simulator.
type Client struct {
	fetcher upstream.Fetcher
}

func New(fetcher upstream.Fetcher) *Client {
	return &Client{fetcher: fetcher}
}

// Simulate posts the household situation to /calculate and reads back the requested
// variables. Transient failures are retried by the fetcher; anything else means the
// simulator cannot evaluate this household and is reported as sentinel.ErrSimulationFailed.
func (c *Client) Simulate(ctx context.Context, req eligibility.SimulationRequest) (eligibility.Values, error) {
	doc := buildSituation(req)

	resp, err := c.fetcher.Fetch(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   "/calculate",
		Body:   doc,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || upstream.IsRetryable(err) {
			return nil, fmt.Errorf("openfisca calculate: %w", err)
		}
		return nil, fmt.Errorf("openfisca calculate: %w: %v", sentinel.ErrSimulationFailed, err)
	}

	var answer map[string]map[string]map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &answer); err != nil {
		return nil, fmt.Errorf("openfisca calculate: malformed response: %w: %v", sentinel.ErrSimulationFailed, err)
	}

	values := make(eligibility.Values, len(req.Variables))
	for _, v := range req.Variables {
		raw, ok := answer[string(v.Entity)][instanceOf(v.Entity)][v.Name]
		if !ok {
			return nil, fmt.Errorf("openfisca calculate: %s missing from response: %w", v.Name, sentinel.ErrSimulationFailed)
		}
		var byPeriod map[string]any
		if err := json.Unmarshal(raw, &byPeriod); err != nil {
			return nil, fmt.Errorf("openfisca calculate: %s: %w: %v", v.Name, sentinel.ErrSimulationFailed, err)
		}
		value, ok := byPeriod[periodKey(v.Period, req.Month)]
		if !ok || value == nil {
			return nil, fmt.Errorf("openfisca calculate: %s has no value for %s: %w", v.Name, periodKey(v.Period, req.Month), sentinel.ErrSimulationFailed)
		}
		switch value.(type) {
		case float64, bool:
			values[v.Name] = value
		default:
			return nil, fmt.Errorf("openfisca calculate: %s has unexpected %T value: %w", v.Name, value, sentinel.ErrSimulationFailed)
		}
	}
	return values, nil
}

func buildSituation(req eligibility.SimulationRequest) situation {
	p := req.Profile
	month := periodKey(eligibility.PeriodMonth, req.Month)

	var income int64
	if p.MonthlyNetIncome != nil {
		income = *p.MonthlyNetIncome
	}
	applicant := map[string]any{
		"date_naissance": eternity(p.Applicant.BirthDate),
		"salaire_net":    map[string]any{month: euros(income)},
		"nationalite":    map[string]any{month: p.Applicant.Nationality},
	}
	if p.ResidencePermitSince != nil {
		applicant["duree_possession_titre_sejour"] = map[string]any{month: yearsBetween(*p.ResidencePermitSince, req.Month)}
	}

	individus := map[string]map[string]any{applicantID: applicant}
	parents := []string{applicantID}
	if p.Couple {
		partner := map[string]any{"salaire_net": map[string]any{month: 0}}
		if p.PartnerBirthDate != nil {
			partner["date_naissance"] = eternity(*p.PartnerBirthDate)
		}
		individus[partnerID] = partner
		parents = append(parents, partnerID)
	}
	children := make([]string, 0, len(p.Dependents))
	for i, d := range p.Dependents {
		id := "enfant_" + strconv.Itoa(i+1)
		individus[id] = map[string]any{"date_naissance": eternity(d.BirthDate)}
		children = append(children, id)
	}

	household := map[string]any{
		"personne_de_reference": []string{applicantID},
		"enfants":               children,
		"depcom":                map[string]any{month: req.CommuneCode},
	}
	if p.Couple {
		household["conjoint"] = []string{partnerID}
	}
	if status := occupancy(p.Housing.Status); status != "" {
		household["statut_occupation_logement"] = map[string]any{month: status}
	}
	if p.Housing.MonthlyRent != nil {
		household["loyer"] = map[string]any{month: euros(*p.Housing.MonthlyRent)}
	}

	doc := situation{
		"individus": individus,
		"familles": {familyID: {
			"parents": parents,
			"enfants": children,
		}},
		"foyers_fiscaux": {taxHouseID: {
			"declarants":         parents,
			"personnes_a_charge": children,
		}},
		"menages": {householdID: household},
	}

	// Variables to compute are requested with a null value.
	for _, v := range req.Variables {
		instance := doc[string(v.Entity)][instanceOf(v.Entity)]
		if instance == nil {
			continue
		}
		instance[v.Name] = map[string]any{periodKey(v.Period, req.Month): nil}
	}
	return doc
}

func instanceOf(e eligibility.Entity) string {
	switch e {
	case eligibility.EntityIndividus:
		return applicantID
	case eligibility.EntityFamilles:
		return familyID
	case eligibility.EntityFoyersFiscaux:
		return taxHouseID
	default:
		return householdID
	}
}

func periodKey(p eligibility.Period, month time.Time) string {
	if p == eligibility.PeriodYear {
		return month.Format("2006")
	}
	return month.Format("2006-01")
}

func eternity(d time.Time) map[string]any {
	return map[string]any{"ETERNITY": d.Format(time.DateOnly)}
}

func euros(cents int64) float64 {
	return float64(cents) / 100
}

func occupancy(s eligibility.HousingStatus) string {
	switch s {
	case eligibility.HousingTenant:
		return "locataire_vide"
	case eligibility.HousingOwner:
		return "proprietaire"
	case eligibility.HousingHosted:
		return "loge_gratuitement"
	case eligibility.HousingHomeless:
		return "sans_domicile"
	}
	return ""
}

// yearsBetween counts whole years from since to at.
func yearsBetween(since, at time.Time) int {
	years := at.Year() - since.Year()
	if at.YearDay() < since.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
