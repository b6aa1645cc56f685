package httptransport

import (
	"fmt"
	"time"

	"demarches/internal/calendar"
	"demarches/internal/deadline"
	"demarches/internal/eligibility"
	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

// Dates travel as YYYY-MM-DD strings. Format is checked here; whether the profile is
// complete enough to simulate is the eligibility engine's call.

type resolveRequest struct {
	Address string `json:"address" validate:"required,max=512"`
}

type applicantRequest struct {
	BirthDate       string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Nationality     string `json:"nationality"`
	ResidencyStatus string `json:"residency_status"`
}

type dependentRequest struct {
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
}

type housingRequest struct {
	Status      string `json:"status"`
	MonthlyRent *int64 `json:"monthly_rent,omitempty"`
}

type profileRequest struct {
	Applicant             applicantRequest   `json:"applicant"`
	Couple                bool               `json:"couple"`
	PartnerBirthDate      string             `json:"partner_birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Dependents            []dependentRequest `json:"dependents" validate:"dive"`
	MonthlyNetIncome      *int64             `json:"monthly_net_income"`
	Housing               housingRequest     `json:"housing"`
	ArrivalDate           string             `json:"arrival_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ResidencePermitSince  string             `json:"residence_permit_since,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ResidencePermitExpiry string             `json:"residence_permit_expiry,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type evaluateRequest struct {
	Address string         `json:"address" validate:"required,max=512"`
	Profile profileRequest `json:"profile"`
}

type assessmentRequest struct {
	HouseholdID string         `json:"household_id,omitempty" validate:"omitempty,max=128"`
	Address     string         `json:"address" validate:"required,max=512"`
	Profile     profileRequest `json:"profile"`
	AsOf        string         `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type transitionRequest struct {
	Deadline deadline.Deadline `json:"deadline"`
	To       string            `json:"to" validate:"required"`
	Mode     string            `json:"mode,omitempty" validate:"omitempty,oneof=advance correct"`
}

type evaluateResponse struct {
	Jurisdiction *models.Jurisdiction `json:"jurisdiction"`
	Results      []eligibility.Result `json:"results"`
}

type deadlineResponse struct {
	deadline.Deadline
	ReminderDate string `json:"reminder_date"`
}

type assessmentResponse struct {
	Jurisdiction *models.Jurisdiction `json:"jurisdiction"`
	Eligibility  []eligibility.Result `json:"eligibility"`
	Deadlines    []deadlineResponse   `json:"deadlines"`
	AsOf         string               `json:"as_of"`
}

func toDeadlineResponse(d deadline.Deadline) deadlineResponse {
	return deadlineResponse{Deadline: d, ReminderDate: d.ReminderDate().Format(time.DateOnly)}
}

func toDeadlineResponses(ds []deadline.Deadline) []deadlineResponse {
	out := make([]deadlineResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDeadlineResponse(d))
	}
	return out
}

func (p profileRequest) toProfile() (eligibility.HouseholdProfile, error) {
	profile := eligibility.HouseholdProfile{
		Applicant: eligibility.Applicant{
			Nationality:     p.Applicant.Nationality,
			ResidencyStatus: eligibility.ResidencyStatus(p.Applicant.ResidencyStatus),
		},
		Couple:           p.Couple,
		MonthlyNetIncome: p.MonthlyNetIncome,
		Housing: eligibility.Housing{
			Status:      eligibility.HousingStatus(p.Housing.Status),
			MonthlyRent: p.Housing.MonthlyRent,
		},
	}

	var err error
	if profile.Applicant.BirthDate, err = date("applicant.birth_date", p.Applicant.BirthDate); err != nil {
		return profile, err
	}
	for i, d := range p.Dependents {
		born, err := date(fmt.Sprintf("dependents[%d].birth_date", i), d.BirthDate)
		if err != nil {
			return profile, err
		}
		profile.Dependents = append(profile.Dependents, eligibility.Dependent{BirthDate: born})
	}
	optional := []struct {
		field string
		value string
		dst   **time.Time
	}{
		{"partner_birth_date", p.PartnerBirthDate, &profile.PartnerBirthDate},
		{"arrival_date", p.ArrivalDate, &profile.ArrivalDate},
		{"residence_permit_since", p.ResidencePermitSince, &profile.ResidencePermitSince},
		{"residence_permit_expiry", p.ResidencePermitExpiry, &profile.ResidencePermitExpiry},
	}
	for _, o := range optional {
		if o.value == "" {
			continue
		}
		d, err := date(o.field, o.value)
		if err != nil {
			return profile, err
		}
		*o.dst = &d
	}
	return profile, nil
}

// date parses a YYYY-MM-DD value; empty stays the zero time.
func date(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := calendar.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", sentinel.ErrInvalidInput, field, err)
	}
	return d, nil
}
