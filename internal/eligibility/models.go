package eligibility

import "time"

// ResidencyStatus is the applicant's right of residence in France.
type ResidencyStatus string

const (
	ResidencyCitizen      ResidencyStatus = "citizen"
	ResidencyEUCitizen    ResidencyStatus = "eu_citizen"
	ResidencyPermit       ResidencyStatus = "residence_permit"
	ResidencyRefugee      ResidencyStatus = "refugee"
	ResidencyAsylumSeeker ResidencyStatus = "asylum_seeker"
	ResidencyUndocumented ResidencyStatus = "undocumented"
)

// HousingStatus describes how the household is housed.
type HousingStatus string

const (
	HousingTenant   HousingStatus = "tenant"
	HousingOwner    HousingStatus = "owner"
	HousingHosted   HousingStatus = "hosted"
	HousingHomeless HousingStatus = "homeless"
)

type Applicant struct {
	BirthDate       time.Time       `json:"birth_date" validate:"required"`
	Nationality     string          `json:"nationality" validate:"required,iso3166_1_alpha2"`
	ResidencyStatus ResidencyStatus `json:"residency_status" validate:"required,oneof=citizen eu_citizen residence_permit refugee asylum_seeker undocumented"`
}

type Dependent struct {
	BirthDate time.Time `json:"birth_date" validate:"required"`
}

// Housing carries the monthly rent in euro cents; tenants must declare it.
type Housing struct {
	Status      HousingStatus `json:"status" validate:"required,oneof=tenant owner hosted homeless"`
	MonthlyRent *int64        `json:"monthly_rent,omitempty" validate:"omitnil,min=0"`
}

// HouseholdProfile is the caller-owned description of a household. The engine reads it and
// never modifies it. MonthlyNetIncome is the household's net monthly earnings in euro cents.
type HouseholdProfile struct {
	Applicant             Applicant   `json:"applicant"`
	Couple                bool        `json:"couple"`
	PartnerBirthDate      *time.Time  `json:"partner_birth_date,omitempty" validate:"required_if=Couple true"`
	Dependents            []Dependent `json:"dependents" validate:"dive"`
	MonthlyNetIncome      *int64      `json:"monthly_net_income" validate:"required,min=0"`
	Housing               Housing     `json:"housing"`
	ArrivalDate           *time.Time  `json:"arrival_date,omitempty"`
	ResidencePermitSince  *time.Time  `json:"residence_permit_since,omitempty"`
	ResidencePermitExpiry *time.Time  `json:"residence_permit_expiry,omitempty"`
}

// Result is the snapshot of one benefit evaluation; callers re-evaluate to refresh it.
// EstimatedAmount is in euro cents per Period. Eligible with a zero amount is a valid
// outcome, distinct from not eligible.
type Result struct {
	BenefitID       string    `json:"benefit_id"`
	Eligible        bool      `json:"eligible"`
	EstimatedAmount int64     `json:"estimated_amount"`
	Period          Period    `json:"period"`
	ComputedAt      time.Time `json:"computed_at"`
}

// IsEligible reports whether results contains an eligible entry for any of benefitIDs.
func IsEligible(results []Result, benefitIDs ...string) bool {
	for _, r := range results {
		if !r.Eligible {
			continue
		}
		for _, id := range benefitIDs {
			if r.BenefitID == id {
				return true
			}
		}
	}
	return false
}
