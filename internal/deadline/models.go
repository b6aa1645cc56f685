package deadline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"demarches/pkg/platform/sentinel"
)

// Type classifies what the household has to do.
type Type string

const (
	TypeVisaRenewal    Type = "visa_renewal"
	TypeCAFDeclaration Type = "caf_declaration"
	TypeTax            Type = "tax"
	TypeCPAM           Type = "cpam"
	TypePrefectureRDV  Type = "prefecture_rdv"
	TypeOther          Type = "other"
)

func (t Type) Valid() bool {
	switch t {
	case TypeVisaRenewal, TypeCAFDeclaration, TypeTax, TypeCPAM, TypePrefectureRDV, TypeOther:
		return true
	}
	return false
}

// Stage is the progress of the procedure behind a deadline.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageSubmitted  Stage = "submitted"
	StageProcessing Stage = "processing"
	StageDecision   Stage = "decision"
	StageComplete   Stage = "complete"
)

var stageRank = map[Stage]int{
	StagePreparing:  0,
	StageSubmitted:  1,
	StageProcessing: 2,
	StageDecision:   3,
	StageComplete:   4,
}

func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Deadline is one dated obligation derived for a household. Values are immutable: stage
// changes go through Advance or Correct, which return a new Deadline.
type Deadline struct {
	ID                 uuid.UUID `json:"id"`
	Type               Type      `json:"type"`
	Date               time.Time `json:"date"`
	Stage              Stage     `json:"stage"`
	ReminderDaysBefore int       `json:"reminder_days_before"`
	Completed          bool      `json:"completed"`
	RuleID             string    `json:"rule_id"`
	BenefitID          string    `json:"benefit_id,omitempty"`
	Shifted            bool      `json:"shifted"`
	CalendarVerified   bool      `json:"calendar_verified"`
}

// ReminderDate is the day the reminder subsystem should notify the household.
func (d Deadline) ReminderDate() time.Time {
	return d.Date.AddDate(0, 0, -d.ReminderDaysBefore)
}

// Advance moves d forward to stage. Stages may be skipped but never revisited.
func Advance(d Deadline, to Stage) (Deadline, error) {
	if !to.Valid() {
		return d, fmt.Errorf("advance deadline %s: unknown stage %q: %w", d.ID, to, sentinel.ErrInvalidInput)
	}
	if stageRank[to] <= stageRank[d.Stage] {
		return d, fmt.Errorf("advance deadline %s from %s to %s: %w", d.ID, d.Stage, to, sentinel.ErrInvalidState)
	}
	return withStage(d, to), nil
}

// Correct sets d to any stage, backward included. It is the explicit path for fixing a
// stage recorded by mistake.
func Correct(d Deadline, to Stage) (Deadline, error) {
	if !to.Valid() {
		return d, fmt.Errorf("correct deadline %s: unknown stage %q: %w", d.ID, to, sentinel.ErrInvalidInput)
	}
	return withStage(d, to), nil
}

func withStage(d Deadline, s Stage) Deadline {
	d.Stage = s
	d.Completed = s == StageComplete
	return d
}

// idNamespace scopes deadline ids so the same (rule, type, date) always maps to the same id.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:demarches:deadline"))

func deadlineID(ruleID string, t Type, date time.Time) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(ruleID+"|"+string(t)+"|"+date.Format(time.DateOnly)))
}
