package deadline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	assert.NotEmpty(t, rules.Version())

	types := map[Type]bool{}
	for _, r := range rules.Rules() {
		types[r.Type] = true
	}
	for _, want := range []Type{TypeCAFDeclaration, TypeVisaRenewal, TypePrefectureRDV, TypeCPAM, TypeTax} {
		assert.True(t, types[want], "missing rule for %s", want)
	}
}

func TestParseRules_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "rules: []", "empty"},
		{"unknown type", "rules:\n  - {id: a, type: party, trigger: {event: always}, offset: {kind: next_quarter_start}}", "unknown type"},
		{"two triggers", "rules:\n  - {id: a, type: tax, trigger: {event: always, benefits: [rsa]}, offset: {kind: next_quarter_start}}", "exactly one"},
		{"no trigger", "rules:\n  - {id: a, type: tax, offset: {kind: next_quarter_start}}", "exactly one"},
		{"unknown event", "rules:\n  - {id: a, type: tax, trigger: {event: birthday}, offset: {kind: next_quarter_start}}", "unknown event"},
		{"empty before", "rules:\n  - {id: a, type: tax, trigger: {event: arrival}, offset: {kind: before}}", "positive days or months"},
		{"bad annual", "rules:\n  - {id: a, type: tax, trigger: {event: always}, offset: {kind: annual, month: 2, day: 30}}", "invalid date"},
		{"unknown kind", "rules:\n  - {id: a, type: tax, trigger: {event: always}, offset: {kind: weekly}}", "unknown offset"},
		{"tax without calendar", "rules:\n  - {id: a, type: tax, trigger: {event: always}, offset: {kind: tax_zone}}", "without tax_calendar"},
		{"duplicate", "rules:\n  - {id: a, type: tax, trigger: {event: always}, offset: {kind: next_quarter_start}}\n  - {id: a, type: tax, trigger: {event: always}, offset: {kind: next_quarter_start}}", "listed twice"},
		{"negative reminder", "rules:\n  - {id: a, type: tax, trigger: {event: always}, offset: {kind: next_quarter_start}, reminder_days_before: -1}", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDepartmentNumber(t *testing.T) {
	for code, want := range map[string]int{"01": 1, "2a": 20, "2B": 20, "75": 75, "976": 976} {
		n, ok := departmentNumber(code)
		assert.True(t, ok, code)
		assert.Equal(t, want, n, code)
	}
	_, ok := departmentNumber("XX")
	assert.False(t, ok)
}
