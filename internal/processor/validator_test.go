package processor

import (
	"encoding/json"
	"errors"
	"testing"

	"scholar-ai-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawElems(t *testing.T, s string) []json.RawMessage {
	t.Helper()
	var elems []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &elems))
	return elems
}

func TestDecodeProfileCoercesLooseTypes(t *testing.T) {
	v := NewSchemaValidator()
	p, err := v.DecodeProfile(`{
		"name": "  Alex Doe ",
		"education": [{"institution": "State U", "degree": "BSc", "field": "CS", "gpa": "3.8"}, {}],
		"skills": "Python, Go, python",
		"languages": ["English", ""],
		"goals": "Research in AI",
		"financialSituation": "some need",
		"studyInterests": ["AI"]
	}`)
	require.NoError(t, err)

	assert.Equal(t, "Alex Doe", p.Name)
	require.Len(t, p.Education, 1, "全空的教育经历应被丢弃")
	assert.Equal(t, "CS", p.Education[0].FieldOfStudy)
	assert.InDelta(t, 3.8, p.Education[0].GPA, 1e-9)
	assert.Equal(t, []string{"Python", "Go"}, p.Skills)
	assert.Equal(t, []string{"English"}, p.Languages)
	assert.Equal(t, types.FinancialNeedSome, p.FinancialSituation)
	assert.NoError(t, v.CheckProfile(p))
}

func TestDecodeProfileInvalidFinancialNeedLeftEmpty(t *testing.T) {
	v := NewSchemaValidator()
	p, err := v.DecodeProfile(`{"name": "A", "financialSituation": "very poor"}`)
	require.NoError(t, err)
	assert.Empty(t, p.FinancialSituation)
}

func TestDecodeProfileRejectsNonObject(t *testing.T) {
	_, err := NewSchemaValidator().DecodeProfile(`["not", "an", "object"]`)
	assert.Error(t, err)
}

func TestCheckProfileReportsMissingFields(t *testing.T) {
	v := NewSchemaValidator()
	err := v.CheckProfile(&types.Profile{Education: []types.Education{{Institution: "State U"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "education")
	assert.ErrorIs(t, err, ErrProfileIncomplete)
}

func TestOpportunitiesValidation(t *testing.T) {
	v := NewSchemaValidator()
	opps, err := v.Opportunities(rawElems(t, `[
		{"id": "a", "name": "Future Fund", "organization": "Org", "amount": "$5,000", "deadline": "March 1, 2025",
		 "url": "https://fund.org/apply", "matchScore": "excellent match", "effortScore": "low", "feedback": "accepted"},
		{"id": "a", "name": "Duplicate", "url": "https://dup.org"},
		{"id": "b", "name": "Placeholder", "url": "#"},
		{"id": "c", "name": "Example", "url": "https://www.example.com/scholarship"},
		{"name": "No Id Grant", "organization": "Org2", "url": "http://grants.edu/x", "matchScore": 85, "deadline": "Rolling"},
		{"id": "d", "url": "https://noname.org"},
		"not an object"
	]`))
	require.NoError(t, err)
	require.Len(t, opps, 2)

	first := opps[0]
	assert.Equal(t, "a", first.ID)
	assert.InDelta(t, 5000, first.Amount, 1e-9)
	assert.Equal(t, "2025-03-01", first.Deadline)
	assert.Equal(t, types.MatchExcellent, first.MatchScore)
	assert.Equal(t, types.EffortLow, first.EffortScore)
	assert.Empty(t, first.Feedback, "模型给出的 feedback 不可信")

	second := opps[1]
	assert.NotEmpty(t, second.ID)
	assert.Equal(t, "unknown", second.Deadline)
	assert.Equal(t, types.MatchExcellent, second.MatchScore, "85 分映射为 Excellent")
	assert.Equal(t, types.EffortMedium, second.EffortScore)

	// 派生 id 稳定
	again, err := v.Opportunities(rawElems(t, `[{"name": "No Id Grant", "organization": "Org2", "url": "http://grants.edu/x"}]`))
	require.NoError(t, err)
	assert.Equal(t, second.ID, again[0].ID)
}

func TestOpportunitiesAllRejected(t *testing.T) {
	_, err := NewSchemaValidator().Opportunities(rawElems(t, `[{"name": "X", "url": "#"}, {"url": "https://a.org"}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscoveryParse))
}

func TestValidOpportunityURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.daad.de/en/study-and-research-in-germany/scholarships/", true},
		{"http://fulbright.org", true},
		{"", false},
		{"#", false},
		{"/relative/path", false},
		{"ftp://files.org/a", false},
		{"https://example.org/apply", false},
		{"https://www.example.com", false},
		{"http://localhost:8080", false},
		{"https://scholarship.org/placeholder-link", false},
		{"https://nohost", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidOpportunityURL(tt.url))
		})
	}
}

func TestNormalizeDeadline(t *testing.T) {
	tests := map[string]string{
		"2025-03-01":       "2025-03-01",
		"March 1, 2025":    "2025-03-01",
		"2025/03/01":       "2025-03-01",
		"unknown":          "unknown",
		"Rolling":          "unknown",
		"":                 "unknown",
		"Varies by school": "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDeadline(in), in)
	}
}

func TestParseMatchQuality(t *testing.T) {
	tests := []struct {
		in        any
		want      types.MatchQuality
		wantDrift bool
	}{
		{"Perfect Match", types.MatchPerfect, false},
		{"good", types.MatchGood, false},
		{"Possible Match", types.MatchPossible, false},
		{float64(95), types.MatchPerfect, true},
		{float64(0.7), types.MatchGood, true},
		{"40%", types.MatchPossible, true},
		{"amazing", types.MatchPossible, true},
		{nil, types.MatchPossible, false},
	}
	for _, tt := range tests {
		got, drift := parseMatchQuality(tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
		assert.Equal(t, tt.wantDrift, drift, "%v", tt.in)
	}
}

func TestAsAmount(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(2500), 2500, true},
		{"$5,000", 5000, true},
		{"Up to 10k per year", 10000, true},
		{"1.5M", 1500000, true},
		{"full tuition", 0, false},
	}
	for _, tt := range tests {
		got, ok := asAmount(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.InDelta(t, tt.want, got, 1e-6, "%v", tt.in)
	}
}
