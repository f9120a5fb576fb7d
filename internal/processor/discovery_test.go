package processor

import (
	"context"
	"errors"
	"testing"

	"scholar-ai-go/internal/agent"
	"scholar-ai-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alexProfile() *types.Profile {
	return &types.Profile{
		Name:               "Alex Doe",
		Education:          []types.Education{{Institution: "State U", Degree: "BSc", FieldOfStudy: "CS", GPA: 3.8}},
		Experience:         []types.Experience{{Company: "Acme", Role: "Intern"}},
		Goals:              "Graduate research in machine learning",
		Skills:             []string{"Python"},
		Languages:          []string{"English"},
		StudyInterests:     []string{"AI"},
		FinancialSituation: types.FinancialNeedSome,
	}
}

const futureFundJSON = `{"id": "s1", "name": "Future Leaders Fund", "organization": "FLF", "amount": 5000, "deadline": "2025-03-01",
 "description": "For CS students", "eligibility": ["Undergraduate"], "fieldOfStudy": "CS",
 "url": "https://futureleaders.org/apply", "matchScore": "Perfect Match", "effortScore": "Medium"}`

func TestDiscoverRecoversArrayFromProse(t *testing.T) {
	mock := agent.NewMockChatClient("Here are some matches: [ "+futureFundJSON+" ]\nGood luck!", nil)
	svc := NewDiscoveryService(mock, nil)

	opps, err := svc.Discover(context.Background(), alexProfile(), "en")
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "s1", opps[0].ID)
	assert.Equal(t, types.MatchPerfect, opps[0].MatchScore)
}

func TestDiscoverNoArrayIsParseError(t *testing.T) {
	mock := agent.NewMockChatClient("I couldn't find any.", nil)
	svc := NewDiscoveryService(mock, nil)

	opps, err := svc.Discover(context.Background(), alexProfile(), "en")
	require.Error(t, err)
	assert.Nil(t, opps)
	assert.True(t, errors.Is(err, ErrDiscoveryParse))
	assert.Equal(t, KindDiscoveryParse, KindOf(err))
	assert.True(t, Retryable(err))
}

func TestDiscoverEmptyArray(t *testing.T) {
	mock := agent.NewMockChatClient("Unfortunately nothing matched: []", nil)
	svc := NewDiscoveryService(mock, nil)

	_, err := svc.Discover(context.Background(), alexProfile(), "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscoveryEmpty))
	assert.Equal(t, KindDiscoveryEmpty, KindOf(err))
}

func TestDiscoverTransportError(t *testing.T) {
	mock := agent.NewMockChatClient("", &agent.APIError{StatusCode: 503, Status: "503 Service Unavailable"})
	svc := NewDiscoveryService(mock, nil)

	_, err := svc.Discover(context.Background(), alexProfile(), "en")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	var apiErr *agent.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestDiscoverPromptAndOptions(t *testing.T) {
	mock := agent.NewMockChatClient("["+futureFundJSON+"]", nil)
	svc := NewDiscoveryService(mock, nil, WithMaxResults(10), WithDiscoveryModel("qwen-max"))

	_, err := svc.Discover(context.Background(), alexProfile(), "ar")
	require.NoError(t, err)

	call := mock.GetCalls()[0]
	assert.True(t, call.Options.EnableSearch)
	assert.Equal(t, "ar", call.Options.Language)
	assert.Equal(t, TaskDiscover, call.Options.Task)

	prompt := call.Messages[0].Content
	for _, want := range []string{"up to 10", "Alex Doe", "BSc in CS from State U", "Intern at Acme", "Python", "English",
		"machine learning", "Some Need", "AI", "Perfect Match", "'#'"} {
		assert.Contains(t, prompt, want)
	}

	mock = agent.NewMockChatClient("["+futureFundJSON+"]", nil)
	_, err = NewDiscoveryService(mock, nil, WithSearch(false)).Discover(context.Background(), alexProfile(), "en")
	require.NoError(t, err)
	assert.False(t, mock.GetCalls()[0].Options.EnableSearch)
}

func TestDiscoverUniqueIDsAndRealURLs(t *testing.T) {
	resp := `[
	  {"id": "x", "name": "A", "url": "https://a.org", "matchScore": "Good Match", "deadline": "2025-05-01"},
	  {"id": "x", "name": "A again", "url": "https://a2.org"},
	  {"id": "y", "name": "B", "url": "#"},
	  {"id": "z", "name": "C", "url": "https://c.org", "matchScore": "Perfect Match", "deadline": "unknown"},
	  {"id": "w", "name": "D", "url": "https://d.org", "matchScore": "Perfect Match", "deadline": "2025-04-01"}
	]`
	mock := agent.NewMockChatClient(resp, nil)
	svc := NewDiscoveryService(mock, nil)

	opps, err := svc.Discover(context.Background(), alexProfile(), "en")
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, o := range opps {
		assert.False(t, seen[o.ID], "id 重复: %s", o.ID)
		seen[o.ID] = true
		assert.True(t, ValidOpportunityURL(o.URL))
	}
	require.Len(t, opps, 3)
	assert.Equal(t, []string{"w", "z", "x"}, []string{opps[0].ID, opps[1].ID, opps[2].ID}, "按匹配度、截止日期排序")
}

func TestDiscoverCapsResults(t *testing.T) {
	resp := `[{"id":"1","name":"A","url":"https://a.org"},{"id":"2","name":"B","url":"https://b.org"},{"id":"3","name":"C","url":"https://c.org"}]`
	svc := NewDiscoveryService(agent.NewMockChatClient(resp, nil), nil, WithMaxResults(2))

	opps, err := svc.Discover(context.Background(), alexProfile(), "en")
	require.NoError(t, err)
	assert.Len(t, opps, 2)
}

func TestDiscoverRejectsIneligibleProfile(t *testing.T) {
	mock := agent.NewMockChatClient("[]", nil)
	svc := NewDiscoveryService(mock, nil)

	_, err := svc.Discover(context.Background(), &types.Profile{Name: "No Education"}, "en")
	require.Error(t, err)
	assert.Zero(t, mock.CallCount())
}

func TestDiscoverDoesNotMutateProfile(t *testing.T) {
	p := alexProfile()
	before := p.Clone()
	svc := NewDiscoveryService(agent.NewMockChatClient("["+futureFundJSON+"]", nil), nil)

	_, err := svc.Discover(context.Background(), p, "en")
	require.NoError(t, err)
	assert.Equal(t, before, p)
}
