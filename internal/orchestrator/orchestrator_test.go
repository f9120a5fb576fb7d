package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scholar-ai-go/internal/agent"
	"scholar-ai-go/internal/metrics"
	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/storage"
	"scholar-ai-go/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alexProfileJSON = `{
  "name": "Alex Doe",
  "education": [{"institution": "State U", "degree": "BSc", "fieldOfStudy": "CS", "gpa": 3.8}],
  "goals": "Graduate research in machine learning",
  "skills": ["Python"],
  "studyInterests": ["AI"],
  "financialSituation": "Some Need"
}`

func alexProfile() *types.Profile {
	return &types.Profile{
		Name:               "Alex Doe",
		Education:          []types.Education{{Institution: "State U", Degree: "BSc", FieldOfStudy: "CS", GPA: 3.8}},
		Goals:              "Graduate research in machine learning",
		Skills:             []string{"Python"},
		StudyInterests:     []string{"AI"},
		FinancialSituation: types.FinancialNeedSome,
	}
}

func opp(id, name, deadline string) types.Opportunity {
	return types.Opportunity{
		ID: id, Name: name, Deadline: deadline, URL: "https://" + id + ".org",
		MatchScore: types.MatchGood, EffortScore: types.EffortMedium,
	}
}

// discoverFunc 可编程的发现服务
type discoverFunc func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error)

func (f discoverFunc) Discover(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
	return f(ctx, p, lang)
}

func staticDiscovery(opps ...types.Opportunity) discoverFunc {
	return func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		return append([]types.Opportunity(nil), opps...), nil
	}
}

type fakeInsights struct {
	summaryFn     func() (string, error)
	feedbackFn    func() (string, error)
	feedbackCalls atomic.Int32
}

func (f *fakeInsights) Summary(ctx context.Context, p *types.Profile, lang string) (string, error) {
	if f.summaryFn != nil {
		return f.summaryFn()
	}
	return "Alex is a promising CS student.", nil
}

func (f *fakeInsights) Feedback(ctx context.Context, p *types.Profile, opps []types.Opportunity, lang string) (string, error) {
	f.feedbackCalls.Add(1)
	if f.feedbackFn != nil {
		return f.feedbackFn()
	}
	return "Add research experience.", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(ctx context.Context, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	orch      *Orchestrator
	store     *storage.MemoryStateStore
	insights  *fakeInsights
	publisher *recordingPublisher
	chatLLM   *agent.MockChatClient
}

func newHarness(t *testing.T, disc OpportunityDiscoverer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:     storage.NewMemoryStateStore(),
		insights:  &fakeInsights{},
		publisher: &recordingPublisher{},
		chatLLM:   agent.NewMockChatClient("Keep going!", nil),
	}
	clock := func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	svc := Services{
		Ingestion: processor.NewIngestionService(agent.NewMockChatClient(alexProfileJSON, nil), nil),
		Discovery: disc,
		Insights:  h.insights,
		Planner:   processor.NewPlanService(nil, processor.WithClock(clock)),
		Chat:      agent.NewChatAssistant(h.chatLLM, nil, ""),
	}
	base := []Option{WithPublisher(h.publisher), WithNow(clock), WithMetrics(metrics.New(prometheus.NewRegistry()))}
	h.orch = New(svc, h.store, append(base, opts...)...)
	t.Cleanup(h.orch.Close)
	return h
}

// ready 经手动录入走到 ready
func (h *harness) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.Bootstrap(context.Background()))
	_, err := h.orch.UpdateProfile(context.Background(), alexProfile())
	require.NoError(t, err)
	h.orch.Wait()
	require.Equal(t, PhaseReady, h.orch.Phase())
}

func TestBootstrapWithoutProfileGoesToOnboarding(t *testing.T) {
	h := newHarness(t, staticDiscovery())
	assert.Equal(t, PhaseInitializing, h.orch.Phase())

	require.NoError(t, h.orch.Bootstrap(context.Background()))
	assert.Equal(t, PhaseOnboarding, h.orch.Phase())

	_, err := h.orch.StartRescan(context.Background())
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestIngestPopulatesToReady(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha Grant", "2025-03-01")))
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))

	p, err := h.orch.Ingest(ctx, types.RawInput{Kind: types.InputText, Text: "I'm Alex..."})
	require.NoError(t, err)
	assert.Equal(t, "Alex Doe", p.Name)
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	require.Len(t, snap.Opportunities, 1)
	assert.Equal(t, "Alex is a promising CS student.", snap.Profile.Summary)
	assert.Equal(t, "Add research experience.", snap.Profile.ProfileFeedback)
	assert.Nil(t, snap.LastError)

	// 摘要与反馈随档案一起持久化
	stored, err := h.store.LoadProfile(ctx, h.orch.OwnerID())
	require.NoError(t, err)
	assert.Equal(t, snap.Profile, stored)

	assert.Equal(t, []string{EventProfileIngested, EventPopulateStarted, EventPopulateReady}, h.publisher.Events())
}

func TestIngestFailureKeepsPhase(t *testing.T) {
	h := newHarness(t, staticDiscovery())
	h.orch.svc.Ingestion = processor.NewIngestionService(agent.NewMockChatClient("no json here", nil), nil)
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))

	_, err := h.orch.Ingest(ctx, types.RawInput{Kind: types.InputText, Text: "hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, processor.ErrExtraction))

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseOnboarding, snap.Phase)
	assert.Nil(t, snap.Profile)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, processor.KindExtraction, snap.LastError.Kind)
	assert.True(t, snap.LastError.Retryable)
}

func TestRescanPreservesFeedbackFlags(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown"), opp("b", "Beta", "unknown"), opp("c", "Gamma", "unknown")))
	h.ready(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SetOpportunityFeedback(ctx, "a", types.FeedbackAccepted))
	require.NoError(t, h.orch.SetOpportunityFeedback(ctx, "b", types.FeedbackRejected))
	require.NoError(t, h.orch.SetApplicationStatus(ctx, "a", types.ApplicationInProgress))
	before := h.orch.Snapshot().Opportunities

	_, err := h.orch.Rescan(ctx)
	require.NoError(t, err)
	after := h.orch.Snapshot().Opportunities

	assert.Equal(t, before, after)
	assert.Equal(t, types.FeedbackAccepted, after[0].Feedback)
	assert.Equal(t, types.ApplicationInProgress, after[0].ApplicationStatus)
	assert.Equal(t, types.FeedbackRejected, after[1].Feedback)
	assert.Equal(t, types.FeedbackNone, after[2].Feedback)
}

func TestRescanReplacesOpportunitiesAndDropsVanishedFlags(t *testing.T) {
	var round atomic.Int32
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		if round.Add(1) == 1 {
			return []types.Opportunity{opp("a", "Alpha", "unknown"), opp("b", "Beta", "unknown")}, nil
		}
		return []types.Opportunity{opp("b", "Beta", "unknown"), opp("d", "Delta", "unknown")}, nil
	})
	h := newHarness(t, disc)
	h.ready(t)
	ctx := context.Background()
	require.NoError(t, h.orch.SetOpportunityFeedback(ctx, "a", types.FeedbackAccepted))
	require.NoError(t, h.orch.SetOpportunityFeedback(ctx, "b", types.FeedbackRejected))

	_, err := h.orch.Rescan(ctx)
	require.NoError(t, err)

	opps := h.orch.Snapshot().Opportunities
	require.Len(t, opps, 2)
	assert.Equal(t, "b", opps[0].ID)
	assert.Equal(t, types.FeedbackRejected, opps[0].Feedback)
	assert.Equal(t, "d", opps[1].ID)
	assert.Equal(t, types.FeedbackNone, opps[1].Feedback)
}

func TestPopulateFailurePreservesPriorData(t *testing.T) {
	var fail atomic.Bool
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		if fail.Load() {
			return nil, processor.NewTransportError("discover", errors.New("503 Service Unavailable"))
		}
		return []types.Opportunity{opp("a", "Alpha", "unknown")}, nil
	})
	h := newHarness(t, disc)
	h.ready(t)
	ctx := context.Background()
	prior := h.orch.Snapshot()

	fail.Store(true)
	_, err := h.orch.Rescan(ctx)
	require.Error(t, err)

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, prior.Opportunities, snap.Opportunities)
	assert.Equal(t, prior.Profile, snap.Profile)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, processor.KindTransport, snap.LastError.Kind)
	assert.True(t, snap.LastError.Retryable)
	assert.Contains(t, h.publisher.Events(), EventPopulateFailed)

	// error → populating → ready
	fail.Store(false)
	_, err = h.orch.Rescan(ctx)
	require.NoError(t, err)
	snap = h.orch.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Nil(t, snap.LastError)
}

func TestDiscoveryParseErrorSetsErrorPhase(t *testing.T) {
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		return nil, processor.NewDiscoveryParseError("响应中没有 JSON 数组", nil)
	})
	h := newHarness(t, disc)
	require.NoError(t, h.orch.Bootstrap(context.Background()))
	_, err := h.orch.UpdateProfile(context.Background(), alexProfile())
	require.NoError(t, err)
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, processor.KindDiscoveryParse, snap.LastError.Kind)
	assert.Empty(t, snap.Opportunities)
	assert.Zero(t, h.insights.feedbackCalls.Load(), "发现失败时不生成摘要与反馈")
}

func TestDiscoveryEmptyIsReady(t *testing.T) {
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		return nil, processor.NewDiscoveryEmptyError()
	})
	h := newHarness(t, disc)
	h.ready(t)

	snap := h.orch.Snapshot()
	assert.True(t, snap.DiscoveryEmpty)
	assert.NotNil(t, snap.Opportunities)
	assert.Empty(t, snap.Opportunities)
	assert.Nil(t, snap.LastError)
}

func TestSummaryAndFeedbackAreJoined(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	var feedbackFinished atomic.Bool
	h.insights.summaryFn = func() (string, error) {
		return "", processor.NewTransportError("summary", errors.New("timeout"))
	}
	h.insights.feedbackFn = func() (string, error) {
		time.Sleep(50 * time.Millisecond)
		feedbackFinished.Store(true)
		return "ok", nil
	}
	require.NoError(t, h.orch.Bootstrap(context.Background()))
	_, err := h.orch.UpdateProfile(context.Background(), alexProfile())
	require.NoError(t, err)
	h.orch.Wait()

	// 摘要先失败也要等反馈结束
	assert.True(t, feedbackFinished.Load())
	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Empty(t, snap.Opportunities, "失败批次的发现结果不提交")
	assert.Empty(t, snap.Profile.ProfileFeedback)
}

func TestStaleCycleIsDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return []types.Opportunity{opp("old", "Old Grant", "unknown")}, nil
		}
		return []types.Opportunity{opp("new", "New Grant", "unknown")}, nil
	})
	h := newHarness(t, disc)
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))
	_, err := h.orch.UpdateProfile(ctx, alexProfile())
	require.NoError(t, err)
	<-entered

	gen2, err := h.orch.StartRescan(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.orch.Phase() == PhaseReady }, time.Second, 5*time.Millisecond)

	close(release)
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, gen2, snap.Generation)
	require.Len(t, snap.Opportunities, 1)
	assert.Equal(t, "new", snap.Opportunities[0].ID)
}

func TestBootstrapRehydratesAndRepopulates(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("fresh", "Fresh Grant", "unknown")))
	ctx := context.Background()
	owner := h.orch.OwnerID()
	require.NoError(t, h.store.SaveProfile(ctx, owner, alexProfile()))
	plan := []types.ActionItem{{ID: "i1", ScholarshipID: "old", Task: "Submit Old Grant", Week: 1}}
	require.NoError(t, h.store.SavePlan(ctx, owner, plan))

	require.NoError(t, h.orch.Bootstrap(ctx))
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, plan, snap.Plan)
	require.Len(t, snap.Opportunities, 1)
	assert.Equal(t, "fresh", snap.Opportunities[0].ID)
	assert.Equal(t, "Alex Doe", snap.Profile.Name)
	assert.True(t, snap.PlanStale, "计划引用的机会已不在新结果中")

	_, err := h.orch.GeneratePlan(ctx)
	require.NoError(t, err)
	snap = h.orch.Snapshot()
	assert.False(t, snap.PlanStale)
	for _, it := range snap.Plan {
		assert.Equal(t, "fresh", it.ScholarshipID)
	}
}

func TestRescanKeepsPlanFreshWhenOpportunitiesSurvive(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha Grant", "unknown")))
	h.ready(t)
	ctx := context.Background()
	_, err := h.orch.GeneratePlan(ctx)
	require.NoError(t, err)

	_, err = h.orch.Rescan(ctx)
	require.NoError(t, err)
	snap := h.orch.Snapshot()
	assert.NotEmpty(t, snap.Plan)
	assert.False(t, snap.PlanStale)
}

func TestRescanWaitsOnlyForItsOwnCycle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		if calls.Add(1) == 2 {
			close(entered)
			<-release
		}
		return []types.Opportunity{opp("a", "Alpha", "unknown")}, nil
	})
	h := newHarness(t, disc)
	h.ready(t)
	ctx := context.Background()
	defer close(release)

	_, err := h.orch.StartRescan(ctx)
	require.NoError(t, err)
	<-entered

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Rescan(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Rescan 不应等待被阻塞的旧一轮")
	}
	assert.Equal(t, PhaseReady, h.orch.Phase())
}

func TestConcurrentRescans(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	h.ready(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.orch.Rescan(ctx)
			if err != nil {
				assert.ErrorIs(t, err, ErrStaleCycle)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := h.orch.StartRescan(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, uint64(201), snap.Generation)
	require.Len(t, snap.Opportunities, 1)
}

func TestStartRescanAfterClose(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	h.ready(t)
	h.orch.Close()

	_, err := h.orch.StartRescan(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.orch.Rescan(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGeneratePlanToggleAndCalendar(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha Grant", "2025-03-01"), opp("b", "Beta Award", "unknown")))
	ctx := context.Background()
	h.ready(t)
	require.NoError(t, h.orch.SetOpportunityFeedback(ctx, "b", types.FeedbackRejected))

	items, err := h.orch.GeneratePlan(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, it := range items {
		assert.Equal(t, "a", it.ScholarshipID, "被拒绝的机会不进入计划")
	}

	stored, err := h.store.LoadPlan(ctx, h.orch.OwnerID())
	require.NoError(t, err)
	assert.Equal(t, items, stored)
	assert.Equal(t, "2025-01-01", h.orch.Snapshot().PlanAnchor)

	toggled, err := h.orch.ToggleActionItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	stored, _ = h.store.LoadPlan(ctx, h.orch.OwnerID())
	assert.True(t, stored[0].Completed)

	same, err := h.orch.SetActionItemCompleted(ctx, items[0].ID, true)
	require.NoError(t, err)
	assert.True(t, same.Completed)

	link, err := h.orch.CalendarLink(items[0].ID)
	require.NoError(t, err)
	assert.Contains(t, link, "action=TEMPLATE")

	_, err = h.orch.ToggleActionItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownActionItem)
	_, err = h.orch.CalendarLink("missing")
	assert.ErrorIs(t, err, ErrUnknownActionItem)
}

func TestGeneratePlanBeforeReady(t *testing.T) {
	h := newHarness(t, staticDiscovery())
	require.NoError(t, h.orch.Bootstrap(context.Background()))
	_, err := h.orch.GeneratePlan(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestAutoPlanAfterPopulate(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha Grant", "unknown")), WithAutoPlan(true))
	h.ready(t)
	assert.Len(t, h.orch.Snapshot().Plan, 4)
}

func TestUnknownOpportunityFeedback(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	h.ready(t)
	err := h.orch.SetOpportunityFeedback(context.Background(), "zzz", types.FeedbackAccepted)
	assert.ErrorIs(t, err, ErrUnknownOpportunity)
}

func TestProfileEditSetsUpdatedHint(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	h.ready(t)
	ctx := context.Background()

	edited := alexProfile()
	edited.Skills = []string{"Python", "Go"}
	_, err := h.orch.UpdateProfile(ctx, edited)
	require.NoError(t, err)

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase, "编辑档案不自动重扫")
	assert.True(t, snap.ProfileUpdated)
	assert.Equal(t, "Alex is a promising CS student.", snap.Profile.Summary, "生成内容保留")

	_, err = h.orch.Rescan(ctx)
	require.NoError(t, err)
	assert.False(t, h.orch.Snapshot().ProfileUpdated)

	_, err = h.orch.UpdateProfile(ctx, &types.Profile{Name: "No Education"})
	assert.Error(t, err)
}

func TestResetClearsStateStoreAndChat(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	h.ready(t)
	ctx := context.Background()
	_, err := h.orch.GeneratePlan(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Keep going!", h.orch.SendChat(ctx, "How do I start?"))
	assert.Len(t, h.orch.ChatHistory(), 2)

	require.NoError(t, h.orch.Reset(ctx))
	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseOnboarding, snap.Phase)
	assert.Nil(t, snap.Profile)
	assert.Empty(t, snap.Opportunities)
	assert.Empty(t, snap.Plan)
	assert.Empty(t, h.orch.ChatHistory())

	_, err = h.store.LoadProfile(ctx, h.orch.OwnerID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.store.LoadPlan(ctx, h.orch.OwnerID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []types.InputKind
	purged   int
}

func (r *recordingArchiver) ArchiveRawInput(ctx context.Context, ownerID string, input types.RawInput) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, input.Kind)
	return "raw-inputs/" + ownerID + "/text/1.txt", nil
}

func (r *recordingArchiver) PurgeRawInputs(ctx context.Context, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged++
	return len(r.archived), nil
}

func TestIngestArchivesAndResetPurges(t *testing.T) {
	archiver := &recordingArchiver{}
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")), WithArchiver(archiver))
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))

	_, err := h.orch.Ingest(ctx, types.RawInput{Kind: types.InputText, Text: "I am Alex"})
	require.NoError(t, err)
	h.orch.Wait()
	assert.Equal(t, []types.InputKind{types.InputText}, archiver.archived)

	require.NoError(t, h.orch.Reset(ctx))
	assert.Equal(t, 1, archiver.purged)
}

func TestResetFencesInflightCycle(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	disc := discoverFunc(func(ctx context.Context, p *types.Profile, lang string) ([]types.Opportunity, error) {
		close(entered)
		<-release
		return []types.Opportunity{opp("a", "Alpha", "unknown")}, nil
	})
	h := newHarness(t, disc)
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))
	_, err := h.orch.UpdateProfile(ctx, alexProfile())
	require.NoError(t, err)
	<-entered

	require.NoError(t, h.orch.Reset(ctx))
	close(release)
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, PhaseOnboarding, snap.Phase)
	assert.Empty(t, snap.Opportunities)
}

func TestChatFailureIsLocal(t *testing.T) {
	h := newHarness(t, staticDiscovery(opp("a", "Alpha", "unknown")))
	h.ready(t)
	h.chatLLM.SetError(errors.New("connection refused"))

	reply := h.orch.SendChat(context.Background(), "hi")
	assert.Equal(t, agent.DegradedReply("en"), reply)
	assert.Equal(t, PhaseReady, h.orch.Phase())
	assert.Nil(t, h.orch.Snapshot().LastError)
}

func TestSetLanguage(t *testing.T) {
	h := newHarness(t, staticDiscovery())
	require.NoError(t, h.orch.SetLanguage("ar"))
	assert.Equal(t, "ar", h.orch.Snapshot().Language)
	assert.ErrorIs(t, h.orch.SetLanguage("fr"), ErrUnsupportedLanguage)
}
