package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/metrics"
	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/storage"
	"scholar-ai-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scholar-ai/orchestrator")

// ProfileIngester 原始输入 → 档案
type ProfileIngester interface {
	Ingest(ctx context.Context, input types.RawInput, existing *types.Profile, language string) (*types.Profile, error)
}

// OpportunityDiscoverer 档案 → 机会
type OpportunityDiscoverer interface {
	Discover(ctx context.Context, profile *types.Profile, language string) ([]types.Opportunity, error)
}

// InsightProvider 档案摘要与改进建议
type InsightProvider interface {
	Summary(ctx context.Context, profile *types.Profile, language string) (string, error)
	Feedback(ctx context.Context, profile *types.Profile, opps []types.Opportunity, language string) (string, error)
}

// PlanSynthesizer 机会 → 行动计划
type PlanSynthesizer interface {
	Synthesize(ctx context.Context, opps []types.Opportunity, language string) ([]types.ActionItem, error)
	Today() time.Time
}

// ChatSession 与档案绑定的对话
type ChatSession interface {
	StartSession(profile *types.Profile, language string)
	SetLanguage(language string)
	Reset()
	Send(ctx context.Context, message string) string
	History() []types.ChatMessage
}

// Services 编排所需的无状态服务
type Services struct {
	Ingestion ProfileIngester
	Discovery OpportunityDiscoverer
	Insights  InsightProvider
	Planner   PlanSynthesizer
	Chat      ChatSession
}

// Option 配置项
type Option func(*Orchestrator)

// WithOwnerID 设置状态归属
func WithOwnerID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.ownerID = id
		}
	}
}

// WithLanguage 设置初始响应语言
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		if _, ok := constants.SupportedLanguages[lang]; ok {
			o.state.Language = lang
		}
	}
}

// WithAutoPlan populate 成功后自动生成计划
func WithAutoPlan(enabled bool) Option {
	return func(o *Orchestrator) { o.autoPlan = enabled }
}

// WithArchiver 归档原始输入
func WithArchiver(a storage.RawInputArchiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithPublisher 发布生命周期事件
func WithPublisher(p storage.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNow 替换时钟
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator 唯一持有状态树的组件，所有修改都经过 reduce
type Orchestrator struct {
	svc       Services
	store     storage.StateStore
	archiver  storage.RawInputArchiver
	publisher storage.EventPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	ownerID   string
	autoPlan  bool
	now       func() time.Time

	// mu 保护 state，持锁期间只做同步持久化
	mu    sync.Mutex
	state State

	// nextGen 分配 populate 轮次
	nextGen uint64

	// cycles 在途的 populate 轮次，结束时关闭 done 并移除
	cycles map[uint64]*cycle

	runCtx  context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
}

// cycle 单轮 populate 的完成信号与结果
type cycle struct {
	done chan struct{}
	err  error
}

// New 创建编排器，初始阶段为 initializing
func New(svc Services, store storage.StateStore, opts ...Option) *Orchestrator {
	if store == nil {
		store = storage.NewMemoryStateStore()
	}
	o := &Orchestrator{
		svc:     svc,
		store:   store,
		logger:  logger.Named("orchestrator"),
		ownerID: constants.DefaultOwnerID,
		now:     time.Now,
		cycles:  make(map[uint64]*cycle),
		state: State{
			Phase:    PhaseInitializing,
			Language: constants.DefaultLanguage,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.runCtx, o.stop = context.WithCancel(context.Background())
	o.metrics.SetPhase(string(o.state.Phase), AllPhases)
	return o
}

// Snapshot 返回当前状态的深拷贝
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.snapshot()
}

// Phase 当前阶段
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Phase
}

// OwnerID 状态归属
func (o *Orchestrator) OwnerID() string {
	return o.ownerID
}

// dispatchLocked 应用 action，调用方持有 mu
func (o *Orchestrator) dispatchLocked(a action) error {
	next, err := reduce(o.state, a)
	if err != nil {
		return err
	}
	o.setLocked(next)
	return nil
}

// setLocked 提交已归约的新状态
func (o *Orchestrator) setLocked(next State) {
	prev := o.state.Phase
	o.state = next
	if next.Phase != prev {
		o.metrics.SetPhase(string(next.Phase), AllPhases)
		o.logger.Info().Str("from", string(prev)).Str("to", string(next.Phase)).Uint64("generation", next.generation).Msg("阶段转换")
	}
}

func (o *Orchestrator) dispatch(a action) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatchLocked(a)
}

// Bootstrap 从存储恢复档案。有档案时直接开始新一轮 populate，缓存的机会不被信任
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.bootstrap")
	defer span.End()

	profile, err := o.store.LoadProfile(ctx, o.ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		o.logger.Info().Str("owner", o.ownerID).Msg("未找到已保存的档案，进入引导")
		return o.dispatch(phaseChanged{to: PhaseOnboarding})
	}
	if err != nil {
		failure := newFailure(fmt.Errorf("恢复档案失败: %w", err), o.now())
		_ = o.dispatch(phaseChanged{to: PhaseError, err: failure})
		return err
	}

	plan, err := o.store.LoadPlan(ctx, o.ownerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.logger.Warn().Err(err).Msg("恢复行动计划失败，忽略")
	}
	if plan == nil {
		plan = []types.ActionItem{}
	}

	o.mu.Lock()
	lang := o.state.Language
	// 计划锚点没有持久化，以恢复当天为准
	if err := o.dispatchLocked(restored{profile: profile, plan: plan, anchor: o.today()}); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	if o.svc.Chat != nil {
		o.svc.Chat.StartSession(profile, lang)
	}
	o.logger.Info().Str("owner", o.ownerID).Int("plan_items", len(plan)).Msg("已恢复档案，开始刷新机会")
	_, err = o.StartRescan(ctx)
	return err
}

// Ingest 抽取档案、保存并开始 populate，返回保存后的档案
func (o *Orchestrator) Ingest(ctx context.Context, input types.RawInput) (*types.Profile, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.ingest")
	defer span.End()

	o.mu.Lock()
	if o.state.Phase == PhaseInitializing {
		o.mu.Unlock()
		return nil, &ErrInvalidTransition{From: PhaseInitializing, To: PhasePopulating}
	}
	existing := o.state.Profile.Clone()
	lang := o.state.Language
	o.mu.Unlock()

	if o.archiver != nil {
		if name, err := o.archiver.ArchiveRawInput(ctx, o.ownerID, input); err != nil {
			o.logger.Warn().Err(err).Str("kind", string(input.Kind)).Msg("归档原始输入失败")
		} else {
			o.logger.Debug().Str("object", name).Msg("原始输入已归档")
		}
	}

	profile, err := o.svc.Ingestion.Ingest(ctx, input, existing, lang)
	if err != nil {
		_ = o.dispatch(failureRecorded{failure: newFailure(err, o.now())})
		o.publish(ctx, EventIngestFailed, map[string]any{"kind": processor.KindOf(err)})
		return nil, err
	}

	if err := o.storeProfile(ctx, profile, false); err != nil {
		return nil, err
	}
	if o.svc.Chat != nil {
		o.svc.Chat.StartSession(profile, lang)
	}
	o.publish(ctx, EventProfileIngested, map[string]any{"inputKind": input.Kind})

	if _, err := o.StartRescan(ctx); err != nil {
		return profile.Clone(), err
	}
	return profile.Clone(), nil
}

// UpdateProfile 保存用户编辑的档案。引导阶段视为手动录入并开始 populate
func (o *Orchestrator) UpdateProfile(ctx context.Context, profile *types.Profile) (*types.Profile, error) {
	if profile == nil {
		return nil, ErrNoProfile
	}
	p := profile.Clone()
	if p.FinancialSituation == "" {
		p.FinancialSituation = types.DefaultFinancialNeed
	}
	if err := processor.NewSchemaValidator().CheckProfile(p); err != nil {
		return nil, err
	}

	o.mu.Lock()
	phase := o.state.Phase
	lang := o.state.Language
	if prev := o.state.Profile; prev != nil {
		// 生成内容只由 populate 写入
		p.Summary, p.ProfileFeedback = prev.Summary, prev.ProfileFeedback
	}
	o.mu.Unlock()

	if phase == PhaseInitializing {
		return nil, &ErrInvalidTransition{From: phase, To: PhasePopulating}
	}
	manual := phase == PhaseOnboarding
	if err := o.storeProfile(ctx, p, !manual); err != nil {
		return nil, err
	}
	if o.svc.Chat != nil {
		o.svc.Chat.StartSession(p, lang)
	}
	o.publish(ctx, EventProfileUpdated, nil)

	if manual {
		if _, err := o.StartRescan(ctx); err != nil {
			return p.Clone(), err
		}
	}
	return p.Clone(), nil
}

// storeProfile 先持久化再提交
func (o *Orchestrator) storeProfile(ctx context.Context, p *types.Profile, edited bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.store.SaveProfile(ctx, o.ownerID, p); err != nil {
		err = fmt.Errorf("保存档案失败: %w", err)
		_ = o.dispatchLocked(failureRecorded{failure: newFailure(err, o.now())})
		return err
	}
	return o.dispatchLocked(profileStored{profile: p.Clone(), edited: edited})
}

// SetOpportunityFeedback 标记接受/拒绝，空值清除
func (o *Orchestrator) SetOpportunityFeedback(ctx context.Context, id string, fb types.Feedback) error {
	if err := o.dispatch(opportunityMarked{id: id, feedback: &fb}); err != nil {
		return err
	}
	o.publish(ctx, EventFeedbackSet, map[string]any{"opportunityId": id, "feedback": fb})
	return nil
}

// SetApplicationStatus 更新申请进度
func (o *Orchestrator) SetApplicationStatus(ctx context.Context, id string, status types.ApplicationStatus) error {
	return o.dispatch(opportunityMarked{id: id, status: &status})
}

// SetLanguage 切换响应语言，之后的调用都使用新语言
func (o *Orchestrator) SetLanguage(lang string) error {
	if _, ok := constants.SupportedLanguages[lang]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	if err := o.dispatch(languageSet{language: lang}); err != nil {
		return err
	}
	if o.svc.Chat != nil {
		o.svc.Chat.SetLanguage(lang)
	}
	return nil
}

// Reset 删除档案、计划和原始输入归档，清空对话，回到 onboarding。进行中的 populate 被作废
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if err := o.store.Delete(ctx, o.ownerID); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("删除已保存状态失败: %w", err)
	}
	o.nextGen++
	if err := o.dispatchLocked(wiped{generation: o.nextGen}); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.metrics.SetOpportunities(0)
	if o.svc.Chat != nil {
		o.svc.Chat.Reset()
	}
	if o.archiver != nil {
		if n, err := o.archiver.PurgeRawInputs(ctx, o.ownerID); err != nil {
			o.logger.Warn().Err(err).Msg("清理原始输入归档失败")
		} else if n > 0 {
			o.logger.Info().Int("objects", n).Msg("已清理原始输入归档")
		}
	}
	o.publish(ctx, EventProfileReset, nil)
	return nil
}

// SendChat 对话失败时返回降级文本，不影响状态机
func (o *Orchestrator) SendChat(ctx context.Context, message string) string {
	if o.svc.Chat == nil {
		return ""
	}
	return o.svc.Chat.Send(ctx, message)
}

// ChatHistory 当前会话历史
func (o *Orchestrator) ChatHistory() []types.ChatMessage {
	if o.svc.Chat == nil {
		return []types.ChatMessage{}
	}
	return o.svc.Chat.History()
}

// Wait 等待调用时已开始的 populate 结束，之后新开的轮次不在等待范围内
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	pending := make([]*cycle, 0, len(o.cycles))
	for _, c := range o.cycles {
		pending = append(pending, c)
	}
	o.mu.Unlock()
	for _, c := range pending {
		<-c.done
	}
}

// Close 取消在途调用并等待退出，之后不再接受新的轮次
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stop()
	o.mu.Unlock()
	o.running.Wait()
}

func (o *Orchestrator) today() time.Time {
	if o.svc.Planner != nil {
		return o.svc.Planner.Today()
	}
	return processor.DateOf(o.now())
}
