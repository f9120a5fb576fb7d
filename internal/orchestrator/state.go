package orchestrator

import (
	"errors"
	"time"

	"scholar-ai-go/internal/processor"
	"scholar-ai-go/internal/types"
)

var (
	// ErrNoProfile 尚未建立档案
	ErrNoProfile = errors.New("尚未建立档案")
	// ErrUnknownOpportunity 当前结果集中没有该机会
	ErrUnknownOpportunity = errors.New("机会不存在")
	// ErrUnknownActionItem 当前计划中没有该任务
	ErrUnknownActionItem = errors.New("行动项不存在")
	// ErrNotReady 当前阶段不能执行该操作
	ErrNotReady = errors.New("机会尚未就绪")
	// ErrStaleCycle 结果属于已被取代的一轮
	ErrStaleCycle = errors.New("结果已过期")
	// ErrUnsupportedLanguage 不支持的响应语言
	ErrUnsupportedLanguage = errors.New("不支持的语言")
	// ErrClosed 编排器已关闭
	ErrClosed = errors.New("编排器已关闭")
)

// Failure 最近一次失败，供展示层决定是否提供重试
type Failure struct {
	Kind      processor.ErrorKind `json:"kind"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
	At        time.Time           `json:"at"`
}

func newFailure(err error, at time.Time) *Failure {
	return &Failure{
		Kind:      processor.KindOf(err),
		Message:   err.Error(),
		Retryable: processor.Retryable(err),
		At:        at,
	}
}

// State 状态树，只由 reduce 修改
type State struct {
	Phase    Phase
	Language string

	Profile *types.Profile
	// 档案被编辑后置位，下一次 populate 完成时清除
	ProfileUpdated bool

	Opportunities []types.Opportunity
	// 最近一次发现结果为空
	DiscoveryEmpty bool
	PopulatedAt    time.Time

	Plan []types.ActionItem
	// 计划第 1 周的起点
	PlanAnchor time.Time
	// 计划引用了当前结果中已不存在的机会，重新生成计划时清除
	PlanStale bool

	LastError *Failure

	// generation 单调递增，用于隔离并发的 populate
	generation uint64
	// oppsGeneration 当前机会集合来自哪一轮
	oppsGeneration uint64
	// inflight 已完成发现、等待摘要与反馈的批次
	inflight *batch
	// profileRev 每次保存档案加一，startedRev 为本轮开始时的值
	profileRev uint64
	startedRev uint64
}

// batch 一轮 populate 的中间结果，失败时整体丢弃
type batch struct {
	generation    uint64
	opportunities []types.Opportunity
	empty         bool
}

// Snapshot 对外只读视图
type Snapshot struct {
	Phase          Phase               `json:"phase"`
	Language       string              `json:"language"`
	Profile        *types.Profile      `json:"profile,omitempty"`
	ProfileUpdated bool                `json:"profileUpdated"`
	Opportunities  []types.Opportunity `json:"opportunities"`
	DiscoveryEmpty bool                `json:"discoveryEmpty"`
	PopulatedAt    *time.Time          `json:"populatedAt,omitempty"`
	Plan           []types.ActionItem  `json:"plan"`
	PlanAnchor     string              `json:"planAnchor,omitempty"`
	PlanStale      bool                `json:"planStale"`
	LastError      *Failure            `json:"lastError,omitempty"`
	Generation     uint64              `json:"generation"`
	Populating     bool                `json:"populating"`
}

func (s *State) snapshot() Snapshot {
	snap := Snapshot{
		Phase:          s.Phase,
		Language:       s.Language,
		Profile:        s.Profile.Clone(),
		ProfileUpdated: s.ProfileUpdated,
		Opportunities:  cloneOpportunities(s.Opportunities),
		DiscoveryEmpty: s.DiscoveryEmpty,
		Plan:           append([]types.ActionItem{}, s.Plan...),
		PlanStale:      s.PlanStale,
		Generation:     s.generation,
		Populating:     s.Phase == PhasePopulating,
	}
	if !s.PopulatedAt.IsZero() {
		at := s.PopulatedAt
		snap.PopulatedAt = &at
	}
	if !s.PlanAnchor.IsZero() {
		snap.PlanAnchor = s.PlanAnchor.Format(time.DateOnly)
	}
	if s.LastError != nil {
		f := *s.LastError
		snap.LastError = &f
	}
	return snap
}

func cloneOpportunities(in []types.Opportunity) []types.Opportunity {
	out := make([]types.Opportunity, len(in))
	for i, o := range in {
		o.Eligibility = append([]string(nil), o.Eligibility...)
		out[i] = o
	}
	return out
}

// action 一次状态转换
type action interface {
	apply(s *State) error
}

// reduce 在副本上应用 action，失败时原状态不变
func reduce(s State, a action) (State, error) {
	next := s
	if err := a.apply(&next); err != nil {
		return s, err
	}
	return next, nil
}

func transition(s *State, to Phase) error {
	if !IsTransitionAllowed(s.Phase, to) {
		return &ErrInvalidTransition{From: s.Phase, To: to}
	}
	s.Phase = to
	return nil
}

// restored 启动时读到已持久化的档案
type restored struct {
	profile *types.Profile
	plan    []types.ActionItem
	anchor  time.Time
}

func (a restored) apply(s *State) error {
	s.Profile = a.profile
	s.Plan = a.plan
	s.PlanAnchor = a.anchor
	return nil
}

// phaseChanged 单纯的阶段转换
type phaseChanged struct {
	to  Phase
	err *Failure
}

func (a phaseChanged) apply(s *State) error {
	if err := transition(s, a.to); err != nil {
		return err
	}
	if a.err != nil {
		s.LastError = a.err
	}
	return nil
}

// profileStored 档案已写入存储
type profileStored struct {
	profile *types.Profile
	edited  bool
}

func (a profileStored) apply(s *State) error {
	s.Profile = a.profile
	s.profileRev++
	if a.edited {
		s.ProfileUpdated = true
	}
	return nil
}

// populateStarted 开启新一轮，旧的在途批次作废
type populateStarted struct {
	generation uint64
}

func (a populateStarted) apply(s *State) error {
	if s.Profile == nil {
		return ErrNoProfile
	}
	if err := transition(s, PhasePopulating); err != nil {
		return err
	}
	s.generation = a.generation
	s.startedRev = s.profileRev
	s.inflight = nil
	return nil
}

// discoveryAssigned 发现结果挂到在途批次
type discoveryAssigned struct {
	batch *batch
}

func (a discoveryAssigned) apply(s *State) error {
	if a.batch.generation != s.generation {
		return ErrStaleCycle
	}
	s.inflight = a.batch
	return nil
}

// populateSucceeded 提交一整轮结果，摘要与反馈写入当前档案
type populateSucceeded struct {
	generation uint64
	summary    string
	feedback   string
	at         time.Time
}

func (a populateSucceeded) apply(s *State) error {
	if a.generation != s.generation || s.inflight == nil || s.inflight.generation != a.generation {
		return ErrStaleCycle
	}
	if err := transition(s, PhaseReady); err != nil {
		return err
	}
	s.Opportunities = carryForward(s.Opportunities, s.inflight.opportunities)
	s.DiscoveryEmpty = s.inflight.empty
	s.oppsGeneration = a.generation
	s.PlanStale = planReferencesMissing(s.Plan, s.Opportunities)
	if s.Profile != nil {
		p := s.Profile.Clone()
		p.Summary, p.ProfileFeedback = a.summary, a.feedback
		s.Profile = p
	}
	// 本轮进行中档案又被编辑过时保留提示
	s.ProfileUpdated = s.ProfileUpdated && s.profileRev != s.startedRev
	s.PopulatedAt = a.at
	s.LastError = nil
	s.inflight = nil
	return nil
}

// populateFailed 丢弃在途批次，保留上一次就绪的数据
type populateFailed struct {
	generation uint64
	failure    *Failure
}

func (a populateFailed) apply(s *State) error {
	if a.generation != s.generation {
		return ErrStaleCycle
	}
	if err := transition(s, PhaseError); err != nil {
		return err
	}
	s.LastError = a.failure
	s.inflight = nil
	return nil
}

// failureRecorded 记录错误但不改变阶段
type failureRecorded struct {
	failure *Failure
}

func (a failureRecorded) apply(s *State) error {
	s.LastError = a.failure
	return nil
}

// opportunityMarked 设置反馈或申请进度
type opportunityMarked struct {
	id       string
	feedback *types.Feedback
	status   *types.ApplicationStatus
}

func (a opportunityMarked) apply(s *State) error {
	for i := range s.Opportunities {
		if s.Opportunities[i].ID != a.id {
			continue
		}
		opps := cloneOpportunities(s.Opportunities)
		if a.feedback != nil {
			opps[i].Feedback = *a.feedback
		}
		if a.status != nil {
			opps[i].ApplicationStatus = *a.status
		}
		s.Opportunities = opps
		return nil
	}
	return ErrUnknownOpportunity
}

// planGenerated 替换整个计划
type planGenerated struct {
	oppsGeneration uint64
	items          []types.ActionItem
	anchor         time.Time
}

func (a planGenerated) apply(s *State) error {
	if a.oppsGeneration != s.oppsGeneration {
		return ErrStaleCycle
	}
	s.Plan = a.items
	s.PlanAnchor = a.anchor
	s.PlanStale = false
	return nil
}

// itemToggled 切换完成标记
type itemToggled struct {
	id string
}

func (a itemToggled) apply(s *State) error {
	for i := range s.Plan {
		if s.Plan[i].ID == a.id {
			plan := append([]types.ActionItem{}, s.Plan...)
			plan[i].Completed = !plan[i].Completed
			s.Plan = plan
			return nil
		}
	}
	return ErrUnknownActionItem
}

type languageSet struct {
	language string
}

func (a languageSet) apply(s *State) error {
	s.Language = a.language
	return nil
}

// wiped 清空档案、机会与计划，回到 onboarding
type wiped struct {
	generation uint64
}

func (a wiped) apply(s *State) error {
	lang := s.Language
	*s = State{
		Phase:      PhaseOnboarding,
		Language:   lang,
		generation: a.generation,
	}
	return nil
}

// carryForward 新结果整体替换旧结果，同 id 的用户标记保留
func carryForward(prev, next []types.Opportunity) []types.Opportunity {
	marks := make(map[string]types.Opportunity, len(prev))
	for _, o := range prev {
		if o.Feedback != types.FeedbackNone || o.ApplicationStatus != "" {
			marks[o.ID] = o
		}
	}
	out := cloneOpportunities(next)
	for i := range out {
		if old, ok := marks[out[i].ID]; ok {
			out[i].Feedback = old.Feedback
			out[i].ApplicationStatus = old.ApplicationStatus
		}
	}
	return out
}

// planReferencesMissing 计划中是否有任务指向不在 opps 中的机会
func planReferencesMissing(plan []types.ActionItem, opps []types.Opportunity) bool {
	if len(plan) == 0 {
		return false
	}
	ids := make(map[string]struct{}, len(opps))
	for _, o := range opps {
		ids[o.ID] = struct{}{}
	}
	for _, item := range plan {
		if _, ok := ids[item.ScholarshipID]; !ok {
			return true
		}
	}
	return false
}
