package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"scholar-ai-go/internal/agent"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/metrics"
	"scholar-ai-go/internal/parser"
	"scholar-ai-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

// 计划生成模式
const (
	PlanModeRule = "rule"
	PlanModeLLM  = "llm"
)

// planNamespace 行动项 id 的 v5 命名空间，同一机会同一步骤 id 稳定
var planNamespace = uuid.Must(uuid.FromString("3b2f8e0c-61d4-4a8e-9f57-0d2c7a1e4b96"))

type planStep string

const (
	stepDraft    planStep = "draft"
	stepGather   planStep = "gather"
	stepPrepare  planStep = "prepare"
	stepFinalize planStep = "finalize"
	stepSubmit   planStep = "submit"
)

var taskTemplates = map[string]map[planStep]string{
	"en": {
		stepDraft:    "Draft the personal statement and essays for %s",
		stepGather:   "Gather transcripts and request recommendation letters for %s",
		stepPrepare:  "Draft the essays and gather supporting materials for %s",
		stepFinalize: "Review and finalize the application for %s",
		stepSubmit:   "Submit the application for %s",
	},
	"ar": {
		stepDraft:    "صياغة البيان الشخصي والمقالات لمنحة %s",
		stepGather:   "جمع السجلات الأكاديمية وطلب خطابات التوصية لمنحة %s",
		stepPrepare:  "كتابة المقالات وجمع المستندات الداعمة لمنحة %s",
		stepFinalize: "مراجعة طلب منحة %s وإنهاؤه",
		stepSubmit:   "تقديم طلب منحة %s",
	},
}

type scheduledStep struct {
	step planStep
	week int
}

// PlanService 从机会列表推导按周分桶的行动计划
type PlanService struct {
	caller llmCaller
	mode   string
	now    func() time.Time
	logger zerolog.Logger
}

// PlanOption 计划服务选项
type PlanOption func(*PlanService)

// WithPlanMode rule (默认) 或 llm
func WithPlanMode(mode string) PlanOption {
	return func(s *PlanService) {
		if mode == PlanModeLLM || mode == PlanModeRule {
			s.mode = mode
		}
	}
}

// WithPlanModel 指定 llm 模式使用的模型
func WithPlanModel(name string) PlanOption {
	return func(s *PlanService) {
		s.caller.modelName = name
	}
}

// WithPlanMetrics 记录调用指标
func WithPlanMetrics(m *metrics.Metrics) PlanOption {
	return func(s *PlanService) {
		s.caller.metrics = m
	}
}

// WithClock 注入当前时间
func WithClock(now func() time.Time) PlanOption {
	return func(s *PlanService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPlanService 创建计划服务，llm 只在 llm 模式下使用，可为 nil
func NewPlanService(llm model.ToolCallingChatModel, opts ...PlanOption) *PlanService {
	s := &PlanService{
		caller: llmCaller{llm: llm},
		mode:   PlanModeRule,
		now:    time.Now,
		logger: logger.Named("planner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mode == PlanModeLLM && llm == nil {
		s.mode = PlanModeRule
	}
	return s
}

// Mode 当前生成模式
func (s *PlanService) Mode() string {
	return s.mode
}

// Today 计划的周次以这一天为锚点
func (s *PlanService) Today() time.Time {
	return DateOf(s.now())
}

// Synthesize 生成行动计划，输入为空时返回空列表
// 返回前校验每一项都引用输入中的机会、周次 >= 1、任务文本包含机会名称
func (s *PlanService) Synthesize(ctx context.Context, opps []types.Opportunity, language string) ([]types.ActionItem, error) {
	if len(opps) == 0 {
		return []types.ActionItem{}, nil
	}

	var (
		items []types.ActionItem
		err   error
	)
	if s.mode == PlanModeLLM {
		items, err = s.synthesizeLLM(ctx, opps, language)
	} else {
		items = s.synthesizeRule(opps, language)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidatePlan(items, opps); err != nil {
		return nil, err
	}

	s.logger.Info().Str("mode", s.mode).Int("opportunities", len(opps)).Int("items", len(items)).Msg("行动计划生成完成")
	return items, nil
}

func (s *PlanService) synthesizeRule(opps []types.Opportunity, language string) []types.ActionItem {
	templates, ok := taskTemplates[language]
	if !ok {
		templates = taskTemplates["en"]
	}
	today := s.Today()

	items := make([]types.ActionItem, 0, len(opps)*4)
	for _, opp := range opps {
		steps, ok := scheduleOpportunity(opp, today)
		if !ok {
			s.logger.Info().Str("opportunity", opp.ID).Str("deadline", opp.Deadline).Msg("截止日期已过，跳过")
			continue
		}
		for _, st := range steps {
			items = append(items, types.ActionItem{
				ID:            actionItemID(opp.ID, string(st.step)),
				ScholarshipID: opp.ID,
				Task:          fmt.Sprintf(templates[st.step], opp.Name),
				Week:          st.week,
			})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Week < items[j].Week })
	return items
}

// scheduleOpportunity 从截止日期倒排: 提交落在截止日前最后一个完整周，之前的步骤各占更早的一周
// 截止日期未知时从第 1 周顺排；当天截止仍排在第 1 周；已过期返回 false
func scheduleOpportunity(opp types.Opportunity, today time.Time) ([]scheduledStep, bool) {
	deadline, known := ParseDeadline(opp.Deadline)
	if !known {
		return []scheduledStep{
			{stepDraft, 1}, {stepGather, 2}, {stepFinalize, 3}, {stepSubmit, 4},
		}, true
	}

	days := DaysBetween(today, deadline)
	if days < 0 {
		return nil, false
	}
	submit := max(days/7, 1)

	switch {
	case submit >= 4:
		return []scheduledStep{
			{stepDraft, submit - 3}, {stepGather, submit - 2}, {stepFinalize, submit - 1}, {stepSubmit, submit},
		}, true
	case submit == 3:
		return []scheduledStep{{stepPrepare, 1}, {stepFinalize, 2}, {stepSubmit, 3}}, true
	case submit == 2:
		return []scheduledStep{{stepPrepare, 1}, {stepSubmit, 2}}, true
	}
	// 不足两周，两项都只能放在第 1 周
	return []scheduledStep{{stepPrepare, 1}, {stepSubmit, 1}}, true
}

func (s *PlanService) synthesizeLLM(ctx context.Context, opps []types.Opportunity, language string) ([]types.ActionItem, error) {
	content, err := s.caller.generate(ctx, TaskPlan, language,
		[]*schema.Message{schema.UserMessage(buildActionPlanPrompt(opps, s.Today()))},
		agent.WithJSONSchema("action_plan", actionPlanSchema))
	if err != nil {
		return nil, err
	}

	elems, ok := planElements(content)
	if !ok {
		return nil, NewPlanValidationError("响应中没有可解析的行动项数组")
	}

	byID := make(map[string]types.Opportunity, len(opps))
	for _, o := range opps {
		byID[o.ID] = o
	}

	items := make([]types.ActionItem, 0, len(elems))
	seen := make(map[string]bool, len(elems))
	dropped := 0
	for _, raw := range elems {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			dropped++
			continue
		}
		opp, known := byID[asString(m["scholarshipId"])]
		task := asString(m["task"])
		if !known || task == "" {
			dropped++
			continue
		}
		if !strings.Contains(task, opp.Name) {
			task = opp.Name + ": " + task
		}
		week := 1
		if f, ok := asFloat(m["week"]); ok && f >= 1 {
			week = int(math.Round(f))
		}
		id := asString(m["id"])
		if id == "" || seen[id] {
			id = actionItemID(opp.ID, fmt.Sprintf("%d|%s", week, task))
		}
		seen[id] = true
		items = append(items, types.ActionItem{
			ID:            id,
			ScholarshipID: opp.ID,
			Task:          task,
			Week:          week,
		})
	}
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("部分行动项引用了未知机会或缺少任务文本，已丢弃")
	}
	if len(items) == 0 {
		return nil, NewPlanValidationError("没有合法的行动项")
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Week < items[j].Week })
	return items, nil
}

// planElements 兼容 {"items": [...]} 和裸数组两种形状
func planElements(content string) ([]json.RawMessage, bool) {
	if obj, ok := parser.ExtractFirstJSONObject(content); ok {
		var wrapper struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal([]byte(obj), &wrapper); err == nil && wrapper.Items != nil {
			return wrapper.Items, true
		}
	}
	raw, ok := parser.FindJSONArray(content, parser.IsObjectArray)
	if !ok {
		return nil, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, false
	}
	return elems, true
}

// ValidatePlan 每一项都必须引用已知机会、周次 >= 1、包含机会名称、id 唯一
func ValidatePlan(items []types.ActionItem, opps []types.Opportunity) error {
	byID := make(map[string]types.Opportunity, len(opps))
	for _, o := range opps {
		byID[o.ID] = o
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		opp, ok := byID[it.ScholarshipID]
		switch {
		case !ok:
			return NewPlanValidationError(fmt.Sprintf("行动项 %s 引用了未知机会 %q", it.ID, it.ScholarshipID))
		case it.ID == "" || seen[it.ID]:
			return NewPlanValidationError(fmt.Sprintf("行动项 id 为空或重复: %q", it.ID))
		case it.Week < 1:
			return NewPlanValidationError(fmt.Sprintf("行动项 %s 周次非法: %d", it.ID, it.Week))
		case !strings.Contains(it.Task, opp.Name):
			return NewPlanValidationError(fmt.Sprintf("行动项 %s 未包含机会名称 %q", it.ID, opp.Name))
		}
		seen[it.ID] = true
	}
	return nil
}

// SelectForPlan 有接受的机会时只规划接受的，否则规划所有未拒绝的
func SelectForPlan(opps []types.Opportunity) []types.Opportunity {
	var accepted, open []types.Opportunity
	for _, o := range opps {
		switch o.Feedback {
		case types.FeedbackAccepted:
			accepted = append(accepted, o)
			open = append(open, o)
		case types.FeedbackRejected:
		default:
			open = append(open, o)
		}
	}
	if len(accepted) > 0 {
		return accepted
	}
	return open
}

func actionItemID(opportunityID, step string) string {
	return uuid.NewV5(planNamespace, opportunityID+"|"+step).String()
}

// DateOf 取日期部分，统一到 UTC 零点
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween 两个日期之间的天数，to 早于 from 时为负
func DaysBetween(from, to time.Time) int {
	return int(math.Round(DateOf(to).Sub(DateOf(from)).Hours() / 24))
}
