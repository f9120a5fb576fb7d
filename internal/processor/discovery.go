package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"scholar-ai-go/internal/agent"
	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/metrics"
	"scholar-ai-go/internal/parser"
	"scholar-ai-go/internal/tracing"
	"scholar-ai-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DiscoveryService 基于检索增强生成发现并排序机会
type DiscoveryService struct {
	caller     llmCaller
	validator  *SchemaValidator
	maxResults int
	search     bool
	logger     zerolog.Logger
}

// DiscoveryOption 发现服务选项
type DiscoveryOption func(*DiscoveryService)

// WithMaxResults 单次返回的机会上限
func WithMaxResults(n int) DiscoveryOption {
	return func(s *DiscoveryService) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithDiscoveryModel 指定发现使用的模型
func WithDiscoveryModel(name string) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.caller.modelName = name
	}
}

// WithSearch 是否开启服务端联网检索，默认开启
func WithSearch(enabled bool) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.search = enabled
	}
}

// WithDiscoveryMetrics 记录调用指标
func WithDiscoveryMetrics(m *metrics.Metrics) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.caller.metrics = m
	}
}

// NewDiscoveryService 创建发现服务
func NewDiscoveryService(llm model.ToolCallingChatModel, validator *SchemaValidator, opts ...DiscoveryOption) *DiscoveryService {
	if validator == nil {
		validator = NewSchemaValidator()
	}
	s := &DiscoveryService{
		caller:     llmCaller{llm: llm},
		validator:  validator,
		maxResults: constants.DefaultMaxOpportunities,
		search:     true,
		logger:     logger.Named("discovery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover 发起一次检索查询并解析排好序的机会列表
// 响应中找不到 JSON 数组时返回 DiscoveryParseError，数组为空时返回 DiscoveryEmptyError
func (s *DiscoveryService) Discover(ctx context.Context, profile *types.Profile, language string) ([]types.Opportunity, error) {
	ctx, span := otel.Tracer("scholar-ai/processor").Start(ctx, "opportunity.discover")
	defer span.End()

	if !profile.EligibleForDiscovery() {
		err := fmt.Errorf("档案不满足发现条件: %w", s.validator.CheckProfile(profile))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	prompt := buildDiscoveryPrompt(profile, s.maxResults)
	content, err := s.caller.generate(ctx, TaskDiscover, language,
		[]*schema.Message{schema.UserMessage(prompt)},
		agent.WithEnableSearch(s.search))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	opps, err := s.parse(content)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse,
			attribute.String("llm.response", tracing.SafeResponse(content)))
		return nil, err
	}

	span.SetAttributes(attribute.Int("opportunity.count", len(opps)))
	tracing.MarkOK(span)
	s.logger.Info().Int("count", len(opps)).Msg("机会发现完成")
	return opps, nil
}

// parse 从原始文本中恢复数组、校验、排序并截断
func (s *DiscoveryService) parse(content string) ([]types.Opportunity, error) {
	raw, ok := parser.FindJSONArray(content, parser.IsObjectArray)
	if !ok {
		s.logger.Warn().Str("response", tracing.SafeResponse(content)).Msg("响应中没有可恢复的 JSON 数组")
		return nil, NewDiscoveryParseError("响应中没有可恢复的 JSON 数组", nil)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, NewDiscoveryParseError("JSON 数组解码失败", err)
	}
	if len(elems) == 0 {
		return nil, NewDiscoveryEmptyError()
	}

	opps, err := s.validator.Opportunities(elems)
	if err != nil {
		return nil, err
	}
	RankOpportunities(opps)
	if len(opps) > s.maxResults {
		opps = opps[:s.maxResults]
	}
	return opps, nil
}

// RankOpportunities 按匹配度排序，同档按截止日期升序，未知日期排在最后
func RankOpportunities(opps []types.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		ri, rj := opps[i].MatchScore.Rank(), opps[j].MatchScore.Rank()
		if ri != rj {
			return ri < rj
		}
		di, dj := opps[i].Deadline, opps[j].Deadline
		ui, uj := di == constants.DeadlineUnknown, dj == constants.DeadlineUnknown
		if ui != uj {
			return uj
		}
		return strings.Compare(di, dj) < 0
	})
}
