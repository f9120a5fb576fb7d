package processor

import (
	"context"
	"strings"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/metrics"
	"scholar-ai-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// InsightGenerator 生成档案摘要和改进建议
type InsightGenerator struct {
	summary  llmCaller
	feedback llmCaller
	logger   zerolog.Logger
}

// NewInsightGenerator summaryModel/feedbackModel 为空时使用模型默认值
func NewInsightGenerator(llm model.ToolCallingChatModel, summaryModel, feedbackModel string, m *metrics.Metrics) *InsightGenerator {
	return &InsightGenerator{
		summary:  llmCaller{llm: llm, modelName: summaryModel, metrics: m},
		feedback: llmCaller{llm: llm, modelName: feedbackModel, metrics: m},
		logger:   logger.Named("insights"),
	}
}

// Summary 1-2 句鼓励性的档案摘要
func (g *InsightGenerator) Summary(ctx context.Context, profile *types.Profile, language string) (string, error) {
	content, err := g.summary.generate(ctx, TaskSummary, language,
		[]*schema.Message{schema.UserMessage(buildSummaryPrompt(profile))})
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", NewTransportError(TaskSummary, errEmptyResponse)
	}
	return content, nil
}

// Feedback 基于前几条机会给出 2-3 条改进建议；没有机会时返回空串且不发起调用
func (g *InsightGenerator) Feedback(ctx context.Context, profile *types.Profile, opps []types.Opportunity, language string) (string, error) {
	if len(opps) == 0 {
		return "", nil
	}
	if len(opps) > constants.FeedbackOpportunityLimit {
		opps = opps[:constants.FeedbackOpportunityLimit]
	}
	content, err := g.feedback.generate(ctx, TaskFeedback, language,
		[]*schema.Message{schema.UserMessage(buildFeedbackPrompt(profile, opps))})
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", NewTransportError(TaskFeedback, errEmptyResponse)
	}
	return content, nil
}
