package processor

import (
	"context"
	"time"

	"scholar-ai-go/internal/agent"
	"scholar-ai-go/internal/metrics"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 任务名，同时用作配置中 task_models 的键
const (
	TaskExtract  = "extract"
	TaskDiscover = "discover"
	TaskSummary  = "summary"
	TaskFeedback = "feedback"
	TaskPlan     = "plan"
)

// llmCaller 封装一次推理调用: 选项拼装、指标记录、传输错误归类
type llmCaller struct {
	llm       model.ToolCallingChatModel
	modelName string
	metrics   *metrics.Metrics
}

func (c llmCaller) generate(ctx context.Context, task, language string, messages []*schema.Message, extra ...model.Option) (string, error) {
	opts := make([]model.Option, 0, len(extra)+3)
	opts = append(opts, agent.WithTask(task), agent.WithLanguage(language))
	if c.modelName != "" {
		opts = append(opts, model.WithModel(c.modelName))
	}
	opts = append(opts, extra...)

	start := time.Now()
	resp, err := c.llm.Generate(ctx, messages, opts...)
	c.metrics.ObserveLLMCall(task, start, err)
	if err != nil {
		return "", NewTransportError(task, err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}
