package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultCompatAPIURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultCompatModelName = "qwen-plus"
)

var llmTracer = otel.Tracer("scholar-ai-go/agent")

// --- OpenAI 兼容请求/响应结构 ---

type compatImageURL struct {
	URL string `json:"url"`
}

type compatInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type compatContentPart struct {
	Type       string            `json:"type"` // text, image_url, input_audio
	Text       string            `json:"text,omitempty"`
	ImageURL   *compatImageURL   `json:"image_url,omitempty"`
	InputAudio *compatInputAudio `json:"input_audio,omitempty"`
}

type compatRequestMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string 或 []compatContentPart
}

type compatChatRequest struct {
	Model          string                 `json:"model"`
	Messages       []compatRequestMessage `json:"messages"`
	Temperature    *float32               `json:"temperature,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat        `json:"response_format,omitempty"`
	EnableSearch   bool                   `json:"enable_search,omitempty"`
}

type compatResponseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type compatChoice struct {
	Index        int                   `json:"index"`
	Message      compatResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type compatChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []compatChoice `json:"choices"`
	Usage   *compatUsage   `json:"usage,omitempty"`
}

// APIError 推理服务返回非 200 状态
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 请求失败，状态 %s: %s", e.Status, tracing.TruncateString(e.Body, 300))
}

// OpenAICompatChatModel 通过 OpenAI 兼容接口访问推理服务，实现 model.ToolCallingChatModel
type OpenAICompatChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float32
	httpClient  *http.Client
	logger      zerolog.Logger
}

// CompatOption 构造选项
type CompatOption func(*OpenAICompatChatModel)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(c *http.Client) CompatOption {
	return func(m *OpenAICompatChatModel) {
		m.httpClient = c
	}
}

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) CompatOption {
	return func(m *OpenAICompatChatModel) {
		if d > 0 {
			m.httpClient.Timeout = d
		}
	}
}

// WithDefaultTemperature 默认采样温度
func WithDefaultTemperature(t float64) CompatOption {
	return func(m *OpenAICompatChatModel) {
		m.temperature = float32(t)
	}
}

// NewOpenAICompatChatModel 创建一个新的 OpenAICompatChatModel 实例
func NewOpenAICompatChatModel(apiKey, modelName, apiURL string, opts ...CompatOption) (*OpenAICompatChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultCompatModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultCompatAPIURL
	}

	m := &OpenAICompatChatModel{
		apiKey:      apiKey,
		modelName:   modelName,
		apiURL:      apiURL,
		temperature: 0.3,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger.Info().Str("api_url", apiURL).Str("model", modelName).Msg("推理服务客户端已创建")
	return m, nil
}

// Generate 实现 model.BaseChatModel 接口
func (m *OpenAICompatChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	temp := m.temperature
	modelName := m.modelName
	common := model.GetCommonOptions(&model.Options{Temperature: &temp, Model: &modelName}, opts...)
	callOpts := ResolveCallOptions(opts...)

	ctx, span := llmTracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", *common.Model),
		attribute.String("llm.task", callOpts.Task),
		attribute.Bool("llm.enable_search", callOpts.EnableSearch),
		attribute.String("llm.language", callOpts.Language),
	)

	reqPayload := compatChatRequest{
		Model:        *common.Model,
		Messages:     toCompatMessages(messages, callOpts.Language),
		Temperature:  common.Temperature,
		MaxTokens:    common.MaxTokens,
		EnableSearch: callOpts.EnableSearch,
	}
	if callOpts.ResponseFormat != nil {
		reqPayload.ResponseFormat = callOpts.ResponseFormat
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	m.logger.Debug().Str("task", callOpts.Task).Str("model", reqPayload.Model).
		Str("body", tracing.SafePrompt(string(jsonData))).Msg("发送推理请求")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	m.logger.Debug().Str("task", callOpts.Task).Int("status", httpResp.StatusCode).
		Dur("elapsed", time.Since(start)).Str("body", tracing.SafeResponse(string(bodyBytes))).Msg("收到推理响应")

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Status: httpResp.Status, Body: string(bodyBytes)}
		tracing.RecordHTTPError(span, apiErr, httpResp.StatusCode)
		return nil, apiErr
	}

	var compatResp compatChatResponse
	if err := json.Unmarshal(bodyBytes, &compatResp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(compatResp.Choices) == 0 {
		err := fmt.Errorf("从 API 收到空选项: %s", tracing.TruncateString(string(bodyBytes), 300))
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	choice := compatResp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	result := schema.AssistantMessage(content, nil)
	result.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if compatResp.Usage != nil {
		result.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     compatResp.Usage.PromptTokens,
			CompletionTokens: compatResp.Usage.CompletionTokens,
			TotalTokens:      compatResp.Usage.TotalTokens,
		}
		span.SetAttributes(attribute.Int("llm.total_tokens", compatResp.Usage.TotalTokens))
	}
	tracing.MarkOK(span)
	return result, nil
}

// Stream 未实现，本服务只使用一次性生成
func (m *OpenAICompatChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAICompatChatModel 的 Stream 方法未实现")
}

// WithTools 本服务不使用函数调用，检索由服务端 enable_search 完成
func (m *OpenAICompatChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) > 0 {
		m.logger.Warn().Int("tools", len(tools)).Msg("忽略绑定的工具")
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*OpenAICompatChatModel)(nil)

// toCompatMessages 转换为 OpenAI 兼容消息，多模态内容展开为 content 数组
func toCompatMessages(messages []*schema.Message, language string) []compatRequestMessage {
	out := make([]compatRequestMessage, 0, len(messages)+1)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if len(msg.MultiContent) == 0 {
			out = append(out, compatRequestMessage{Role: string(msg.Role), Content: msg.Content})
			continue
		}
		parts := make([]compatContentPart, 0, len(msg.MultiContent)+1)
		if msg.Content != "" {
			parts = append(parts, compatContentPart{Type: "text", Text: msg.Content})
		}
		for _, p := range msg.MultiContent {
			switch p.Type {
			case schema.ChatMessagePartTypeText:
				parts = append(parts, compatContentPart{Type: "text", Text: p.Text})
			case schema.ChatMessagePartTypeImageURL:
				if p.ImageURL != nil {
					parts = append(parts, compatContentPart{Type: "image_url", ImageURL: &compatImageURL{URL: p.ImageURL.URL}})
				}
			case schema.ChatMessagePartTypeAudioURL:
				if p.AudioURL != nil {
					parts = append(parts, compatContentPart{
						Type:       "input_audio",
						InputAudio: &compatInputAudio{Data: p.AudioURL.URL, Format: audioFormat(p.AudioURL.MIMEType)},
					})
				}
			}
		}
		out = append(out, compatRequestMessage{Role: string(msg.Role), Content: parts})
	}

	if name, ok := constants.SupportedLanguages[language]; ok {
		out = append(out, compatRequestMessage{
			Role:    string(schema.System),
			Content: "Respond in " + name + ".",
		})
	}
	return out
}

// audioFormat 从 MIME 类型推断 input_audio.format
func audioFormat(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "wav"):
		return "wav"
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return "mp3"
	case strings.Contains(mt, "ogg"):
		return "ogg"
	case strings.Contains(mt, "webm"):
		return "webm"
	case strings.Contains(mt, "mp4"), strings.Contains(mt, "m4a"), strings.Contains(mt, "aac"):
		return "m4a"
	}
	return "wav"
}

// Retryable 限流和服务端错误可重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
