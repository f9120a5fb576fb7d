package processor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"scholar-ai-go/internal/agent"
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

// DocumentTextExtractor 文档转纯文本
type DocumentTextExtractor interface {
	ExtractText(ctx context.Context, data []byte, fileName string) (string, error)
}

// IngestionService 把文本、文档或录音转为结构化档案
type IngestionService struct {
	caller    llmCaller
	validator *SchemaValidator
	documents DocumentTextExtractor
	logger    zerolog.Logger
}

// IngestionOption 抽取服务选项
type IngestionOption func(*IngestionService)

// WithDocumentExtractor PDF 先在本地转文本再抽取
func WithDocumentExtractor(e DocumentTextExtractor) IngestionOption {
	return func(s *IngestionService) {
		s.documents = e
	}
}

// WithIngestionModel 指定抽取使用的模型
func WithIngestionModel(name string) IngestionOption {
	return func(s *IngestionService) {
		s.caller.modelName = name
	}
}

// WithIngestionMetrics 记录调用指标
func WithIngestionMetrics(m *metrics.Metrics) IngestionOption {
	return func(s *IngestionService) {
		s.caller.metrics = m
	}
}

// NewIngestionService 创建抽取服务
func NewIngestionService(llm model.ToolCallingChatModel, validator *SchemaValidator, opts ...IngestionOption) *IngestionService {
	if validator == nil {
		validator = NewSchemaValidator()
	}
	s := &IngestionService{
		caller:    llmCaller{llm: llm},
		validator: validator,
		logger:    logger.Named("ingestion"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest 抽取并合并到 existing (可为 nil)，返回的新档案一定满足发现条件
// existing 不会被修改
func (s *IngestionService) Ingest(ctx context.Context, input types.RawInput, existing *types.Profile, language string) (*types.Profile, error) {
	ctx, span := otel.Tracer("scholar-ai/processor").Start(ctx, "profile.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("input.kind", string(input.Kind)),
		attribute.String("input.media_type", input.MediaType),
		attribute.Int("input.size", len(input.Data)+len(input.Text)),
	)

	extracted, err := s.Extract(ctx, input, language)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	merged := MergeProfile(existing, extracted)
	if err := s.validator.CheckProfile(merged); err != nil {
		err = NewExtractionError("validate", "抽取结果不满足档案要求", err)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	s.logger.Info().
		Str("kind", string(input.Kind)).
		Str("name", tracing.MaskPII(merged.Name)).
		Int("education", len(merged.Education)).
		Int("skills", len(merged.Skills)).
		Msg("档案抽取完成")
	tracing.MarkOK(span)
	return merged, nil
}

// Extract 只做一次抽取调用，返回未合并的部分档案
func (s *IngestionService) Extract(ctx context.Context, input types.RawInput, language string) (*types.Profile, error) {
	userMsg, err := s.buildUserMessage(ctx, input)
	if err != nil {
		return nil, err
	}

	messages := []*schema.Message{schema.SystemMessage(extractionSystemPrompt), userMsg}
	content, err := s.caller.generate(ctx, TaskExtract, language, messages,
		agent.WithJSONSchema("user_profile", profileSchema))
	if err != nil {
		return nil, NewExtractionError("call", "推理服务调用失败", err)
	}

	raw, ok := parser.ExtractFirstJSONObject(content)
	if !ok {
		s.logger.Warn().Str("response", tracing.SafeResponse(content)).Msg("抽取结果中没有 JSON 对象")
		return nil, NewExtractionError("parse", "响应中没有可解析的 JSON 对象", nil)
	}
	profile, err := s.validator.DecodeProfile(raw)
	if err != nil {
		return nil, NewExtractionError("parse", "档案结构不符合 schema", err)
	}
	return profile, nil
}

func (s *IngestionService) buildUserMessage(ctx context.Context, input types.RawInput) (*schema.Message, error) {
	switch input.Kind {
	case types.InputText:
		text := strings.TrimSpace(input.Text)
		if text == "" {
			return nil, NewExtractionError("input", "文本为空", nil)
		}
		return schema.UserMessage(buildTextExtractionPrompt(text)), nil

	case types.InputDocument:
		return s.documentMessage(ctx, input)

	case types.InputAudio:
		if len(input.Data) == 0 {
			return nil, NewExtractionError("input", "录音为空", nil)
		}
		mediaType := input.MediaType
		if mediaType == "" {
			mediaType = "audio/wav"
		}
		return &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: buildExtractionPrompt(types.InputAudio)},
				{Type: schema.ChatMessagePartTypeAudioURL, AudioURL: &schema.ChatMessageAudioURL{
					URL:      base64.StdEncoding.EncodeToString(input.Data),
					MIMEType: mediaType,
				}},
			},
		}, nil
	}
	return nil, NewExtractionError("input", fmt.Sprintf("未知的输入类型: %q", input.Kind), nil)
}

func (s *IngestionService) documentMessage(ctx context.Context, input types.RawInput) (*schema.Message, error) {
	if len(input.Data) == 0 {
		return nil, NewExtractionError("input", "文档为空", nil)
	}
	mediaType := strings.ToLower(input.MediaType)
	ext := strings.ToLower(filepath.Ext(input.FileName))

	switch {
	case mediaType == "application/pdf" || ext == ".pdf":
		if s.documents == nil {
			return nil, NewExtractionError("document", "未配置 PDF 文本提取器", nil)
		}
		text, err := s.documents.ExtractText(ctx, input.Data, input.FileName)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, NewExtractionError("document", "PDF 文本提取失败", err)
		}
		return schema.UserMessage(buildExtractionPrompt(types.InputDocument) + "\n\nDocument Text:\n---\n" + text + "\n---"), nil

	case strings.HasPrefix(mediaType, "image/"):
		dataURI := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(input.Data)
		return &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: buildExtractionPrompt(types.InputDocument)},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: dataURI}},
			},
		}, nil

	case strings.HasPrefix(mediaType, "text/") || ext == ".txt" || ext == ".md":
		if !utf8.Valid(input.Data) {
			return nil, NewExtractionError("document", "文本文档不是合法的 UTF-8", nil)
		}
		return schema.UserMessage(buildTextExtractionPrompt(strings.TrimSpace(string(input.Data)))), nil
	}
	return nil, NewExtractionError("document", fmt.Sprintf("不支持的文档类型: %s", input.MediaType), nil)
}

// MergeProfile 字段级覆盖合并: 非空标量覆盖，非空数组整体替换
// 经济需求取默认值时视为未判断，不覆盖已有取值
func MergeProfile(existing, extracted *types.Profile) *types.Profile {
	var out *types.Profile
	if existing != nil {
		out = existing.Clone()
	} else {
		out = &types.Profile{}
	}
	if extracted == nil {
		extracted = &types.Profile{}
	}

	if extracted.Name != "" {
		out.Name = extracted.Name
	}
	if extracted.Goals != "" {
		out.Goals = extracted.Goals
	}
	if len(extracted.Education) > 0 {
		out.Education = append([]types.Education(nil), extracted.Education...)
	}
	if len(extracted.Experience) > 0 {
		out.Experience = append([]types.Experience(nil), extracted.Experience...)
	}
	if len(extracted.Skills) > 0 {
		out.Skills = append([]string(nil), extracted.Skills...)
	}
	if len(extracted.Languages) > 0 {
		out.Languages = append([]string(nil), extracted.Languages...)
	}
	if len(extracted.StudyInterests) > 0 {
		out.StudyInterests = append([]string(nil), extracted.StudyInterests...)
	}

	switch {
	case extracted.FinancialSituation != "" && extracted.FinancialSituation != types.DefaultFinancialNeed:
		out.FinancialSituation = extracted.FinancialSituation
	case out.FinancialSituation == "":
		out.FinancialSituation = types.DefaultFinancialNeed
	}
	return out
}
