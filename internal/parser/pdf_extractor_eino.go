package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"scholar-ai-go/internal/logger"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

// EinoPDFTextExtractor 使用 Eino PDF Parser 把上传的文档转成纯文本
type EinoPDFTextExtractor struct {
	parser  *pdf.PDFParser
	logger  zerolog.Logger
	timeout time.Duration
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFTextExtractor)

// WithParseTimeout 单个文档的解析超时
func WithParseTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEinoPDFTextExtractor 初始化 Eino PDF 文本提取器
// 不按页面分割，整份文档作为一个字符串返回
func NewEinoPDFTextExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建 Eino PDF 解析器失败: %w", err)
	}

	extractor := &EinoPDFTextExtractor{
		parser:  p,
		logger:  logger.Named("pdf"),
		timeout: 30 * time.Second,
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor, nil
}

// ExtractText 从文档字节中提取全文
func (e *EinoPDFTextExtractor) ExtractText(ctx context.Context, data []byte, fileName string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("文档内容为空: %s", fileName)
	}
	return e.ExtractTextFromReader(ctx, bytes.NewReader(data), fileName)
}

// ExtractTextFromReader 从 io.Reader 提取全文，多文档结果按顺序拼接
func (e *EinoPDFTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string) (string, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(map[string]any{
			"source":          uri,
			"extraction_time": startTime.Format(time.RFC3339),
		}),
	)
	duration := time.Since(startTime)
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Dur("elapsed", duration).Msg("PDF解析失败")
		return "", fmt.Errorf("eino PDF 解析失败 (%s): %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("eino PDF 解析无结果: %s", uri)
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if content := strings.TrimSpace(doc.Content); content != "" {
			parts = append(parts, content)
		}
	}
	text := strings.Join(parts, "\n\n")
	if text == "" {
		return "", fmt.Errorf("PDF 未包含可提取的文本: %s", uri)
	}

	e.logger.Info().Str("uri", uri).Int("docs", len(docs)).Int("chars", len(text)).
		Dur("elapsed", duration).Msg("PDF提取完成")
	return text, nil
}
