package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"scholar-ai-go/internal/config"
	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/tracing"
	"scholar-ai-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var minioTracer = otel.Tracer("scholar-ai/storage/minio")

// RawInputArchiver 保存上传的原始输入，便于重新抽取
type RawInputArchiver interface {
	ArchiveRawInput(ctx context.Context, ownerID string, input types.RawInput) (string, error)
	// PurgeRawInputs 重置档案时删除其全部归档
	PurgeRawInputs(ctx context.Context, ownerID string) (int, error)
}

var _ RawInputArchiver = (*MinIO)(nil)

// MinIO 原始输入归档
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	log := logger.Named("minio")
	log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("初始化MinIO客户端")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	bucket := cfg.BucketName
	if bucket == "" {
		bucket = "scholar-raw-inputs"
	}
	m := &MinIO{client: client, cfg: cfg, bucket: bucket}

	ctx := context.Background()
	if err := m.ensureBucketExists(ctx, cfg.Location); err != nil {
		return nil, err
	}
	if cfg.RawInputExpireDays > 0 {
		if err := m.setupLifecycle(ctx, cfg.RawInputExpireDays); err != nil {
			// 生命周期失败不影响归档本身
			log.Warn().Err(err).Msg("设置存储桶生命周期失败")
		}
	}
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, location string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	logger.Info().Str("bucket", m.bucket).Msg("存储桶创建成功")
	return nil
}

func (m *MinIO) setupLifecycle(ctx context.Context, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:         "expire-raw-inputs",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: constants.RawInputBucketPrefix},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(expiryDays)},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

// ArchiveRawInput 上传一份原始输入，返回对象名
func (m *MinIO) ArchiveRawInput(ctx context.Context, ownerID string, input types.RawInput) (string, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.ArchiveRawInput")
	defer span.End()

	data, contentType := rawInputPayload(input)
	if len(data) == 0 {
		return "", fmt.Errorf("原始输入为空")
	}
	objectName, err := rawInputObjectName(ownerID, input, contentType)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return "", err
	}
	span.SetAttributes(
		attribute.String("object.name", objectName),
		attribute.Int("object.size", len(data)),
		attribute.String("input.kind", string(input.Kind)),
	)

	_, err = m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}
	tracing.MarkOK(span)
	return objectName, nil
}

// PurgeRawInputs 删除某个档案的全部归档，返回删除的对象数
func (m *MinIO) PurgeRawInputs(ctx context.Context, ownerID string) (int, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.PurgeRawInputs")
	defer span.End()

	prefix := constants.RawInputBucketPrefix + ownerID + "/"
	removed := 0
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			tracing.RecordError(span, obj.Err, tracing.ErrorTypeObjectStore)
			return removed, fmt.Errorf("列出归档对象失败: %w", obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
			return removed, fmt.Errorf("删除对象 %s 失败: %w", obj.Key, err)
		}
		removed++
	}
	span.SetAttributes(attribute.Int("object.removed", removed))
	tracing.MarkOK(span)
	return removed, nil
}

func rawInputPayload(input types.RawInput) ([]byte, string) {
	if input.Kind == types.InputText {
		return []byte(input.Text), "text/plain; charset=utf-8"
	}
	contentType := input.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return input.Data, contentType
}

// rawInputObjectName 格式: raw-inputs/{ownerID}/{kind}/{uuidv7}{ext}
func rawInputObjectName(ownerID string, input types.RawInput, contentType string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(input.FileName))
	switch {
	case ext != "":
	case input.Kind == types.InputText:
		ext = ".txt"
	default:
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("%s%s/%s/%s%s", constants.RawInputBucketPrefix, ownerID, input.Kind, id.String(), ext), nil
}
