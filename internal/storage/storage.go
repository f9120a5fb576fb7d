package storage

import (
	"context"
	"fmt"
	"strings"

	"scholar-ai-go/internal/config"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/storage/models"
	"scholar-ai-go/internal/types"
)

// 状态存储驱动
const (
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 档案与计划
	State StateStore

	// 原始输入归档，可选
	MinIO *MinIO

	// 生命周期事件，可选
	RabbitMQ *RabbitMQ

	MySQL *MySQL
	Redis *Redis
}

// NewStorage 按配置初始化各组件。状态存储所选驱动失败时返回错误，其余组件失败只记录警告
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var err error
	var initErrors []string

	driver := strings.ToLower(strings.TrimSpace(cfg.State.StorageDriver))
	if driver == "" {
		driver = DriverMemory
		if cfg.Redis.Address != "" {
			driver = DriverRedis
		}
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		s.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.MinIO.Enabled {
		s.MinIO, err = NewMinIO(&cfg.MinIO)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.Enabled {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	switch driver {
	case DriverRedis:
		if s.Redis == nil {
			s.Close()
			return nil, fmt.Errorf("状态存储驱动 redis 不可用: %s", strings.Join(initErrors, "; "))
		}
		s.State = NewRedisStateStore(s.Redis.Client)
	case DriverMySQL:
		if s.MySQL == nil {
			s.Close()
			return nil, fmt.Errorf("状态存储驱动 mysql 不可用: %s", strings.Join(initErrors, "; "))
		}
		s.State = NewMySQLStateStore(s.MySQL)
	case DriverMemory:
		s.State = NewMemoryStateStore()
	default:
		s.Close()
		return nil, fmt.Errorf("未知的状态存储驱动: %s", driver)
	}

	if len(initErrors) > 0 {
		logger.Warn().Strs("errors", initErrors).Msg("部分存储组件初始化失败")
	}
	logger.Info().Str("driver", driver).Msg("状态存储初始化完成")
	return s, nil
}

// Archiver 返回可用的归档器，未启用时为 nil。配置了 MySQL 时同时记录归档索引
func (s *Storage) Archiver() RawInputArchiver {
	if s.MinIO == nil {
		return nil
	}
	if s.MySQL != nil {
		return &indexedArchiver{RawInputArchiver: s.MinIO, index: s.MySQL}
	}
	return s.MinIO
}

type archiveIndex interface {
	RecordArchive(ctx context.Context, rec *models.RawInputArchive) error
	DeleteArchives(ctx context.Context, ownerID string) error
}

// indexedArchiver 对象写入成功后再写索引，索引失败不影响归档
type indexedArchiver struct {
	RawInputArchiver
	index archiveIndex
}

func (a *indexedArchiver) ArchiveRawInput(ctx context.Context, ownerID string, input types.RawInput) (string, error) {
	name, err := a.RawInputArchiver.ArchiveRawInput(ctx, ownerID, input)
	if err != nil {
		return "", err
	}
	rec := &models.RawInputArchive{
		ObjectName: name,
		OwnerID:    ownerID,
		Kind:       string(input.Kind),
		MediaType:  input.MediaType,
		FileName:   input.FileName,
		SizeBytes:  int64(len(input.Data) + len(input.Text)),
	}
	if err := a.index.RecordArchive(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("object", name).Msg("记录归档索引失败")
	}
	return name, nil
}

func (a *indexedArchiver) PurgeRawInputs(ctx context.Context, ownerID string) (int, error) {
	n, err := a.RawInputArchiver.PurgeRawInputs(ctx, ownerID)
	if err != nil {
		return n, err
	}
	if err := a.index.DeleteArchives(ctx, ownerID); err != nil {
		return n, fmt.Errorf("删除归档索引失败: %w", err)
	}
	return n, nil
}

// Publisher 返回可用的事件发布器，未启用时为 nil
func (s *Storage) Publisher() EventPublisher {
	if s.RabbitMQ == nil {
		return nil
	}
	return s.RabbitMQ
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
