// Package scheduler 定时重扫机会，避免截止日期等信息随时间失效。
package scheduler

import (
	"context"
	"fmt"
	"time"

	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/orchestrator"

	"github.com/gofrs/uuid/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Rescanner 被定时触发的编排器
type Rescanner interface {
	Phase() orchestrator.Phase
	Rescan(ctx context.Context) (orchestrator.Snapshot, error)
}

// Locker 多实例部署时保证同一档案同时只有一个重扫
type Locker interface {
	AcquireScanLock(ctx context.Context, ownerID, token string, ttl time.Duration) (bool, error)
	ReleaseScanLock(ctx context.Context, ownerID, token string) error
}

// Scheduler wraps robfig/cron and manages the rescan loop.
type Scheduler struct {
	cron    *cron.Cron
	target  Rescanner
	locker  Locker
	ownerID string
	spec    string
	logger  zerolog.Logger
}

// New 创建调度器，spec 使用带秒字段的 cron 表达式，例如 "0 0 6 * * *"
func New(spec string, target Rescanner, locker Locker, ownerID string) *Scheduler {
	log := logger.Named("scheduler")
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{log})),
		target:  target,
		locker:  locker,
		ownerID: ownerID,
		spec:    spec,
		logger:  log,
	}
}

// Start 注册任务并启动
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("定时重扫已启动")
	return nil
}

// Stop 停止调度并等待正在执行的任务
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("定时重扫已停止")
}

// RunOnce 执行一次重扫，返回是否真正执行
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	switch phase := s.target.Phase(); phase {
	case orchestrator.PhaseReady, orchestrator.PhaseError:
	default:
		s.logger.Debug().Str("phase", string(phase)).Msg("当前阶段不需要重扫，跳过")
		return false
	}

	if s.locker != nil {
		token := uuid.Must(uuid.NewV7()).String()
		ok, err := s.locker.AcquireScanLock(ctx, s.ownerID, token, constants.ScanLockTTL)
		if err != nil {
			s.logger.Warn().Err(err).Msg("获取重扫锁失败，跳过")
			return false
		}
		if !ok {
			s.logger.Info().Msg("其他实例正在重扫，跳过")
			return false
		}
		defer func() {
			if err := s.locker.ReleaseScanLock(context.WithoutCancel(ctx), s.ownerID, token); err != nil {
				s.logger.Warn().Err(err).Msg("释放重扫锁失败")
			}
		}()
	}

	snap, err := s.target.Rescan(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("定时重扫失败")
		return true
	}
	s.logger.Info().Int("opportunities", len(snap.Opportunities)).Msg("定时重扫完成")
	return true
}

// cronLogger 把 cron 的日志接到 zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
