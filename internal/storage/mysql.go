package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"scholar-ai-go/internal/config"
	"scholar-ai-go/internal/logger"
	"scholar-ai-go/internal/storage/models"
	"scholar-ai-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("scholar-ai/storage/mysql")

type otelSpanKey struct{}

// GormTracingPlugin 为每条 GORM 语句创建一个 OpenTelemetry span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	type hook struct {
		op       string
		register func(name string, before bool, fn func(*gorm.DB)) error
	}
	hooks := []hook{
		{"CREATE", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Create().Before("gorm:create").Register(name, fn)
			}
			return cb.Create().After("gorm:create").Register(name, fn)
		}},
		{"SELECT", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Query().Before("gorm:query").Register(name, fn)
			}
			return cb.Query().After("gorm:query").Register(name, fn)
		}},
		{"UPDATE", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Update().Before("gorm:update").Register(name, fn)
			}
			return cb.Update().After("gorm:update").Register(name, fn)
		}},
		{"DELETE", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Delete().Before("gorm:delete").Register(name, fn)
			}
			return cb.Delete().After("gorm:delete").Register(name, fn)
		}},
		{"RAW", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Raw().Before("gorm:raw").Register(name, fn)
			}
			return cb.Raw().After("gorm:raw").Register(name, fn)
		}},
	}
	for _, h := range hooks {
		if err := h.register("otel:before_"+h.op, true, p.before(h.op)); err != nil {
			return err
		}
		if err := h.register("otel:after_"+h.op, false, p.after()); err != nil {
			return err
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			))
		db.Statement.Context = context.WithValue(newCtx, otelSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(otelSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", sql))
		}

		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 未找到属于正常业务分支
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.ConnectTimeoutSeconds)

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}
	return newMySQLFromDB(db, cfg)
}

func newMySQLFromDB(db *gorm.DB, cfg *config.MySQLConfig) (*MySQL, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("成功连接到MySQL并完成表结构迁移")
	return m, nil
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// autoMigrateSchema 迁移时关闭 SQL 日志
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})
	if err := silentDB.AutoMigrate(&models.StateRecord{}, &models.RawInputArchive{}); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// RecordArchive 记录一次原始输入归档
func (m *MySQL) RecordArchive(ctx context.Context, rec *models.RawInputArchive) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

// DeleteArchives 删除某个档案的归档记录
func (m *MySQL) DeleteArchives(ctx context.Context, ownerID string) error {
	return m.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&models.RawInputArchive{}).Error
}

// MySQLStateStore 以 (owner_id, state_key) 为唯一键的状态存储
type MySQLStateStore struct {
	db *gorm.DB
}

var _ StateStore = (*MySQLStateStore)(nil)

// NewMySQLStateStore 基于已迁移的连接创建状态存储
func NewMySQLStateStore(m *MySQL) *MySQLStateStore {
	return &MySQLStateStore{db: m.db}
}

func (s *MySQLStateStore) LoadProfile(ctx context.Context, ownerID string) (*types.Profile, error) {
	var p types.Profile
	if err := s.load(ctx, ownerID, models.StateKeyProfile, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MySQLStateStore) SaveProfile(ctx context.Context, ownerID string, profile *types.Profile) error {
	return s.save(ctx, ownerID, models.StateKeyProfile, profile)
}

func (s *MySQLStateStore) LoadPlan(ctx context.Context, ownerID string) ([]types.ActionItem, error) {
	var items []types.ActionItem
	if err := s.load(ctx, ownerID, models.StateKeyPlan, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *MySQLStateStore) SavePlan(ctx context.Context, ownerID string, items []types.ActionItem) error {
	if items == nil {
		items = []types.ActionItem{}
	}
	return s.save(ctx, ownerID, models.StateKeyPlan, items)
}

func (s *MySQLStateStore) Delete(ctx context.Context, ownerID string) error {
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&models.StateRecord{}).Error
	if err != nil {
		return fmt.Errorf("删除状态失败: %w", err)
	}
	return nil
}

func (s *MySQLStateStore) load(ctx context.Context, ownerID, key string, dest any) error {
	var rec models.StateRecord
	err := s.db.WithContext(ctx).Where("owner_id = ? AND state_key = ?", ownerID, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("读取状态 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(rec.Payload, dest); err != nil {
		return fmt.Errorf("反序列化状态 %s 失败: %w", key, err)
	}
	return nil
}

// save 使用 upsert，重复写入只更新载荷
func (s *MySQLStateStore) save(ctx context.Context, ownerID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化状态 %s 失败: %w", key, err)
	}
	rec := models.StateRecord{OwnerID: ownerID, StateKey: key, Payload: data}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("写入状态 %s 失败: %w", key, err)
	}
	return nil
}
