package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scholar-ai-go/internal/config"
	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/tracing"
	"scholar-ai-go/internal/types"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("scholar-ai/storage/redis")

// releaseLockScript 只释放自己持有的锁
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		// 连接生命周期
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// AcquireScanLock 定时重扫互斥锁，已被占用时返回 false
func (r *Redis) AcquireScanLock(ctx context.Context, ownerID, token string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf(constants.KeyScanLock, ownerID)
	return r.Client.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseScanLock 释放锁，token 不匹配时不做任何事
func (r *Redis) ReleaseScanLock(ctx context.Context, ownerID, token string) error {
	key := fmt.Sprintf(constants.KeyScanLock, ownerID)
	return releaseLockScript.Run(ctx, r.Client, []string{key}, token).Err()
}

// RedisStateStore 档案和计划分别存成一个 JSON 字符串键
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore 基于已有客户端创建状态存储
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) LoadProfile(ctx context.Context, ownerID string) (*types.Profile, error) {
	var p types.Profile
	if err := s.getJSON(ctx, fmt.Sprintf(constants.KeyProfileData, ownerID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStateStore) SaveProfile(ctx context.Context, ownerID string, profile *types.Profile) error {
	return s.setJSON(ctx, fmt.Sprintf(constants.KeyProfileData, ownerID), profile)
}

func (s *RedisStateStore) LoadPlan(ctx context.Context, ownerID string) ([]types.ActionItem, error) {
	var items []types.ActionItem
	if err := s.getJSON(ctx, fmt.Sprintf(constants.KeyPlanItems, ownerID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *RedisStateStore) SavePlan(ctx context.Context, ownerID string, items []types.ActionItem) error {
	if items == nil {
		items = []types.ActionItem{}
	}
	return s.setJSON(ctx, fmt.Sprintf(constants.KeyPlanItems, ownerID), items)
}

func (s *RedisStateStore) Delete(ctx context.Context, ownerID string) error {
	ctx, span := s.startSpan(ctx, "DEL", fmt.Sprintf(constants.KeyProfileData, ownerID))
	defer span.End()

	err := s.client.Del(ctx,
		fmt.Sprintf(constants.KeyProfileData, ownerID),
		fmt.Sprintf(constants.KeyPlanItems, ownerID),
	).Err()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("删除状态失败: %w", err)
	}
	return nil
}

func (s *RedisStateStore) getJSON(ctx context.Context, key string, dest any) error {
	ctx, span := s.startSpan(ctx, "GET", key)
	defer span.End()

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("读取 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		return fmt.Errorf("反序列化 %s 失败: %w", key, err)
	}
	return nil
}

func (s *RedisStateStore) setJSON(ctx context.Context, key string, value any) error {
	ctx, span := s.startSpan(ctx, "SET", key)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", key, err)
	}
	span.SetAttributes(attribute.Int("db.value_size", len(data)))
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	return nil
}

func (s *RedisStateStore) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return redisTracer.Start(ctx, "state."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemRedis,
			attribute.String("db.operation", op),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		))
}
