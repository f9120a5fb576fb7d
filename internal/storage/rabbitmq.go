package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"scholar-ai-go/internal/config"
	"scholar-ai-go/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventPublisher 生命周期事件通知，投递失败只影响通知本身
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// EventEnvelope 事件消息体
type EventEnvelope struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

var _ EventPublisher = (*RabbitMQ)(nil)

// RabbitMQ 向 topic exchange 发布事件
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	publishMutex sync.Mutex
	cfg          *config.RabbitMQConfig
	exchange     string
	prefix       string
}

// NewRabbitMQ 连接并声明事件 exchange
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}

	mq := &RabbitMQ{
		conn:     conn,
		cfg:      cfg,
		exchange: cfg.EventsExchange,
		prefix:   cfg.RoutingPrefix,
	}
	if mq.exchange == "" {
		mq.exchange = "scholar.events"
	}
	if mq.prefix == "" {
		mq.prefix = "scholar"
	}
	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, errPool := conn.Channel()
			if errPool != nil {
				logger.Error().Err(errPool).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	if err := mq.EnsureExchange(mq.exchange, "topic", true); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info().Str("exchange", mq.exchange).Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch, _ := r.channelPool.Get().(*amqp.Channel)
	if ch == nil || ch.IsClosed() {
		newCh, err := r.conn.Channel()
		if err != nil {
			logger.Error().Err(err).Msg("创建新RabbitMQ通道失败")
			return nil
		}
		return newCh
	}
	return ch
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(exchangeName, exchangeType, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明exchange %s 失败: %w", exchangeName, err)
	}
	return nil
}

// RoutingKey 事件路由键 {prefix}.{event}
func (r *RabbitMQ) RoutingKey(event string) string {
	return r.prefix + "." + event
}

// Publish 发布一条持久化 JSON 事件
func (r *RabbitMQ) Publish(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(EventEnvelope{
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}

	timeout := config.GetDuration(r.cfg.ConfirmTimeout, 5*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	return ch.PublishWithContext(ctx, r.exchange, r.RoutingKey(event), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}
