package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// RabbitMQTransport 把事件发布到 topic exchange，路由键为事件主题。
type RabbitMQTransport struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewRabbitMQTransport 建立连接并声明 exchange。
func NewRabbitMQTransport(cfg RabbitMQConfig) (*RabbitMQTransport, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "agentsim"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &RabbitMQTransport{conn: conn, ch: ch, exchange: exchange}, nil
}

// Name 返回传输名称。
func (t *RabbitMQTransport) Name() string { return "rabbitmq" }

// Publish 发布事件。amqp channel 不支持并发使用，这里串行化。
func (t *RabbitMQTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch == nil {
		return errors.New("RabbitMQ 未初始化")
	}
	return t.ch.PublishWithContext(ctx, t.exchange, subject, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	})
}

// Close 关闭 channel 与连接。
func (t *RabbitMQTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	if t.ch != nil {
		errs = append(errs, t.ch.Close())
		t.ch = nil
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
		t.conn = nil
	}
	return errors.Join(errs...)
}
