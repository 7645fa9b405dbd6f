package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisTransport 使用 PUBLISH 把事件推送到 Redis 频道。
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport 创建 Redis 连接并执行 PING 检查。
func NewRedisTransport(ctx context.Context, cfg RedisConfig) (*RedisTransport, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisTransport{client: client}, nil
}

// Name 返回传输名称。
func (t *RedisTransport) Name() string { return "redis" }

// Publish 将事件发布到以 subject 命名的频道。
func (t *RedisTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := t.client.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (t *RedisTransport) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
