package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSTransport 通过 NATS 发布事件。
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport 连接 NATS 服务器。
func NewNATSTransport(url string) (*NATSTransport, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("NATS url 不能为空")
	}
	nc, err := nats.Connect(url, nats.Name("agentsim-export"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

// Name 返回传输名称。
func (t *NATSTransport) Name() string { return "nats" }

// Publish 发布消息；NATS 客户端自带缓冲，ctx 仅用于提前放弃。
func (t *NATSTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.nc.Publish(subject, payload)
}

// Close 刷新缓冲后断开连接。
func (t *NATSTransport) Close() error {
	if t == nil || t.nc == nil {
		return nil
	}
	return t.nc.Drain()
}
