package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "AgentSim/internal/errors"
	"AgentSim/pkg/logger"
)

const (
	defaultPublishBuffer  = 256
	defaultPublishTimeout = 5 * time.Second
)

// Transport 把编码后的事件发送到外部消息系统。
type Transport interface {
	Name() string
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// Publisher 是面向消息系统的 Sink。事件先写入缓冲区，由后台协程发送；
// 缓冲区满时丢弃事件并计数，保证不阻塞轮次循环。
type Publisher struct {
	transport Transport
	subject   string
	timeout   time.Duration
	log       *slog.Logger

	queue   chan Envelope
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int64
	failed  int64
}

// PublisherOption 定义可选配置。
type PublisherOption func(*Publisher)

// WithPublishBuffer 设置缓冲区大小。
func WithPublishBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan Envelope, size)
		}
	}
}

// WithPublishTimeout 设置单次发送的超时时间。
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithPublisherLogger 指定日志输出。
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPublisher 创建 Publisher 并启动发送协程。subject 为事件主题前缀，
// 实际主题为 "<subject>.<type>"。
func NewPublisher(transport Transport, subject string, opts ...PublisherOption) *Publisher {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = "agentsim.events"
	}
	p := &Publisher{
		transport: transport,
		subject:   subject,
		timeout:   defaultPublishTimeout,
		queue:     make(chan Envelope, defaultPublishBuffer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.log == nil {
		p.log = logger.Named("export." + transport.Name())
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for env := range p.queue {
		p.send(env)
	}
}

func (p *Publisher) send(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.log.Warn("事件编码失败", slog.String("type", env.Type), slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	subject := p.subject + "." + env.Type
	if err := p.transport.Publish(ctx, subject, data); err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		wrapped := xerrors.Wrap(xerrors.CodePublishFailure, err, "", xerrors.WithMetadata("transport", p.transport.Name()))
		p.log.Warn("事件发布失败", slog.String("subject", subject), slog.Any("error", wrapped))
	}
}

func (p *Publisher) enqueue(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- env:
	default:
		p.dropped++
		if p.dropped == 1 || p.dropped%100 == 0 {
			p.log.Warn("发布缓冲区已满，丢弃事件", slog.String("type", env.Type), slog.Int64("dropped", p.dropped))
		}
	}
}

// Stats 返回被丢弃与发送失败的事件数量。
func (p *Publisher) Stats() (dropped, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped, p.failed
}

// Close 发送完缓冲区中的事件后关闭底层连接。
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.transport.Close()
}

func (p *Publisher) LogSnapshot(e SnapshotEvent) {
	p.enqueue(Envelope{Type: TypeSnapshot, Payload: e})
}

func (p *Publisher) LogAction(e ActionEvent) {
	p.enqueue(Envelope{Type: TypeAction, Payload: e})
}

func (p *Publisher) LogTransaction(e TransactionEvent) {
	p.enqueue(Envelope{Type: TypeTransaction, Payload: e})
}

func (p *Publisher) LogDiscourse(e DiscourseEvent) {
	p.enqueue(Envelope{Type: TypeDiscourse, Payload: e})
}

var _ Sink = (*Publisher)(nil)
