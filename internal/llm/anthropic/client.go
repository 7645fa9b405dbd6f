// Package anthropic 实现限速的托管决策后端，通过 anthropic-sdk-go 调用 Messages API，
// 所有请求共享同一个限速器，相邻两次请求的发出时间保持固定的最小间隔。
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"AgentSim/internal/llm"
	"AgentSim/pkg/logger"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModelName = "claude-3-haiku-20240307"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 2048
	defaultDelay     = 100 * time.Millisecond
	apiVersion       = "2023-06-01"
)

// Config 描述托管服务的访问参数。
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	RequestDelay time.Duration
}

// Client 调用 Anthropic Messages API。
type Client struct {
	model      string
	delay      time.Duration
	limiter    *rate.Limiter
	api        sdk.Client
	httpClient *http.Client
	log        *slog.Logger
}

// Option 定义客户端的可选配置。
type Option func(*Client)

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient 创建客户端，API Key 为必填项。BaseURL 可以带或不带 /v1 后缀。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}
	baseURL := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"), "/v1")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	delay := cfg.RequestDelay
	if delay <= 0 {
		delay = defaultDelay
	}

	c := &Client{
		model:      llm.TrimModel(cfg.Model, defaultModelName),
		delay:      delay,
		limiter:    rate.NewLimiter(rate.Every(delay), 1),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Named("llm.anthropic"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	// 重试会打乱固定间隔，失败直接走兜底决策。
	c.api = sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
		option.WithHeader("anthropic-version", apiVersion),
	)
	return c, nil
}

// Provider 返回后端名称。
func (c *Client) Provider() string { return "anthropic" }

// Model 返回模型名称。
func (c *Client) Model() string { return c.model }

// RequestDelay 返回相邻两次请求之间的最小间隔。
func (c *Client) RequestDelay() time.Duration { return c.delay }

// Close 释放空闲连接。
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Generate 等待限速器放行后发送单个请求，失败时返回兜底决策。
func (c *Client) Generate(ctx context.Context, prompt llm.Prompt, maxTokens int) string {
	if err := c.limiter.Wait(ctx); err != nil {
		return llm.Fallback(c.log, c.Provider(), err)
	}
	return c.generate(ctx, prompt, maxTokens)
}

// BatchGenerate 逐个发送请求，与此前任何调用发出的请求同样保持最小间隔。
// 上下文取消后剩余位置直接填充兜底决策。
func (c *Client) BatchGenerate(ctx context.Context, prompts []llm.Prompt, maxTokens int) []string {
	results := make([]string, len(prompts))
	for i, p := range prompts {
		if err := c.limiter.Wait(ctx); err != nil {
			c.log.Warn("批量请求被取消", slog.Int("completed", i), slog.Int("total", len(prompts)), slog.Any("error", err))
			break
		}
		results[i] = c.generate(ctx, p, maxTokens)
	}
	return llm.FillFallback(results)
}

func (c *Client) generate(ctx context.Context, prompt llm.Prompt, maxTokens int) string {
	text, err := c.messages(ctx, prompt, maxTokens)
	if err != nil {
		return llm.Fallback(c.log, c.Provider(), err)
	}
	return text
}

func (c *Client) messages(ctx context.Context, prompt llm.Prompt, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt.User))},
	}
	if strings.TrimSpace(prompt.System) != "" {
		params.System = []sdk.TextBlockParam{{Text: prompt.System}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("Anthropic 返回错误状态 %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("请求 Anthropic 失败: %w", err)
	}

	var builder strings.Builder
	for _, block := range msg.Content {
		if block.Type == "" || block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	if builder.Len() == 0 {
		return "", errors.New("Anthropic 响应内容为空")
	}
	return builder.String(), nil
}

var _ llm.Backend = (*Client)(nil)
