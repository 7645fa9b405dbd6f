// Package ollama 实现单机顺序决策后端，通过 ollama/api 客户端逐个调用 /api/chat。
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"AgentSim/internal/llm"
	"AgentSim/pkg/logger"
)

const (
	defaultBaseURL   = "http://localhost:11434"
	defaultModelName = "llama3.1:8b"
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 2048
	temperature      = 0.7
)

// Config 描述 Ollama 服务的连接信息。
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 调用 Ollama，批量请求严格串行。
type Client struct {
	baseURL    *url.URL
	model      string
	api        *api.Client
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

// NewClient 创建 Ollama 客户端。地址无法解析时返回错误。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		raw = defaultBaseURL
	}
	baseURL, err := url.Parse(raw)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("无效的 Ollama 地址: %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		model:      llm.TrimModel(cfg.Model, defaultModelName),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Named("llm.ollama"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.api = api.NewClient(c.baseURL, c.httpClient)
	return c, nil
}

// Provider 返回后端名称。
func (c *Client) Provider() string { return "ollama" }

// Model 返回模型名称。
func (c *Client) Model() string { return c.model }

// Close 释放空闲连接。
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Generate 发送单个请求，失败时返回兜底决策。
func (c *Client) Generate(ctx context.Context, prompt llm.Prompt, maxTokens int) string {
	text, err := c.chat(ctx, prompt, maxTokens)
	if err != nil {
		return llm.Fallback(c.log, c.Provider(), err)
	}
	return text
}

// BatchGenerate 逐个发送请求，上一个完成后才发送下一个。
func (c *Client) BatchGenerate(ctx context.Context, prompts []llm.Prompt, maxTokens int) []string {
	results := make([]string, len(prompts))
	for i, p := range prompts {
		results[i] = c.Generate(ctx, p, maxTokens)
	}
	return results
}

func (c *Client) chat(ctx context.Context, prompt llm.Prompt, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	messages := make([]api.Message, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, api.Message{Role: "system", Content: prompt.System})
	}
	if strings.TrimSpace(prompt.User) != "" {
		messages = append(messages, api.Message{Role: "user", Content: prompt.User})
	}
	if len(messages) == 0 {
		return "", errors.New("提示词为空")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": maxTokens,
			"temperature": temperature,
		},
	}

	var content strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", fmt.Errorf("Ollama 返回错误状态 %d: %w", statusErr.StatusCode, err)
		}
		return "", fmt.Errorf("请求 Ollama 失败: %w", err)
	}
	if content.Len() == 0 {
		return "", errors.New("Ollama 响应内容为空")
	}
	return content.String(), nil
}

var _ llm.Backend = (*Client)(nil)
