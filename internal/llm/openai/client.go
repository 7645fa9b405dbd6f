// Package openai 实现高吞吐的批量决策后端，面向 vLLM 等兼容 OpenAI
// Chat Completions 协议的推理服务。
package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"AgentSim/internal/llm"
	"AgentSim/pkg/logger"
)

const (
	defaultBaseURL   = "http://localhost:8000/v1"
	defaultModelName = "meta-llama/Llama-3.1-8B-Instruct"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 2048

	temperature = 0.7
	topP        = 0.9
)

// Config 描述了调用兼容 OpenAI 协议的推理服务所需的信息。
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// Client 通过 go-openai 调用推理服务，批量请求全部并发发出。
type Client struct {
	provider   string
	model      string
	api        *goopenai.Client
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

// NewClient 根据配置创建客户端。vLLM 不校验密钥，未提供时使用占位值。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, errors.New("推理服务地址必须以 http:// 或 https:// 开头")
	}

	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = "vllm"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		if provider == "openai" {
			return nil, errors.New("未提供 OpenAI API Key")
		}
		apiKey = "EMPTY"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		provider:   provider,
		model:      llm.TrimModel(cfg.Model, defaultModelName),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Named("llm.openai"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	apiCfg := goopenai.DefaultConfig(apiKey)
	apiCfg.BaseURL = baseURL
	apiCfg.HTTPClient = c.httpClient
	c.api = goopenai.NewClientWithConfig(apiCfg)
	return c, nil
}

// Provider 返回后端名称。
func (c *Client) Provider() string { return c.provider }

// Model 返回模型名称。
func (c *Client) Model() string { return c.model }

// Close 释放空闲连接。
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Generate 发送单个请求，输出经过 llm.ExtractJSON 处理。
func (c *Client) Generate(ctx context.Context, prompt llm.Prompt, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt.User},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return llm.Fallback(c.log, c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return llm.Fallback(c.log, c.provider, errors.New("响应中没有有效的 choices"))
	}
	return llm.ExtractJSON(resp.Choices[0].Message.Content)
}

// BatchGenerate 并发发出全部请求并等待全部完成，结果按输入顺序排列。
func (c *Client) BatchGenerate(ctx context.Context, prompts []llm.Prompt, maxTokens int) []string {
	results := make([]string, len(prompts))
	var g errgroup.Group
	for i, p := range prompts {
		g.Go(func() error {
			results[i] = c.Generate(ctx, p, maxTokens)
			return nil
		})
	}
	_ = g.Wait()
	return llm.FillFallback(results)
}

var _ llm.Backend = (*Client)(nil)
