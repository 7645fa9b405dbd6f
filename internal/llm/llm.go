package llm

import (
	"context"
	"log/slog"
	"strings"

	xerrors "AgentSim/internal/errors"
	"AgentSim/pkg/logger"
)

// FallbackResponse 是后端调用失败时返回的哨兵决策，轮次循环会把它当作 WAIT 处理。
const FallbackResponse = `{"reasoning":"Error generating response","action":"WAIT","params":{},"emotion":"confused"}`

// Prompt 是一次决策请求的输入。
type Prompt struct {
	System string
	User   string
}

// Backend 定义了决策后端的统一接口。
//
// 实现不能返回错误：任何传输或协议错误都要记录日志并以 FallbackResponse 代替。
// BatchGenerate 的结果必须与输入等长且顺序一致。maxTokens <= 0 表示使用后端默认值。
type Backend interface {
	Generate(ctx context.Context, prompt Prompt, maxTokens int) string
	BatchGenerate(ctx context.Context, prompts []Prompt, maxTokens int) []string
	Provider() string
	Model() string
	Close() error
}

// Fallback 记录后端失败并返回哨兵决策。
func Fallback(log *slog.Logger, provider string, err error) string {
	if log == nil {
		log = logger.L()
	}
	wrapped := xerrors.Wrap(xerrors.CodeBackendFailure, err, "", xerrors.WithMetadata("provider", provider))
	log.Warn("决策后端调用失败，使用 WAIT 兜底",
		slog.String("provider", provider),
		slog.String("severity", string(xerrors.SeverityOf(wrapped))),
		slog.Bool("retryable", xerrors.RetryableError(wrapped)),
		slog.Any("error", wrapped),
	)
	return FallbackResponse
}

// FillFallback 把 results 中尚未填充的位置补为 FallbackResponse。
func FillFallback(results []string) []string {
	for i := range results {
		if results[i] == "" {
			results[i] = FallbackResponse
		}
	}
	return results
}

// TrimModel 规范化模型名称，空值时返回 def。
func TrimModel(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return def
}
