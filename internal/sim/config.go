package sim

import (
	"log/slog"
	"time"

	"AgentSim/internal/agent"
)

// Config 描述编排器的运行参数，零值字段在 New 中补齐默认值。
type Config struct {
	BatchSize         int
	RoundInterval     time.Duration
	Rounds            int
	MaxTokens         int
	RegistrationDelay time.Duration
	Seed              int64
	Distribution      map[agent.Personality]float64
}

// 群体默认参数。
const (
	populationMeanWealth = 10000.0
	populationWealthSD   = 3000.0
	populationMinWealth  = 1000.0
	populationRiskMin    = 20
	populationRiskMax    = 80
)

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		BatchSize:         32,
		RoundInterval:     5 * time.Second,
		Rounds:            100,
		MaxTokens:         512,
		RegistrationDelay: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.RoundInterval < 0 {
		c.RoundInterval = 0
	}
	if c.Rounds <= 0 {
		c.Rounds = def.Rounds
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.RegistrationDelay < 0 {
		c.RegistrationDelay = 0
	}
	if len(c.Distribution) == 0 {
		c.Distribution = agent.DefaultDistribution()
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithConfig 指定运行参数。
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
