package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"AgentSim/internal/agent"
	"AgentSim/internal/api"
	"AgentSim/internal/config"
	"AgentSim/internal/export"
	"AgentSim/internal/llm"
	"AgentSim/internal/llm/anthropic"
	"AgentSim/internal/llm/ollama"
	"AgentSim/internal/llm/openai"
	"AgentSim/internal/market"
	"AgentSim/internal/observability/metrics"
	"AgentSim/internal/sim"
	"AgentSim/pkg/logger"
)

// main 是仿真守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentsimd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时忽略。
	_ = godotenv.Load()

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.L()

	// 初始化决策后端。
	backend, err := createBackend(cfg.LLM)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			lg.Warn("关闭决策后端失败", slog.Any("error", err))
		}
	}()

	gateway, err := market.NewClient(cfg.Gateway.BaseURL, &http.Client{Timeout: cfg.Gateway.Timeout()})
	if err != nil {
		return err
	}

	recorder := export.NewRecorder()
	sinks := []export.Sink{recorder}
	serverOpts := []api.Option{
		api.WithRecorder(recorder),
		api.WithRunContext(ctx),
		api.WithMode(cfg.Server.Mode),
	}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		sinks = append(sinks, collector)
		serverOpts = append(serverOpts, api.WithMetrics(collector), api.WithMetricsPath(cfg.Metrics.Path))
	}

	if cfg.Export.WebSocket.Enabled {
		feed := export.NewFeed(cfg.Export.WebSocket.Buffer)
		defer feed.Close()
		sinks = append(sinks, feed)
		serverOpts = append(serverOpts, api.WithFeed(feed))
	}

	publishers, err := createPublishers(ctx, cfg.Export)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range publishers {
			if err := p.Close(); err != nil {
				lg.Warn("关闭事件发布器失败", slog.Any("error", err))
			}
		}
	}()
	for _, p := range publishers {
		sinks = append(sinks, p)
	}

	dist, err := parseDistribution(cfg.Simulation.Population.Distribution)
	if err != nil {
		return err
	}

	orch, err := sim.New(backend, gateway, export.NewFanout(sinks...),
		sim.WithConfig(sim.Config{
			BatchSize:         cfg.Simulation.BatchSize,
			RoundInterval:     cfg.Simulation.TickInterval(),
			Rounds:            cfg.Simulation.Rounds,
			MaxTokens:         cfg.LLM.MaxTokens,
			RegistrationDelay: cfg.Simulation.RegistrationDelay(),
			Seed:              cfg.Simulation.Seed,
			Distribution:      dist,
		}),
	)
	if err != nil {
		return err
	}

	if n := cfg.Simulation.Population.Count; n > 0 {
		if _, err := orch.CreatePopulation(ctx, n, dist); err != nil {
			return err
		}
	}
	if cfg.Simulation.AutoStart {
		if err := orch.Start(ctx, cfg.Simulation.Rounds, cfg.Simulation.TickInterval()); err != nil {
			lg.Warn("自动启动仿真失败", slog.Any("error", err))
		}
	}

	lg.Info("仿真服务启动",
		slog.String("address", cfg.Server.Address),
		slog.String("provider", backend.Provider()),
		slog.String("model", backend.Model()),
		slog.String("gateway", cfg.Gateway.BaseURL),
		slog.Int("sinks", len(sinks)),
	)

	server := api.NewServer(cfg.Server.Address, orch, serverOpts...)
	err = server.Start(ctx)
	orch.Stop()
	<-orch.Done()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createBackend(cfg config.LLMConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case "vllm", "openai":
		return openai.NewClient(openai.Config{
			Provider: cfg.Provider,
			APIKey:   cfg.ResolvedAPIKey(),
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout(),
		})
	case "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:       cfg.ResolvedAPIKey(),
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout(),
			RequestDelay: cfg.RequestDelay(),
		})
	default:
		return nil, fmt.Errorf("不支持的 LLM 提供商: %s", cfg.Provider)
	}
}

func createPublishers(ctx context.Context, cfg config.ExportConfig) (publishers []*export.Publisher, err error) {
	defer func() {
		if err != nil {
			for _, p := range publishers {
				_ = p.Close()
			}
			publishers = nil
		}
	}()

	if cfg.NATS.Enabled {
		transport, err := export.NewNATSTransport(cfg.NATS.URL)
		if err != nil {
			return publishers, err
		}
		publishers = append(publishers, export.NewPublisher(transport, cfg.Subject))
	}
	if cfg.Redis.Enabled {
		transport, err := export.NewRedisTransport(ctx, export.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return publishers, err
		}
		publishers = append(publishers, export.NewPublisher(transport, cfg.Subject))
	}
	if cfg.RabbitMQ.Enabled {
		transport, err := export.NewRabbitMQTransport(export.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		})
		if err != nil {
			return publishers, err
		}
		publishers = append(publishers, export.NewPublisher(transport, cfg.Subject))
	}
	return publishers, nil
}

func parseDistribution(raw map[string]float64) (map[agent.Personality]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dist := make(map[agent.Personality]float64, len(raw))
	for name, weight := range raw {
		p, err := agent.ParsePersonality(name)
		if err != nil {
			return nil, err
		}
		dist[p] = weight
	}
	return dist, nil
}
