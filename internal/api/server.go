package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/export"
	"AgentSim/internal/observability/metrics"
	"AgentSim/internal/sim"
	"AgentSim/pkg/logger"
)

const (
	serviceName    = "agentsim"
	serviceVersion = "1.0.0"
)

// Server 负责暴露控制接口。
type Server struct {
	addr        string
	orch        *sim.Orchestrator
	recorder    *export.Recorder
	feed        *export.Feed
	metrics     *metrics.Collector
	metricsPath string
	runCtx      context.Context
	mode        string
	log         *slog.Logger
	engine      *gin.Engine
}

// Option 定义可选配置。
type Option func(*Server)

// WithRecorder 启用 /export/summary。
func WithRecorder(r *export.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithFeed 启用 /export/feed websocket。
func WithFeed(f *export.Feed) Option {
	return func(s *Server) { s.feed = f }
}

// WithMetrics 启用 /metrics 以及请求指标中间件。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithMetricsPath 修改指标暴露路径。
func WithMetricsPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithRunContext 指定后台仿真使用的上下文，通常为进程根上下文。
func WithRunContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.runCtx = ctx
		}
	}
}

// WithMode 设置 gin 运行模式 (debug/release/test)。
func WithMode(mode string) Option {
	return func(s *Server) { s.mode = mode }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *sim.Orchestrator, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		orch:        orch,
		metricsPath: "/metrics",
		runCtx:      context.Background(),
		mode:        gin.ReleaseMode,
		log:         logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	gin.SetMode(s.mode)
	s.engine = s.routes()
	return s
}

// Handler 返回路由，供测试或嵌入其他服务使用。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.engine),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("控制接口已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/", s.handleRoot)

	agents := r.Group("/agents")
	{
		agents.POST("", s.handleCreateAgent)
		agents.POST("/population", s.handleCreatePopulation)
		agents.GET("", s.handleListAgents)
		agents.GET("/:id", s.handleGetAgent)
	}

	simulation := r.Group("/simulation")
	{
		simulation.POST("/start", s.handleStart)
		simulation.POST("/stop", s.handleStop)
		simulation.GET("/status", s.handleStatus)
		simulation.GET("/stats", s.handleStats)
	}
	r.POST("/tick", s.handleTick)

	r.GET("/export/summary", s.handleSummary)
	if s.feed != nil {
		r.GET("/export/feed", gin.WrapH(s.feed))
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("处理请求",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// writeError 按错误码映射 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	writeErrorStatus(c, xerrors.HTTPStatus(err), err)
}

func writeErrorStatus(c *gin.Context, status int, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
