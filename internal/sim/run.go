package sim

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math"
	"sort"
	"time"

	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/export"
	"AgentSim/pkg/logger"
)

// Run 在当前协程中连续执行 rounds 轮（<=0 时使用配置值），轮间按配置间隔等待。
// Stop 或 ctx 取消会在轮次边界生效。
func (o *Orchestrator) Run(ctx context.Context, rounds int) error {
	if err := o.begin(); err != nil {
		return err
	}
	return o.loop(ctx, rounds, o.cfg.RoundInterval)
}

// Start 在后台协程中运行仿真，interval <= 0 时使用配置值。
// 已在运行或没有代理时立即返回错误。
func (o *Orchestrator) Start(ctx context.Context, rounds int, interval time.Duration) error {
	if err := o.begin(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = o.cfg.RoundInterval
	}
	go func() {
		if err := o.loop(ctx, rounds, interval); err != nil && !stdErrors.Is(err, context.Canceled) {
			o.log.Warn("仿真异常结束", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop 请求在当前轮结束后停止运行，未运行时返回 false。
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.stopping {
		return false
	}
	o.stopping = true
	close(o.stopCh)
	return true
}

// Done 返回最近一次运行结束时关闭的通道。从未运行时返回已关闭的通道。
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.done
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return xerrors.New(xerrors.CodeConflict, "仿真已在运行")
	}
	if len(o.agents) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "没有可运行的代理")
	}
	o.running = true
	o.stopping = false
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, rounds int, interval time.Duration) error {
	if rounds <= 0 {
		rounds = o.cfg.Rounds
	}
	o.mu.RLock()
	stop, done, agentCount := o.stopCh, o.done, len(o.agents)
	o.mu.RUnlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.stopping = false
		o.mu.Unlock()
		close(done)
		o.logStatistics()
	}()

	if r, ok := o.sink.(export.ConfigRecorder); ok {
		r.SetConfig(map[string]any{
			"total_ticks":   rounds,
			"agent_count":   agentCount,
			"tick_interval": interval.Seconds(),
			"llm_provider":  o.backend.Provider(),
			"llm_model":     o.backend.Model(),
			"batch_size":    o.cfg.BatchSize,
		})
	}
	logger.Audit().Info("仿真开始",
		slog.Int("rounds", rounds),
		slog.Int("agents", agentCount),
		slog.Duration("interval", interval),
		slog.String("provider", o.backend.Provider()),
	)

	completed := 0
	var err error
	for completed < rounds {
		if err = ctx.Err(); err != nil {
			break
		}
		if stopped(stop) {
			break
		}
		if _, roundErr := o.RunRound(ctx); roundErr != nil {
			o.log.Warn("跳过本轮", slog.Any("error", roundErr))
		} else {
			completed++
		}
		if completed < rounds {
			if err = sleep(ctx, interval, stop); err != nil {
				break
			}
		}
	}

	logger.Audit().Info("仿真结束",
		slog.Int("completed_rounds", completed),
		slog.Int("round", o.Round()),
		slog.Bool("stopped", stopped(stop)),
	)
	return err
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// PersonalityStats 是某一人格的财富统计。
type PersonalityStats struct {
	Count     int     `json:"count"`
	AvgWealth float64 `json:"avg_wealth"`
}

// Stats 是代理集合的财富统计。
type Stats struct {
	Round         int                         `json:"tick"`
	TotalAgents   int                         `json:"total_agents"`
	TotalWealth   float64                     `json:"total_wealth"`
	AvgWealth     float64                     `json:"avg_wealth"`
	MaxWealth     float64                     `json:"max_wealth"`
	MinWealth     float64                     `json:"min_wealth"`
	Gini          float64                     `json:"gini"`
	ByPersonality map[string]PersonalityStats `json:"by_personality"`
}

// Stats 计算当前代理集合的统计信息。没有代理时返回 NOT_FOUND。
func (o *Orchestrator) Stats() (Stats, error) {
	views := o.Agents()
	if len(views) == 0 {
		return Stats{}, xerrors.New(xerrors.CodeNotFound, "尚未创建代理")
	}
	st := Stats{
		Round:         o.Round(),
		TotalAgents:   len(views),
		MaxWealth:     math.Inf(-1),
		MinWealth:     math.Inf(1),
		ByPersonality: make(map[string]PersonalityStats),
	}
	wealths := make([]float64, 0, len(views))
	sums := make(map[string]float64)
	for _, v := range views {
		wealths = append(wealths, v.Wealth)
		st.TotalWealth += v.Wealth
		st.MaxWealth = math.Max(st.MaxWealth, v.Wealth)
		st.MinWealth = math.Min(st.MinWealth, v.Wealth)
		p := string(v.Personality)
		ps := st.ByPersonality[p]
		ps.Count++
		st.ByPersonality[p] = ps
		sums[p] += v.Wealth
	}
	st.AvgWealth = st.TotalWealth / float64(len(views))
	st.Gini = export.Gini(wealths)
	for p, ps := range st.ByPersonality {
		ps.AvgWealth = sums[p] / float64(ps.Count)
		st.ByPersonality[p] = ps
	}
	return st, nil
}

// Status 是编排器运行状态的摘要。
type Status struct {
	State     State        `json:"state"`
	Round     int          `json:"tick"`
	Agents    int          `json:"agents"`
	Provider  string       `json:"llm_provider"`
	Model     string       `json:"llm_model"`
	BatchSize int          `json:"batch_size"`
	LastRound *RoundReport `json:"last_round,omitempty"`
}

// Status 返回运行状态摘要，LastRound 不含动作明细。
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Status{
		State:     o.stateLocked(),
		Round:     o.snapshot.Round,
		Agents:    len(o.agents),
		Provider:  o.backend.Provider(),
		Model:     o.backend.Model(),
		BatchSize: o.cfg.BatchSize,
	}
	if o.lastRound != nil {
		last := *o.lastRound
		last.Actions = nil
		st.LastRound = &last
	}
	return st
}

func (o *Orchestrator) logStatistics() {
	st, err := o.Stats()
	if err != nil {
		o.log.Info("仿真统计：没有代理")
		return
	}
	names := make([]string, 0, len(st.ByPersonality))
	for p := range st.ByPersonality {
		names = append(names, p)
	}
	sort.Strings(names)
	attrs := make([]any, 0, len(names))
	for _, p := range names {
		ps := st.ByPersonality[p]
		attrs = append(attrs, slog.Group(p, slog.Int("count", ps.Count), slog.Float64("avg_wealth", ps.AvgWealth)))
	}
	o.log.Info("仿真统计",
		slog.Int("round", st.Round),
		slog.Int("total_agents", st.TotalAgents),
		slog.Float64("total_wealth", st.TotalWealth),
		slog.Float64("avg_wealth", st.AvgWealth),
		slog.Float64("richest", st.MaxWealth),
		slog.Float64("poorest", st.MinWealth),
		slog.Float64("gini", st.Gini),
		slog.Group("by_personality", attrs...),
	)
}
