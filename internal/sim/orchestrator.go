package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"AgentSim/internal/agent"
	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/export"
	"AgentSim/internal/llm"
	"AgentSim/internal/market"
	"AgentSim/pkg/logger"
)

// Gateway 是编排器依赖的市场与讨论网关能力，*market.Client 满足该接口。
type Gateway interface {
	Register(ctx context.Context, username, password string) (string, error)
	Fetch(ctx context.Context, token string) (market.Listing, error)
	ListItem(ctx context.Context, token string, params map[string]any) (market.Result, error)
	Purchase(ctx context.Context, token string, itemID any) (market.Result, error)
	CreateChannel(ctx context.Context, token string, params map[string]any) (market.Result, error)
	PostMessage(ctx context.Context, token string, params map[string]any) (market.Result, error)
}

var _ Gateway = (*market.Client)(nil)

// State 表示编排器的生命周期状态。
type State string

const (
	StateIdle     State = "idle"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Orchestrator 持有代理集合与当前市场快照，并按轮次驱动仿真。
// 轮次循环独占写入；API 读取方通过读锁获得副本。
type Orchestrator struct {
	backend llm.Backend
	gateway Gateway
	sink    export.Sink
	cfg     Config
	log     *slog.Logger
	now     func() time.Time

	// roundMu 拒绝重入的 RunRound。
	roundMu sync.Mutex

	mu           sync.RWMutex
	agents       []*agent.Agent
	index        map[string]*agent.Agent
	snapshot     market.Snapshot
	transactions []market.Record
	postsCreated int
	lastRound    *RoundReport
	running      bool
	stopping     bool
	stopCh       chan struct{}
	done         chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New 构造编排器。sink 为 nil 时事件被丢弃。
func New(backend llm.Backend, gateway Gateway, sink export.Sink, opts ...Option) (*Orchestrator, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置决策后端")
	}
	if gateway == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置市场网关")
	}
	if sink == nil {
		sink = export.Nop{}
	}
	o := &Orchestrator{
		backend: backend,
		gateway: gateway,
		sink:    sink,
		cfg:     DefaultConfig(),
		now:     time.Now,
		index:   make(map[string]*agent.Agent),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.cfg = o.cfg.withDefaults()
	if o.log == nil {
		o.log = logger.Named("sim")
	}
	o.rng = rand.New(rand.NewSource(o.cfg.Seed))
	return o, nil
}

// Config 返回生效的运行参数。
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// CreateAgent 创建代理并在网关注册。注册失败的代理不会加入仿真。
func (o *Orchestrator) CreateAgent(ctx context.Context, spec agent.Spec) (*agent.Agent, error) {
	a, err := agent.New(spec)
	if err != nil {
		return nil, err
	}
	token, err := o.gateway.Register(ctx, a.Name, a.Password())
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeRegistrationFailed, err, "", xerrors.WithAgent(a.ID))
		o.log.Warn("代理注册失败", slog.String("agent_id", a.ID), slog.String("agent_name", a.Name), slog.Any("error", wrapped))
		return nil, wrapped
	}
	if err := a.SetCredential(token); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.agents = append(o.agents, a)
	o.index[a.ID] = a
	o.mu.Unlock()

	logger.Audit().Info("代理注册成功",
		slog.String("agent_id", a.ID),
		slog.String("agent_name", a.Name),
		slog.String("personality", string(a.Personality)),
		slog.Float64("wealth", a.Wealth()),
	)
	return a, nil
}

// CreatePopulation 按人格分布批量创建代理，返回成功注册的代理。
// dist 为空时使用配置中的分布。
func (o *Orchestrator) CreatePopulation(ctx context.Context, count int, dist map[agent.Personality]float64) ([]*agent.Agent, error) {
	if count <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理数量必须大于 0")
	}
	if len(dist) == 0 {
		dist = o.cfg.Distribution
	}

	created := make([]*agent.Agent, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 && o.cfg.RegistrationDelay > 0 {
			if err := sleep(ctx, o.cfg.RegistrationDelay, nil); err != nil {
				return created, err
			}
		}
		if err := ctx.Err(); err != nil {
			return created, err
		}
		spec := o.randomSpec(i, dist)
		a, err := o.CreateAgent(ctx, spec)
		if err != nil {
			continue
		}
		created = append(created, a)
	}
	o.log.Info("代理群体创建完成", slog.Int("requested", count), slog.Int("created", len(created)))
	return created, nil
}

func (o *Orchestrator) randomSpec(i int, dist map[agent.Personality]float64) agent.Spec {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	personality := agent.Pick(dist, o.rng.Float64())
	wealth := math.Max(populationMinWealth, o.rng.NormFloat64()*populationWealthSD+populationMeanWealth)
	risk := populationRiskMin + o.rng.Intn(populationRiskMax-populationRiskMin+1)
	return agent.Spec{
		Name:          fmt.Sprintf("Agent_%03d", i),
		Personality:   personality,
		Wealth:        wealth,
		RiskTolerance: risk,
	}
}

// Agents 返回全部代理的视图，顺序与创建顺序一致。
func (o *Orchestrator) Agents() []agent.View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	views := make([]agent.View, 0, len(o.agents))
	for _, a := range o.agents {
		views = append(views, a.View())
	}
	return views
}

// Agent 返回指定代理。
func (o *Orchestrator) Agent(id string) (*agent.Agent, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.index[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "代理不存在", xerrors.WithAgent(id))
	}
	return a, nil
}

// Snapshot 返回当前生效的市场快照。
func (o *Orchestrator) Snapshot() market.Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Round 返回当前轮次编号。
func (o *Orchestrator) Round() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot.Round
}

// State 返回当前生命周期状态。
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stateLocked()
}

func (o *Orchestrator) stateLocked() State {
	switch {
	case o.running && o.stopping:
		return StateStopping
	case o.running:
		return StateRunning
	case len(o.agents) > 0:
		return StateReady
	default:
		return StateIdle
	}
}

// LastRound 返回最近一轮的执行报告。
func (o *Orchestrator) LastRound() (RoundReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastRound == nil {
		return RoundReport{}, false
	}
	return *o.lastRound, true
}

// Backend 返回决策后端。
func (o *Orchestrator) Backend() llm.Backend {
	return o.backend
}

func (o *Orchestrator) liveAgents() []*agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*agent.Agent(nil), o.agents...)
}

// sleep 等待 d，ctx 取消或 stop 关闭时提前返回。stop 关闭不视为错误。
func sleep(ctx context.Context, d time.Duration, stop <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-timer.C:
		return nil
	}
}
