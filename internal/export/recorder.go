package export

import (
	"sync"
	"time"

	xerrors "AgentSim/internal/errors"
)

// Recorder 在内存中保存一次仿真的全部事件并生成汇总。
type Recorder struct {
	mu           sync.RWMutex
	id           string
	startedAt    time.Time
	config       map[string]any
	snapshots    []SnapshotEvent
	actions      []ActionEvent
	transactions []TransactionEvent
	discourse    []DiscourseEvent
}

// NewRecorder 创建 Recorder，仿真标识取创建时间。
func NewRecorder() *Recorder {
	now := time.Now()
	return &Recorder{id: now.Format("20060102_150405"), startedAt: now.UTC()}
}

// ID 返回仿真标识。
func (r *Recorder) ID() string { return r.id }

// SetConfig 保存本次运行的配置。
func (r *Recorder) SetConfig(cfg map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

func (r *Recorder) LogSnapshot(e SnapshotEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, e)
}

func (r *Recorder) LogAction(e ActionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, e)
}

func (r *Recorder) LogTransaction(e TransactionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, e)
}

func (r *Recorder) LogDiscourse(e DiscourseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discourse = append(r.discourse, e)
}

// Snapshots 返回已记录快照的副本。
func (r *Recorder) Snapshots() []SnapshotEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SnapshotEvent(nil), r.snapshots...)
}

// Actions 返回已记录动作的副本。
func (r *Recorder) Actions() []ActionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ActionEvent(nil), r.actions...)
}

// Transactions 返回已记录交易的副本。
func (r *Recorder) Transactions() []TransactionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TransactionEvent(nil), r.transactions...)
}

// Discourse 返回已记录讨论的副本。
func (r *Recorder) Discourse() []DiscourseEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DiscourseEvent(nil), r.discourse...)
}

// WealthState 是某一时刻的财富统计。
type WealthState struct {
	TotalWealth float64 `json:"total_wealth"`
	AvgWealth   float64 `json:"avg_wealth"`
	Gini        float64 `json:"gini"`
}

// PersonalityChange 是某一人格首末快照之间的财富变化。
type PersonalityChange struct {
	AvgChange   float64 `json:"avg_change"`
	TotalChange float64 `json:"total_change"`
	Count       int     `json:"count"`
}

// Summary 是一次仿真的汇总统计。
type Summary struct {
	SimulationID              string                       `json:"simulation_id"`
	StartedAt                 time.Time                    `json:"start_time"`
	Config                    map[string]any               `json:"config,omitempty"`
	TotalTicks                int                          `json:"total_ticks"`
	TotalActions              int                          `json:"total_actions"`
	TotalTransactions         int                          `json:"total_transactions"`
	TotalDiscourse            int                          `json:"total_discourse"`
	InitialState              WealthState                  `json:"initial_state"`
	FinalState                WealthState                  `json:"final_state"`
	WealthChangeByPersonality map[string]PersonalityChange `json:"wealth_change_by_personality"`
	ActionDistribution        map[string]int               `json:"action_distribution"`
}

// Summary 汇总已记录的数据。尚无快照时返回 NOT_FOUND。
func (r *Recorder) Summary() (Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.snapshots) == 0 {
		return Summary{}, xerrors.New(xerrors.CodeNotFound, "尚未采集到仿真数据")
	}
	first, last := r.snapshots[0], r.snapshots[len(r.snapshots)-1]

	changes := make(map[string]PersonalityChange)
	if len(r.snapshots) >= 2 {
		final := make(map[string]AgentState, len(last.AgentStates))
		for _, s := range last.AgentStates {
			final[s.ID] = s
		}
		for _, s := range first.AgentStates {
			end, ok := final[s.ID]
			if !ok {
				continue
			}
			c := changes[s.Personality]
			c.TotalChange += end.Wealth - s.Wealth
			c.Count++
			changes[s.Personality] = c
		}
		for k, c := range changes {
			c.AvgChange = c.TotalChange / float64(c.Count)
			changes[k] = c
		}
	}

	dist := make(map[string]int)
	for _, a := range r.actions {
		dist[a.ActionType]++
	}

	return Summary{
		SimulationID:              r.id,
		StartedAt:                 r.startedAt,
		Config:                    r.config,
		TotalTicks:                len(r.snapshots),
		TotalActions:              len(r.actions),
		TotalTransactions:         len(r.transactions),
		TotalDiscourse:            len(r.discourse),
		InitialState:              WealthState{TotalWealth: first.TotalWealth, AvgWealth: first.AvgWealth, Gini: first.WealthGini},
		FinalState:                WealthState{TotalWealth: last.TotalWealth, AvgWealth: last.AvgWealth, Gini: last.WealthGini},
		WealthChangeByPersonality: changes,
		ActionDistribution:        dist,
	}, nil
}

var _ Sink = (*Recorder)(nil)
