package export

import "time"

// 线上传输使用的事件类型。
const (
	TypeSnapshot    = "snapshot"
	TypeAction      = "action"
	TypeTransaction = "transaction"
	TypeDiscourse   = "discourse"
)

// AgentState 是快照中单个代理的状态。
type AgentState struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Personality   string  `json:"personality"`
	Wealth        float64 `json:"wealth"`
	RiskTolerance int     `json:"risk_tolerance"`
	Reputation    int     `json:"reputation"`
}

// SnapshotEvent 汇总一轮开始时的全局状态。
type SnapshotEvent struct {
	Round           int          `json:"tick"`
	Timestamp       time.Time    `json:"timestamp"`
	TotalAgents     int          `json:"total_agents"`
	TotalWealth     float64      `json:"total_wealth"`
	AvgWealth       float64      `json:"avg_wealth"`
	WealthGini      float64      `json:"wealth_gini"`
	ItemsListed     int          `json:"items_listed"`
	ItemsSold       int          `json:"items_sold"`
	ChannelsCreated int          `json:"channels_created"`
	PostsCreated    int          `json:"posts_created"`
	AgentStates     []AgentState `json:"agent_states"`
}

// NewSnapshotEvent 根据代理状态计算财富统计。
func NewSnapshotEvent(round int, at time.Time, states []AgentState) SnapshotEvent {
	wealths := make([]float64, len(states))
	total := 0.0
	for i, s := range states {
		wealths[i] = s.Wealth
		total += s.Wealth
	}
	avg := 0.0
	if len(states) > 0 {
		avg = total / float64(len(states))
	}
	return SnapshotEvent{
		Round:       round,
		Timestamp:   at,
		TotalAgents: len(states),
		TotalWealth: total,
		AvgWealth:   avg,
		WealthGini:  Gini(wealths),
		AgentStates: states,
	}
}

// ActionEvent 记录一次已执行的非平凡动作。
type ActionEvent struct {
	Round        int            `json:"tick"`
	Timestamp    time.Time      `json:"timestamp"`
	AgentID      string         `json:"agent_id"`
	AgentName    string         `json:"agent_name"`
	Personality  string         `json:"personality"`
	ActionType   string         `json:"action_type"`
	ActionParams map[string]any `json:"action_params"`
	Reasoning    string         `json:"reasoning"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	WealthBefore float64        `json:"wealth_before"`
	WealthAfter  float64        `json:"wealth_after"`
}

// TransactionEvent 记录一笔成交。
type TransactionEvent struct {
	Round     int       `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
	ItemID    string    `json:"item_id"`
	ItemName  string    `json:"item_name"`
	Category  string    `json:"category"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	SellerID  string    `json:"seller_id"`
	BuyerID   string    `json:"buyer_id"`
}

// DiscourseEvent 记录一次讨论活动（建频道或发帖）。
type DiscourseEvent struct {
	Round       int       `json:"tick"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	PostID      string    `json:"post_id,omitempty"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	Topic       string    `json:"topic"`
}

// Envelope 是发布到消息系统与 websocket 的统一格式。
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
