package agent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentSim/internal/errors"
)

// ActionKind 是代理可选择的动作类型。
type ActionKind string

const (
	ListItem      ActionKind = "LIST_ITEM"
	Purchase      ActionKind = "PURCHASE"
	CreateChannel ActionKind = "CREATE_CHANNEL"
	PostMessage   ActionKind = "POST_MESSAGE"
	Observe       ActionKind = "OBSERVE"
	Wait          ActionKind = "WAIT"
)

// ParseErrorReasoning 是决策无法解析时 WAIT 动作的固定理由。
const ParseErrorReasoning = "Parse error"

// Trivial 表示动作无需调用网关即视为成功。
func (k ActionKind) Trivial() bool {
	return k == Observe || k == Wait
}

// Known 判断动作是否在动作目录中。
func (k ActionKind) Known() bool {
	switch k {
	case ListItem, Purchase, CreateChannel, PostMessage, Observe, Wait:
		return true
	}
	return false
}

// Decision 是模型返回的决策载荷。
type Decision struct {
	Reasoning string         `json:"reasoning"`
	Action    ActionKind     `json:"action"`
	Params    map[string]any `json:"params"`
	Emotion   string         `json:"emotion"`
}

// ParseDecision 解析决策文本。缺失的 action 视为 WAIT，缺失的 params 视为空对象。
func ParseDecision(text string) (Decision, error) {
	var raw struct {
		Reasoning string         `json:"reasoning"`
		Action    string         `json:"action"`
		Params    map[string]any `json:"params"`
		Emotion   string         `json:"emotion"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeDecisionParseFailed, err, "")
	}
	d := Decision{
		Reasoning: raw.Reasoning,
		Action:    ActionKind(strings.ToUpper(strings.TrimSpace(raw.Action))),
		Params:    raw.Params,
		Emotion:   raw.Emotion,
	}
	if d.Action == "" {
		d.Action = Wait
	}
	if d.Params == nil {
		d.Params = map[string]any{}
	}
	return d, nil
}

// Action 是某一轮中某个代理的一次动作。结果字段仅在执行阶段写入。
type Action struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Round      int            `json:"tick"`
	Kind       ActionKind     `json:"action"`
	Params     map[string]any `json:"params"`
	Reasoning  string         `json:"reasoning"`
	Emotion    string         `json:"emotion,omitempty"`
	Success    bool           `json:"success"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at,omitempty"`
}

// NewAction 根据决策为代理创建动作。
func NewAction(agentID string, round int, d Decision) *Action {
	params := d.Params
	if params == nil {
		params = map[string]any{}
	}
	return &Action{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Round:     round,
		Kind:      d.Action,
		Params:    params,
		Reasoning: d.Reasoning,
		Emotion:   d.Emotion,
	}
}

// ParseErrorAction 返回决策无法解析时使用的 WAIT 动作。
func ParseErrorAction(agentID string, round int) *Action {
	return NewAction(agentID, round, Decision{Action: Wait, Reasoning: ParseErrorReasoning})
}

// MemoryEntry 返回写入短期记忆的记录。
func (a *Action) MemoryEntry() MemoryEntry {
	return MemoryEntry{Round: a.Round, Action: a.Kind, Params: a.Params, Reasoning: a.Reasoning}
}

// Price 返回动作参数中的价格，缺失或非数值时为 0。
func (a *Action) Price() float64 {
	return Number(a.Params["price"])
}

// Number 把 JSON 数值或数字字符串转换为 float64。
func Number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(n)), &f); err == nil {
			return f
		}
	}
	return 0
}
