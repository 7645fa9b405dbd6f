package agent

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/market"
)

const (
	defaultWealth      = 10000.0
	defaultAttribute   = 50
	defaultPrimaryGoal = "maximize_wealth"
)

// Spec 描述创建代理所需的参数，零值字段使用默认值。
type Spec struct {
	Name          string      `json:"name"`
	Personality   Personality `json:"personality"`
	Wealth        float64     `json:"initial_wealth"`
	RiskTolerance int         `json:"risk_tolerance"`
	Reputation    int         `json:"reputation"`
}

// Agent 是参与仿真的单个代理。人格与标识创建后不可修改；财富、声誉与记忆
// 只由轮次循环修改，API 读取方通过 View 获取副本。
type Agent struct {
	ID          string
	Name        string
	Personality Personality
	PrimaryGoal string
	CreatedAt   time.Time

	mu            sync.RWMutex
	riskTolerance int
	reputation    int
	wealth        float64
	credential    string
	memory        *Memory
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithID 指定代理标识，主要用于测试。
func WithID(id string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(id) != "" {
			a.ID = id
		}
	}
}

// New 创建一个 Agent。
func New(spec Spec, opts ...Option) (*Agent, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理名称不能为空")
	}
	personality := spec.Personality
	if personality == "" {
		personality = Opportunist
	}
	if !personality.Valid() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的人格 %q", spec.Personality))
	}
	wealth := spec.Wealth
	if wealth == 0 {
		wealth = defaultWealth
	}
	risk := spec.RiskTolerance
	if risk == 0 {
		risk = defaultAttribute
	}
	reputation := spec.Reputation
	if reputation == 0 {
		reputation = defaultAttribute
	}

	a := &Agent{
		ID:            uuid.NewString(),
		Name:          name,
		Personality:   personality,
		PrimaryGoal:   defaultPrimaryGoal,
		CreatedAt:     time.Now().UTC(),
		riskTolerance: clamp(risk),
		reputation:    clamp(reputation),
		wealth:        wealth,
		memory:        NewMemory(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

func clamp(v int) int {
	return int(math.Max(0, math.Min(100, float64(v))))
}

// Password 返回注册网关账号使用的口令。
func (a *Agent) Password() string {
	id := a.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "agent_" + id
}

// SetCredential 保存网关颁发的令牌，只能设置一次。
func (a *Agent) SetCredential(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.credential != "" {
		return xerrors.New(xerrors.CodeConflict, "代理凭证已设置", xerrors.WithAgent(a.ID))
	}
	if strings.TrimSpace(token) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "凭证不能为空", xerrors.WithAgent(a.ID))
	}
	a.credential = token
	return nil
}

// Credential 返回网关令牌。
func (a *Agent) Credential() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.credential
}

// CanAct 判断代理是否持有凭证。
func (a *Agent) CanAct() bool {
	return a.Credential() != ""
}

// Wealth 返回当前本地记录的财富，可为负数。
func (a *Agent) Wealth() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.wealth
}

// Debit 扣减财富，不设下限。
func (a *Agent) Debit(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wealth -= amount
}

// RiskTolerance 返回风险偏好 (0-100)。
func (a *Agent) RiskTolerance() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.riskTolerance
}

// Reputation 返回声誉 (0-100)。
func (a *Agent) Reputation() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reputation
}

// AdjustReputation 调整声誉并保持在 0-100。
func (a *Agent) AdjustReputation(delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reputation = clamp(a.reputation + delta)
}

// Memory 返回代理独占的记忆。
func (a *Agent) Memory() *Memory {
	return a.memory
}

// View 是代理的只读视图。
type View struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Personality   Personality `json:"personality"`
	Wealth        float64     `json:"wealth"`
	RiskTolerance int         `json:"risk_tolerance"`
	Reputation    int         `json:"reputation"`
	PrimaryGoal   string      `json:"primary_goal"`
	CanAct        bool        `json:"can_act"`
}

// View 返回代理当前状态的副本。
func (a *Agent) View() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return View{
		ID:            a.ID,
		Name:          a.Name,
		Personality:   a.Personality,
		Wealth:        a.wealth,
		RiskTolerance: a.riskTolerance,
		Reputation:    a.reputation,
		PrimaryGoal:   a.PrimaryGoal,
		CanAct:        a.credential != "",
	}
}

// SystemPrompt 生成代理的系统提示词：人格、属性、记忆摘要、动作目录与输出格式。
func (a *Agent) SystemPrompt() string {
	v := a.View()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI agent participating in a capitalism simulation.\n\n", v.Name)
	fmt.Fprintf(&b, "PERSONALITY: %s\n\n", v.Personality.Trait())
	b.WriteString("YOUR ATTRIBUTES:\n")
	fmt.Fprintf(&b, "- Risk Tolerance: %d/100\n", v.RiskTolerance)
	fmt.Fprintf(&b, "- Current Wealth: $%s\n", FormatMoney(v.Wealth))
	fmt.Fprintf(&b, "- Reputation: %d/100\n", v.Reputation)
	fmt.Fprintf(&b, "- Primary Goal: %s\n\n", v.PrimaryGoal)
	b.WriteString("MEMORY CONTEXT:\n")
	b.WriteString(a.memory.Summary())
	b.WriteString("\n\n")
	b.WriteString(actionCatalogue)
	return b.String()
}

const actionCatalogue = `AVAILABLE ACTIONS:
1. LIST_ITEM: Create a new item to sell
   params: {"name": "string", "description": "string", "category": "asset|innovation|service|knowledge", "price": number, "currency": "USD"}

2. PURCHASE: Buy an item from the marketplace
   params: {"itemId": "string (the _id from marketplace items)", "price": number}

3. CREATE_CHANNEL: Start a new discussion channel (great for building influence!)
   params: {"name": "string", "description": "string", "type": "public|private|sovereign"}

4. POST_MESSAGE: Post in a channel (share insights, respond to others!)
   params: {"channelId": number, "title": "string", "content": "string", "topic": "economic|philosophical|strategic"}

5. OBSERVE: Watch the market without acting
   params: {}

6. WAIT: Do nothing this turn
   params: {}

IMPORTANT: Discourse participation is valuable! Sharing insights and debating ideas builds your reputation and influence in the market. Consider posting or creating channels regularly.

CRITICAL INSTRUCTIONS:
- Respond with ONLY valid JSON, nothing else
- Keep "reasoning" to ONE short sentence (max 15 words)
- Do NOT use markdown, do NOT explain, just output JSON

Format:
{"reasoning": "short reason", "action": "ACTION_NAME", "params": {...}, "emotion": "emotion"}
`

// 附加在市场状态之后的提示。
const (
	HintActiveDiscussions = "** ACTIVE DISCUSSIONS: Check the channels - other agents are posting. Consider responding! **"
	HintNoChannels        = "** NO CHANNELS YET: Be a leader - create a channel to start discussions! **"
)

// DecisionPrompt 生成本轮的用户提示词。
func (a *Agent) DecisionPrompt(snap market.Snapshot) string {
	hint := ""
	switch {
	case !snap.HasChannels():
		hint = "\n" + HintNoChannels
	case snap.HasActiveDiscussions():
		hint = "\n" + HintActiveDiscussions
	}

	var b strings.Builder
	b.WriteString("Current Market State:\n")
	b.WriteString(snap.Indented())
	b.WriteString("\n")
	b.WriteString(hint)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Based on your personality, current wealth ($%s), and the market state above, decide your next action.\n\n", FormatMoney(a.Wealth()))
	b.WriteString("Consider BOTH trading AND discourse:\n")
	b.WriteString("- MARKETPLACE: What items are worth buying? Should you list something?\n")
	b.WriteString("- DISCOURSE: What channels have interesting discussions? Should you post your thoughts or create a new channel?\n\n")
	b.WriteString("Balance your actions - successful agents both trade AND participate in discourse.\n\n")
	b.WriteString("Respond with your decision in the JSON format specified.")
	return b.String()
}

// FormatMoney 以千分位和两位小数格式化金额，例如 12345.6 -> "12,345.60"。
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
