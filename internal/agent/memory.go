package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RecentActionCapacity 是短期记忆保留的最大动作数。
const RecentActionCapacity = 50

const (
	summaryRecentActions = 5
	summaryKnownAgents   = 10
)

// MemoryEntry 是写入短期记忆的一条动作记录。
type MemoryEntry struct {
	Round     int            `json:"tick"`
	Action    ActionKind     `json:"action"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning"`
}

// Transaction 是代理参与的一笔交易。
type Transaction struct {
	Round  int     `json:"tick"`
	Type   string  `json:"type"`
	ItemID string  `json:"item_id,omitempty"`
	Price  float64 `json:"price"`
}

// 交易类型。
const (
	TransactionBuy  = "buy"
	TransactionSell = "sell"
)

// KnownAgent 描述代理对其他参与者的了解。
type KnownAgent struct {
	Reputation    int `json:"reputation"`
	LastSeenRound int `json:"last_seen_round"`
}

// DiscourseEntry 是代理发出的一条讨论记录。
type DiscourseEntry struct {
	Round     int    `json:"tick"`
	Kind      string `json:"kind"`
	ChannelID string `json:"channel_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Memory 是代理独占的记忆。短期动作记忆容量固定，先进先出；其余部分不设上限。
type Memory struct {
	mu           sync.RWMutex
	recent       []MemoryEntry
	transactions []Transaction
	known        map[string]KnownAgent
	discourse    []DiscourseEntry
}

// NewMemory 创建空记忆。
func NewMemory() *Memory {
	return &Memory{known: make(map[string]KnownAgent)}
}

// AddAction 追加一条动作记录，超过容量时丢弃最旧的记录。
func (m *Memory) AddAction(entry MemoryEntry) {
	if entry.Params == nil {
		entry.Params = map[string]any{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, entry)
	if over := len(m.recent) - RecentActionCapacity; over > 0 {
		m.recent = append(m.recent[:0:0], m.recent[over:]...)
	}
}

// AddTransaction 记录一笔交易。
func (m *Memory) AddTransaction(tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, tx)
}

// Remember 更新对某个交易对手的了解。
func (m *Memory) Remember(name string, info KnownAgent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[name] = info
}

// AddDiscourse 记录一条讨论。
func (m *Memory) AddDiscourse(entry DiscourseEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discourse = append(m.discourse, entry)
}

// RecentActions 返回短期记忆副本，按插入顺序排列。
func (m *Memory) RecentActions() []MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MemoryEntry(nil), m.recent...)
}

// Transactions 返回交易记录副本。
func (m *Memory) Transactions() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transaction(nil), m.transactions...)
}

// Discourse 返回讨论记录副本。
func (m *Memory) Discourse() []DiscourseEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DiscourseEntry(nil), m.discourse...)
}

// KnownAgents 返回已知交易对手数量。
func (m *Memory) KnownAgents() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.known)
}

// Summary 生成写入提示词的记忆摘要：最近 5 条动作、累计买卖金额、
// 按名称排序的至多 10 个已知交易对手。空记忆返回空字符串。
func (m *Memory) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parts := make([]string, 0, 3)
	if n := len(m.recent); n > 0 {
		start := n - summaryRecentActions
		if start < 0 {
			start = 0
		}
		encoded, err := json.Marshal(m.recent[start:])
		if err == nil {
			parts = append(parts, "Recent actions: "+string(encoded))
		}
	}

	if len(m.transactions) > 0 {
		var bought, sold float64
		for _, tx := range m.transactions {
			switch tx.Type {
			case TransactionBuy:
				bought += tx.Price
			case TransactionSell:
				sold += tx.Price
			}
		}
		parts = append(parts, fmt.Sprintf("Total spent: $%.2f, Total earned: $%.2f", bought, sold))
	}

	if len(m.known) > 0 {
		names := make([]string, 0, len(m.known))
		for name := range m.known {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) > summaryKnownAgents {
			names = names[:summaryKnownAgents]
		}
		known := make([]string, len(names))
		for i, name := range names {
			known[i] = fmt.Sprintf("%s: %d", name, m.known[name].Reputation)
		}
		parts = append(parts, "Known traders: "+strings.Join(known, ", "))
	}

	return strings.Join(parts, "\n")
}
