package market

import (
	"encoding/json"
	"time"
)

// 生成快照时的保留上限，用于控制提示词长度。
const (
	maxItems              = 20
	maxChannels           = 10
	maxRecentTransactions = 10
	maxPostsPerChannel    = 5
)

// Snapshot 是同一轮内所有代理共享的只读市场视图。
type Snapshot struct {
	Round              int       `json:"tick"`
	AvailableItems     int       `json:"available_items"`
	Items              []Record  `json:"items"`
	Channels           []Record  `json:"channels"`
	RecentTransactions []Record  `json:"recent_transactions"`
	CapturedAt         time.Time `json:"timestamp"`
}

// NewSnapshot 根据拉取结果生成 round 轮的快照。可售商品数按完整列表统计，
// 而不只是保留的前缀。交易只保留最近十条。
func NewSnapshot(round int, listing Listing, transactions []Record, capturedAt time.Time) Snapshot {
	available := 0
	for _, item := range listing.Items {
		if status, _ := item["status"].(string); status == "available" {
			available++
		}
	}
	if len(transactions) > maxRecentTransactions {
		transactions = transactions[len(transactions)-maxRecentTransactions:]
	}
	return Snapshot{
		Round:              round,
		AvailableItems:     available,
		Items:              cloneRecords(listing.Items, maxItems),
		Channels:           cloneRecords(listing.Channels, maxChannels),
		RecentTransactions: cloneRecords(transactions, maxRecentTransactions),
		CapturedAt:         capturedAt,
	}
}

// HasChannels 判断是否存在讨论频道。
func (s Snapshot) HasChannels() bool {
	return len(s.Channels) > 0
}

// HasActiveDiscussions 判断保留的频道中是否有近期帖子。
func (s Snapshot) HasActiveDiscussions() bool {
	for _, ch := range s.Channels {
		if posts, ok := ch["recent_posts"].([]Record); ok && len(posts) > 0 {
			return true
		}
		if posts, ok := ch["recent_posts"].([]any); ok && len(posts) > 0 {
			return true
		}
	}
	return false
}

// SoldItems 统计状态为 "sold" 的商品数量。
func (s Snapshot) SoldItems() int {
	n := 0
	for _, item := range s.Items {
		if status, _ := item["status"].(string); status == "sold" {
			n++
		}
	}
	return n
}

// Indented 把快照渲染为带缩进的 JSON，供提示词使用。
func (s Snapshot) Indented() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func cloneRecords(in []Record, limit int) []Record {
	if len(in) > limit {
		in = in[:limit]
	}
	out := make([]Record, len(in))
	for i, r := range in {
		cp := make(Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
