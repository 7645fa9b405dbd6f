package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"AgentSim/internal/agent"
	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/export"
	"AgentSim/internal/llm"
	"AgentSim/internal/market"
	"AgentSim/pkg/logger"
)

// maxTrackedTransactions 与快照保留的最近交易数一致。
const maxTrackedTransactions = 10

const saleReputationGain = 1

// RoundReport 汇总一轮的执行结果。
type RoundReport struct {
	Round         int             `json:"tick"`
	SnapshotFresh bool            `json:"snapshot_fresh"`
	Agents        int             `json:"agents"`
	ParseErrors   int             `json:"parse_errors"`
	Executed      int             `json:"executed"`
	Succeeded     int             `json:"succeeded"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	Actions       []*agent.Action `json:"actions,omitempty"`
}

type plannedAction struct {
	agent  *agent.Agent
	action *agent.Action
}

// RunRound 执行一轮仿真。并发调用时后到者返回 CONFLICT。
func (o *Orchestrator) RunRound(ctx context.Context) (RoundReport, error) {
	if !o.roundMu.TryLock() {
		return RoundReport{}, xerrors.New(xerrors.CodeConflict, "上一轮仍在执行")
	}
	defer o.roundMu.Unlock()

	started := o.now()
	agents := o.liveAgents()

	snap, fresh := o.refreshSnapshot(ctx, agents)
	round := snap.Round
	o.sink.LogSnapshot(o.snapshotEvent(snap, agents))

	planned := make([]plannedAction, 0, len(agents))
	parseErrors := 0
	for start := 0; start < len(agents); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(agents))
		batch, failed := o.decideBatch(ctx, agents[start:end], snap)
		planned = append(planned, batch...)
		parseErrors += failed
	}

	report := RoundReport{
		Round:         round,
		SnapshotFresh: fresh,
		Agents:        len(agents),
		ParseErrors:   parseErrors,
		StartedAt:     started,
		Actions:       make([]*agent.Action, 0, len(planned)),
	}
	for _, p := range planned {
		if o.executeAction(ctx, p.agent, p.action) {
			report.Executed++
			if p.action.Success {
				report.Succeeded++
			}
		}
		report.Actions = append(report.Actions, p.action)
	}
	report.Duration = o.now().Sub(started)

	o.mu.Lock()
	o.lastRound = &report
	o.mu.Unlock()

	logger.Audit().Info("轮次完成",
		slog.Int("round", round),
		slog.Bool("snapshot_fresh", fresh),
		slog.Int("agents", report.Agents),
		slog.Int("executed", report.Executed),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("parse_errors", report.ParseErrors),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// refreshSnapshot 用第一个可用凭证拉取市场状态。失败时保留旧快照且不推进轮次。
func (o *Orchestrator) refreshSnapshot(ctx context.Context, agents []*agent.Agent) (market.Snapshot, bool) {
	o.mu.RLock()
	prev := o.snapshot
	transactions := append([]market.Record(nil), o.transactions...)
	o.mu.RUnlock()

	token := ""
	for _, a := range agents {
		if a.CanAct() {
			token = a.Credential()
			break
		}
	}
	if token == "" {
		err := xerrors.New(xerrors.CodeSnapshotFetchFailed, "没有可用的代理凭证", xerrors.WithRound(prev.Round))
		o.log.Warn("获取市场快照失败，沿用上一快照", slog.Int("round", prev.Round), slog.Any("error", err))
		return prev, false
	}

	listing, err := o.gateway.Fetch(ctx, token)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeSnapshotFetchFailed, err, "", xerrors.WithRound(prev.Round))
		o.log.Warn("获取市场快照失败，沿用上一快照",
			slog.Int("round", prev.Round),
			slog.String("severity", string(xerrors.SeverityOf(wrapped))),
			slog.Bool("retryable", xerrors.RetryableError(wrapped)),
			slog.Any("error", wrapped),
		)
		return prev, false
	}

	snap := market.NewSnapshot(prev.Round+1, listing, transactions, o.now().UTC())
	o.mu.Lock()
	o.snapshot = snap
	o.mu.Unlock()
	return snap, true
}

func (o *Orchestrator) snapshotEvent(snap market.Snapshot, agents []*agent.Agent) export.SnapshotEvent {
	states := make([]export.AgentState, 0, len(agents))
	for _, a := range agents {
		v := a.View()
		states = append(states, export.AgentState{
			ID:            v.ID,
			Name:          v.Name,
			Personality:   string(v.Personality),
			Wealth:        v.Wealth,
			RiskTolerance: v.RiskTolerance,
			Reputation:    v.Reputation,
		})
	}
	ev := export.NewSnapshotEvent(snap.Round, o.now().UTC(), states)
	ev.ItemsListed = len(snap.Items)
	ev.ItemsSold = snap.SoldItems()
	ev.ChannelsCreated = len(snap.Channels)
	o.mu.RLock()
	ev.PostsCreated = o.postsCreated
	o.mu.RUnlock()
	return ev
}

// decideBatch 为一批代理生成决策并写入短期记忆，返回解析失败的数量。
func (o *Orchestrator) decideBatch(ctx context.Context, batch []*agent.Agent, snap market.Snapshot) ([]plannedAction, int) {
	prompts := make([]llm.Prompt, len(batch))
	for i, a := range batch {
		prompts[i] = llm.Prompt{System: a.SystemPrompt(), User: a.DecisionPrompt(snap)}
	}
	texts := o.backend.BatchGenerate(ctx, prompts, o.cfg.MaxTokens)
	if len(texts) != len(batch) {
		o.log.Error("决策后端返回数量不符", slog.Int("round", snap.Round), slog.Int("expected", len(batch)), slog.Int("got", len(texts)))
		aligned := make([]string, len(batch))
		copy(aligned, texts)
		texts = llm.FillFallback(aligned)
	}

	out := make([]plannedAction, 0, len(batch))
	failed := 0
	for i, a := range batch {
		var action *agent.Action
		decision, err := agent.ParseDecision(llm.ExtractJSON(texts[i]))
		if err != nil {
			failed++
			o.log.Warn("决策解析失败，按 WAIT 处理",
				slog.String("agent_id", a.ID),
				slog.Int("round", snap.Round),
				slog.String("raw", truncate(texts[i], 200)),
				slog.Any("error", xerrors.Wrap(xerrors.CodeDecisionParseFailed, err, "", xerrors.WithAgent(a.ID), xerrors.WithRound(snap.Round))),
			)
			action = agent.ParseErrorAction(a.ID, snap.Round)
		} else {
			action = agent.NewAction(a.ID, snap.Round, decision)
		}
		a.Memory().AddAction(action.MemoryEntry())
		out = append(out, plannedAction{agent: a, action: action})
	}
	return out, failed
}

// executeAction 执行单个动作并上报结果。返回动作是否调用了网关。
func (o *Orchestrator) executeAction(ctx context.Context, a *agent.Agent, action *agent.Action) bool {
	if action.Kind.Trivial() {
		action.Success = true
		action.ExecutedAt = o.now().UTC()
		return false
	}

	before := a.Wealth()
	res, err := o.callGateway(ctx, a, action)
	action.ExecutedAt = o.now().UTC()
	switch {
	case err != nil:
		action.Error = err.Error()
		o.log.Warn("动作执行失败",
			slog.String("agent_id", a.ID),
			slog.Int("round", action.Round),
			slog.String("action", string(action.Kind)),
			slog.Any("error", err),
		)
	case !res.OK():
		action.Result = res.Body
		action.Error = fmt.Sprintf("gateway returned status %d", res.StatusCode)
		o.log.Info("网关拒绝动作",
			slog.String("agent_id", a.ID),
			slog.Int("round", action.Round),
			slog.String("action", string(action.Kind)),
			slog.Int("status", res.StatusCode),
		)
	default:
		action.Success = true
		action.Result = res.Body
		o.applyOutcome(a, action, res)
	}

	o.sink.LogAction(export.ActionEvent{
		Round:        action.Round,
		Timestamp:    action.ExecutedAt,
		AgentID:      a.ID,
		AgentName:    a.Name,
		Personality:  string(a.Personality),
		ActionType:   string(action.Kind),
		ActionParams: action.Params,
		Reasoning:    action.Reasoning,
		Success:      action.Success,
		Error:        action.Error,
		WealthBefore: before,
		WealthAfter:  a.Wealth(),
	})
	return true
}

func (o *Orchestrator) callGateway(ctx context.Context, a *agent.Agent, action *agent.Action) (market.Result, error) {
	token := a.Credential()
	if token == "" {
		return market.Result{}, xerrors.New(xerrors.CodeActionExecutionFailed, "代理没有凭证", xerrors.WithAgent(a.ID), xerrors.WithRound(action.Round))
	}
	var (
		res market.Result
		err error
	)
	switch action.Kind {
	case agent.ListItem:
		res, err = o.gateway.ListItem(ctx, token, action.Params)
	case agent.Purchase:
		res, err = o.gateway.Purchase(ctx, token, action.Params["itemId"])
	case agent.CreateChannel:
		res, err = o.gateway.CreateChannel(ctx, token, action.Params)
	case agent.PostMessage:
		res, err = o.gateway.PostMessage(ctx, token, action.Params)
	default:
		return market.Result{}, xerrors.New(xerrors.CodeActionExecutionFailed, fmt.Sprintf("未知动作类型 %q", action.Kind),
			xerrors.WithAgent(a.ID), xerrors.WithRound(action.Round))
	}
	if err != nil {
		return res, xerrors.Wrap(xerrors.CodeActionExecutionFailed, err, "", xerrors.WithAgent(a.ID), xerrors.WithRound(action.Round))
	}
	return res, nil
}

// applyOutcome 根据成功的动作更新本地状态。购买按动作参数中的价格乐观扣款，
// 不与网关账本核对。
func (o *Orchestrator) applyOutcome(a *agent.Agent, action *agent.Action, res market.Result) {
	switch action.Kind {
	case agent.Purchase:
		o.recordPurchase(a, action, res)
	case agent.CreateChannel, agent.PostMessage:
		o.recordDiscourse(a, action, res)
	}
}

func (o *Orchestrator) recordPurchase(a *agent.Agent, action *agent.Action, res market.Result) {
	price := action.Price()
	a.Debit(price)

	itemID, _ := market.IDString(action.Params["itemId"])
	a.Memory().AddTransaction(agent.Transaction{
		Round:  action.Round,
		Type:   agent.TransactionBuy,
		ItemID: itemID,
		Price:  price,
	})

	item := record(res.Body, "item")
	event := export.TransactionEvent{
		Round:     action.Round,
		Timestamp: action.ExecutedAt,
		ItemID:    itemID,
		ItemName:  str(item, "name"),
		Category:  str(item, "category"),
		Price:     price,
		Currency:  str(item, "currency"),
		SellerID:  str(item, "sellerId", "seller_id", "seller"),
		BuyerID:   a.ID,
	}
	if event.Currency == "" {
		event.Currency = "USD"
	}

	o.mu.Lock()
	o.transactions = append(o.transactions, market.Record{
		"tick":      action.Round,
		"item_id":   itemID,
		"price":     price,
		"buyer":     a.Name,
		"timestamp": action.ExecutedAt,
	})
	if len(o.transactions) > maxTrackedTransactions {
		o.transactions = o.transactions[len(o.transactions)-maxTrackedTransactions:]
	}
	seller := o.agentByNameLocked(event.SellerID)
	o.mu.Unlock()

	if seller != nil && seller.ID != a.ID {
		// 卖方也在本仿真内时记一笔卖出，成交提升卖方声誉；卖方财富以网关账本为准，本地不入账。
		seller.Memory().AddTransaction(agent.Transaction{
			Round:  action.Round,
			Type:   agent.TransactionSell,
			ItemID: itemID,
			Price:  price,
		})
		seller.AdjustReputation(saleReputationGain)
		a.Memory().Remember(seller.Name, agent.KnownAgent{Reputation: seller.Reputation(), LastSeenRound: action.Round})
	}
	o.sink.LogTransaction(event)
}

func (o *Orchestrator) recordDiscourse(a *agent.Agent, action *agent.Action, res market.Result) {
	body := record(res.Body)
	event := export.DiscourseEvent{
		Round:     action.Round,
		Timestamp: action.ExecutedAt,
		AuthorID:  a.ID,
		Topic:     str(action.Params, "topic"),
	}
	if action.Kind == agent.CreateChannel {
		event.Kind = "channel"
		event.ChannelID = str(body, "id")
		if event.ChannelID == "" {
			event.ChannelID = str(record(body, "channel"), "id")
		}
		event.ChannelName = str(action.Params, "name")
		event.Content = str(action.Params, "description")
	} else {
		event.Kind = "post"
		event.ChannelID = str(action.Params, "channelId")
		event.PostID = str(body, "id")
		if event.PostID == "" {
			event.PostID = str(record(body, "post"), "id")
		}
		event.Title = str(action.Params, "title")
		event.Content = str(action.Params, "content")
	}

	a.Memory().AddDiscourse(agent.DiscourseEntry{
		Round:     action.Round,
		Kind:      event.Kind,
		ChannelID: event.ChannelID,
		Title:     firstNonEmpty(event.Title, event.ChannelName),
		Content:   event.Content,
	})
	if event.Kind == "post" {
		o.mu.Lock()
		o.postsCreated++
		o.mu.Unlock()
	}
	o.sink.LogDiscourse(event)
}

func (o *Orchestrator) agentByNameLocked(name string) *agent.Agent {
	if name == "" {
		return nil
	}
	if a, ok := o.index[name]; ok {
		return a
	}
	for _, a := range o.agents {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// record 沿 keys 逐层取出嵌套对象，任一层缺失时返回 nil。
func record(v any, keys ...string) map[string]any {
	m, _ := v.(map[string]any)
	for _, k := range keys {
		if m == nil {
			return nil
		}
		m, _ = m[k].(map[string]any)
	}
	return m
}

// str 返回第一个非空字段的文本形式。
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			if id, ok := market.IDString(v); ok {
				return id
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate 截断到至多 n 字节，且不拆分多字节字符。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
