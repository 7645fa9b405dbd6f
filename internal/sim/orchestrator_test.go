package sim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"AgentSim/internal/agent"
	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/export"
	"AgentSim/internal/llm"
	"AgentSim/internal/market"
	"AgentSim/pkg/logger"
)

// stubBackend answers each prompt with respond(agentName).
type stubBackend struct {
	mu      sync.Mutex
	respond func(name string) string
	batches []int
}

func (b *stubBackend) Generate(ctx context.Context, p llm.Prompt, maxTokens int) string {
	return b.BatchGenerate(ctx, []llm.Prompt{p}, maxTokens)[0]
}

func (b *stubBackend) BatchGenerate(_ context.Context, prompts []llm.Prompt, _ int) []string {
	b.mu.Lock()
	b.batches = append(b.batches, len(prompts))
	b.mu.Unlock()
	out := make([]string, len(prompts))
	for i, p := range prompts {
		out[i] = b.respond(promptName(p))
	}
	return out
}

func (b *stubBackend) Provider() string { return "stub" }
func (b *stubBackend) Model() string    { return "stub-model" }
func (b *stubBackend) Close() error     { return nil }

func promptName(p llm.Prompt) string {
	rest := strings.TrimPrefix(p.System, "You are ")
	name, _, _ := strings.Cut(rest, ",")
	return name
}

func decision(action, params string) string {
	return fmt.Sprintf(`{"reasoning":"test","action":%q,"params":%s,"emotion":"calm"}`, action, params)
}

type stubGateway struct {
	mu             sync.Mutex
	failRegister   map[string]bool
	fetchErr       error
	purchaseStatus int
	calls          []string
	fetches        int
}

func (g *stubGateway) Register(_ context.Context, username, _ string) (string, error) {
	if g.failRegister[username] {
		return "", errors.New("gateway unavailable")
	}
	return "tok-" + username, nil
}

func (g *stubGateway) Fetch(_ context.Context, token string) (market.Listing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return market.Listing{}, g.fetchErr
	}
	return market.Listing{
		Items:    []market.Record{{"_id": "item-1", "name": "Lamp", "status": "available"}},
		Channels: []market.Record{{"id": float64(7), "name": "general"}},
	}, nil
}

func (g *stubGateway) record(kind, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, kind+":"+strings.TrimPrefix(token, "tok-"))
}

func (g *stubGateway) ListItem(_ context.Context, token string, _ map[string]any) (market.Result, error) {
	g.record("list", token)
	return market.Result{StatusCode: http.StatusCreated, Body: map[string]any{"id": "new-item"}}, nil
}

func (g *stubGateway) Purchase(_ context.Context, token string, itemID any) (market.Result, error) {
	g.record("purchase", token)
	status := g.purchaseStatus
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusBadRequest {
		return market.Result{StatusCode: status, Body: "insufficient funds"}, nil
	}
	return market.Result{StatusCode: status, Body: map[string]any{
		"item": map[string]any{"_id": itemID, "name": "Lamp", "category": "asset", "sellerId": "Agent_seller"},
	}}, nil
}

func (g *stubGateway) CreateChannel(_ context.Context, token string, _ map[string]any) (market.Result, error) {
	g.record("channel", token)
	return market.Result{StatusCode: http.StatusCreated, Body: map[string]any{"id": float64(9)}}, nil
}

func (g *stubGateway) PostMessage(_ context.Context, token string, _ map[string]any) (market.Result, error) {
	g.record("post", token)
	return market.Result{StatusCode: http.StatusCreated, Body: map[string]any{"id": float64(11)}}, nil
}

func (g *stubGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type captureSink struct {
	mu           sync.Mutex
	snapshots    []export.SnapshotEvent
	actions      []export.ActionEvent
	transactions []export.TransactionEvent
	discourse    []export.DiscourseEvent
	config       map[string]any
}

func (s *captureSink) LogSnapshot(e export.SnapshotEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, e)
}

func (s *captureSink) LogAction(e export.ActionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, e)
}

func (s *captureSink) LogTransaction(e export.TransactionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, e)
}

func (s *captureSink) LogDiscourse(e export.DiscourseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discourse = append(s.discourse, e)
}

func (s *captureSink) SetConfig(cfg map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

func newTestOrchestrator(t *testing.T, backend llm.Backend, gw Gateway, sink export.Sink, batch int) *Orchestrator {
	t.Helper()
	o, err := New(backend, gw, sink,
		WithConfig(Config{BatchSize: batch, Seed: 1, Rounds: 3}),
		WithLogger(logger.Discard()),
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func addAgents(t *testing.T, o *Orchestrator, names ...string) []*agent.Agent {
	t.Helper()
	out := make([]*agent.Agent, 0, len(names))
	for _, name := range names {
		a, err := o.CreateAgent(context.Background(), agent.Spec{Name: name, Wealth: 1000})
		if err != nil {
			t.Fatalf("create agent %s: %v", name, err)
		}
		out = append(out, a)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(nil, &stubGateway{}, nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := New(&stubBackend{}, nil, nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestCreateAgentRegistrationFailureExcluded(t *testing.T) {
	gw := &stubGateway{failRegister: map[string]bool{"Bob": true}}
	o := newTestOrchestrator(t, &stubBackend{}, gw, nil, 4)

	if o.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", o.State())
	}
	if _, err := o.CreateAgent(context.Background(), agent.Spec{Name: "Alice"}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	_, err := o.CreateAgent(context.Background(), agent.Spec{Name: "Bob"})
	if xerrors.CodeOf(err) != xerrors.CodeRegistrationFailed {
		t.Fatalf("expected registration failure, got %v", err)
	}
	views := o.Agents()
	if len(views) != 1 || views[0].Name != "Alice" || !views[0].CanAct {
		t.Fatalf("unexpected agents %+v", views)
	}
	if o.State() != StateReady {
		t.Fatalf("expected ready state, got %s", o.State())
	}
	if _, err := o.Agent("missing"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreatePopulation(t *testing.T) {
	gw := &stubGateway{failRegister: map[string]bool{"Agent_002": true}}
	o := newTestOrchestrator(t, &stubBackend{}, gw, nil, 4)
	o.cfg.RegistrationDelay = 0

	created, err := o.CreatePopulation(context.Background(), 6, nil)
	if err != nil {
		t.Fatalf("create population: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("expected 5 live agents, got %d", len(created))
	}
	for _, a := range created {
		if a.Name == "Agent_002" {
			t.Fatalf("agent with failed registration went live")
		}
		if a.Wealth() < 1000 {
			t.Fatalf("wealth below floor: %v", a.Wealth())
		}
		if r := a.RiskTolerance(); r < 20 || r > 80 {
			t.Fatalf("risk tolerance out of range: %d", r)
		}
		if !a.Personality.Valid() {
			t.Fatalf("invalid personality %q", a.Personality)
		}
	}
	if created[0].Name != "Agent_000" || created[4].Name != "Agent_005" {
		t.Fatalf("unexpected names %s..%s", created[0].Name, created[4].Name)
	}
	if _, err := o.CreatePopulation(context.Background(), 0, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func scriptedResponses(name string) string {
	switch name {
	case "A":
		return decision("PURCHASE", `{"itemId":"item-1","price":250}`)
	case "B":
		return decision("post_message", `{"channelId":7,"title":"Hello","content":"markets","topic":"economic"}`)
	case "C":
		return "<think>hmm {</think> Sure: " + decision("LIST_ITEM", `{"name":"Widget","price":10}`)
	case "D":
		return decision("OBSERVE", `{}`)
	default:
		return decision("CREATE_CHANNEL", `{"name":"ideas","description":"talk"}`)
	}
}

func TestBatchSizeDoesNotChangeExecutionOrder(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	run := func(batch int) ([]string, []int) {
		backend := &stubBackend{respond: scriptedResponses}
		gw := &stubGateway{}
		o := newTestOrchestrator(t, backend, gw, nil, batch)
		addAgents(t, o, names...)
		if _, err := o.RunRound(context.Background()); err != nil {
			t.Fatalf("run round: %v", err)
		}
		return gw.Calls(), backend.batches
	}

	single, singleBatches := run(1)
	wide, wideBatches := run(3)
	want := []string{"purchase:A", "post:B", "list:C", "channel:E"}
	if strings.Join(single, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected call order %v", single)
	}
	if strings.Join(single, ",") != strings.Join(wide, ",") {
		t.Fatalf("batch size changed execution: %v vs %v", single, wide)
	}
	if len(singleBatches) != 5 || len(wideBatches) != 2 || wideBatches[0] != 3 || wideBatches[1] != 2 {
		t.Fatalf("unexpected batching %v / %v", singleBatches, wideBatches)
	}
}

func TestRunRoundRecordsOutcomes(t *testing.T) {
	sink := &captureSink{}
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, &stubGateway{}, sink, 8)
	agents := addAgents(t, o, "A", "B", "D")

	report, err := o.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if report.Round != 1 || !report.SnapshotFresh || report.Executed != 2 || report.Succeeded != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	buyer := agents[0]
	if buyer.Wealth() != 750 {
		t.Fatalf("expected optimistic debit to 750, got %v", buyer.Wealth())
	}
	txs := buyer.Memory().Transactions()
	if len(txs) != 1 || txs[0].ItemID != "item-1" || txs[0].Price != 250 || txs[0].Type != agent.TransactionBuy {
		t.Fatalf("unexpected transactions %+v", txs)
	}
	if len(sink.snapshots) != 1 || sink.snapshots[0].Round != 1 || sink.snapshots[0].TotalAgents != 3 || sink.snapshots[0].ItemsListed != 1 {
		t.Fatalf("unexpected snapshots %+v", sink.snapshots)
	}
	if len(sink.actions) != 2 {
		t.Fatalf("trivial actions must not be logged, got %d", len(sink.actions))
	}
	if sink.actions[0].WealthBefore != 1000 || sink.actions[0].WealthAfter != 750 {
		t.Fatalf("unexpected wealth in action event %+v", sink.actions[0])
	}
	if len(sink.transactions) != 1 || sink.transactions[0].ItemName != "Lamp" || sink.transactions[0].Currency != "USD" {
		t.Fatalf("unexpected transaction events %+v", sink.transactions)
	}
	if len(sink.discourse) != 1 || sink.discourse[0].Kind != "post" || sink.discourse[0].ChannelID != "7" || sink.discourse[0].PostID != "11" {
		t.Fatalf("unexpected discourse events %+v", sink.discourse)
	}
	if got := agents[1].Memory().Discourse(); len(got) != 1 || got[0].Title != "Hello" {
		t.Fatalf("unexpected discourse memory %+v", got)
	}
	for _, a := range agents {
		if n := len(a.Memory().RecentActions()); n != 1 {
			t.Fatalf("agent %s recorded %d actions", a.Name, n)
		}
	}

	if snap := o.Snapshot(); len(snap.RecentTransactions) != 0 {
		t.Fatalf("snapshot captured before purchase should have no transactions")
	}
	if _, err := o.RunRound(context.Background()); err != nil {
		t.Fatalf("second round: %v", err)
	}
	if snap := o.Snapshot(); snap.Round != 2 || len(snap.RecentTransactions) != 1 {
		t.Fatalf("expected purchase in second snapshot, got %+v", snap)
	}
}

func TestFailedPurchaseLeavesWealthUnchanged(t *testing.T) {
	sink := &captureSink{}
	gw := &stubGateway{purchaseStatus: http.StatusBadRequest}
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, gw, sink, 8)
	buyer := addAgents(t, o, "A")[0]

	report, err := o.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if buyer.Wealth() != 1000 {
		t.Fatalf("wealth changed on failed purchase: %v", buyer.Wealth())
	}
	if len(buyer.Memory().Transactions()) != 0 || len(sink.transactions) != 0 {
		t.Fatalf("failed purchase recorded a transaction")
	}
	if report.Executed != 1 || report.Succeeded != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(sink.actions) != 1 || sink.actions[0].Success || sink.actions[0].Error == "" {
		t.Fatalf("unexpected action event %+v", sink.actions)
	}
}

func TestPurchaseFromLocalSellerRecordsSale(t *testing.T) {
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, &stubGateway{}, nil, 8)
	agents := addAgents(t, o, "A", "Agent_seller")
	buyer, seller := agents[0], agents[1]

	if _, err := o.RunRound(context.Background()); err != nil {
		t.Fatalf("run round: %v", err)
	}
	txs := seller.Memory().Transactions()
	if len(txs) != 1 || txs[0].Type != agent.TransactionSell || txs[0].ItemID != "item-1" || txs[0].Price != 250 || txs[0].Round != 1 {
		t.Fatalf("unexpected seller transactions %+v", txs)
	}
	if seller.Reputation() != 51 {
		t.Fatalf("expected seller reputation 51, got %d", seller.Reputation())
	}
	if seller.Wealth() != 1000 {
		t.Fatalf("seller wealth changed locally: %v", seller.Wealth())
	}
	if buyer.Memory().KnownAgents() != 1 {
		t.Fatalf("buyer did not remember seller")
	}
}

func TestRoundAdvancesOnlyOnSuccessfulFetch(t *testing.T) {
	sink := &captureSink{}
	gw := &stubGateway{}
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, gw, sink, 8)
	addAgents(t, o, "D")
	ctx := context.Background()

	if _, err := o.RunRound(ctx); err != nil {
		t.Fatalf("run round: %v", err)
	}
	if o.Round() != 1 {
		t.Fatalf("expected round 1, got %d", o.Round())
	}
	before := o.Snapshot()
	if len(before.Items) != 1 || len(before.Channels) != 1 || before.CapturedAt.IsZero() {
		t.Fatalf("unexpected first snapshot %+v", before)
	}

	gw.mu.Lock()
	gw.fetchErr = errors.New("connection refused")
	gw.mu.Unlock()
	for i := 0; i < 3; i++ {
		report, err := o.RunRound(ctx)
		if err != nil {
			t.Fatalf("run round: %v", err)
		}
		if report.SnapshotFresh {
			t.Fatalf("failed fetch reported as fresh")
		}
	}
	if o.Round() != 1 {
		t.Fatalf("round advanced without a snapshot: %d", o.Round())
	}
	after := o.Snapshot()
	if len(after.Items) != len(before.Items) || len(after.Channels) != len(before.Channels) {
		t.Fatalf("snapshot replaced after failed fetch: %+v", after)
	}
	if after.Items[0]["_id"] != before.Items[0]["_id"] || !after.CapturedAt.Equal(before.CapturedAt) {
		t.Fatalf("snapshot content changed after failed fetch: %+v", after)
	}
	if len(sink.snapshots) != 4 {
		t.Fatalf("expected a snapshot event per round, got %d", len(sink.snapshots))
	}

	gw.mu.Lock()
	gw.fetchErr = nil
	gw.mu.Unlock()
	if _, err := o.RunRound(ctx); err != nil {
		t.Fatalf("run round: %v", err)
	}
	if o.Round() != 2 {
		t.Fatalf("expected round 2 after recovery, got %d", o.Round())
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"ab€", 3, "ab"},
		{"ab€", 4, "ab"},
		{"ab€c", 5, "ab€"},
		{"交易", 4, "交"},
		{"€", 0, ""},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.n)
		if got != tc.want || !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestNoCredentialKeepsSnapshot(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, gw, nil, 8)
	if _, err := o.RunRound(context.Background()); err != nil {
		t.Fatalf("run round with no agents: %v", err)
	}
	if o.Round() != 0 || gw.fetches != 0 {
		t.Fatalf("fetch attempted without a credential")
	}
}

func TestParseFailureBecomesWait(t *testing.T) {
	sink := &captureSink{}
	backend := &stubBackend{respond: func(string) string { return "I would rather not answer" }}
	gw := &stubGateway{}
	o := newTestOrchestrator(t, backend, gw, sink, 8)
	a := addAgents(t, o, "A")[0]

	report, err := o.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if report.ParseErrors != 1 || report.Executed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	act := report.Actions[0]
	if act.Kind != agent.Wait || act.Reasoning != agent.ParseErrorReasoning || !act.Success {
		t.Fatalf("unexpected fallback action %+v", act)
	}
	recent := a.Memory().RecentActions()
	if len(recent) != 1 || recent[0].Action != agent.Wait {
		t.Fatalf("parse failure not recorded in memory: %+v", recent)
	}
	if len(gw.Calls()) != 0 || len(sink.actions) != 0 {
		t.Fatalf("parse failure must not reach the gateway or the action log")
	}
}

func TestBackendFallbackIsWait(t *testing.T) {
	backend := &stubBackend{respond: func(string) string { return llm.FallbackResponse }}
	o := newTestOrchestrator(t, backend, &stubGateway{}, nil, 8)
	addAgents(t, o, "A")
	report, err := o.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if report.ParseErrors != 0 || report.Actions[0].Kind != agent.Wait || report.Actions[0].Emotion != "confused" {
		t.Fatalf("unexpected fallback handling %+v", report.Actions[0])
	}
}

func TestUnknownActionFails(t *testing.T) {
	sink := &captureSink{}
	backend := &stubBackend{respond: func(string) string { return decision("TELEPORT", `{}`) }}
	o := newTestOrchestrator(t, backend, &stubGateway{}, sink, 8)
	addAgents(t, o, "A")
	report, err := o.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if report.Executed != 1 || report.Succeeded != 0 || len(sink.actions) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.Contains(sink.actions[0].Error, string(xerrors.CodeActionExecutionFailed)) {
		t.Fatalf("unexpected error %q", sink.actions[0].Error)
	}
}

type blockingBackend struct {
	stubBackend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) BatchGenerate(ctx context.Context, prompts []llm.Prompt, maxTokens int) []string {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.stubBackend.BatchGenerate(ctx, prompts, maxTokens)
}

func TestRunRoundRejectsReentry(t *testing.T) {
	backend := &blockingBackend{
		stubBackend: stubBackend{respond: scriptedResponses},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	o := newTestOrchestrator(t, backend, &stubGateway{}, nil, 8)
	addAgents(t, o, "D")

	errCh := make(chan error, 1)
	go func() {
		_, err := o.RunRound(context.Background())
		errCh <- err
	}()
	<-backend.entered

	if _, err := o.RunRound(context.Background()); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	close(backend.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first round: %v", err)
	}
}

func TestRecentActionsCappedAcrossRounds(t *testing.T) {
	sink := &captureSink{}
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, &stubGateway{}, sink, 8)
	a := addAgents(t, o, "D")[0]

	if err := o.Run(context.Background(), 55); err != nil {
		t.Fatalf("run: %v", err)
	}
	recent := a.Memory().RecentActions()
	if len(recent) != agent.RecentActionCapacity {
		t.Fatalf("expected %d recent actions, got %d", agent.RecentActionCapacity, len(recent))
	}
	if recent[0].Round != 6 || recent[len(recent)-1].Round != 55 {
		t.Fatalf("unexpected retained window %d..%d", recent[0].Round, recent[len(recent)-1].Round)
	}
	if sink.config["total_ticks"] != 55 || sink.config["llm_provider"] != "stub" {
		t.Fatalf("run config not recorded: %v", sink.config)
	}
	if o.State() != StateReady {
		t.Fatalf("expected ready after run, got %s", o.State())
	}
}

func TestStartStopAtRoundBoundary(t *testing.T) {
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, &stubGateway{}, nil, 8)
	if err := o.Start(context.Background(), 10, time.Millisecond); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument without agents, got %v", err)
	}
	addAgents(t, o, "D")

	if err := o.Start(context.Background(), 1000, 20*time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.Start(context.Background(), 1, time.Millisecond); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict while running, got %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for o.Round() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("no round completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !o.Stop() {
		t.Fatalf("stop should report a running simulation")
	}

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("simulation did not stop")
	}
	if o.State() != StateReady {
		t.Fatalf("expected ready after stop, got %s", o.State())
	}
	if r := o.Round(); r >= 1000 {
		t.Fatalf("stop ignored, ran %d rounds", r)
	}
	if o.Stop() {
		t.Fatalf("stop on an idle simulation should report false")
	}
}

func TestRunHonoursContextCancellation(t *testing.T) {
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, &stubGateway{}, nil, 8)
	o.cfg.RoundInterval = time.Hour
	addAgents(t, o, "D")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := o.Run(ctx, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if o.Round() != 1 {
		t.Fatalf("expected exactly one round before cancellation, got %d", o.Round())
	}
}

func TestStats(t *testing.T) {
	o := newTestOrchestrator(t, &stubBackend{respond: scriptedResponses}, &stubGateway{}, nil, 8)
	if _, err := o.Stats(); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	ctx := context.Background()
	for _, spec := range []agent.Spec{
		{Name: "p1", Personality: agent.Philosopher, Wealth: 100},
		{Name: "p2", Personality: agent.Philosopher, Wealth: 300},
		{Name: "i1", Personality: agent.Innovator, Wealth: 200},
	} {
		if _, err := o.CreateAgent(ctx, spec); err != nil {
			t.Fatalf("create agent: %v", err)
		}
	}
	st, err := o.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalAgents != 3 || st.TotalWealth != 600 || st.AvgWealth != 200 || st.MaxWealth != 300 || st.MinWealth != 100 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if p := st.ByPersonality[string(agent.Philosopher)]; p.Count != 2 || p.AvgWealth != 200 {
		t.Fatalf("unexpected philosopher stats %+v", p)
	}
	status := o.Status()
	if status.State != StateReady || status.Agents != 3 || status.Provider != "stub" {
		t.Fatalf("unexpected status %+v", status)
	}
}
