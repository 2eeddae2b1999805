package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kodokalabs/tetsuo/internal/approval"
	"github.com/kodokalabs/tetsuo/internal/bus"
	"github.com/kodokalabs/tetsuo/internal/costs"
	"github.com/kodokalabs/tetsuo/internal/memory"
	"github.com/kodokalabs/tetsuo/internal/provider"
	"github.com/kodokalabs/tetsuo/internal/settings"
	"github.com/kodokalabs/tetsuo/internal/tasks"
	"github.com/kodokalabs/tetsuo/internal/tools"
)

// scriptedProvider replays canned responses.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	calls     int
	requests  []*provider.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	resp := &provider.ChatResponse{Content: "ok", Usage: provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	if p.calls < len(p.responses) {
		resp = p.responses[p.calls]
	}
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }

// echoTool records invocations.
type echoTool struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (t *echoTool) Name() string               { return "echo" }
func (t *echoTool) Description() string        { return "echoes input" }
func (t *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *echoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, params)
	return "echo: " + tools.GetString(params, "text", ""), nil
}

type fixture struct {
	loop     *Loop
	provider *scriptedProvider
	bus      *bus.Dispatcher
	broker   *approval.Broker
	tracker  *costs.Tracker
	tool     *echoTool
	settings settings.RuntimeSettings
	mu       sync.Mutex
}

func (f *fixture) setAutonomy(level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.AutonomyLevel = level
}

func newFixture(t *testing.T, responses ...*provider.ChatResponse) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		provider: &scriptedProvider{responses: responses},
		bus:      bus.NewDispatcher(),
		tool:     &echoTool{},
		settings: settings.Defaults(),
	}
	settingsFn := func() settings.RuntimeSettings {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.settings
	}

	events := bus.NewEventStream()
	tracker, err := costs.NewTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	f.tracker = tracker
	store, err := tasks.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	broker, err := approval.NewBroker(dir, events)
	if err != nil {
		t.Fatal(err)
	}
	f.broker = broker
	mem, err := memory.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	registry := tools.NewRegistry(events, nil, func() int { return 10000 })
	registry.Register(f.tool)

	f.loop = NewLoop(LoopOptions{
		Bus:        f.bus,
		Events:     events,
		Provider:   f.provider,
		ProviderID: "test",
		Registry:   registry,
		Memory:     mem,
		Tasks:      store,
		Broker:     broker,
		Costs:      tracker,
		Settings:   settingsFn,
		Context:    NewContextBuilder(dir, mem, tracker, settingsFn, nil),
	})
	return f
}

func chat(content string) *bus.InboundMessage {
	return &bus.InboundMessage{Channel: "telegram", SenderID: "u1", Content: content}
}

func TestPlainReply(t *testing.T) {
	f := newFixture(t, &provider.ChatResponse{
		Content: "hello there",
		Usage:   provider.Usage{PromptTokens: 8, CompletionTokens: 4},
	})
	reply, err := f.loop.ProcessMessage(context.Background(), chat("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != "hello there" {
		t.Fatalf("reply = %q", reply)
	}
	if f.tracker.Today().Calls != 1 {
		t.Fatal("usage should be tracked")
	}
}

func TestToolCallLoop(t *testing.T) {
	f := newFixture(t,
		&provider.ChatResponse{
			ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "abc"}}},
		},
		&provider.ChatResponse{Content: "final answer"},
	)
	reply, err := f.loop.ProcessMessage(context.Background(), chat("use the tool"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != "final answer" {
		t.Fatalf("reply = %q", reply)
	}
	if len(f.tool.calls) != 1 {
		t.Fatalf("tool executed %d times", len(f.tool.calls))
	}

	// The second request must carry the tool result keyed by call id.
	second := f.provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "c1" || !strings.Contains(last.Content, "echo: abc") {
		t.Fatalf("tool result turn = %+v", last)
	}
}

func TestToolResultsPreserveCallOrder(t *testing.T) {
	f := newFixture(t,
		&provider.ChatResponse{
			ToolCalls: []provider.ToolCall{
				{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "one"}},
				{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "two"}},
				{ID: "c3", Name: "echo", Arguments: map[string]any{"text": "three"}},
			},
		},
		&provider.ChatResponse{Content: "done"},
	)
	if _, err := f.loop.ProcessMessage(context.Background(), chat("go")); err != nil {
		t.Fatal(err)
	}

	second := f.provider.requests[1]
	var ids []string
	for _, m := range second.Messages {
		if m.Role == "tool" {
			ids = append(ids, m.ToolCallID)
		}
	}
	if strings.Join(ids, ",") != "c1,c2,c3" {
		t.Fatalf("tool results out of order: %v", ids)
	}
}

func TestIterationCap(t *testing.T) {
	f := newFixture(t) // responses are scripted below: every call returns another tool call
	f.provider.responses = []*provider.ChatResponse{}
	f.mu.Lock()
	f.settings.Limits.MaxToolCallsPerTurn = 3
	f.mu.Unlock()

	// Every call returns another tool call.
	f.provider.responses = nil
	loopResp := &provider.ChatResponse{
		ToolCalls: []provider.ToolCall{{ID: "x", Name: "echo", Arguments: map[string]any{"text": "again"}}},
	}
	f.provider.responses = []*provider.ChatResponse{loopResp, loopResp, loopResp, loopResp}

	reply, err := f.loop.ProcessMessage(context.Background(), chat("loop forever"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "maximum number of tool iterations") {
		t.Fatalf("reply = %q", reply)
	}
	if f.provider.calls != 3 {
		t.Fatalf("LLM called %d times, want 3", f.provider.calls)
	}
}

func TestBudgetHardStop(t *testing.T) {
	f := newFixture(t)
	f.tracker.SetPrice("scripted", costs.ModelPrice{PromptPer1K: 100, CompletionPer1K: 100})
	if err := f.tracker.SetConfig(costs.Config{DailyBudgetUSD: 0.01, HardStop: true}); err != nil {
		t.Fatal(err)
	}
	f.tracker.TrackUsage("scripted", 1000, 1000)

	reply, err := f.loop.ProcessMessage(context.Background(), chat("anything"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != BudgetExceededMessage {
		t.Fatalf("reply = %q", reply)
	}
	if f.provider.calls != 0 {
		t.Fatal("LLM must not be called once the budget is exhausted")
	}
}

func TestHeartbeatOKSuppressed(t *testing.T) {
	f := newFixture(t, &provider.ChatResponse{Content: "HEARTBEAT_OK"})
	msg := &bus.InboundMessage{
		Channel:  "heartbeat",
		SenderID: "heartbeat",
		Content:  "Review these tasks; respond HEARTBEAT_OK if nothing to do",
		Mode:     bus.ModeHeartbeat,
	}
	reply, err := f.loop.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "" {
		t.Fatalf("heartbeat OK should be suppressed, got %q", reply)
	}
}

func TestCommandsBypassLLM(t *testing.T) {
	f := newFixture(t)

	reply, err := f.loop.ProcessMessage(context.Background(), chat("/tasks"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != "No tasks." {
		t.Fatalf("reply = %q", reply)
	}

	reply, _ = f.loop.ProcessMessage(context.Background(), chat("/cost"))
	if !strings.Contains(reply, "Usage for") {
		t.Fatalf("cost reply = %q", reply)
	}
	if f.provider.calls != 0 {
		t.Fatal("commands must not reach the LLM")
	}
}

func TestApproveCommandRoundTrip(t *testing.T) {
	f := newFixture(t,
		&provider.ChatResponse{
			ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "guarded"}}},
		},
		&provider.ChatResponse{Content: "did it"},
	)
	f.setAutonomy("low") // every call needs approval

	// The approval prompt goes out through the dispatcher; capture it.
	prompts := make(chan string, 4)
	f.bus.RegisterSender("telegram", func(msg *bus.OutboundMessage) {
		prompts <- msg.Content
	})

	done := make(chan string, 1)
	go func() {
		reply, _ := f.loop.ProcessMessage(context.Background(), chat("do the thing"))
		done <- reply
	}()

	deadline := time.After(2 * time.Second)
	var pending []*approval.Request
	for len(pending) == 0 {
		select {
		case <-deadline:
			t.Fatal("approval was never created")
		case <-time.After(10 * time.Millisecond):
		}
		pending = f.broker.Pending("u1")
	}

	// Resolve through the chat-command surface, as a second message would.
	reply, handled := f.loop.handleCommand("/approve "+pending[0].ID[:8], "telegram", "u1")
	if !handled || !strings.Contains(reply, "approved") {
		t.Fatalf("approve command reply = %q handled=%v", reply, handled)
	}

	select {
	case final := <-done:
		if final != "did it" {
			t.Fatalf("final reply = %q", final)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never resumed after approval")
	}
	if len(f.tool.calls) != 1 {
		t.Fatal("approved tool should have executed")
	}
	select {
	case prompt := <-prompts:
		if !strings.Contains(prompt, "/approve") {
			t.Fatalf("approval prompt = %q", prompt)
		}
	default:
		t.Fatal("approval prompt never reached the channel sender")
	}
}

func TestRejectedToolGetsSyntheticResult(t *testing.T) {
	f := newFixture(t,
		&provider.ChatResponse{
			ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "guarded"}}},
		},
		&provider.ChatResponse{Content: "understood"},
	)
	f.setAutonomy("low")

	done := make(chan string, 1)
	go func() {
		reply, _ := f.loop.ProcessMessage(context.Background(), chat("do it"))
		done <- reply
	}()

	deadline := time.After(2 * time.Second)
	var pending []*approval.Request
	for len(pending) == 0 {
		select {
		case <-deadline:
			t.Fatal("approval was never created")
		case <-time.After(10 * time.Millisecond):
		}
		pending = f.broker.Pending("u1")
	}
	if _, err := f.broker.Resolve(pending[0].ID, false, "u1"); err != nil {
		t.Fatal(err)
	}

	<-done
	if len(f.tool.calls) != 0 {
		t.Fatal("rejected tool must not execute")
	}
	// The model saw a synthetic rejection result.
	second := f.provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "rejected") {
		t.Fatalf("synthetic rejection turn = %+v", last)
	}
}

func TestHighAutonomySkipsApproval(t *testing.T) {
	f := newFixture(t,
		&provider.ChatResponse{
			ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "free"}}},
		},
		&provider.ChatResponse{Content: "done"},
	)
	f.setAutonomy("high")

	reply, err := f.loop.ProcessMessage(context.Background(), chat("go"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != "done" {
		t.Fatalf("reply = %q", reply)
	}
	if len(f.broker.Pending("")) != 0 {
		t.Fatal("high autonomy must not create approvals")
	}
}
