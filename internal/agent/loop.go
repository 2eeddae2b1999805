// Package agent implements the core session loop: the agentic
// LLM-call-then-tool-execution cycle that drives one conversational turn.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kodokalabs/tetsuo/internal/approval"
	"github.com/kodokalabs/tetsuo/internal/bus"
	"github.com/kodokalabs/tetsuo/internal/costs"
	"github.com/kodokalabs/tetsuo/internal/memory"
	"github.com/kodokalabs/tetsuo/internal/provider"
	"github.com/kodokalabs/tetsuo/internal/settings"
	"github.com/kodokalabs/tetsuo/internal/tasks"
	"github.com/kodokalabs/tetsuo/internal/tools"
)

// BudgetExceededMessage is the fixed reply when the cost hard stop engages.
const BudgetExceededMessage = "Daily LLM budget exceeded. New requests are paused until tomorrow or until the budget is raised."

// maxIterationsMessage is the fixed notice on reaching the iteration cap.
const maxIterationsMessage = "Reached the maximum number of tool iterations for this turn. Partial progress has been saved."

// dangerousTools require approval at medium autonomy.
var dangerousTools = map[string]bool{
	"run_shell":        true,
	"write_file":       true,
	"email_send":       true,
	"mastodon_post":    true,
	"reddit_post":      true,
	"open_application": true,
	"clipboard_write":  true,
}

// LoopOptions contains the collaborators of the session loop.
type LoopOptions struct {
	Bus        *bus.Dispatcher
	Events     *bus.EventStream
	Provider   provider.LLMProvider
	ProviderID string
	Registry   *tools.Registry
	Memory     memory.Store
	Tasks      *tasks.Store
	Broker     *approval.Broker
	Costs      *costs.Tracker
	Settings   func() settings.RuntimeSettings
	Context    *ContextBuilder
	// AllowedUserIDs restricts senders; empty allows everyone.
	AllowedUserIDs []string
}

// Loop is the core agent processing engine.
type Loop struct {
	bus        *bus.Dispatcher
	events     *bus.EventStream
	provider   provider.LLMProvider
	providerID string
	registry   *tools.Registry
	memory     memory.Store
	tasks      *tasks.Store
	broker     *approval.Broker
	costs      *costs.Tracker
	settings   func() settings.RuntimeSettings
	contextB   *ContextBuilder
	allowed    map[string]bool
}

// NewLoop creates a new session loop.
func NewLoop(opts LoopOptions) *Loop {
	allowed := make(map[string]bool)
	for _, id := range opts.AllowedUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return &Loop{
		bus:        opts.Bus,
		events:     opts.Events,
		provider:   opts.Provider,
		providerID: opts.ProviderID,
		registry:   opts.Registry,
		memory:     opts.Memory,
		tasks:      opts.Tasks,
		broker:     opts.Broker,
		costs:      opts.Costs,
		settings:   opts.Settings,
		contextB:   opts.Context,
		allowed:    allowed,
	}
}

// Run installs the loop as the dispatcher's handler and serves until the
// context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.bus.SetHandler(l.handleInbound)
	slog.Info("Session loop started")
	err := l.bus.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// handleInbound is the dispatcher entry point for one message.
func (l *Loop) handleInbound(ctx context.Context, msg *bus.InboundMessage) {
	// Synthetic sources bypass the sender allow-list.
	mode := msg.Mode
	if mode == "" {
		mode = bus.ModeChat
	}
	if mode == bus.ModeChat && len(l.allowed) > 0 && !l.allowed[msg.SenderID] {
		slog.Warn("Dropping message from unauthorized sender", "sender", msg.SenderID, "channel", msg.Channel)
		return
	}

	reply, err := l.ProcessMessage(ctx, msg)
	if err != nil {
		slog.Error("Failed to process message", "error", err)
		reply = fmt.Sprintf("Error: %v", err)
	}
	if reply == "" {
		return
	}
	l.bus.Send(&bus.OutboundMessage{
		Channel:  msg.Channel,
		SenderID: msg.SenderID,
		Content:  reply,
	})
}

// ProcessMessage runs one conversational turn and returns the reply. An
// empty reply means nothing should be sent (suppressed heartbeat).
func (l *Loop) ProcessMessage(ctx context.Context, msg *bus.InboundMessage) (string, error) {
	if l.events != nil {
		l.events.Publish(bus.EventMessageReceived, map[string]any{
			"channel": msg.Channel,
			"user":    msg.SenderID,
			"preview": previewOf(msg.Content),
		})
	}

	mode := msg.Mode
	if mode == "" {
		mode = bus.ModeChat
	}
	if mode == bus.ModeChat {
		if reply, handled := l.handleCommand(msg.Content, msg.Channel, msg.SenderID); handled {
			return reply, nil
		}
	}

	if !l.costs.CanMakeCall() {
		return BudgetExceededMessage, nil
	}

	thread, err := l.memory.Thread(msg.Channel, msg.SenderID)
	if err != nil {
		return "", fmt.Errorf("load thread: %w", err)
	}
	thread.Append(memory.Turn{Role: "user", Content: msg.Content})

	tc := turnContext{
		channel: msg.Channel,
		userID:  msg.SenderID,
		mode:    mode,
		prov:    l.provider,
		model:   l.model(),
		system:  l.contextB.BuildSystemPrompt(),
	}

	reply, _, err := l.runToolLoop(ctx, tc, thread.Messages(), func(turn memory.Turn) {
		thread.Append(turn)
	})
	if err != nil {
		return "", err
	}
	if err := l.memory.SaveThread(thread); err != nil {
		slog.Warn("Failed to save thread", "error", err)
	}

	// Heartbeat turns whose final answer is exactly the OK marker are
	// suppressed: no outbound message.
	if mode == bus.ModeHeartbeat && strings.TrimSpace(reply) == "HEARTBEAT_OK" {
		return "", nil
	}
	return reply, nil
}

// turnContext carries the per-turn routing and attribution data.
type turnContext struct {
	channel string
	userID  string
	taskID  string
	mode    string
	prov    provider.LLMProvider
	model   string
	system  string
}

// RunSubtask executes an orchestrated worker turn with a routed provider and
// a subtask-specific system prompt. Cost is charged to every id in taskIDs.
func (l *Loop) RunSubtask(ctx context.Context, prov provider.LLMProvider, model, systemPrompt, input string, taskIDs ...string) (string, provider.Usage, error) {
	tc := turnContext{
		channel: "orchestrator",
		userID:  "orchestrator",
		mode:    bus.ModeChat,
		prov:    prov,
		model:   model,
		system:  systemPrompt,
	}
	if len(taskIDs) > 0 {
		tc.taskID = taskIDs[0]
	}
	messages := []provider.Message{{Role: "user", Content: input}}

	reply, usage, err := l.runToolLoop(ctx, tc, messages, nil)
	for _, id := range taskIDs {
		cost := l.costs.CalculateCost(model, usage.PromptTokens, usage.CompletionTokens)
		if err := l.tasks.AddUsage(id, usage.PromptTokens, usage.CompletionTokens, cost); err != nil {
			slog.Warn("Failed to charge task usage", "task", id, "error", err)
		}
	}
	return reply, usage, err
}

// runToolLoop iterates LLM calls and tool executions until the model stops
// calling tools or the per-turn cap is reached. record, when non-nil, is
// called for every appended turn so the caller can persist the thread.
func (l *Loop) runToolLoop(ctx context.Context, tc turnContext, messages []provider.Message, record func(memory.Turn)) (string, provider.Usage, error) {
	var total provider.Usage
	cfg := l.settings()

	toolDefs := l.buildToolDefinitions(cfg)
	maxCalls := cfg.Limits.MaxToolCallsPerTurn
	if maxCalls <= 0 {
		maxCalls = 20
	}

	for i := 0; i < maxCalls; i++ {
		if !l.costs.CanMakeCall() {
			return BudgetExceededMessage, total, nil
		}

		resp, err := tc.prov.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			System:      tc.system,
			Model:       tc.model,
			MaxTokens:   4096,
			Temperature: 0.7,
		})
		if err != nil {
			return "", total, fmt.Errorf("LLM call failed: %w", err)
		}
		// Usage is recorded before the response is acted on.
		l.costs.TrackUsage(tc.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		total.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			if record != nil {
				record(memory.Turn{Role: "assistant", Content: resp.Content})
			}
			return resp.Content, total, nil
		}

		assistant := memory.Turn{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if record != nil {
			record(assistant)
		}

		results := l.executeToolCalls(ctx, tc, resp.ToolCalls)
		for idx, tcall := range resp.ToolCalls {
			turn := memory.Turn{Role: "tool", Content: results[idx], ToolCallID: tcall.ID}
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    results[idx],
				ToolCallID: tcall.ID,
			})
			if record != nil {
				record(turn)
			}
		}
	}
	return maxIterationsMessage, total, nil
}

// executeToolCalls gates each call through the autonomy policy, then runs
// the approved calls in parallel. Results are returned in call order.
func (l *Loop) executeToolCalls(ctx context.Context, tc turnContext, calls []provider.ToolCall) []string {
	results := make([]string, len(calls))
	approved := make([]bool, len(calls))

	// Approval gates run sequentially so at most one approval blocks the
	// worker at a time.
	for i, call := range calls {
		ok, verdict := l.gateToolCall(ctx, tc, call)
		approved[i] = ok
		if !ok {
			results[i] = verdict
		}
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		if !approved[i] {
			continue
		}
		wg.Add(1)
		go func(i int, call provider.ToolCall) {
			defer wg.Done()
			result, _ := l.registry.ExecuteCall(ctx, call.Name, call.Arguments, tools.CallMeta{
				UserID:  tc.userID,
				Channel: tc.channel,
			})
			results[i] = result
		}(i, call)
	}
	wg.Wait()
	return results
}

// gateToolCall applies the autonomy policy. A denied or rejected call gets a
// synthetic tool result telling the model to find an alternative.
func (l *Loop) gateToolCall(ctx context.Context, tc turnContext, call provider.ToolCall) (bool, string) {
	cfg := l.settings()
	risk := tools.RiskLow
	if tool, ok := l.registry.Get(call.Name); ok {
		risk = tools.ToolRisk(tool)
	}

	needsApproval := false
	switch cfg.AutonomyLevel {
	case "low":
		needsApproval = true
	case "medium":
		needsApproval = dangerousTools[call.Name]
	case "high":
		needsApproval = false
	}
	if !needsApproval {
		return true, ""
	}

	argsJSON, _ := json.Marshal(call.Arguments)
	req, future, err := l.broker.RequestApproval(approval.RequestParams{
		TaskID:      tc.taskID,
		Description: fmt.Sprintf("Tool %q requested by the agent", call.Name),
		Action: approval.ProposedAction{
			Tool:  call.Name,
			Input: call.Arguments,
		},
		Risk:       risk,
		RiskReason: fmt.Sprintf("tool %s carries %s risk", call.Name, risk),
		Channel:    tc.channel,
		UserID:     tc.userID,
	})
	if err != nil {
		return false, fmt.Sprintf("Error: could not create approval request: %v", err)
	}

	// Ask the human on their channel.
	l.bus.Send(&bus.OutboundMessage{
		Channel:  tc.channel,
		SenderID: tc.userID,
		Content: fmt.Sprintf("Approval needed for %s (risk %s).\nArgs: %s\nReply /approve %s or /reject %s",
			call.Name, risk, previewOf(string(argsJSON)), req.ID[:8], req.ID[:8]),
	})

	if tc.taskID != "" {
		if _, err := l.tasks.UpdateStatus(tc.taskID, tasks.StatusWaitingApproval, tasks.UpdateOpts{}); err != nil {
			slog.Warn("Failed to mark task waiting_approval", "task", tc.taskID, "error", err)
		}
	}

	select {
	case ok := <-future:
		if tc.taskID != "" {
			_, _ = l.tasks.UpdateStatus(tc.taskID, tasks.StatusRunning, tasks.UpdateOpts{})
		}
		if ok {
			return true, ""
		}
		return false, fmt.Sprintf("The user rejected the %s call. Do not retry it; find an alternative approach or report back.", call.Name)
	case <-ctx.Done():
		return false, "Approval wait was cancelled."
	}
}

func (l *Loop) buildToolDefinitions(cfg settings.RuntimeSettings) []provider.ToolDefinition {
	allowed := func(category string) bool {
		switch category {
		case "file":
			return cfg.Tools.FileAccess
		case "shell":
			return cfg.Tools.ShellAccess
		case "web":
			return cfg.Tools.WebAccess
		case "browser":
			return cfg.Tools.BrowserAccess
		case "system":
			return cfg.Tools.SystemControl
		case "integration":
			return cfg.Tools.Integrations
		}
		return true
	}
	list := l.registry.List(allowed)
	defs := make([]provider.ToolDefinition, len(list))
	for i, t := range list {
		defs[i] = provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return defs
}

func (l *Loop) model() string {
	return l.provider.DefaultModel()
}

func previewOf(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:120] + "…"
	}
	return s
}
