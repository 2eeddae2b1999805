package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kodokalabs/tetsuo/internal/provider"
	"github.com/kodokalabs/tetsuo/internal/tasks"
)

const (
	// preSynthesisProgressCap bounds parent progress until synthesis runs.
	preSynthesisProgressCap = 90
	subtaskResultMax        = 2000
	synthesisResultMax      = 5000
)

// Worker runs one orchestrated subtask turn. Implemented by the session
// loop.
type Worker interface {
	RunSubtask(ctx context.Context, prov provider.LLMProvider, model, systemPrompt, input string, taskIDs ...string) (string, provider.Usage, error)
}

// PromptBuilder builds subtask system prompts. Implemented by the agent
// context builder.
type PromptBuilder interface {
	BuildSubtaskPrompt(role, objective string, previous map[string]string) string
}

// Orchestrator coordinates plan → route → execute → synthesize.
type Orchestrator struct {
	router  *Router
	worker  Worker
	prompts PromptBuilder
	tasks   *tasks.Store
	agents  *AgentRegistry

	mu    sync.Mutex
	plans map[string]*Plan
}

// New creates an orchestrator.
func New(router *Router, worker Worker, prompts PromptBuilder, store *tasks.Store, agents *AgentRegistry) *Orchestrator {
	return &Orchestrator{
		router:  router,
		worker:  worker,
		prompts: prompts,
		tasks:   store,
		agents:  agents,
	}
}

// Plans returns a snapshot of known plans.
func (o *Orchestrator) Plans() []*Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Plan, 0, len(o.plans))
	for _, p := range o.plans {
		out = append(out, p)
	}
	return out
}

// Run plans and executes a parent task, returning the synthesized result.
// The parent task ends completed with progress 100, or failed.
func (o *Orchestrator) Run(ctx context.Context, parent *tasks.Task) (string, error) {
	planRoute, ok := o.router.routes[TierBalanced]
	if !ok {
		return "", fmt.Errorf("no balanced route for planning")
	}

	if _, err := o.tasks.UpdateStatus(parent.ID, tasks.StatusRunning, tasks.UpdateOpts{}); err != nil {
		return "", err
	}

	plan := BuildPlan(ctx, planRoute.Client(), planRoute.Model, parent.ID, parent.Description)
	o.mu.Lock()
	if o.plans == nil {
		o.plans = make(map[string]*Plan)
	}
	o.plans[plan.ID] = plan
	o.mu.Unlock()

	// The plan persists through the parent task: one step per subtask plus
	// the scratchpad record.
	for _, sub := range plan.Subtasks {
		if _, err := o.tasks.AddStep(parent.ID, sub.Title); err != nil {
			slog.Warn("Failed to add plan step", "task", parent.ID, "error", err)
		}
	}
	_ = o.tasks.AppendScratchpad(parent.ID, fmt.Sprintf("plan %s: %d subtasks", plan.ID[:8], len(plan.Subtasks)))

	plan.Status = PlanExecuting
	results, failed := o.executePlan(ctx, plan, parent)

	if failed == len(plan.Subtasks) {
		plan.Status = PlanFailed
		_, _ = o.tasks.UpdateStatus(parent.ID, tasks.StatusFailed, tasks.UpdateOpts{
			Error: "all subtasks failed",
		})
		return "", fmt.Errorf("orchestration failed: every subtask failed")
	}

	final := o.synthesize(ctx, plan, results)
	plan.Status = PlanCompleted
	for i, sub := range plan.Subtasks {
		if sub.Status == "completed" {
			if _, err := o.tasks.UpdateStep(parent.ID, i, true, ""); err != nil {
				slog.Warn("Failed to mark plan step complete", "task", parent.ID, "step", i, "error", err)
			}
		}
	}
	if _, err := o.tasks.UpdateStatus(parent.ID, tasks.StatusCompleted, tasks.UpdateOpts{Result: final}); err != nil {
		return "", err
	}
	return final, nil
}

// executePlan runs parallel groups in lexicographic label order, then the
// ungrouped subtasks sequentially. Returns the results keyed by subtask title
// and the failure count.
func (o *Orchestrator) executePlan(ctx context.Context, plan *Plan, parent *tasks.Task) (map[string]string, int) {
	results := make(map[string]string)
	var resultsMu sync.Mutex
	failed := 0
	done := 0

	groups, sequential := groupSubtasks(plan)
	o.warnSameGroupDependencies(plan, groups)

	advance := func() {
		done++
		progress := done * preSynthesisProgressCap / len(plan.Subtasks)
		if _, err := o.tasks.UpdateStatus(parent.ID, tasks.StatusRunning, tasks.UpdateOpts{Progress: &progress}); err != nil {
			slog.Warn("Failed to advance parent progress", "task", parent.ID, "error", err)
		}
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		group := groups[label]
		var wg sync.WaitGroup
		for _, sub := range group {
			wg.Add(1)
			go func(sub *PlannedSubtask) {
				defer wg.Done()
				result, err := o.runSubtask(ctx, plan, parent, sub, snapshotResults(&resultsMu, results))
				resultsMu.Lock()
				defer resultsMu.Unlock()
				if err != nil {
					sub.Status = "failed"
					failed++
					results[sub.Title] = fmt.Sprintf("(failed: %v)", err)
					return
				}
				sub.Status = "completed"
				sub.Result = result
				results[sub.Title] = result
			}(sub)
		}
		wg.Wait()
		for range group {
			advance()
		}
	}

	for _, sub := range sequential {
		result, err := o.runSubtask(ctx, plan, parent, sub, snapshotResults(&resultsMu, results))
		if err != nil {
			sub.Status = "failed"
			failed++
			results[sub.Title] = fmt.Sprintf("(failed: %v)", err)
		} else {
			sub.Status = "completed"
			sub.Result = result
			results[sub.Title] = result
		}
		advance()
	}
	return results, failed
}

// runSubtask routes, spawns the ephemeral sub-agent, and runs the worker
// turn. Cost lands on both the child task and the parent.
func (o *Orchestrator) runSubtask(ctx context.Context, plan *Plan, parent *tasks.Task, sub *PlannedSubtask, previous map[string]string) (string, error) {
	route, rationale, err := o.router.Pick(sub)
	if err != nil {
		return "", err
	}

	child, err := o.tasks.Create(tasks.CreateParams{
		ParentID:    parent.ID,
		Title:       sub.Title,
		Description: sub.Description,
		Priority:    parent.Priority,
		Source:      parent.Source,
		Provider:    route.ProviderID,
		Model:       route.Model,
	})
	if err != nil {
		return "", err
	}
	if _, err := o.tasks.UpdateStatus(child.ID, tasks.StatusRunning, tasks.UpdateOpts{}); err != nil {
		return "", err
	}

	agent := &SubAgent{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%s-%s", sub.Role, child.ID[:8]),
		Role:      sub.Role,
		Provider:  route.ProviderID,
		Model:     route.Model,
		Status:    "busy",
		TaskID:    child.ID,
		Rationale: rationale,
	}
	o.agents.Add(agent)
	sub.AgentID = agent.ID

	truncated := make(map[string]string, len(previous))
	for k, v := range previous {
		if len(v) > subtaskResultMax {
			v = v[:subtaskResultMax] + "…"
		}
		truncated[k] = v
	}
	systemPrompt := o.prompts.BuildSubtaskPrompt(sub.Role, plan.Objective, truncated)

	result, usage, err := o.worker.RunSubtask(ctx, route.Client(), route.Model, systemPrompt, sub.Description, child.ID, parent.ID)
	if err != nil {
		o.agents.SetStatus(agent.ID, "error", &usage)
		_, _ = o.tasks.UpdateStatus(child.ID, tasks.StatusFailed, tasks.UpdateOpts{Error: err.Error()})
		return "", err
	}
	o.agents.SetStatus(agent.ID, "stopped", &usage)
	if _, err := o.tasks.UpdateStatus(child.ID, tasks.StatusCompleted, tasks.UpdateOpts{Result: result}); err != nil {
		slog.Warn("Failed to complete child task", "task", child.ID, "error", err)
	}
	return result, nil
}

// synthesize issues the final LLM call combining every subtask result.
func (o *Orchestrator) synthesize(ctx context.Context, plan *Plan, results map[string]string) string {
	route, ok := o.router.routes[TierBalanced]
	if !ok {
		return combineRaw(results)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Objective: %s\n\nSubtask results:\n", plan.Objective)
	for _, sub := range plan.Subtasks {
		result := results[sub.Title]
		if len(result) > synthesisResultMax {
			result = result[:synthesisResultMax] + "…"
		}
		fmt.Fprintf(&sb, "\n## %s (%s)\n%s\n", sub.Title, sub.Status, result)
	}
	sb.WriteString("\nSynthesize these results into one coherent final answer to the objective.")

	resp, err := route.Client().Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: sb.String()}},
		Model:       route.Model,
		MaxTokens:   4096,
		Temperature: 0.5,
	})
	if err != nil {
		slog.Warn("Synthesis call failed, concatenating results", "error", err)
		return combineRaw(results)
	}
	return resp.Content
}

// groupSubtasks splits a plan into labelled parallel groups and the ordered
// sequential remainder.
func groupSubtasks(plan *Plan) (map[string][]*PlannedSubtask, []*PlannedSubtask) {
	groups := make(map[string][]*PlannedSubtask)
	var sequential []*PlannedSubtask
	for _, sub := range plan.Subtasks {
		if sub.ParallelGroup == "" {
			sequential = append(sequential, sub)
			continue
		}
		groups[sub.ParallelGroup] = append(groups[sub.ParallelGroup], sub)
	}
	return groups, sequential
}

// warnSameGroupDependencies logs dependencies between siblings of the same
// parallel group; groups are the ordering mechanism, in-group dependencies
// are not awaited.
func (o *Orchestrator) warnSameGroupDependencies(plan *Plan, groups map[string][]*PlannedSubtask) {
	groupOf := make(map[string]string)
	for label, subs := range groups {
		for _, sub := range subs {
			groupOf[sub.ID] = label
		}
	}
	for subID, deps := range plan.Dependencies {
		for _, dep := range deps {
			if g, ok := groupOf[subID]; ok && groupOf[dep] == g {
				slog.Warn("Subtask depends on a sibling in the same parallel group; not awaited",
					"plan", plan.ID, "subtask", subID, "dependency", dep, "group", g)
			}
		}
	}
}

func snapshotResults(mu *sync.Mutex, results map[string]string) map[string]string {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]string, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

func combineRaw(results map[string]string) string {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", k, results[k])
	}
	return strings.TrimSpace(sb.String())
}
