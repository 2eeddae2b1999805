package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kodokalabs/tetsuo/internal/provider"
	"github.com/kodokalabs/tetsuo/internal/tasks"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content := "done"
	if p.calls < len(p.responses) {
		content = p.responses[p.calls]
	}
	p.calls++
	return &provider.ChatResponse{
		Content: content,
		Usage:   provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }

// recordingWorker records subtask execution order.
type recordingWorker struct {
	mu    sync.Mutex
	order []string
}

func (w *recordingWorker) RunSubtask(ctx context.Context, prov provider.LLMProvider, model, systemPrompt, input string, taskIDs ...string) (string, provider.Usage, error) {
	w.mu.Lock()
	w.order = append(w.order, input)
	w.mu.Unlock()
	return "result for " + input, provider.Usage{PromptTokens: 5, CompletionTokens: 5}, nil
}

type stubPrompts struct{}

func (stubPrompts) BuildSubtaskPrompt(role, objective string, previous map[string]string) string {
	return fmt.Sprintf("role=%s objective=%s", role, objective)
}

func TestShouldOrchestrateHeuristic(t *testing.T) {
	tests := []struct {
		description string
		want        bool
	}{
		{"Research three renewable energy sources and write a comparison report with pros and cons", true},
		{"First gather the logs, then analyze them and produce a report", true},
		{"Make a comprehensive plan with multiple steps", true},
		{"what time is it", false},
		{"read the file notes.txt", false},
		{strings.Repeat("word ", 101), true},
	}
	for _, tc := range tests {
		if got := ShouldOrchestrate(tc.description); got != tc.want {
			t.Errorf("ShouldOrchestrate(%q) = %v, want %v", tc.description, got, tc.want)
		}
	}
}

func TestBuildPlanParsesJSON(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"subtasks":[
		{"title":"Research solar","description":"solar","role":"researcher","modelTier":"fast","parallelGroup":"A","complexity":3},
		{"title":"Research wind","description":"wind","role":"researcher","modelTier":"fast","parallelGroup":"A","complexity":3},
		{"title":"Write report","description":"report","role":"writer","modelTier":"balanced","parallelGroup":"B","complexity":6,"dependsOn":["Research solar","Research wind"]}
	]}`}}

	plan := BuildPlan(context.Background(), prov, "m", "parent-1", "compare energy sources")
	if len(plan.Subtasks) != 3 {
		t.Fatalf("subtasks = %d", len(plan.Subtasks))
	}
	writer := plan.Subtasks[2]
	if writer.Role != RoleWriter || writer.ParallelGroup != "B" {
		t.Fatalf("writer subtask = %+v", writer)
	}
	if len(plan.Dependencies[writer.ID]) != 2 {
		t.Fatalf("writer dependencies = %v", plan.Dependencies[writer.ID])
	}
}

func TestBuildPlanDegradesOnBadJSON(t *testing.T) {
	prov := &scriptedProvider{responses: []string{"I think we should split this into parts."}}
	plan := BuildPlan(context.Background(), prov, "m", "parent-1", "do the thing")
	if len(plan.Subtasks) != 1 {
		t.Fatalf("degraded plan should have one subtask, got %d", len(plan.Subtasks))
	}
	sub := plan.Subtasks[0]
	if sub.ModelTier != TierBalanced || sub.Description != "do the thing" {
		t.Fatalf("degraded subtask = %+v", sub)
	}
}

func TestBuildPlanHandlesCodeFences(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		"Here is the plan:\n```json\n{\"subtasks\":[{\"title\":\"only\",\"description\":\"d\",\"role\":\"executor\",\"complexity\":2}]}\n```",
	}}
	plan := BuildPlan(context.Background(), prov, "m", "p", "obj")
	if len(plan.Subtasks) != 1 || plan.Subtasks[0].Title != "only" {
		t.Fatalf("plan = %+v", plan.Subtasks)
	}
}

func TestRouterPick(t *testing.T) {
	budget := -1.0
	r := NewRouter(func() float64 { return budget })
	local := &scriptedProvider{}
	r.AddRoute(TierFast, "openai", "fast-m", 0.0001, 0.0004, &scriptedProvider{})
	r.AddRoute(TierBalanced, "openai", "bal-m", 0.003, 0.015, &scriptedProvider{})
	r.AddRoute(TierReasoning, "openai", "big-m", 0.015, 0.075, &scriptedProvider{})
	r.AddRoute(TierLocal, "local", "local-m", 0, 0, local)

	tests := []struct {
		sub  PlannedSubtask
		want string
	}{
		{PlannedSubtask{RequiresPrivacy: true, Complexity: 9}, "local-m"},
		{PlannedSubtask{ModelTier: TierReasoning, Complexity: 2}, "big-m"},
		{PlannedSubtask{Complexity: 2}, "fast-m"},
		{PlannedSubtask{Complexity: 5}, "bal-m"},
		{PlannedSubtask{Complexity: 9}, "big-m"},
	}
	for _, tc := range tests {
		route, _, err := r.Pick(&tc.sub)
		if err != nil {
			t.Fatalf("Pick(%+v): %v", tc.sub, err)
		}
		if route.Model != tc.want {
			t.Errorf("Pick(%+v) = %s, want %s", tc.sub, route.Model, tc.want)
		}
	}

	// Budget pressure routes to the cheapest non-local tier.
	budget = 0.05
	route, _, err := r.Pick(&PlannedSubtask{Complexity: 9})
	if err != nil {
		t.Fatal(err)
	}
	if route.Model != "fast-m" {
		t.Errorf("low budget should pick cheapest tier, got %s", route.Model)
	}
}

func TestRouterPrivacyWithoutLocalWarns(t *testing.T) {
	r := NewRouter(nil)
	r.AddRoute(TierBalanced, "openai", "bal-m", 0.003, 0.015, &scriptedProvider{})
	route, rationale, err := r.Pick(&PlannedSubtask{RequiresPrivacy: true})
	if err != nil {
		t.Fatal(err)
	}
	if route.Model != "bal-m" || !strings.Contains(rationale, "no local tier") {
		t.Fatalf("route=%s rationale=%q", route.Model, rationale)
	}
}

func newExecFixture(t *testing.T, planJSON string) (*Orchestrator, *tasks.Store, *recordingWorker) {
	t.Helper()
	store, err := tasks.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	worker := &recordingWorker{}
	router := NewRouter(nil)
	router.AddRoute(TierFast, "openai", "fast-m", 0.0001, 0.0004, &scriptedProvider{})
	router.AddRoute(TierBalanced, "openai", "bal-m", 0.003, 0.015,
		&scriptedProvider{responses: []string{planJSON, "synthesized answer"}})
	orch := New(router, worker, stubPrompts{}, store, NewAgentRegistry())
	return orch, store, worker
}

func TestRunExecutesGroupsInOrder(t *testing.T) {
	planJSON := `{"subtasks":[
		{"title":"B-task","description":"second","role":"writer","modelTier":"fast","parallelGroup":"B","complexity":2},
		{"title":"A-one","description":"first-1","role":"researcher","modelTier":"fast","parallelGroup":"A","complexity":2},
		{"title":"A-two","description":"first-2","role":"researcher","modelTier":"fast","parallelGroup":"A","complexity":2}
	]}`
	orch, store, worker := newExecFixture(t, planJSON)

	parent, err := store.Create(tasks.CreateParams{Title: "parent", Description: "objective"})
	if err != nil {
		t.Fatal(err)
	}
	result, err := orch.Run(context.Background(), parent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "synthesized answer" {
		t.Fatalf("result = %q", result)
	}

	// Group A runs (in any internal order) strictly before group B.
	if len(worker.order) != 3 {
		t.Fatalf("executed %d subtasks, want 3", len(worker.order))
	}
	if worker.order[2] != "second" {
		t.Fatalf("group B should run last, order = %v", worker.order)
	}

	got, _ := store.Get(parent.ID)
	if got.Status != tasks.StatusCompleted || got.Progress != 100 {
		t.Fatalf("parent status=%s progress=%d", got.Status, got.Progress)
	}
	if len(store.ListSubtasks(parent.ID)) != 3 {
		t.Fatal("every subtask should have a child task")
	}
	if got.Result != "synthesized answer" {
		t.Fatalf("parent result = %q", got.Result)
	}
}

func TestRunVisitsEverySubtaskOnce(t *testing.T) {
	planJSON := `{"subtasks":[
		{"title":"one","description":"d1","role":"executor","modelTier":"fast","complexity":1},
		{"title":"two","description":"d2","role":"executor","modelTier":"fast","complexity":1}
	]}`
	orch, store, worker := newExecFixture(t, planJSON)
	parent, _ := store.Create(tasks.CreateParams{Title: "p", Description: "obj"})

	if _, err := orch.Run(context.Background(), parent); err != nil {
		t.Fatal(err)
	}
	if len(worker.order) != 2 {
		t.Fatalf("subtasks visited %d times, want 2", len(worker.order))
	}
	seen := map[string]bool{}
	for _, in := range worker.order {
		if seen[in] {
			t.Fatalf("subtask %q visited twice", in)
		}
		seen[in] = true
	}
}
