package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kodokalabs/tetsuo/internal/provider"
	"github.com/tidwall/gjson"
)

// orchestration heuristic indicator patterns. Two or more matches (or a
// word count over 100) route a create_task call through the orchestrator.
var heuristicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsteps?\b`),
	regexp.MustCompile(`(?i)\bfirst\b.*\bthen\b`),
	regexp.MustCompile(`(?i)\bcompare\b.*\bwith\b`),
	regexp.MustCompile(`(?i)\bresearch\b.*\bwrite\b`),
	regexp.MustCompile(`(?i)\banalyz\w*\b.*\breport\b`),
	regexp.MustCompile(`(?i)\b(plan|comprehensive|multiple)\b`),
}

// ShouldOrchestrate is the automatic complexity heuristic.
func ShouldOrchestrate(description string) bool {
	if len(strings.Fields(description)) > 100 {
		return true
	}
	indicators := 0
	if strings.Count(strings.ToLower(description), " and ") >= 2 {
		indicators++
	}
	for _, re := range heuristicPatterns {
		if re.MatchString(description) {
			indicators++
		}
	}
	return indicators >= 2
}

const planPromptTemplate = `Decompose the following objective into subtasks for specialized sub-agents.

Objective: %s

Respond with ONLY a JSON object, no prose, shaped like:
{"subtasks":[{"title":"...","description":"...","role":"researcher|coder|writer|reviewer|executor","modelTier":"fast|balanced|reasoning|local","parallelGroup":"A","complexity":5,"requiresPrivacy":false,"dependsOn":["title of prerequisite"]}]}

Rules:
- 2 to 6 subtasks.
- Subtasks that can run at the same time share a parallelGroup letter.
- A subtask that needs another's output goes into a LATER group and lists the prerequisite title in dependsOn.
- complexity is 1-10.`

// BuildPlan issues one JSON-only LLM call and parses the result. Unparseable
// responses degrade to a single balanced-tier subtask covering the whole
// objective.
func BuildPlan(ctx context.Context, prov provider.LLMProvider, model, parentTaskID, objective string) *Plan {
	plan := &Plan{
		ID:           uuid.NewString(),
		ParentTaskID: parentTaskID,
		Objective:    objective,
		Dependencies: make(map[string][]string),
		Status:       PlanPlanning,
		CreatedAt:    time.Now(),
	}

	resp, err := prov.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: fmt.Sprintf(planPromptTemplate, objective)}},
		Model:       model,
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		slog.Warn("Planning call failed, degrading to single subtask", "error", err)
		return degradePlan(plan)
	}

	raw := extractJSON(resp.Content)
	parsed := gjson.Get(raw, "subtasks")
	if !parsed.IsArray() || len(parsed.Array()) == 0 {
		slog.Warn("Plan JSON unparseable, degrading to single subtask")
		return degradePlan(plan)
	}

	byTitle := make(map[string]string)
	for _, item := range parsed.Array() {
		sub := &PlannedSubtask{
			ID:              uuid.NewString(),
			Title:           item.Get("title").String(),
			Description:     item.Get("description").String(),
			Role:            normalizeRole(item.Get("role").String()),
			ModelTier:       normalizeTier(item.Get("modelTier").String()),
			ParallelGroup:   item.Get("parallelGroup").String(),
			Complexity:      clampComplexity(int(item.Get("complexity").Int())),
			RequiresPrivacy: item.Get("requiresPrivacy").Bool(),
			Status:          "pending",
		}
		if sub.Title == "" {
			continue
		}
		plan.Subtasks = append(plan.Subtasks, sub)
		byTitle[strings.ToLower(sub.Title)] = sub.ID
	}
	if len(plan.Subtasks) == 0 {
		return degradePlan(plan)
	}

	// Map dependency titles onto ids. Unknown titles are dropped; a subtask
	// can only depend on siblings already in the plan, so the graph stays
	// acyclic.
	for i, item := range parsed.Array() {
		if i >= len(plan.Subtasks) {
			break
		}
		sub := plan.Subtasks[i]
		for _, dep := range item.Get("dependsOn").Array() {
			if id, ok := byTitle[strings.ToLower(dep.String())]; ok && id != sub.ID {
				plan.Dependencies[sub.ID] = append(plan.Dependencies[sub.ID], id)
			}
		}
	}
	return plan
}

// degradePlan builds the single-subtask fallback plan.
func degradePlan(plan *Plan) *Plan {
	plan.Subtasks = []*PlannedSubtask{{
		ID:          uuid.NewString(),
		Title:       "Complete the objective",
		Description: plan.Objective,
		Role:        RoleExecutor,
		ModelTier:   TierBalanced,
		Complexity:  5,
		Status:      "pending",
	}}
	plan.Dependencies = make(map[string][]string)
	return plan
}

// extractJSON strips code fences and surrounding prose around a JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func normalizeRole(role string) string {
	switch strings.ToLower(role) {
	case RoleResearcher, RoleCoder, RoleWriter, RoleReviewer, RoleExecutor:
		return strings.ToLower(role)
	}
	return RoleExecutor
}

func normalizeTier(tier string) string {
	switch strings.ToLower(tier) {
	case TierFast, TierBalanced, TierReasoning, TierLocal:
		return strings.ToLower(tier)
	}
	return ""
}

func clampComplexity(c int) int {
	if c < 1 {
		return 1
	}
	if c > 10 {
		return 10
	}
	return c
}
