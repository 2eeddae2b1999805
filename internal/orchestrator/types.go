// Package orchestrator decomposes complex requests into dependency-graphed
// plans of sub-agents that run in parallel groups on routed model tiers.
package orchestrator

import (
	"sync"
	"time"

	"github.com/kodokalabs/tetsuo/internal/provider"
)

// Plan statuses.
const (
	PlanPlanning  = "planning"
	PlanExecuting = "executing"
	PlanCompleted = "completed"
	PlanFailed    = "failed"
)

// Subtask roles.
const (
	RoleResearcher = "researcher"
	RoleCoder      = "coder"
	RoleWriter     = "writer"
	RoleReviewer   = "reviewer"
	RoleExecutor   = "executor"
)

// Model tiers.
const (
	TierFast      = "fast"
	TierBalanced  = "balanced"
	TierReasoning = "reasoning"
	TierLocal     = "local"
)

// PlannedSubtask is one unit of a plan.
type PlannedSubtask struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Role            string `json:"role"`
	ModelTier       string `json:"modelTier"`
	ParallelGroup   string `json:"parallelGroup,omitempty"`
	Complexity      int    `json:"complexity"`
	RequiresPrivacy bool   `json:"requiresPrivacy"`
	Status          string `json:"status"`
	Result          string `json:"result,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
}

// Plan is a decomposed task. The dependency map points from a subtask id to
// its prerequisite subtask ids; the graph is acyclic by construction (the
// planner maps dependency titles onto already-known subtasks only).
type Plan struct {
	ID           string              `json:"id"`
	ParentTaskID string              `json:"parentTaskId"`
	Objective    string              `json:"objective"`
	Subtasks     []*PlannedSubtask   `json:"subtasks"`
	Dependencies map[string][]string `json:"dependencies"`
	Status       string              `json:"status"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// SubAgent is an ephemeral per-subtask worker identity.
type SubAgent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Status    string         `json:"status"` // idle, busy, error, stopped
	TaskID    string         `json:"taskId,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
	Usage     provider.Usage `json:"usage"`
}

// AgentRegistry is the process-global sub-agent index.
type AgentRegistry struct {
	mu     sync.Mutex
	agents map[string]*SubAgent
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*SubAgent)}
}

// Add registers an agent.
func (r *AgentRegistry) Add(a *SubAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

// SetStatus transitions an agent and optionally accumulates usage.
func (r *AgentRegistry) SetStatus(id, status string, usage *provider.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.Status = status
	if usage != nil {
		a.Usage.Add(*usage)
	}
}

// Snapshot returns a copy of all known agents.
func (r *AgentRegistry) Snapshot() []*SubAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SubAgent, 0, len(r.agents))
	for _, a := range r.agents {
		dup := *a
		out = append(out, &dup)
	}
	return out
}
