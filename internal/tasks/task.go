// Package tasks implements the persistent task queue: a status state machine
// with one JSON document per task on disk.
package tasks

import "time"

// Task statuses.
const (
	StatusPending         = "pending"
	StatusRunning         = "running"
	StatusWaitingApproval = "waiting_approval"
	StatusPaused          = "paused"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusCancelled       = "cancelled"
)

// Task priorities, in scheduling order.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

var priorityRank = map[string]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// IsTerminal reports whether a status ends the task lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Step is one unit of work inside a task.
type Step struct {
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Result      string     `json:"result,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Usage accumulates token spend charged to a task.
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// Source records where a task came from.
type Source struct {
	Channel string `json:"channel,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// Task is the persistent unit of agent work.
type Task struct {
	ID               string     `json:"id"`
	ParentID         string     `json:"parentId,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	Progress         int        `json:"progress"`
	Steps            []Step     `json:"steps,omitempty"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	Source           Source     `json:"source"`
	Provider         string     `json:"provider,omitempty"`
	Model            string     `json:"model,omitempty"`
	Usage            Usage      `json:"usage"`
	Scratchpad       string     `json:"scratchpad,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// stepProgress derives progress from step completion. Returns -1 when the
// task has no steps.
func (t *Task) stepProgress() int {
	if len(t.Steps) == 0 {
		return -1
	}
	done := 0
	for _, s := range t.Steps {
		if s.Completed {
			done++
		}
	}
	return done * 100 / len(t.Steps)
}
