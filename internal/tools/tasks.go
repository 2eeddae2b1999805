package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/tasks"
)

// OrchestrateFunc hands a task to the orchestrator façade. It returns the
// parent task's final result.
type OrchestrateFunc func(ctx context.Context, task *tasks.Task) (string, error)

// ShouldOrchestrateFunc is the complexity heuristic.
type ShouldOrchestrateFunc func(description string) bool

// CreateTaskTool creates a task, optionally delegating to the orchestrator.
type CreateTaskTool struct {
	Store             *tasks.Store
	Orchestrate       OrchestrateFunc
	ShouldOrchestrate ShouldOrchestrateFunc
	Source            func() tasks.Source
}

func (t *CreateTaskTool) Name() string { return "create_task" }
func (t *CreateTaskTool) Risk() string { return RiskLow }

func (t *CreateTaskTool) Description() string {
	return "Create a task. Complex tasks are decomposed into sub-agent plans and executed; simple tasks are queued."
}

func (t *CreateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short task title",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Full task description",
			},
			"priority": map[string]any{
				"type":        "string",
				"enum":        []string{"critical", "high", "normal", "low"},
				"description": "Task priority (default normal)",
			},
			"orchestrate": map[string]any{
				"type":        "boolean",
				"description": "Force multi-agent orchestration",
			},
		},
		"required": []string{"description"},
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	description := GetString(params, "description", "")
	if strings.TrimSpace(description) == "" {
		return "Error: description is required", nil
	}
	title := GetString(params, "title", "")
	if title == "" {
		title = description
		if len(title) > 60 {
			title = title[:60] + "…"
		}
	}

	var source tasks.Source
	if t.Source != nil {
		source = t.Source()
	}
	task, err := t.Store.Create(tasks.CreateParams{
		Title:       title,
		Description: description,
		Priority:    GetString(params, "priority", tasks.PriorityNormal),
		Source:      source,
	})
	if err != nil {
		return fmt.Sprintf("Error creating task: %v", err), nil
	}

	orchestrate := GetBool(params, "orchestrate", false)
	if !orchestrate && t.ShouldOrchestrate != nil {
		orchestrate = t.ShouldOrchestrate(description)
	}
	if orchestrate && t.Orchestrate != nil {
		result, err := t.Orchestrate(ctx, task)
		if err != nil {
			return fmt.Sprintf("Task %s orchestration failed: %v", shortID(task.ID), err), nil
		}
		return fmt.Sprintf("Task %s completed via orchestration.\n%s", shortID(task.ID), result), nil
	}
	return fmt.Sprintf("Created task %s (%s, priority %s)", shortID(task.ID), task.Title, task.Priority), nil
}

// ListTasksTool lists recent tasks.
type ListTasksTool struct {
	Store *tasks.Store
}

func (t *ListTasksTool) Name() string { return "list_tasks" }
func (t *ListTasksTool) Risk() string { return RiskLow }

func (t *ListTasksTool) Description() string {
	return "List tasks, optionally filtered by status."
}

func (t *ListTasksTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "Filter by status (pending, running, completed, …)",
			},
		},
	}
}

func (t *ListTasksTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	list := t.Store.ListByStatus(GetString(params, "status", ""))
	if len(list) == 0 {
		return "No tasks.", nil
	}
	return FormatTaskList(list, 15), nil
}

// UpdateTaskTool transitions a task's status or progress.
type UpdateTaskTool struct {
	Store *tasks.Store
}

func (t *UpdateTaskTool) Name() string { return "update_task" }
func (t *UpdateTaskTool) Risk() string { return RiskLow }

func (t *UpdateTaskTool) Description() string {
	return "Update a task's status, progress, or result. Accepts an id prefix."
}

func (t *UpdateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Task id or prefix",
			},
			"status": map[string]any{
				"type": "string",
				"enum": []string{"pending", "running", "paused", "completed", "failed", "cancelled"},
			},
			"progress": map[string]any{
				"type":        "integer",
				"description": "Progress 0-100",
			},
			"result": map[string]any{
				"type": "string",
			},
			"note": map[string]any{
				"type":        "string",
				"description": "Scratchpad note to append",
			},
		},
		"required": []string{"id"},
	}
}

func (t *UpdateTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	task, ok := t.Store.GetByPrefix(GetString(params, "id", ""))
	if !ok {
		return "Error: no unique task matches that id", nil
	}

	if note := GetString(params, "note", ""); note != "" {
		if err := t.Store.AppendScratchpad(task.ID, note); err != nil {
			return fmt.Sprintf("Error appending note: %v", err), nil
		}
	}

	status := GetString(params, "status", task.Status)
	opts := tasks.UpdateOpts{Result: GetString(params, "result", "")}
	if p, ok := params["progress"]; ok {
		if f, ok := p.(float64); ok {
			v := int(f)
			opts.Progress = &v
		}
	}
	updated, err := t.Store.UpdateStatus(task.ID, status, opts)
	if err != nil {
		return fmt.Sprintf("Error updating task: %v", err), nil
	}
	return fmt.Sprintf("Task %s is now %s (%d%%)", shortID(updated.ID), updated.Status, updated.Progress), nil
}

// FormatTaskList renders tasks one per line with status, progress, and cost.
func FormatTaskList(list []*tasks.Task, max int) string {
	var sb strings.Builder
	for i, task := range list {
		if i >= max {
			fmt.Fprintf(&sb, "… and %d more\n", len(list)-max)
			break
		}
		fmt.Fprintf(&sb, "%s [%s] %d%% $%.4f %s\n",
			shortID(task.ID), task.Status, task.Progress, task.Usage.Cost, task.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
