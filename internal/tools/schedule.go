package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/heartbeat"
	"github.com/kodokalabs/tetsuo/internal/triggers"
)

// ScheduleCronTool registers a cron trigger; a thin wrapper so the model can
// schedule without knowing the trigger schema.
type ScheduleCronTool struct {
	Registry *triggers.Registry
	Reload   func() error
}

func (t *ScheduleCronTool) Name() string { return "schedule_cron" }
func (t *ScheduleCronTool) Risk() string { return RiskMedium }

func (t *ScheduleCronTool) Description() string {
	return "Schedule a recurring instruction with a standard 5-field cron expression."
}

func (t *ScheduleCronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type": "string",
			},
			"schedule": map[string]any{
				"type":        "string",
				"description": "5-field cron expression, e.g. \"0 9 * * 1-5\"",
			},
			"instruction": map[string]any{
				"type":        "string",
				"description": "What the agent should do when the schedule fires",
			},
		},
		"required": []string{"name", "schedule", "instruction"},
	}
}

func (t *ScheduleCronTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	trigger := &triggers.Trigger{
		Type:   triggers.TypeCron,
		Name:   GetString(params, "name", ""),
		Config: map[string]any{"schedule": GetString(params, "schedule", "")},
		Action: triggers.Action{
			Kind:    triggers.ActionMessage,
			Content: GetString(params, "instruction", ""),
		},
	}
	created, err := t.Registry.Create(trigger)
	if err != nil {
		return "", err
	}
	if t.Reload != nil {
		_ = t.Reload()
	}
	return fmt.Sprintf("Scheduled %q (%s) as %s", created.Name, trigger.ConfigString("schedule"), created.ID[:8]), nil
}

// CancelCronTool removes a cron trigger by name or id prefix.
type CancelCronTool struct {
	Registry *triggers.Registry
	Reload   func() error
}

func (t *CancelCronTool) Name() string { return "cancel_cron" }
func (t *CancelCronTool) Risk() string { return RiskMedium }

func (t *CancelCronTool) Description() string {
	return "Cancel a scheduled cron job by name or id prefix."
}

func (t *CancelCronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *CancelCronTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	needle := GetString(params, "name", "")
	for _, tr := range t.Registry.All() {
		if tr.Type != triggers.TypeCron {
			continue
		}
		if tr.Name == needle || strings.HasPrefix(tr.ID, needle) {
			if err := t.Registry.Delete(tr.ID); err != nil {
				return fmt.Sprintf("Error cancelling: %v", err), nil
			}
			if t.Reload != nil {
				_ = t.Reload()
			}
			return fmt.Sprintf("Cancelled cron job %q", tr.Name), nil
		}
	}
	return fmt.Sprintf("Error: no cron job matches %q", needle), nil
}

// EditHeartbeatTool rewrites the heartbeat checklist.
type EditHeartbeatTool struct {
	Heartbeat *heartbeat.Service
}

func (t *EditHeartbeatTool) Name() string { return "edit_heartbeat" }
func (t *EditHeartbeatTool) Risk() string { return RiskMedium }

func (t *EditHeartbeatTool) Description() string {
	return "Replace the heartbeat checklist (markdown with - [ ] items reviewed every heartbeat)."
}

func (t *EditHeartbeatTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "New checklist content",
			},
		},
		"required": []string{"content"},
	}
}

func (t *EditHeartbeatTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := GetString(params, "content", "")
	if err := t.Heartbeat.Edit(content); err != nil {
		return fmt.Sprintf("Error writing checklist: %v", err), nil
	}
	unchecked := t.Heartbeat.UncheckedItems()
	return fmt.Sprintf("Heartbeat checklist updated (%d open items)", len(unchecked)), nil
}
