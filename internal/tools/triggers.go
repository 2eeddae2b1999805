package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/triggers"
)

// CreateTriggerTool registers a new trigger.
type CreateTriggerTool struct {
	Registry *triggers.Registry
	Reload   func() error
}

func (t *CreateTriggerTool) Name() string { return "create_trigger" }
func (t *CreateTriggerTool) Risk() string { return RiskMedium }

func (t *CreateTriggerTool) Description() string {
	return "Register a trigger (file_watch, webhook, cron, calendar, email_watch) that injects a message or creates a task when it fires."
}

func (t *CreateTriggerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{
				"type": "string",
				"enum": []string{"file_watch", "webhook", "cron", "calendar", "email_watch"},
			},
			"name": map[string]any{
				"type": "string",
			},
			"config": map[string]any{
				"type":        "object",
				"description": "Type-specific config: path/pattern, path/secret, schedule, url/intervalMinutes, host/user/password/from/subject",
			},
			"action_kind": map[string]any{
				"type": "string",
				"enum": []string{"message", "task"},
			},
			"action_content": map[string]any{
				"type":        "string",
				"description": "Instruction delivered to the agent when the trigger fires",
			},
		},
		"required": []string{"type", "name", "action_kind", "action_content"},
	}
}

func (t *CreateTriggerTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg, _ := params["config"].(map[string]any)
	if cfg == nil {
		cfg = map[string]any{}
	}
	trigger := &triggers.Trigger{
		Type:   GetString(params, "type", ""),
		Name:   GetString(params, "name", ""),
		Config: cfg,
		Action: triggers.Action{
			Kind:    GetString(params, "action_kind", triggers.ActionMessage),
			Content: GetString(params, "action_content", ""),
		},
	}
	created, err := t.Registry.Create(trigger)
	if err != nil {
		return "", err
	}
	if t.Reload != nil {
		if err := t.Reload(); err != nil {
			return fmt.Sprintf("Trigger %s created but reload failed: %v", created.ID[:8], err), nil
		}
	}
	return fmt.Sprintf("Created %s trigger %s (%s)", created.Type, created.ID[:8], created.Name), nil
}

// ListTriggersTool lists registered triggers.
type ListTriggersTool struct {
	Registry *triggers.Registry
}

func (t *ListTriggersTool) Name() string { return "list_triggers" }
func (t *ListTriggersTool) Risk() string { return RiskLow }

func (t *ListTriggersTool) Description() string {
	return "List registered triggers with their state and fire counts."
}

func (t *ListTriggersTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ListTriggersTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	all := t.Registry.All()
	if len(all) == 0 {
		return "No triggers registered.", nil
	}
	var sb strings.Builder
	for _, tr := range all {
		state := "enabled"
		if !tr.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "%s %s (%s, %s, fired %d times)\n", tr.ID[:8], tr.Name, tr.Type, state, tr.FireCount)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// DeleteTriggerTool removes a trigger.
type DeleteTriggerTool struct {
	Registry *triggers.Registry
	Reload   func() error
}

func (t *DeleteTriggerTool) Name() string { return "delete_trigger" }
func (t *DeleteTriggerTool) Risk() string { return RiskMedium }

func (t *DeleteTriggerTool) Description() string {
	return "Delete a trigger by id prefix."
}

func (t *DeleteTriggerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string"},
		},
		"required": []string{"id"},
	}
}

func (t *DeleteTriggerTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	prefix := GetString(params, "id", "")
	var match *triggers.Trigger
	for _, tr := range t.Registry.All() {
		if strings.HasPrefix(tr.ID, prefix) {
			if match != nil {
				return "Error: trigger id prefix is ambiguous", nil
			}
			match = tr
		}
	}
	if match == nil {
		return "Error: no trigger matches that id", nil
	}
	if err := t.Registry.Delete(match.ID); err != nil {
		return fmt.Sprintf("Error deleting trigger: %v", err), nil
	}
	if t.Reload != nil {
		_ = t.Reload()
	}
	return fmt.Sprintf("Deleted trigger %s (%s)", match.ID[:8], match.Name), nil
}
