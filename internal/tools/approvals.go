package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/approval"
)

// PendingApprovalsTool lists pending approval requests.
type PendingApprovalsTool struct {
	Broker *approval.Broker
}

func (t *PendingApprovalsTool) Name() string { return "pending_approvals" }
func (t *PendingApprovalsTool) Risk() string { return RiskLow }

func (t *PendingApprovalsTool) Description() string {
	return "List approval requests that are waiting for a human decision."
}

func (t *PendingApprovalsTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *PendingApprovalsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	pending := t.Broker.Pending("")
	if len(pending) == 0 {
		return "No approvals pending.", nil
	}
	var sb strings.Builder
	for _, req := range pending {
		fmt.Fprintf(&sb, "%s [%s] %s - expires %s\n",
			req.ID[:8], req.Risk, req.Action.Tool, req.ExpiresAt.Format("15:04"))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// ResolveApprovalTool resolves an approval in-process (agent self-approvals
// at high autonomy).
type ResolveApprovalTool struct {
	Broker *approval.Broker
	Agent  string
}

func (t *ResolveApprovalTool) Name() string { return "resolve_approval" }
func (t *ResolveApprovalTool) Risk() string { return RiskMedium }

func (t *ResolveApprovalTool) Description() string {
	return "Resolve a pending approval request by id prefix."
}

func (t *ResolveApprovalTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Approval id or prefix",
			},
			"approve": map[string]any{
				"type":        "boolean",
				"description": "true to approve, false to reject",
			},
		},
		"required": []string{"id", "approve"},
	}
}

func (t *ResolveApprovalTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "id", "")
	approve := GetBool(params, "approve", false)
	resolver := t.Agent
	if resolver == "" {
		resolver = "agent"
	}
	req, err := t.Broker.ResolveByPrefix(id, approve, resolver)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return fmt.Sprintf("Approval %s %s.", req.ID[:8], req.Status), nil
}
