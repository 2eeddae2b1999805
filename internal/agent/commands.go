package agent

import (
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/tools"
)

// handleCommand intercepts chat commands before the LLM. Returns (reply,
// true) when the message was a command.
func (l *Loop) handleCommand(text, channel, userID string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	cmd := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/approve", "/reject":
		if arg == "" {
			return fmt.Sprintf("Usage: %s <approval-id-prefix>", cmd), true
		}
		approved := cmd == "/approve"
		req, err := l.broker.ResolveByPrefix(arg, approved, userID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), true
		}
		return fmt.Sprintf("Approval %s %s.", req.ID[:8], req.Status), true

	case "/pending":
		pending := l.broker.Pending(userID)
		if len(pending) == 0 {
			return "No approvals pending for you.", true
		}
		var sb strings.Builder
		for _, req := range pending {
			fmt.Fprintf(&sb, "%s [%s] %s - expires %s\n",
				req.ID[:8], req.Risk, req.Action.Tool, req.ExpiresAt.Format("15:04"))
		}
		return strings.TrimRight(sb.String(), "\n"), true

	case "/tasks":
		list := l.tasks.All()
		if len(list) == 0 {
			return "No tasks.", true
		}
		return tools.FormatTaskList(list, 15), true

	case "/cost", "/costs":
		return tools.FormatUsage(l.costs.Today(), l.costs.GetConfig()), true

	case "/status":
		cfg := l.settings()
		return fmt.Sprintf("%s - provider %s, model %s, autonomy %s, %d memory entries",
			cfg.AgentName, l.providerID, l.model(), cfg.AutonomyLevel, l.memory.Count()), true

	case "/help":
		return strings.Join([]string{
			"/approve <id> - approve a pending action",
			"/reject <id> - reject a pending action",
			"/pending - list your pending approvals",
			"/tasks - list recent tasks",
			"/cost - today's LLM usage",
			"/status - agent status",
		}, "\n"), true
	}
	return "", false
}
