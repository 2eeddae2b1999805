package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/memory"
)

// RememberTool stores a fact in persistent memory.
type RememberTool struct {
	Memory memory.Store
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Risk() string { return RiskLow }

func (t *RememberTool) Description() string {
	return "Store a fact in persistent memory for later recall."
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tags",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := GetString(params, "content", "")
	if strings.TrimSpace(content) == "" {
		return "Error: content is required", nil
	}
	entry, err := t.Memory.Remember(content, GetStringSlice(params, "tags"))
	if err != nil {
		return fmt.Sprintf("Error storing memory: %v", err), nil
	}
	return fmt.Sprintf("Remembered as %q", entry.Slug), nil
}

// RecallTool keyword-searches persistent memory.
type RecallTool struct {
	Memory memory.Store
}

func (t *RecallTool) Name() string { return "recall" }
func (t *RecallTool) Risk() string { return RiskLow }

func (t *RecallTool) Description() string {
	return "Search persistent memory by keywords."
}

func (t *RecallTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Keywords to search for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *RecallTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	entries := t.Memory.Recall(query, GetInt(params, "limit", 5))
	if len(entries) == 0 {
		return "No memories match that query.", nil
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", e.CreatedAt.Format("2006-01-02"), e.Content)
	}
	return sb.String(), nil
}
