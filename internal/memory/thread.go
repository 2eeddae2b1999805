// Package memory defines the Memory collaborator contract: conversation
// threads with bounded summarizing trim, and a keyword-searchable markdown
// entry store. The full persistent memory system lives outside the core;
// FileStore is the reference implementation the kernel runs against.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/kodokalabs/tetsuo/internal/provider"
)

const (
	// threadSoftCap is the turn count beyond which the oldest prefix is
	// summarized and trimmed.
	threadSoftCap = 100
	// threadKeepTurns is how many recent turns survive a trim.
	threadKeepTurns = 50
	// summaryMaxChars bounds the running summary.
	summaryMaxChars = 2000
)

// Turn is one entry in a conversation thread. Roles: system, user,
// assistant, tool.
type Turn struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCalls  []provider.ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string              `json:"toolCallId,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Thread holds the ordered chat turns for one (channel, user) pair.
type Thread struct {
	Channel   string    `json:"channel"`
	UserID    string    `json:"userId"`
	Turns     []Turn    `json:"turns"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the storage key for a (channel, user) pair.
func Key(channel, userID string) string {
	return channel + ":" + userID
}

// Append adds a turn and stamps the update time.
func (t *Thread) Append(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	t.Turns = append(t.Turns, turn)
	t.UpdatedAt = time.Now()
}

// Trim folds the oldest turns into the summary once the soft cap is
// exceeded. Trimming an already-trimmed thread is a no-op.
func (t *Thread) Trim() {
	if len(t.Turns) <= threadSoftCap {
		return
	}
	cut := len(t.Turns) - threadKeepTurns

	var sb strings.Builder
	sb.WriteString(t.Summary)
	for _, turn := range t.Turns[:cut] {
		line := condenseTurn(turn)
		if line == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(line)
	}
	summary := sb.String()
	if len(summary) > summaryMaxChars {
		// Keep the tail: recent context matters more than ancient context.
		summary = summary[len(summary)-summaryMaxChars:]
		if idx := strings.IndexByte(summary, '\n'); idx >= 0 {
			summary = summary[idx+1:]
		}
	}
	t.Summary = summary
	t.Turns = append([]Turn(nil), t.Turns[cut:]...)
	t.UpdatedAt = time.Now()
}

// Messages converts the thread into provider messages, excluding any system
// turns (the system prompt is assembled fresh each turn).
func (t *Thread) Messages() []provider.Message {
	out := make([]provider.Message, 0, len(t.Turns))
	for _, turn := range t.Turns {
		if turn.Role == "system" {
			continue
		}
		out = append(out, provider.Message{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCalls:  turn.ToolCalls,
			ToolCallID: turn.ToolCallID,
		})
	}
	return out
}

func condenseTurn(turn Turn) string {
	content := strings.TrimSpace(turn.Content)
	if content == "" && len(turn.ToolCalls) > 0 {
		names := make([]string, len(turn.ToolCalls))
		for i, tc := range turn.ToolCalls {
			names[i] = tc.Name
		}
		content = "(called " + strings.Join(names, ", ") + ")"
	}
	if content == "" {
		return ""
	}
	if len(content) > 160 {
		content = content[:160] + "…"
	}
	return fmt.Sprintf("%s: %s", turn.Role, content)
}
