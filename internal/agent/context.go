package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/kodokalabs/tetsuo/internal/costs"
	"github.com/kodokalabs/tetsuo/internal/memory"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

// SkillSource supplies instructions from loaded SKILL files. The loader
// itself lives outside the core.
type SkillSource interface {
	// Instructions returns the loaded skill instructions, or "" when none.
	Instructions() string
}

// ContextBuilder assembles the system prompt for a session turn.
type ContextBuilder struct {
	workspace string
	memory    memory.Store
	costs     *costs.Tracker
	settings  func() settings.RuntimeSettings
	skills    SkillSource
}

// NewContextBuilder creates a new ContextBuilder. skills may be nil.
func NewContextBuilder(workspace string, mem memory.Store, tracker *costs.Tracker, settingsFn func() settings.RuntimeSettings, skills SkillSource) *ContextBuilder {
	return &ContextBuilder{
		workspace: workspace,
		memory:    mem,
		costs:     tracker,
		settings:  settingsFn,
		skills:    skills,
	}
}

// autonomyInstruction maps the autonomy level to its behaviour line.
func autonomyInstruction(level string) string {
	switch level {
	case "low":
		return "Autonomy is LOW: ask for approval before every tool action."
	case "high":
		return "Autonomy is HIGH: act without asking; only irreversible actions need approval."
	default:
		return "Autonomy is MEDIUM: act on safe operations, ask before destructive or outward-facing ones."
	}
}

// BuildSystemPrompt constructs the system prompt: identity, current time,
// workspace, autonomy policy, condensed memory, skills, and today's usage.
func (b *ContextBuilder) BuildSystemPrompt() string {
	cfg := b.settings()
	var parts []string

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", cfg.AgentName)
	fmt.Fprintf(&sb, "You are %s, a local AI agent. You handle requests from chat channels and scheduled events using the tools available to you.\n\n", cfg.AgentName)
	fmt.Fprintf(&sb, "## Current Time\n%s\n\n", time.Now().Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&sb, "## Workspace\n%s\nAll file operations are confined to this directory.\n\n", b.workspace)
	fmt.Fprintf(&sb, "## Autonomy\n%s", autonomyInstruction(cfg.AutonomyLevel))
	parts = append(parts, sb.String())

	if b.memory != nil {
		if bullets := b.memory.Bullets(10); len(bullets) > 0 {
			parts = append(parts, "## Memory\n"+strings.Join(bullets, "\n"))
		}
	}
	if b.skills != nil {
		if instr := b.skills.Instructions(); instr != "" {
			parts = append(parts, "## Skills\n"+instr)
		}
	}
	if b.costs != nil {
		day := b.costs.Today()
		parts = append(parts, fmt.Sprintf("## Usage Today\n%d calls, %d tokens, $%.4f",
			day.Calls, day.InputTokens+day.OutputTokens, day.Cost))
	}

	return strings.Join(parts, "\n\n")
}

// BuildSubtaskPrompt constructs the system prompt for an orchestrated worker
// turn: the role, the parent objective, and truncated prior results.
func (b *ContextBuilder) BuildSubtaskPrompt(role, objective string, previous map[string]string) string {
	cfg := b.settings()
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s - %s sub-agent\n\n", cfg.AgentName, role)
	fmt.Fprintf(&sb, "You are a %s working on one part of a larger objective.\n\n", role)
	fmt.Fprintf(&sb, "## Objective\n%s\n", objective)
	if len(previous) > 0 {
		sb.WriteString("\n## Results so far\n")
		for title, result := range previous {
			if len(result) > 2000 {
				result = result[:2000] + "…"
			}
			fmt.Fprintf(&sb, "### %s\n%s\n", title, result)
		}
	}
	sb.WriteString("\nComplete only your own subtask. Return the result as plain text.")
	return sb.String()
}
