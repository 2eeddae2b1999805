package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/costs"
)

// CostReportTool reports today's LLM usage.
type CostReportTool struct {
	Tracker *costs.Tracker
}

func (t *CostReportTool) Name() string { return "cost_report" }
func (t *CostReportTool) Risk() string { return RiskLow }

func (t *CostReportTool) Description() string {
	return "Report today's LLM call count, token totals, and estimated cost."
}

func (t *CostReportTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *CostReportTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return FormatUsage(t.Tracker.Today(), t.Tracker.GetConfig()), nil
}

// CostConfigTool reads or updates the budget configuration.
type CostConfigTool struct {
	Tracker *costs.Tracker
}

func (t *CostConfigTool) Name() string { return "cost_config" }
func (t *CostConfigTool) Risk() string { return RiskMedium }

func (t *CostConfigTool) Description() string {
	return "Read or update the daily/weekly LLM budget and the hard-stop flag."
}

func (t *CostConfigTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"daily_budget_usd": map[string]any{
				"type": "number",
			},
			"weekly_budget_usd": map[string]any{
				"type": "number",
			},
			"hard_stop": map[string]any{
				"type":        "boolean",
				"description": "Refuse all LLM calls once the budget is reached",
			},
		},
	}
}

func (t *CostConfigTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Tracker.GetConfig()
	changed := false
	if v, ok := params["daily_budget_usd"].(float64); ok {
		cfg.DailyBudgetUSD = v
		changed = true
	}
	if v, ok := params["weekly_budget_usd"].(float64); ok {
		cfg.WeeklyBudgetUSD = v
		changed = true
	}
	if v, ok := params["hard_stop"].(bool); ok {
		cfg.HardStop = v
		changed = true
	}
	if changed {
		if err := t.Tracker.SetConfig(cfg); err != nil {
			return fmt.Sprintf("Error saving budget config: %v", err), nil
		}
	}
	return fmt.Sprintf("Budget: $%.2f/day, $%.2f/week, hard stop %v",
		cfg.DailyBudgetUSD, cfg.WeeklyBudgetUSD, cfg.HardStop), nil
}

// FormatUsage renders a daily usage record for chat surfaces.
func FormatUsage(day costs.DailyUsage, cfg costs.Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage for %s: %d calls, %d in / %d out tokens, $%.4f",
		day.Date, day.Calls, day.InputTokens, day.OutputTokens, day.Cost)
	if cfg.DailyBudgetUSD > 0 {
		fmt.Fprintf(&sb, " (budget $%.2f", cfg.DailyBudgetUSD)
		if cfg.HardStop {
			sb.WriteString(", hard stop on")
		}
		sb.WriteString(")")
	}
	for model, mu := range day.Models {
		fmt.Fprintf(&sb, "\n  %s: %d calls, $%.4f", model, mu.Calls, mu.Cost)
	}
	return sb.String()
}
