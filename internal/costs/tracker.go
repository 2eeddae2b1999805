// Package costs tracks daily LLM usage and enforces the budget hard stop.
package costs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const historyDays = 90

// ModelPrice holds USD price coefficients per 1K tokens.
type ModelPrice struct {
	PromptPer1K     float64 `json:"promptPer1k"`
	CompletionPer1K float64 `json:"completionPer1k"`
}

// ModelUsage is the per-model breakdown inside a daily record.
type ModelUsage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	Cost         float64 `json:"cost"`
	Calls        int     `json:"calls"`
}

// DailyUsage aggregates one day of LLM usage. Exactly one record exists per
// day per process; call count equals the sum of per-model call counts.
type DailyUsage struct {
	Date         string                `json:"date"`
	InputTokens  int                   `json:"inputTokens"`
	OutputTokens int                   `json:"outputTokens"`
	Cost         float64               `json:"cost"`
	Calls        int                   `json:"calls"`
	Models       map[string]ModelUsage `json:"models"`
}

// Config is the budget configuration persisted to cost-config.json.
type Config struct {
	DailyBudgetUSD  float64 `json:"dailyBudgetUsd"`
	WeeklyBudgetUSD float64 `json:"weeklyBudgetUsd"`
	HardStop        bool    `json:"hardStop"`
}

// Tracker owns usage accounting. All mutators persist synchronously; cost
// accounting is monotonic: usage is recorded before the caller observes
// the LLM response.
type Tracker struct {
	mu         sync.Mutex
	path       string
	configPath string
	days       []DailyUsage
	config     Config
	prices     map[string]ModelPrice
}

// NewTracker loads costs.json and cost-config.json from the workspace.
func NewTracker(workspace string) (*Tracker, error) {
	t := &Tracker{
		path:       filepath.Join(workspace, "costs.json"),
		configPath: filepath.Join(workspace, "cost-config.json"),
		prices:     make(map[string]ModelPrice),
		config:     Config{DailyBudgetUSD: 5.0, HardStop: false},
	}
	if data, err := os.ReadFile(t.path); err == nil {
		_ = json.Unmarshal(data, &t.days)
	}
	if data, err := os.ReadFile(t.configPath); err == nil {
		_ = json.Unmarshal(data, &t.config)
	}
	return t, nil
}

// SetPrice registers price coefficients for a model.
func (t *Tracker) SetPrice(model string, price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = price
}

// CalculateCost computes the USD cost for a usage on a model. Unknown
// models cost zero (local runtimes).
func (t *Tracker) CalculateCost(model string, inputTokens, outputTokens int) float64 {
	t.mu.Lock()
	price, ok := t.prices[model]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return (float64(inputTokens)*price.PromptPer1K + float64(outputTokens)*price.CompletionPer1K) / 1000.0
}

// TrackUsage records one LLM call against today's record and persists.
func (t *Tracker) TrackUsage(model string, inputTokens, outputTokens int) float64 {
	cost := t.CalculateCost(model, inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.todayLocked()
	day.InputTokens += inputTokens
	day.OutputTokens += outputTokens
	day.Cost += cost
	day.Calls++
	mu := day.Models[model]
	mu.InputTokens += inputTokens
	mu.OutputTokens += outputTokens
	mu.Cost += cost
	mu.Calls++
	day.Models[model] = mu

	t.persistLocked()
	return cost
}

// Today returns a copy of today's record.
func (t *Tracker) Today() DailyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneDay(*t.todayLocked())
}

// History returns the retained daily records, oldest first.
func (t *Tracker) History() []DailyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DailyUsage, len(t.days))
	for i, d := range t.days {
		out[i] = cloneDay(d)
	}
	return out
}

// CanMakeCall reports whether a new LLM call is allowed under the budget.
// With hard stop off, calls are always allowed.
func (t *Tracker) CanMakeCall() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.config.HardStop {
		return true
	}
	if t.config.DailyBudgetUSD > 0 && t.todayLocked().Cost >= t.config.DailyBudgetUSD {
		return false
	}
	if t.config.WeeklyBudgetUSD > 0 && t.weekCostLocked() >= t.config.WeeklyBudgetUSD {
		return false
	}
	return true
}

// RemainingBudget returns today's remaining USD budget, or -1 when no daily
// budget is configured.
func (t *Tracker) RemainingBudget() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.config.DailyBudgetUSD <= 0 {
		return -1
	}
	remaining := t.config.DailyBudgetUSD - t.todayLocked().Cost
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// GetConfig returns the current budget configuration.
func (t *Tracker) GetConfig() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// SetConfig replaces the budget configuration and persists it.
func (t *Tracker) SetConfig(cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config = cfg
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cost config: %w", err)
	}
	return os.Rename(tmp, t.configPath)
}

func (t *Tracker) todayLocked() *DailyUsage {
	date := time.Now().Format("2006-01-02")
	for i := range t.days {
		if t.days[i].Date == date {
			if t.days[i].Models == nil {
				t.days[i].Models = make(map[string]ModelUsage)
			}
			return &t.days[i]
		}
	}
	t.days = append(t.days, DailyUsage{Date: date, Models: make(map[string]ModelUsage)})
	if len(t.days) > historyDays {
		t.days = t.days[len(t.days)-historyDays:]
	}
	return &t.days[len(t.days)-1]
}

func (t *Tracker) weekCostLocked() float64 {
	cutoff := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	var total float64
	for _, d := range t.days {
		if d.Date >= cutoff {
			total += d.Cost
		}
	}
	return total
}

func (t *Tracker) persistLocked() {
	data, err := json.MarshalIndent(t.days, "", "  ")
	if err != nil {
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err == nil {
		_ = os.Rename(tmp, t.path)
	}
}

func cloneDay(d DailyUsage) DailyUsage {
	models := make(map[string]ModelUsage, len(d.Models))
	for k, v := range d.Models {
		models[k] = v
	}
	d.Models = models
	return d
}
