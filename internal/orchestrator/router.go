package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/kodokalabs/tetsuo/internal/provider"
)

// cheapBudgetThreshold is the remaining daily budget below which routing
// falls back to the cheapest non-local tier.
const cheapBudgetThreshold = 0.10

// ModelRoute binds a tier to a concrete provider, model, and prices.
type ModelRoute struct {
	Tier            string  `json:"tier"`
	ProviderID      string  `json:"provider"`
	Model           string  `json:"model"`
	PromptPer1K     float64 `json:"promptPer1k"`
	CompletionPer1K float64 `json:"completionPer1k"`

	client provider.LLMProvider
}

// Client returns the live provider behind the route.
func (r *ModelRoute) Client() provider.LLMProvider {
	return r.client
}

// Router picks a concrete ModelRoute per subtask.
type Router struct {
	routes map[string]*ModelRoute
	// RemainingBudget reports today's remaining USD budget; -1 means no
	// budget is configured.
	RemainingBudget func() float64
}

// NewRouter creates an empty router.
func NewRouter(remainingBudget func() float64) *Router {
	return &Router{
		routes:          make(map[string]*ModelRoute),
		RemainingBudget: remainingBudget,
	}
}

// AddRoute registers a tier route.
func (r *Router) AddRoute(tier, providerID, model string, promptPer1K, completionPer1K float64, client provider.LLMProvider) {
	r.routes[tier] = &ModelRoute{
		Tier:            tier,
		ProviderID:      providerID,
		Model:           model,
		PromptPer1K:     promptPer1K,
		CompletionPer1K: completionPer1K,
		client:          client,
	}
}

// Routes returns the registered routes.
func (r *Router) Routes() []*ModelRoute {
	out := make([]*ModelRoute, 0, len(r.routes))
	for _, route := range r.routes {
		dup := *route
		out = append(out, &dup)
	}
	return out
}

// Pick chooses the route for a subtask:
// privacy first, then budget pressure, then the requested tier, then
// complexity.
func (r *Router) Pick(sub *PlannedSubtask) (*ModelRoute, string, error) {
	if sub.RequiresPrivacy {
		if route, ok := r.routes[TierLocal]; ok {
			return route, "privacy: routed to local runtime", nil
		}
		slog.Warn("Subtask requires privacy but no local tier is configured", "subtask", sub.Title)
		if route, ok := r.routes[TierBalanced]; ok {
			return route, "privacy requested but no local tier; using balanced", nil
		}
	}

	if r.RemainingBudget != nil {
		if remaining := r.RemainingBudget(); remaining >= 0 && remaining < cheapBudgetThreshold {
			if route := r.cheapest(); route != nil {
				return route, fmt.Sprintf("budget pressure ($%.2f left): cheapest tier", remaining), nil
			}
		}
	}

	if sub.ModelTier != "" {
		if route, ok := r.routes[sub.ModelTier]; ok {
			return route, "tier requested by plan", nil
		}
	}

	tier := TierBalanced
	switch {
	case sub.Complexity >= 1 && sub.Complexity <= 3:
		tier = TierFast
	case sub.Complexity >= 8:
		tier = TierReasoning
	}
	if route, ok := r.routes[tier]; ok {
		return route, fmt.Sprintf("complexity %d: %s tier", sub.Complexity, tier), nil
	}
	if route, ok := r.routes[TierBalanced]; ok {
		return route, "fallback to balanced", nil
	}
	return nil, "", fmt.Errorf("no model routes configured")
}

// cheapest returns the lowest-priced non-local route.
func (r *Router) cheapest() *ModelRoute {
	var best *ModelRoute
	for tier, route := range r.routes {
		if tier == TierLocal {
			continue
		}
		if best == nil || route.PromptPer1K+route.CompletionPer1K < best.PromptPer1K+best.CompletionPer1K {
			best = route
		}
	}
	return best
}
