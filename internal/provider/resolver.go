package provider

import (
	"fmt"

	"github.com/kodokalabs/tetsuo/internal/config"
)

// Resolve builds the provider named by id ("openai", "anthropic", "local")
// from config. An empty id resolves the configured default.
func Resolve(cfg *config.Config, id string) (LLMProvider, error) {
	if id == "" {
		id = cfg.Providers.Default
	}
	switch id {
	case "openai":
		pc := cfg.Providers.OpenAI
		if pc.APIKey == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY not set")
		}
		return NewOpenAIProvider(pc.APIKey, pc.APIBase, pc.BalancedModel), nil
	case "anthropic":
		pc := cfg.Providers.Anthropic
		if pc.APIKey == "" {
			return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY not set")
		}
		return NewAnthropicProvider(pc.APIKey, pc.APIBase, pc.BalancedModel), nil
	case "local":
		lc := cfg.Providers.Local
		if !lc.Enabled {
			return nil, fmt.Errorf("local provider not enabled")
		}
		base := lc.APIBase
		if base == "" {
			base = "http://localhost:11434/v1"
		}
		return NewOpenAIProvider("", base, lc.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
}
