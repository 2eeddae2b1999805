package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads configuration from the environment. A .env file in the current
// directory is applied first when present (existing env vars win).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", &cfg.Agent); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Gateway); err != nil {
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Heartbeat); err != nil {
		return nil, fmt.Errorf("heartbeat config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Channels.Telegram); err != nil {
		return nil, fmt.Errorf("telegram config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Channels.Discord); err != nil {
		return nil, fmt.Errorf("discord config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Providers); err != nil {
		return nil, fmt.Errorf("providers config: %w", err)
	}
	if err := envconfig.Process("OPENAI", &cfg.Providers.OpenAI); err != nil {
		return nil, fmt.Errorf("openai config: %w", err)
	}
	if err := envconfig.Process("ANTHROPIC", &cfg.Providers.Anthropic); err != nil {
		return nil, fmt.Errorf("anthropic config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Providers.Local); err != nil {
		return nil, fmt.Errorf("local provider config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Tetsuo"
	}
	if cfg.Agent.Workspace == "" {
		home, _ := os.UserHomeDir()
		cfg.Agent.Workspace = filepath.Join(home, "tetsuo-workspace")
	}
	cfg.Agent.Workspace = expandHome(cfg.Agent.Workspace)
	if cfg.Agent.MaxToolCalls <= 0 {
		cfg.Agent.MaxToolCalls = 20
	}
	switch cfg.Agent.AutonomyLevel {
	case "low", "medium", "high":
	default:
		cfg.Agent.AutonomyLevel = "medium"
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "openai"
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18789
	}
	if cfg.Gateway.WebhookPort == 0 {
		cfg.Gateway.WebhookPort = 18790
	}
	if cfg.Heartbeat.IntervalMinutes <= 0 {
		cfg.Heartbeat.IntervalMinutes = 30
	}
}

// EnsureWorkspace creates the workspace root and its well-known
// subdirectories if missing.
func EnsureWorkspace(root string) error {
	for _, dir := range []string{root,
		filepath.Join(root, "tasks"),
		filepath.Join(root, "approvals"),
		filepath.Join(root, "logs"),
		filepath.Join(root, "memory"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
