// Package config provides configuration types and loading for tetsuo.
package config

// Config is the root configuration struct, populated from the environment.
// Top-level groups: Agent, Providers, Channels, Gateway, Heartbeat.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// ---------------------------------------------------------------------------
// Agent – identity, workspace, loop behaviour
// ---------------------------------------------------------------------------

// AgentConfig groups agent identity and loop settings.
type AgentConfig struct {
	Name           string   `json:"name" envconfig:"AGENT_NAME"`
	Workspace      string   `json:"workspace" envconfig:"AGENT_WORKSPACE"`
	MaxToolCalls   int      `json:"maxToolCalls" envconfig:"AGENT_MAX_TOOL_CALLS"`
	AutonomyLevel  string   `json:"autonomyLevel" envconfig:"AGENT_AUTONOMY_LEVEL"`
	AllowedUserIDs []string `json:"allowedUserIds" envconfig:"ALLOWED_USER_IDS"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys, models, tier routes
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	Default   string         `json:"default" envconfig:"LLM_PROVIDER"`
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	Local     LocalConfig    `json:"local"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey         string `json:"apiKey" envconfig:"API_KEY"`
	APIBase        string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	FastModel      string `json:"fastModel" envconfig:"FAST_MODEL"`
	BalancedModel  string `json:"balancedModel" envconfig:"MODEL"`
	ReasoningModel string `json:"reasoningModel" envconfig:"REASONING_MODEL"`
}

// LocalConfig contains settings for an offline OpenAI-compatible runtime.
type LocalConfig struct {
	Enabled bool   `json:"enabled" envconfig:"LOCAL_LLM_ENABLED"`
	APIBase string `json:"apiBase" envconfig:"LOCAL_LLM_API_BASE"`
	Model   string `json:"model" envconfig:"LOCAL_LLM_MODEL"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations (clients live outside the core)
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	BotToken string `json:"botToken" envconfig:"TELEGRAM_BOT_TOKEN"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	BotToken          string   `json:"botToken" envconfig:"DISCORD_BOT_TOKEN"`
	AllowedChannelIDs []string `json:"allowedChannelIds" envconfig:"DISCORD_ALLOWED_CHANNEL_IDS"`
}

// ---------------------------------------------------------------------------
// Gateway – control-plane networking
// ---------------------------------------------------------------------------

// GatewayConfig contains control-plane server settings.
type GatewayConfig struct {
	Host        string `json:"host" envconfig:"GATEWAY_HOST"`
	Port        int    `json:"port" envconfig:"GATEWAY_PORT"`
	WebhookPort int    `json:"webhookPort" envconfig:"WEBHOOK_PORT"`
}

// ---------------------------------------------------------------------------
// Heartbeat – periodic self-check
// ---------------------------------------------------------------------------

// HeartbeatConfig contains heartbeat settings.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled" envconfig:"HEARTBEAT_ENABLED"`
	IntervalMinutes int    `json:"intervalMinutes" envconfig:"HEARTBEAT_INTERVAL"`
	Channel         string `json:"channel" envconfig:"HEARTBEAT_CHANNEL"`
}
