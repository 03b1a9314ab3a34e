// Package config provides the configuration schema, loader, and provider
// registry for the voxbridge session bridge.
package config

import (
	"github.com/voxwire/voxbridge/pkg/realtime"
)

// LogLevel controls log verbosity for the bridge.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Provider    ProviderEntry    `yaml:"provider"`
	Agents      []AgentConfig    `yaml:"agents"`
	Audio       AudioConfig      `yaml:"audio"`
	Billing     BillingConfig    `yaml:"billing"`
	Credentials CredentialConfig `yaml:"credentials"`
	Profiles    ProfilesConfig   `yaml:"profiles"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the /metrics and /healthz endpoints
	// listen on (e.g., ":9090"). Empty disables the HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and parameterises the voice-AI provider. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai-realtime", "deepgram-agent").
	Name string `yaml:"name"`

	// APIKey is a long-lived key for development use. In production leave it
	// empty and configure the credential service instead.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// AgentConfig describes one agent persona: voice, instructions, and tuning.
type AgentConfig struct {
	// Name identifies the persona; selected at session start.
	Name string `yaml:"name"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt for the agent.
	Instructions string `yaml:"instructions"`

	// Greeting, when set, makes the agent speak first with this line.
	Greeting string `yaml:"greeting"`

	// Language hints the input-transcription language (e.g., "en").
	Language string `yaml:"language"`

	VAD realtime.VADParams `yaml:"vad"`

	// Temperature adjusts response sampling in the range [0, 2]. 0 means the
	// provider default.
	Temperature float64 `yaml:"temperature"`

	MaxResponseOutputTokens int `yaml:"max_response_output_tokens"`
}

// Profile returns the agent's fields as a profile overlay.
func (a AgentConfig) Profile() realtime.Profile {
	return realtime.Profile{
		Voice:                   a.Voice,
		Instructions:            a.Instructions,
		Greeting:                a.Greeting,
		Language:                a.Language,
		VAD:                     a.VAD,
		Temperature:             a.Temperature,
		MaxResponseOutputTokens: a.MaxResponseOutputTokens,
	}
}

// AudioConfig holds capture and playback settings.
type AudioConfig struct {
	// InputPath is a raw PCM16 file used as the capture source.
	InputPath string `yaml:"input_path"`

	// OutputPath is where agent audio is written as a WAV file.
	OutputPath string `yaml:"output_path"`

	// FrameMS is the capture frame length in milliseconds. Default 20.
	FrameMS int `yaml:"frame_ms"`
}

// BillingConfig holds cost settlement and archival settings.
type BillingConfig struct {
	// LedgerURL is the billing service base URL. Empty means the local
	// estimate stands.
	LedgerURL string `yaml:"ledger_url"`

	// PostgresDSN is the connection string for the session archive.
	// Empty disables archival.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RatePerMinute overrides the provider's default local estimate rate.
	RatePerMinute float64 `yaml:"rate_per_minute"`
}

// CredentialConfig selects how provider keys are obtained.
type CredentialConfig struct {
	// ServiceURL is the credential-issuance service base URL. When set, each
	// session gets a short-lived key.
	ServiceURL string `yaml:"service_url"`
}

// ProfilesConfig selects where agent profiles are resolved from.
type ProfilesConfig struct {
	// ServiceURL is a remote profile service base URL. Empty means profiles
	// come from the agents section of this file.
	ServiceURL string `yaml:"service_url"`
}
