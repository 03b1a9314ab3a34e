package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names. Used by [Validate] to warn
// about unrecognised names.
var ValidProviderNames = []string{"openai-realtime", "deepgram-agent"}

// validFrameLengths are the capture frame sizes (ms) that divide evenly into
// provider ingestion windows.
var validFrameLengths = []int{10, 20, 40}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}

	if cfg.Provider.APIKey == "" && cfg.Credentials.ServiceURL == "" {
		slog.Warn("neither provider.api_key nor credentials.service_url is set; sessions will fail to authenticate")
	}

	agentNamesSeen := make(map[string]int, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := agentNamesSeen[agent.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, agent.Name, prev))
			}
			agentNamesSeen[agent.Name] = i
		}
		if agent.Temperature < 0 || agent.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, agent.Temperature))
		}
		if agent.VAD.Threshold < 0 || agent.VAD.Threshold > 1 {
			errs = append(errs, fmt.Errorf("%s.vad.threshold %.2f is out of range [0, 1]", prefix, agent.VAD.Threshold))
		}
		if agent.VAD.PrefixPaddingMS < 0 {
			errs = append(errs, fmt.Errorf("%s.vad.prefix_padding_ms must not be negative", prefix))
		}
		if agent.VAD.SilenceDurationMS < 0 {
			errs = append(errs, fmt.Errorf("%s.vad.silence_duration_ms must not be negative", prefix))
		}
	}

	if cfg.Audio.FrameMS != 0 && !slices.Contains(validFrameLengths, cfg.Audio.FrameMS) {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 40", cfg.Audio.FrameMS))
	}

	if cfg.Billing.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("billing.rate_per_minute %.4f must not be negative", cfg.Billing.RatePerMinute))
	}

	if cfg.Billing.PostgresDSN == "" {
		slog.Warn("billing.postgres_dsn is empty; completed sessions will not be archived")
	}

	return errors.Join(errs...)
}
