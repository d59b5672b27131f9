package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidDeviceNames lists the built-in device backends per kind.
// Used by [Validate] to warn about unrecognised backend names.
var ValidDeviceNames = map[string][]string{
	"capture":  {"ffmpeg"},
	"playback": {"speaker", "discard"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Agent
	if u, err := url.Parse(cfg.Agent.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("agent.url %q must be a ws:// or wss:// URL", cfg.Agent.URL))
	}
	if cfg.Agent.Auth != "" && !cfg.Agent.Auth.IsValid() {
		errs = append(errs, fmt.Errorf("agent.auth %q is invalid; valid values: subprotocol, header", cfg.Agent.Auth))
	}
	if cfg.Agent.Instructions != "" && cfg.Agent.InstructionsFile != "" {
		errs = append(errs, errors.New("agent.instructions and agent.instructions_file are mutually exclusive"))
	}
	for name, p := range map[string]ProviderConfig{"listen": cfg.Agent.Listen, "think": cfg.Agent.Think, "speak": cfg.Agent.Speak} {
		if p.Provider != "" && p.Model == "" {
			errs = append(errs, fmt.Errorf("agent.%s.model is required when agent.%s.provider is set", name, name))
		}
	}

	// Credential
	if cfg.Credential.Endpoint != "" {
		if u, err := url.Parse(cfg.Credential.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("credential.endpoint %q must be an http:// or https:// URL", cfg.Credential.Endpoint))
		}
	} else if cfg.Credential.APIKey == "" {
		slog.Warn("no credential configured; connect attempts will fail until credential.endpoint, credential.api_key or " + APIKeyEnv + " is set")
	}
	if cfg.Credential.Bearer != "" && cfg.Credential.Endpoint == "" {
		slog.Warn("credential.bearer is set but credential.endpoint is empty; the bearer token is unused")
	}
	if cfg.Credential.Timeout < 0 {
		errs = append(errs, fmt.Errorf("credential.timeout %s must not be negative", cfg.Credential.Timeout))
	}

	// Audio
	for name, v := range map[string]int{
		"audio.input_sample_rate":  cfg.Audio.InputSampleRate,
		"audio.output_sample_rate": cfg.Audio.OutputSampleRate,
		"audio.block_size":         cfg.Audio.BlockSize,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	validateDeviceName("capture", cfg.Audio.Capture.Name)
	validateDeviceName("playback", cfg.Audio.Playback.Name)

	// Session
	if cfg.Session.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout must be positive, got %s", cfg.Session.ConnectTimeout))
	}
	if cfg.Session.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.keepalive_interval must be positive, got %s", cfg.Session.KeepAliveInterval))
	}
	if cfg.Session.AudioDoneGrace < 0 {
		errs = append(errs, fmt.Errorf("session.audio_done_grace must not be negative, got %s", cfg.Session.AudioDoneGrace))
	}
	if r := cfg.Session.Reconnect; r.Enabled {
		if r.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("session.reconnect.max_retries must not be negative, got %d", r.MaxRetries))
		}
		if r.MaxBackoff < r.InitialBackoff {
			errs = append(errs, fmt.Errorf("session.reconnect.max_backoff %s is below initial_backoff %s", r.MaxBackoff, r.InitialBackoff))
		}
	}

	return errors.Join(errs...)
}

// validateDeviceName logs a warning if name is non-empty and not found in
// the [ValidDeviceNames] list for the given kind.
func validateDeviceName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidDeviceNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown audio device name, may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
