// Package config provides the configuration schema, loader, and audio device
// registry for the voxagent client.
package config

import (
	"fmt"
	"os"
	"time"
)

// LogLevel controls log verbosity.
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

// AuthMode selects how the credential is presented during the socket
// handshake.
type AuthMode string

const (
	// AuthSubprotocol sends the credential as the websocket subprotocol pair
	// ["token", <credential>], which is what browser clients use.
	AuthSubprotocol AuthMode = "subprotocol"

	// AuthHeader sends "Authorization: Token <credential>".
	AuthHeader AuthMode = "header"
)

// IsValid reports whether m is a recognised auth mode.
func (m AuthMode) IsValid() bool {
	return m == AuthSubprotocol || m == AuthHeader
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Agent      AgentConfig      `yaml:"agent"`
	Credential CredentialConfig `yaml:"credential"`
	Audio      AudioConfig      `yaml:"audio"`
	Session    SessionConfig    `yaml:"session"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds the local HTTP surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderConfig names a remote model used by the agent.
type ProviderConfig struct {
	// Provider is the vendor identifier understood by the agent service
	// (e.g., "deepgram", "google", "open_ai").
	Provider string `yaml:"provider"`

	// Model is the vendor model name (e.g., "nova-3").
	Model string `yaml:"model"`
}

// AgentConfig describes the remote agent and its pipeline.
type AgentConfig struct {
	// URL is the agent websocket endpoint.
	URL string `yaml:"url"`

	// Auth selects how the credential is presented. Defaults to subprotocol.
	Auth AuthMode `yaml:"auth"`

	// Instructions is the agent's system prompt. Mutually exclusive with
	// InstructionsFile.
	Instructions string `yaml:"instructions"`

	// InstructionsFile is a path to a file holding the system prompt.
	InstructionsFile string `yaml:"instructions_file"`

	Listen ProviderConfig `yaml:"listen"`
	Think  ProviderConfig `yaml:"think"`
	Speak  ProviderConfig `yaml:"speak"`
}

// CredentialConfig says where the bearer credential for the socket comes from.
// Endpoint takes precedence over APIKey.
type CredentialConfig struct {
	// Endpoint is an HTTP URL answering GET with {"token": "..."}.
	Endpoint string `yaml:"endpoint"`

	// Bearer is an optional token sent to Endpoint as "Authorization: Bearer".
	Bearer string `yaml:"bearer"`

	// APIKey is a static credential. When empty and no endpoint is set, the
	// DEEPGRAM_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single endpoint request.
	Timeout time.Duration `yaml:"timeout"`
}

// DeviceConfig selects and configures an audio device backend.
type DeviceConfig struct {
	// Name is the registered backend name ("ffmpeg" for capture; "speaker" or
	// "discard" for playback).
	Name string `yaml:"name"`

	// Format is the backend input format, e.g. ffmpeg's -f value ("pulse").
	Format string `yaml:"format"`

	// Device is the backend device identifier, e.g. ffmpeg's -i value.
	Device string `yaml:"device"`

	// Binary overrides the backend executable (ffmpeg only).
	Binary string `yaml:"binary"`

	// Buffer is the output buffer length (speaker only).
	Buffer time.Duration `yaml:"buffer"`
}

// AudioConfig holds the PCM formats and device backends.
type AudioConfig struct {
	InputSampleRate  int          `yaml:"input_sample_rate"`
	OutputSampleRate int          `yaml:"output_sample_rate"`
	BlockSize        int          `yaml:"block_size"`
	Capture          DeviceConfig `yaml:"capture"`
	Playback         DeviceConfig `yaml:"playback"`
}

// ReconnectConfig controls automatic reconnection after an unexpected close.
type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// SessionConfig holds the timing parameters of a session.
type SessionConfig struct {
	// ConnectTimeout bounds the wait for the socket to open.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// KeepAliveInterval is the period of the liveness message.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// AudioDoneGrace is how long after AgentAudioDone the agent still counts
	// as speaking, absorbing audio that is still in flight.
	AudioDoneGrace time.Duration `yaml:"audio_done_grace"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// TranscriptConfig controls where conversation lines are kept.
type TranscriptConfig struct {
	// File is a JSONL file that receives every transcript line.
	File string `yaml:"file"`

	// PostgresDSN enables the PostgreSQL transcript store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ExportPath receives the formatted transcript when the client exits.
	ExportPath string `yaml:"export_path"`
}

// ResolveInstructions returns the agent prompt: the contents of
// InstructionsFile, else Instructions, else [DefaultInstructions].
func (a AgentConfig) ResolveInstructions() (string, error) {
	if a.InstructionsFile != "" {
		b, err := os.ReadFile(a.InstructionsFile)
		if err != nil {
			return "", fmt.Errorf("config: read instructions %q: %w", a.InstructionsFile, err)
		}
		return string(b), nil
	}
	if a.Instructions != "" {
		return a.Instructions, nil
	}
	return DefaultInstructions, nil
}
