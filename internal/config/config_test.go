package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/audio/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

agent:
  url: wss://agent.example.com/v1/agent/converse
  auth: header
  instructions: Keep answers short.
  think:
    provider: open_ai
    model: gpt-4o-mini

credential:
  endpoint: http://localhost:8080/token
  bearer: secret-jwt
  timeout: 3s

audio:
  block_size: 512
  capture:
    name: ffmpeg
    format: alsa
    device: hw:1
  playback:
    name: discard

session:
  connect_timeout: 5s
  keepalive_interval: 10s
  audio_done_grace: 250ms
  reconnect:
    enabled: true
    max_retries: 3

transcript:
  file: /tmp/transcript.jsonl
  export_path: /tmp/transcript.txt
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Agent.Auth != config.AuthHeader {
		t.Errorf("agent.auth: got %q", cfg.Agent.Auth)
	}
	if cfg.Agent.Think != (config.ProviderConfig{Provider: "open_ai", Model: "gpt-4o-mini"}) {
		t.Errorf("agent.think: got %+v", cfg.Agent.Think)
	}
	if cfg.Agent.Listen != (config.ProviderConfig{Provider: "deepgram", Model: "nova-3"}) {
		t.Errorf("agent.listen default: got %+v", cfg.Agent.Listen)
	}
	if cfg.Credential.Timeout != 3*time.Second {
		t.Errorf("credential.timeout: got %s", cfg.Credential.Timeout)
	}
	if cfg.Audio.BlockSize != 512 || cfg.Audio.InputSampleRate != 16000 {
		t.Errorf("audio: got block=%d rate=%d", cfg.Audio.BlockSize, cfg.Audio.InputSampleRate)
	}
	if cfg.Audio.Capture.Device != "hw:1" || cfg.Audio.Playback.Name != "discard" {
		t.Errorf("audio devices: got %+v / %+v", cfg.Audio.Capture, cfg.Audio.Playback)
	}
	if cfg.Session.AudioDoneGrace != 250*time.Millisecond {
		t.Errorf("session.audio_done_grace: got %s", cfg.Session.AudioDoneGrace)
	}
	if !cfg.Session.Reconnect.Enabled || cfg.Session.Reconnect.MaxRetries != 3 {
		t.Errorf("session.reconnect: got %+v", cfg.Session.Reconnect)
	}
	if cfg.Session.Reconnect.MaxBackoff != config.DefaultMaxBackoff {
		t.Errorf("session.reconnect.max_backoff default: got %s", cfg.Session.Reconnect.MaxBackoff)
	}
}

func TestLoadFromReader_EmptyIsDefaults(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "env-key")

	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Agent.URL != config.DefaultAgentURL {
			t.Errorf("agent.url: got %q", cfg.Agent.URL)
		}
		if cfg.Agent.Auth != config.AuthSubprotocol {
			t.Errorf("agent.auth: got %q", cfg.Agent.Auth)
		}
		if cfg.Session.ConnectTimeout != 15*time.Second ||
			cfg.Session.KeepAliveInterval != 30*time.Second ||
			cfg.Session.AudioDoneGrace != 100*time.Millisecond {
			t.Errorf("session defaults: got %+v", cfg.Session)
		}
		if cfg.Audio.BlockSize != 1024 || cfg.Audio.OutputSampleRate != 16000 {
			t.Errorf("audio defaults: got %+v", cfg.Audio)
		}
		if cfg.Credential.APIKey != "env-key" {
			t.Errorf("credential.api_key from env: got %q", cfg.Credential.APIKey)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("agent:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"agent url scheme", "agent:\n  url: https://agent.example.com\n", "agent.url"},
		{"auth mode", "agent:\n  auth: cookie\n", "agent.auth"},
		{"instructions exclusive", "agent:\n  instructions: a\n  instructions_file: b.txt\n", "mutually exclusive"},
		{"provider without model", "agent:\n  speak:\n    provider: cartesia\n", "agent.speak.model"},
		{"endpoint scheme", "credential:\n  endpoint: ftp://host/token\n", "credential.endpoint"},
		{"negative block size", "audio:\n  block_size: -1\n", "audio.block_size"},
		{"negative grace", "session:\n  audio_done_grace: -1s\n", "audio_done_grace"},
		{"backoff order", "session:\n  reconnect:\n    enabled: true\n    initial_backoff: 10s\n    max_backoff: 1s\n", "max_backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q, got: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
agent:
  auth: cookie
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "agent.auth") {
		t.Errorf("joined error should list both failures, got: %v", msg)
	}
}

// ── Instructions ──────────────────────────────────────────────────────────────

func TestResolveInstructions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("From file."), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		agent   config.AgentConfig
		want    string
		wantErr bool
	}{
		{"file", config.AgentConfig{InstructionsFile: path}, "From file.", false},
		{"inline", config.AgentConfig{Instructions: "Inline."}, "Inline.", false},
		{"default", config.AgentConfig{}, config.DefaultInstructions, false},
		{"missing file", config.AgentConfig{InstructionsFile: filepath.Join(dir, "missing")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.agent.ResolveInstructions()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateCapture(config.DeviceConfig{Name: "portaudio"})
	if !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Errorf("capture: err = %v, want ErrDeviceNotRegistered", err)
	}
	_, err = reg.CreatePlayback(config.DeviceConfig{Name: "alsa"})
	if !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Errorf("playback: err = %v, want ErrDeviceNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	mic := &mock.CaptureDevice{}
	var gotEntry config.DeviceConfig
	reg.RegisterCapture("test-mic", func(e config.DeviceConfig) (audio.CaptureDevice, error) {
		gotEntry = e
		return mic, nil
	})
	reg.RegisterPlayback("b", func(config.DeviceConfig) (audio.OutputDevice, error) { return &mock.OutputDevice{}, nil })
	reg.RegisterPlayback("a", func(config.DeviceConfig) (audio.OutputDevice, error) { return &mock.OutputDevice{}, nil })

	dev, err := reg.CreateCapture(config.DeviceConfig{Name: "test-mic", Device: "hw:2"})
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	if dev != mic || gotEntry.Device != "hw:2" {
		t.Errorf("factory not invoked with entry: %+v", gotEntry)
	}
	if names := reg.PlaybackNames(); strings.Join(names, ",") != "a,b" {
		t.Errorf("PlaybackNames = %v, want [a b]", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("no pulse server")
	reg.RegisterCapture("broken", func(config.DeviceConfig) (audio.CaptureDevice, error) { return nil, wantErr })

	if _, err := reg.CreateCapture(config.DeviceConfig{Name: "broken"}); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

// ── Diff ──────────────────────────────────────────────────────────────────────

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	t.Run("no changes", func(t *testing.T) {
		t.Parallel()
		if d := config.Diff(base(), base()); d.HasChanges() {
			t.Errorf("unexpected diff %+v", d)
		}
	})

	t.Run("log level", func(t *testing.T) {
		t.Parallel()
		n := base()
		n.Server.LogLevel = config.LogWarn
		d := config.Diff(base(), n)
		if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("instructions", func(t *testing.T) {
		t.Parallel()
		n := base()
		n.Agent.Instructions = "Be verbose."
		d := config.Diff(base(), n)
		if !d.InstructionsChanged || !d.AgentChanged || d.ProvidersChanged {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("restart required", func(t *testing.T) {
		t.Parallel()
		n := base()
		n.Audio.BlockSize = 2048
		n.Server.ListenAddr = ":9191"
		d := config.Diff(base(), n)
		if strings.Join(d.RestartRequired, ",") != "server.listen_addr,audio" {
			t.Errorf("RestartRequired = %v", d.RestartRequired)
		}
	})
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Agent.Auth != config.AuthSubprotocol || cfg.Audio.Playback.Name != "speaker" {
		t.Errorf("unexpected example config: %+v", cfg)
	}
	if !cfg.Session.Reconnect.Enabled || cfg.Session.Reconnect.MaxBackoff != 30*time.Second {
		t.Errorf("reconnect = %+v", cfg.Session.Reconnect)
	}
}
