package config

import (
	"os"
	"time"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultAgentURL          = "wss://agent.deepgram.com/v1/agent/converse"
	DefaultSampleRate        = 16000
	DefaultBlockSize         = 1024
	DefaultConnectTimeout    = 15 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultAudioDoneGrace    = 100 * time.Millisecond
	DefaultCredentialTimeout = 10 * time.Second
	DefaultMaxRetries        = 5
	DefaultInitialBackoff    = time.Second
	DefaultMaxBackoff        = 30 * time.Second

	// APIKeyEnv is consulted when no credential is configured.
	APIKeyEnv = "DEEPGRAM_API_KEY"
)

// DefaultInstructions is the agent prompt used when none is configured: a
// live sales-call coach that suggests short replies for the representative.
const DefaultInstructions = `You are a real-time sales coach listening to a live call between a sales representative and a prospective client.

Whenever the client speaks, answer with one or two short, natural sentences the representative can read out loud. Stay consultative rather than pushy, build trust with concrete benefits, and steer every exchange toward booking a short follow-up call.

Only state facts you were given. If the client asks for pricing, timelines or details you do not know, acknowledge the question and offer to cover it on the follow-up call.`

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Agent
	if a.URL == "" {
		a.URL = DefaultAgentURL
	}
	if a.Auth == "" {
		a.Auth = AuthSubprotocol
	}
	setProvider(&a.Listen, "deepgram", "nova-3")
	setProvider(&a.Think, "google", "gemini-2.5-flash-lite")
	setProvider(&a.Speak, "deepgram", "aura-2-thalia-en")

	c := &cfg.Credential
	if c.Endpoint == "" && c.APIKey == "" {
		c.APIKey = os.Getenv(APIKeyEnv)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultCredentialTimeout
	}

	au := &cfg.Audio
	if au.InputSampleRate == 0 {
		au.InputSampleRate = DefaultSampleRate
	}
	if au.OutputSampleRate == 0 {
		au.OutputSampleRate = DefaultSampleRate
	}
	if au.BlockSize == 0 {
		au.BlockSize = DefaultBlockSize
	}
	if au.Capture.Name == "" {
		au.Capture.Name = "ffmpeg"
	}
	if au.Playback.Name == "" {
		au.Playback.Name = "speaker"
	}

	s := &cfg.Session
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.KeepAliveInterval == 0 {
		s.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if s.AudioDoneGrace == 0 {
		s.AudioDoneGrace = DefaultAudioDoneGrace
	}
	r := &s.Reconnect
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = DefaultInitialBackoff
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = DefaultMaxBackoff
	}
}

func setProvider(p *ProviderConfig, provider, model string) {
	if p.Provider == "" {
		p.Provider = provider
		if p.Model == "" {
			p.Model = model
		}
	}
}
