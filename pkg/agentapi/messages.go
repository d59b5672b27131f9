package agentapi

import "encoding/json"

// Defaults of the agent configuration message.
const (
	DefaultEncoding      = "linear16"
	DefaultSampleRate    = 16000
	DefaultContainer     = "none"
	DefaultListenType    = "deepgram"
	DefaultListenModel   = "nova-3"
	DefaultThinkType     = "google"
	DefaultThinkModel    = "gemini-2.5-flash-lite"
	DefaultSpeakType     = "deepgram"
	DefaultSpeakModel    = "aura-2-thalia-en"
	DefaultAgentEndpoint = "wss://agent.deepgram.com/v1/agent/converse"
)

// Provider names a remote speech or language model.
type Provider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// AudioInput describes the PCM the client sends.
type AudioInput struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// AudioOutput describes the PCM the agent sends back.
type AudioOutput struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container"`
}

// Settings is the one-time configuration message sent right after the socket
// opens. The agent does not interpret audio until it acknowledges it with
// [SettingsApplied].
type Settings struct {
	Type  string        `json:"type"`
	Audio SettingsAudio `json:"audio"`
	Agent SettingsAgent `json:"agent"`
}

// SettingsAudio holds the audio formats of a [Settings] message.
type SettingsAudio struct {
	Input  AudioInput  `json:"input"`
	Output AudioOutput `json:"output"`
}

// SettingsAgent holds the pipeline of a [Settings] message.
type SettingsAgent struct {
	Listen struct {
		Provider Provider `json:"provider"`
	} `json:"listen"`
	Think struct {
		Provider Provider `json:"provider"`
		Prompt   string   `json:"prompt"`
	} `json:"think"`
	Speak struct {
		Provider Provider `json:"provider"`
	} `json:"speak"`
}

// SessionConfig is the per-session input to [NewSettings]. Zero fields take
// the package defaults.
type SessionConfig struct {
	InputSampleRate  int
	OutputSampleRate int
	Listen           Provider
	Think            Provider
	Speak            Provider
	Instructions     string
}

// NewSettings builds the configuration message for cfg.
func NewSettings(cfg SessionConfig) Settings {
	s := Settings{
		Type: TypeSettings,
		Audio: SettingsAudio{
			Input: AudioInput{
				Encoding:   DefaultEncoding,
				SampleRate: orInt(cfg.InputSampleRate, DefaultSampleRate),
			},
			Output: AudioOutput{
				Encoding:   DefaultEncoding,
				SampleRate: orInt(cfg.OutputSampleRate, DefaultSampleRate),
				Container:  DefaultContainer,
			},
		},
	}
	s.Agent.Listen.Provider = orProvider(cfg.Listen, DefaultListenType, DefaultListenModel)
	s.Agent.Think.Provider = orProvider(cfg.Think, DefaultThinkType, DefaultThinkModel)
	s.Agent.Think.Prompt = cfg.Instructions
	s.Agent.Speak.Provider = orProvider(cfg.Speak, DefaultSpeakType, DefaultSpeakModel)
	return s
}

// Marshal encodes s for a text frame.
func (s Settings) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

var keepAlive = []byte(`{"type":"KeepAlive"}`)

// KeepAlive returns the liveness message payload.
func KeepAlive() []byte {
	out := make([]byte, len(keepAlive))
	copy(out, keepAlive)
	return out
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orProvider(p Provider, typ, model string) Provider {
	if p.Type == "" {
		p.Type = typ
	}
	if p.Model == "" {
		p.Model = model
	}
	return p
}
