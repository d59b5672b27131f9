// Package agentapi implements the wire protocol of a Deepgram-style voice
// agent socket.
//
// Binary frames on the socket carry raw 16-bit PCM in both directions and are
// not handled here. Text frames carry JSON objects discriminated by a "type"
// field; inbound ones decode into the closed [Event] union via [Decode], and
// outbound ones are built with [NewSettings] and [KeepAlive].
package agentapi

// Event type tags as they appear in the "type" field.
const (
	TypeWelcome              = "Welcome"
	TypeSettingsApplied      = "SettingsApplied"
	TypeConversationText     = "ConversationText"
	TypeUserStartedSpeaking  = "UserStartedSpeaking"
	TypeAgentStartedSpeaking = "AgentStartedSpeaking"
	TypeAgentAudioDone       = "AgentAudioDone"
	TypeAgentThinking        = "AgentThinking"
	TypeError                = "Error"
	TypeWarning              = "Warning"
	TypeSettings             = "Settings"
	TypeKeepAlive            = "KeepAlive"
)

// Event is an inbound agent event. The set of implementations is closed; an
// event tag this package does not know decodes to [Unknown].
type Event interface {
	// Type returns the wire tag of the event.
	Type() string

	isEvent()
}

// Speaker identifies who produced a piece of conversation text.
type Speaker string

const (
	// SpeakerUser is the human on the microphone.
	SpeakerUser Speaker = "user"

	// SpeakerAgent is the remote voice agent.
	SpeakerAgent Speaker = "assistant"
)

// Welcome is the first event on a new socket.
type Welcome struct {
	RequestID string
}

// SettingsApplied acknowledges the configuration message.
type SettingsApplied struct{}

// ConversationText is one finalised line of the conversation transcript.
type ConversationText struct {
	Speaker Speaker
	Text    string
}

// UserStartedSpeaking reports that the remote voice activity detector heard
// the user.
type UserStartedSpeaking struct{}

// AgentStartedSpeaking reports that agent audio for a new turn begins.
// Latencies are in seconds and zero when the server omits them.
type AgentStartedSpeaking struct {
	TotalLatency float64
	TTSLatency   float64
	TTTLatency   float64
}

// AgentAudioDone reports that the server has sent the last audio chunk of
// the current turn. Playback may still be running locally.
type AgentAudioDone struct{}

// AgentThinking reports that the agent is preparing a response.
type AgentThinking struct {
	Content string
}

// Error is an agent-reported problem.
type Error struct {
	Message string
	Code    string
}

// Warning is an agent-reported non-fatal condition.
type Warning struct {
	Code        string
	Description string
}

// Unknown is any event with a tag this package does not recognise. Raw holds
// the original payload.
type Unknown struct {
	Tag string
	Raw []byte
}

func (Welcome) Type() string              { return TypeWelcome }
func (SettingsApplied) Type() string      { return TypeSettingsApplied }
func (ConversationText) Type() string     { return TypeConversationText }
func (UserStartedSpeaking) Type() string  { return TypeUserStartedSpeaking }
func (AgentStartedSpeaking) Type() string { return TypeAgentStartedSpeaking }
func (AgentAudioDone) Type() string       { return TypeAgentAudioDone }
func (AgentThinking) Type() string        { return TypeAgentThinking }
func (Error) Type() string                { return TypeError }
func (Warning) Type() string              { return TypeWarning }
func (u Unknown) Type() string            { return u.Tag }

func (Welcome) isEvent()              {}
func (SettingsApplied) isEvent()      {}
func (ConversationText) isEvent()     {}
func (UserStartedSpeaking) isEvent()  {}
func (AgentStartedSpeaking) isEvent() {}
func (AgentAudioDone) isEvent()       {}
func (AgentThinking) isEvent()        {}
func (Error) isEvent()                {}
func (Warning) isEvent()              {}
func (Unknown) isEvent()              {}
