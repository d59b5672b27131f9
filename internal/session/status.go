package session

import "time"

// Status is the connection state of the [Controller].
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Visual is a coarse indicator of what the conversation is doing.
type Visual string

const (
	VisualIdle       Visual = "idle"
	VisualConnecting Visual = "connecting"
	VisualListening  Visual = "listening"
	VisualThinking   Visual = "thinking"
	VisualSpeaking   Visual = "speaking"
)

// State is an immutable snapshot of the controller.
type State struct {
	Status        Status
	AgentSpeaking bool
	UserSpeaking  bool

	// MicrophoneMuted mirrors [Controller.SetMicrophoneMuted].
	MicrophoneMuted bool

	// LastError is the most recent user-visible error message. Connect
	// clears it.
	LastError string

	// SessionID and StartedAt identify the current or most recent attempt.
	SessionID string
	StartedAt time.Time
}

// Visual derives the indicator for s. The agent speaking wins over the user
// speaking; a connected session where neither speaks is thinking.
func (s State) Visual() Visual {
	switch {
	case s.Status == StatusConnecting:
		return VisualConnecting
	case s.Status != StatusConnected:
		return VisualIdle
	case s.AgentSpeaking:
		return VisualSpeaking
	case s.UserSpeaking:
		return VisualListening
	default:
		return VisualThinking
	}
}
