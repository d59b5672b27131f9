package agentapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned by [Decode] when a text frame is not a JSON
// object.
var ErrMalformedEvent = errors.New("agentapi: malformed event")

// unknownErrorMessage is used when an Error event carries no text at all.
const unknownErrorMessage = "Unknown error"

// fields is a decoded JSON object. Values are read leniently: a field with
// an unexpected JSON type counts as absent instead of failing the event.
type fields map[string]json.RawMessage

// str returns the string value of key and whether it was present as a string.
func (f fields) str(key string) (string, bool) {
	raw, ok := f[key]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// first returns the value of the first key present as a string, or "".
func (f fields) first(keys ...string) string {
	for _, k := range keys {
		if s, ok := f.str(k); ok {
			return s
		}
	}
	return ""
}

// firstNonEmpty returns the first non-empty string value among keys, or "".
func (f fields) firstNonEmpty(keys ...string) string {
	for _, k := range keys {
		if s, _ := f.str(k); s != "" {
			return s
		}
	}
	return ""
}

func (f fields) num(key string) float64 {
	raw, ok := f[key]
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// code returns the "code" field, which servers send as a string or a number.
func (f fields) code() string {
	if s, ok := f.str("code"); ok {
		return s
	}
	if raw, ok := f["code"]; ok {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// Decode parses one inbound text frame. Any JSON object decodes successfully;
// an unrecognised or missing tag yields [Unknown]. Only payloads that are not
// a JSON object fail, with an error wrapping [ErrMalformedEvent].
//
// Conversation text arrives either as {role, content} or as {from, text};
// both normalise to the same [ConversationText].
func Decode(data []byte) (Event, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedEvent)
	}

	tag, _ := f.str("type")
	switch tag {
	case TypeWelcome:
		return Welcome{RequestID: f.first("request_id")}, nil
	case TypeSettingsApplied:
		return SettingsApplied{}, nil
	case TypeConversationText:
		return ConversationText{
			Speaker: normalizeSpeaker(f.first("role", "from")),
			Text:    f.first("content", "text"),
		}, nil
	case TypeUserStartedSpeaking:
		return UserStartedSpeaking{}, nil
	case TypeAgentStartedSpeaking:
		return AgentStartedSpeaking{
			TotalLatency: f.num("total_latency"),
			TTSLatency:   f.num("tts_latency"),
			TTTLatency:   f.num("ttt_latency"),
		}, nil
	case TypeAgentAudioDone:
		return AgentAudioDone{}, nil
	case TypeAgentThinking:
		return AgentThinking{Content: f.first("content")}, nil
	case TypeError:
		msg := f.firstNonEmpty("message", "description")
		if msg == "" {
			msg = unknownErrorMessage
		}
		return Error{Message: msg, Code: f.code()}, nil
	case TypeWarning:
		return Warning{Code: f.code(), Description: f.firstNonEmpty("description", "message")}, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Tag: tag, Raw: raw}, nil
	}
}

// normalizeSpeaker maps the wire role onto one of the two speakers. Anything
// other than "user" is the agent, which is also the default when no role is
// present.
func normalizeSpeaker(role string) Speaker {
	if role == string(SpeakerUser) {
		return SpeakerUser
	}
	return SpeakerAgent
}
