package session

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// Sentinel errors. Surfaced errors wrap one of these so callers can branch
// with [errors.Is].
var (
	// ErrCredential means no token could be obtained for the handshake.
	ErrCredential = errors.New("session: credential unavailable")

	// ErrConnectTimeout means the socket did not open within the connect
	// timeout.
	ErrConnectTimeout = errors.New("session: connect timeout")

	// ErrConnectFailed means the socket handshake failed.
	ErrConnectFailed = errors.New("session: connect failed")

	// ErrAlreadyActive is returned by Connect while a session is connecting
	// or connected.
	ErrAlreadyActive = errors.New("session: already connecting or connected")

	// ErrUnexpectedClose means the agent closed the socket with an abnormal
	// close code.
	ErrUnexpectedClose = errors.New("session: connection lost")

	// ErrRemote matches every [RemoteError].
	ErrRemote = errors.New("session: agent reported an error")
)

// User-visible messages for surfaced errors.
const (
	MsgCredential = "Failed to connect to voice agent"
	MsgTimeout    = "Connection timeout - please try again"
	MsgConnect    = "Connection failed. Please check your internet connection."
	MsgMicrophone = "Failed to access microphone. Please check permissions."
	MsgPlayback   = "Audio playback unavailable."
)

// Kinds of surfaced errors, also used as the "kind" metric attribute.
const (
	KindCredential = "credential"
	KindTimeout    = "timeout"
	KindConnect    = "connect"
	KindMicrophone = "microphone"
	KindPlayback   = "playback"
	KindRemote     = "remote"
	KindWarning    = "warning"
	KindClosed     = "closed"
	KindMalformed  = "malformed"
)

// Error is an error surfaced to the caller. Error() returns the
// human-readable Message; the technical cause is available via Unwrap.
type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// RemoteError is an error reported by the agent in an Error event.
type RemoteError struct {
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session: agent error %s: %s", e.Code, e.Message)
	}
	return "session: agent error: " + e.Message
}

// Is implements error matching for RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// RemoteWarning is a warning reported by the agent in a Warning event.
type RemoteWarning struct {
	Code        string
	Description string
}

func (e *RemoteWarning) Error() string {
	return fmt.Sprintf("session: agent warning %s: %s", e.Code, e.Description)
}

// CloseError describes an abnormal socket closure.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session: socket closed with status %d: %s", int(e.Code), e.Reason)
	}
	return fmt.Sprintf("session: socket closed with status %d", int(e.Code))
}

// Is implements error matching for CloseError.
func (e *CloseError) Is(target error) bool {
	return target == ErrUnexpectedClose
}

// UserMessage returns the text to show for err: the Message of a surfaced
// [Error], otherwise err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

func credentialError(err error) *Error {
	return &Error{Kind: KindCredential, Message: MsgCredential, Err: fmt.Errorf("%w: %w", ErrCredential, err)}
}

func timeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Message: MsgTimeout, Err: fmt.Errorf("%w: %w", ErrConnectTimeout, err)}
}

func connectError(err error) *Error {
	return &Error{Kind: KindConnect, Message: MsgConnect, Err: fmt.Errorf("%w: %w", ErrConnectFailed, err)}
}

func remoteError(msg, code string) *Error {
	return &Error{Kind: KindRemote, Message: "Voice agent error: " + msg, Err: &RemoteError{Message: msg, Code: code}}
}

func remoteWarning(code, desc string) *Error {
	return &Error{Kind: KindWarning, Message: "Voice agent warning: " + desc, Err: &RemoteWarning{Code: code, Description: desc}}
}

func closeError(code websocket.StatusCode, reason string) *Error {
	return &Error{
		Kind:    KindClosed,
		Message: fmt.Sprintf("Connection lost (%d). Please try again.", int(code)),
		Err:     &CloseError{Code: code, Reason: reason},
	}
}

// normalClose reports whether code is an expected close status.
func normalClose(code websocket.StatusCode) bool {
	switch code {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
