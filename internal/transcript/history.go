// Package transcript keeps the conversation lines of voice-agent sessions.
//
// [History] is the in-memory, arrival-ordered record shown to the user and
// exported when the client exits. A [Recorder] persists the same entries in
// the background to one or more [Store] backends without ever blocking the
// socket read loop.
package transcript

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxagent/pkg/agentapi"
)

// Entry is one line of the conversation.
type Entry struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Speaker   agentapi.Speaker `json:"speaker"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// Label returns the speaker name used in exports.
func (e Entry) Label() string {
	if e.Speaker == agentapi.SpeakerUser {
		return "Client"
	}
	return "AI Assistant"
}

// NewEntry builds an entry for ct received at ts.
func NewEntry(sessionID string, ct agentapi.ConversationText, ts time.Time) Entry {
	return Entry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   ct.Speaker,
		Message:   ct.Text,
		Timestamp: ts,
	}
}

// History is an append-only, arrival-ordered list of entries. It is safe for
// concurrent use.
type History struct {
	mu      sync.Mutex
	entries []Entry
}

// Add appends e.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
}

// Entries returns a copy of all entries in arrival order.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Format renders the transcript export. Times are shown in now's location.
func (h *History) Format(now time.Time) string {
	entries := h.Entries()

	var b strings.Builder
	b.WriteString("=== Voice Agent Conversation Transcript ===\n")
	fmt.Fprintf(&b, "Date: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total Messages: %d\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n\n", e.Timestamp.In(now.Location()).Format("15:04:05"), e.Label(), e.Message)
	}
	b.WriteString("=== End of Transcript ===\n")
	return b.String()
}

// Export writes the formatted transcript to path. An empty history writes
// nothing.
func (h *History) Export(path string, now time.Time) error {
	if h.Len() == 0 {
		return nil
	}
	if err := os.WriteFile(path, []byte(h.Format(now)), 0o644); err != nil {
		return fmt.Errorf("transcript: export %q: %w", path, err)
	}
	return nil
}
