package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single inbound message. Agent audio chunks are
// far larger than the library default of 32 KiB.
const DefaultReadLimit = 8 << 20

// Conn is the subset of [*websocket.Conn] the controller uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ Conn = (*websocket.Conn)(nil)

// Dialer opens the agent socket with a bearer token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// DialerOption configures a [WebSocketDialer].
type DialerOption func(*WebSocketDialer)

// WithHeaderAuth sends the token as "Authorization: Token <token>" instead
// of as the second entry of the subprotocol list.
func WithHeaderAuth() DialerOption {
	return func(d *WebSocketDialer) {
		d.headerAuth = true
	}
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) DialerOption {
	return func(d *WebSocketDialer) {
		d.httpClient = c
	}
}

// WithReadLimit overrides [DefaultReadLimit].
func WithReadLimit(n int64) DialerOption {
	return func(d *WebSocketDialer) {
		if n > 0 {
			d.readLimit = n
		}
	}
}

// WebSocketDialer dials the agent with github.com/coder/websocket.
type WebSocketDialer struct {
	url        string
	headerAuth bool
	httpClient *http.Client
	readLimit  int64
}

var _ Dialer = (*WebSocketDialer)(nil)

// NewWebSocketDialer returns a dialer for the agent endpoint at url.
func NewWebSocketDialer(url string, opts ...DialerOption) *WebSocketDialer {
	d := &WebSocketDialer{
		url:       url,
		readLimit: DefaultReadLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [Dialer]. ctx bounds the handshake only.
func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	opts := &websocket.DialOptions{HTTPClient: d.httpClient}
	if d.headerAuth {
		opts.HTTPHeader = http.Header{}
		opts.HTTPHeader.Set("Authorization", "Token "+token)
	} else {
		opts.Subprotocols = []string{"token", token}
	}

	conn, resp, err := websocket.Dial(ctx, d.url, opts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("session: dial %s: handshake status %d: %w", d.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("session: dial %s: %w", d.url, err)
	}
	conn.SetReadLimit(d.readLimit)
	return conn, nil
}
