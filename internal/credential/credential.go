// Package credential obtains the bearer token used in the agent socket
// handshake.
//
// A [Source] is consulted once per connect attempt. [Static] serves a fixed
// API key; [Endpoint] asks an HTTP token service that answers
// {"token": "..."}.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoCredential is returned when a source has no token to hand out.
var ErrNoCredential = errors.New("credential: no token available")

// Source issues bearer tokens for the agent handshake.
type Source interface {
	// Token returns a non-empty token or an error.
	Token(ctx context.Context) (string, error)
}

// Static is a [Source] that always returns the same token.
type Static string

var _ Source = Static("")

// Token implements [Source].
func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// Func adapts a function to [Source].
type Func func(ctx context.Context) (string, error)

// Token implements [Source].
func (f Func) Token(ctx context.Context) (string, error) { return f(ctx) }

// ─── Endpoint ─────────────────────────────────────────────────────────────────

// maxBody bounds the token response that is read into memory.
const maxBody = 64 << 10

// Option configures an [Endpoint].
type Option func(*Endpoint)

// WithBearer sends "Authorization: Bearer <token>" with every request.
func WithBearer(token string) Option {
	return func(e *Endpoint) {
		e.bearer = token
	}
}

// WithHTTPClient overrides the HTTP client. The client's own timeout still
// applies in addition to [WithTimeout].
func WithHTTPClient(c *http.Client) Option {
	return func(e *Endpoint) {
		e.client = c
	}
}

// WithTimeout bounds each token request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		e.timeout = d
	}
}

// Endpoint fetches tokens from an HTTP service with a single GET request.
type Endpoint struct {
	url     string
	bearer  string
	timeout time.Duration
	client  *http.Client
}

var _ Source = (*Endpoint)(nil)

// NewEndpoint returns a [Source] that requests tokens from url.
func NewEndpoint(url string, opts ...Option) *Endpoint {
	e := &Endpoint{
		url:     url,
		timeout: 10 * time.Second,
		client:  http.DefaultClient,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// Token implements [Source].
func (e *Endpoint) Token(ctx context.Context) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return "", fmt.Errorf("credential: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if e.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+e.bearer)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: request %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("credential: read response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK {
		msg := tr.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("credential: token endpoint returned %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("credential: decode response: %w", decodeErr)
	}
	if tr.Token == "" {
		return "", ErrNoCredential
	}
	return tr.Token, nil
}
