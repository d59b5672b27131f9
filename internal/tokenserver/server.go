// Package tokenserver serves the development credential endpoint.
//
// GET /token answers {"token": "<api key>"} so that clients never need the
// agent API key in their own configuration. The route is also served under
// /api/deepgram-token for browser clients that expect that path. Callers can
// be required to present an HS256-signed bearer JWT.
package tokenserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/voxagent/internal/health"
	"github.com/MrWong99/voxagent/internal/observe"
)

// MsgKeyMissing is returned in the error body while no API key is configured.
const MsgKeyMissing = "Deepgram API key not configured"

// ErrKeyMissing is reported by the readiness check while no API key is
// configured.
var ErrKeyMissing = errors.New("tokenserver: api key not configured")

// Option configures a [Server].
type Option func(*Server)

// WithJWTSecret requires callers of the token route to present a bearer JWT
// signed with secret using HS256.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithAllowedOrigins enables CORS for the given origins. "*" allows any
// origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithMetrics sets the instruments used by the request middleware. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// Server hands out the configured API key.
type Server struct {
	apiKey         string
	secret         []byte
	origins        []string
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

// New creates a Server for apiKey. An empty key is allowed; the token route
// then answers 500 and readiness fails.
func New(apiKey string, opts ...Option) *Server {
	s := &Server{apiKey: apiKey}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Check reports [ErrKeyMissing] while no API key is configured.
func (s *Server) Check(context.Context) error {
	if s.apiKey == "" {
		return ErrKeyMissing
	}
	return nil
}

// Handler returns the complete HTTP handler: token routes, health probes and
// optionally /metrics, wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	token := s.cors(s.auth(http.HandlerFunc(s.handleToken)))
	mux.Handle("/token", token)
	mux.Handle("/api/deepgram-token", token)

	health.New(health.Checker{Name: "api_key", Check: s.Check}).Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

type tokenResponse struct {
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, tokenResponse{Error: "method not allowed"})
		return
	}
	if s.apiKey == "" {
		observe.Logger(r.Context()).Error("tokenserver: token requested but no api key is configured")
		writeJSON(w, http.StatusInternalServerError, tokenResponse{Error: MsgKeyMissing})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: s.apiKey})
}

// auth verifies the caller's bearer JWT when a secret is configured.
func (s *Server) auth(next http.Handler) http.Handler {
	if len(s.secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
			writeJSON(w, http.StatusUnauthorized, tokenResponse{Error: "missing bearer token"})
			return
		}
		raw := strings.TrimSpace(header[len("Bearer "):])

		if _, err := s.verify(raw); err != nil {
			observe.Logger(r.Context()).Warn("tokenserver: rejected caller", "err", err)
			writeJSON(w, http.StatusUnauthorized, tokenResponse{Error: "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verify parses raw as an HS256 JWT signed with the server secret. Expiry and
// not-before claims are enforced when present.
func (s *Server) verify(raw string) (*jwt.Token, error) {
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("tokenserver: verify caller: %w", err)
	}
	return tok, nil
}

func (s *Server) cors(next http.Handler) http.Handler {
	if len(s.origins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("tokenserver: encode response", "err", err)
	}
}
