// Command tokenserver serves the agent API key to voxagent clients over HTTP,
// so that the key lives on one trusted host instead of every client.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/internal/tokenserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	addr := flag.String("addr", ":3001", "listen address")
	secretEnv := flag.String("jwt-secret-env", "VOXAGENT_JWT_SECRET", "environment variable holding the HS256 secret callers must sign with; unset disables caller auth")
	origins := flag.String("cors-origins", "", "comma-separated origins allowed to call the token route")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	slog.SetDefault(newLogger(config.LogLevel(*logLevel)))

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxagent-tokenserver"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Token server ──────────────────────────────────────────────────────────
	apiKey := os.Getenv(config.APIKeyEnv)
	if apiKey == "" {
		slog.Warn("no api key configured; the token route answers 500 until " + config.APIKeyEnv + " is set")
	}

	opts := []tokenserver.Option{
		tokenserver.WithMetrics(prov.Metrics),
		tokenserver.WithMetricsHandler(prov.Handler),
	}
	if secret := os.Getenv(*secretEnv); secret != "" {
		opts = append(opts, tokenserver.WithJWTSecret([]byte(secret)))
	} else {
		slog.Warn("caller authentication disabled", "env", *secretEnv)
	}
	if *origins != "" {
		opts = append(opts, tokenserver.WithAllowedOrigins(strings.Split(*origins, ",")...))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           tokenserver.New(apiKey, opts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("token server listening", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("token server failed", "err", err)
			exit = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := prov.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
