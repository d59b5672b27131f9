// Command voxagent is a terminal client for a real-time voice agent. It
// streams the microphone to the agent, plays the agent's replies and prints
// the conversation as it happens.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/internal/credential"
	"github.com/MrWong99/voxagent/internal/health"
	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/internal/session"
	"github.com/MrWong99/voxagent/internal/transcript"
	"github.com/MrWong99/voxagent/internal/transcript/postgres"
	"github.com/MrWong99/voxagent/pkg/agentapi"
	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/audio/ffmpeg"
	"github.com/MrWong99/voxagent/pkg/audio/speaker"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxagent: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxagent: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxagent starting",
		"config", *configPath,
		"agent_url", cfg.Agent.URL,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinDevices(reg)

	mic, err := reg.CreateCapture(cfg.Audio.Capture)
	if err != nil {
		slog.Error("failed to create capture device", "err", err)
		return 1
	}
	spk, err := reg.CreatePlayback(cfg.Audio.Playback)
	if err != nil {
		slog.Error("failed to create playback device", "err", err)
		return 1
	}

	sessCfg, err := sessionConfig(cfg)
	if err != nil {
		slog.Error("failed to build session config", "err", err)
		return 1
	}

	// ── Transcript stores ─────────────────────────────────────────────────────
	var (
		history transcript.History
		stores  []transcript.Store
		guards  []*transcript.Guard
	)
	if cfg.Transcript.File != "" {
		g := transcript.NewGuard("transcript_file", transcript.NewFileStore(cfg.Transcript.File))
		stores, guards = append(stores, g), append(guards, g)
	}
	if cfg.Transcript.PostgresDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.Transcript.PostgresDSN)
		if err != nil {
			slog.Error("failed to open transcript database", "err", err)
			return 1
		}
		g := transcript.NewGuard("transcript_postgres", pg)
		stores, guards = append(stores, g), append(guards, g)
	}
	recorder := transcript.NewRecorder(stores)

	// ── Session controller ────────────────────────────────────────────────────
	var dialOpts []session.DialerOption
	if cfg.Agent.Auth == config.AuthHeader {
		dialOpts = append(dialOpts, session.WithHeaderAuth())
	}

	var (
		ctrl        *session.Controller
		reconnector *session.Reconnector
	)
	creds := credentialSource(cfg.Credential)
	ctrl = session.New(
		creds,
		session.NewWebSocketDialer(cfg.Agent.URL, dialOpts...),
		mic, spk,
		session.WithConfig(sessCfg),
		session.WithMetrics(prov.Metrics),
		session.WithStateHandler(func(s session.State) {
			slog.Debug("session state", "status", s.Status, "visual", s.Visual(), "session_id", s.SessionID)
		}),
		session.WithTranscriptHandler(func(ct agentapi.ConversationText) {
			e := transcript.NewEntry(ctrl.State().SessionID, ct, time.Now())
			fmt.Printf("%s: %s\n", speakerPrefix(ct.Speaker), ct.Text)
			history.Add(e)
			recorder.Record(e)
		}),
		session.WithErrorHandler(func(err error) {
			fmt.Printf("! %s\n", session.UserMessage(err))
			if reconnector != nil && errors.Is(err, session.ErrUnexpectedClose) {
				reconnector.NotifyDisconnect()
			}
		}),
	)
	if r := cfg.Session.Reconnect; r.Enabled {
		reconnector = session.NewReconnector(session.ReconnectorConfig{
			Connector:  ctrl,
			MaxRetries: r.MaxRetries,
			Backoff:    r.InitialBackoff,
			MaxBackoff: r.MaxBackoff,
			OnReconnect: func(attempt int) {
				fmt.Printf("* reconnected after %d attempt(s)\n", attempt)
			},
			OnGiveUp: func(err error) {
				fmt.Printf("! giving up on reconnecting: %s\n", session.UserMessage(err))
			},
		})
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	w, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
		}
		if diff.AgentChanged || diff.SessionTimingChanged {
			next, err := sessionConfig(newCfg)
			if err != nil {
				slog.Warn("config reload: keeping previous session config", "err", err)
			} else {
				ctrl.SetConfig(next)
				slog.Info("config reloaded; changes apply to the next session")
			}
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("config reload: restart required", "sections", diff.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer w.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = newHTTPServer(cfg.Server.ListenAddr, ctrl, creds, guards, prov)
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if reconnector != nil {
		g.Go(func() error {
			reconnector.Monitor(gctx)
			return nil
		})
	}

	printHelp()
	if err := ctrl.Connect(gctx); err != nil {
		fmt.Printf("! %s\n", session.UserMessage(err))
	}
	go readCommands(gctx, ctrl, stop)

	<-gctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	exit := 0

	if reconnector != nil {
		reconnector.Stop()
	}
	ctrl.Disconnect()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		slog.Warn("transcript recorder close error", "err", err)
	}
	if cfg.Transcript.ExportPath != "" {
		if err := history.Export(cfg.Transcript.ExportPath, time.Now()); err != nil {
			slog.Error("transcript export failed", "err", err)
			exit = 1
		} else if history.Len() > 0 {
			slog.Info("transcript exported", "path", cfg.Transcript.ExportPath, "messages", history.Len())
		}
	}
	if err := prov.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return exit
}

// ── Devices ───────────────────────────────────────────────────────────────────

func registerBuiltinDevices(reg *config.Registry) {
	reg.RegisterCapture("ffmpeg", func(d config.DeviceConfig) (audio.CaptureDevice, error) {
		var opts []ffmpeg.Option
		if d.Binary != "" {
			opts = append(opts, ffmpeg.WithBinary(d.Binary))
		}
		if d.Format != "" {
			opts = append(opts, ffmpeg.WithInputFormat(d.Format))
		}
		if d.Device != "" {
			opts = append(opts, ffmpeg.WithInput(d.Device))
		}
		return ffmpeg.New(opts...), nil
	})
	reg.RegisterPlayback("speaker", func(d config.DeviceConfig) (audio.OutputDevice, error) {
		var opts []speaker.Option
		if d.Buffer > 0 {
			opts = append(opts, speaker.WithBuffer(d.Buffer))
		}
		return speaker.New(opts...), nil
	})
	reg.RegisterPlayback("discard", func(config.DeviceConfig) (audio.OutputDevice, error) {
		return speaker.Discard{}, nil
	})
}

// ── Session ───────────────────────────────────────────────────────────────────

func sessionConfig(cfg *config.Config) (session.Config, error) {
	prompt, err := cfg.Agent.ResolveInstructions()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Agent: agentapi.SessionConfig{
			InputSampleRate:  cfg.Audio.InputSampleRate,
			OutputSampleRate: cfg.Audio.OutputSampleRate,
			Listen:           agentapi.Provider{Type: cfg.Agent.Listen.Provider, Model: cfg.Agent.Listen.Model},
			Think:            agentapi.Provider{Type: cfg.Agent.Think.Provider, Model: cfg.Agent.Think.Model},
			Speak:            agentapi.Provider{Type: cfg.Agent.Speak.Provider, Model: cfg.Agent.Speak.Model},
			Instructions:     prompt,
		},
		BlockSize:         cfg.Audio.BlockSize,
		ConnectTimeout:    cfg.Session.ConnectTimeout,
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		AudioDoneGrace:    cfg.Session.AudioDoneGrace,
	}, nil
}

func credentialSource(c config.CredentialConfig) credential.Source {
	if c.Endpoint != "" {
		opts := []credential.Option{credential.WithTimeout(c.Timeout)}
		if c.Bearer != "" {
			opts = append(opts, credential.WithBearer(c.Bearer))
		}
		return credential.NewBreaker(credential.NewEndpoint(c.Endpoint, opts...), credential.BreakerConfig{})
	}
	return credential.Static(c.APIKey)
}

func speakerPrefix(s agentapi.Speaker) string {
	if s == agentapi.SpeakerUser {
		return "You"
	}
	return "Agent"
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func newHTTPServer(addr string, ctrl *session.Controller, creds credential.Source, guards []*transcript.Guard, prov *observe.Provider) *http.Server {
	checkers := []health.Checker{{
		Name: "agent",
		Check: func(context.Context) error {
			if s := ctrl.State(); s.Status == session.StatusError {
				return errors.New(s.LastError)
			}
			return nil
		},
	}}
	if b, ok := creds.(*credential.Breaker); ok {
		checkers = append(checkers, health.Checker{
			Name: "credential",
			Check: func(context.Context) error {
				if s := b.State(); s != credential.BreakerClosed {
					return fmt.Errorf("token source circuit %s", s)
				}
				return nil
			},
		})
	}
	for _, g := range guards {
		checkers = append(checkers, health.Checker{Name: g.Name(), Check: g.Check})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", prov.Handler)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(prov.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Console ───────────────────────────────────────────────────────────────────

func printHelp() {
	fmt.Println("voxagent: c=connect  d=disconnect  m=toggle microphone  q=quit")
}

// readCommands handles single-letter commands from stdin until ctx ends or
// stdin closes.
func readCommands(ctx context.Context, ctrl *session.Controller, quit func()) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(strings.ToLower(sc.Text())) {
		case "c":
			if err := ctrl.Connect(ctx); err != nil {
				fmt.Printf("! %s\n", session.UserMessage(err))
			}
		case "d":
			ctrl.Disconnect()
		case "m":
			muted := !ctrl.State().MicrophoneMuted
			ctrl.SetMicrophoneMuted(muted)
			fmt.Printf("* microphone muted: %t\n", muted)
		case "q":
			quit()
			return
		case "":
		default:
			printHelp()
		}
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
