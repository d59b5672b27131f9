// Package session drives one real-time conversation with a remote voice agent.
//
// A [Controller] owns the agent socket. Connect fetches a credential, dials
// the agent, sends the configuration message, then starts the keepalive
// timer, the inbound read loop and microphone capture. Inbound binary frames
// go straight to the playback scheduler; inbound text frames are decoded into
// [agentapi.Event] values and dispatched to the speaking state machine.
//
// Every connect attempt gets a fresh per-attempt session with its own context,
// encoder and scheduler. Teardown runs exactly once per attempt, in a fixed
// order: stop capture, stop keepalive, flush and release playback, release
// the microphone, publish the final status.
//
// All exported methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxagent/internal/credential"
	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/pkg/agentapi"
	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/audio/capture"
	"github.com/MrWong99/voxagent/pkg/audio/playback"
)

// Defaults applied to zero [Config] fields.
const (
	DefaultBlockSize         = 1024
	DefaultConnectTimeout    = 15 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultAudioDoneGrace    = 100 * time.Millisecond
)

var errNotOpen = errors.New("session: socket not open")

// Config holds the per-session parameters. Changes made with
// [Controller.SetConfig] apply to the next Connect.
type Config struct {
	// Agent is the content of the configuration message.
	Agent agentapi.SessionConfig

	// BlockSize is the number of samples per outbound frame.
	BlockSize int

	// ConnectTimeout bounds the socket handshake.
	ConnectTimeout time.Duration

	// KeepAliveInterval is the period of liveness messages.
	KeepAliveInterval time.Duration

	// AudioDoneGrace is how long after AgentAudioDone the agent-speaking flag
	// stays set, absorbing audio still in flight.
	AudioDoneGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Agent.InputSampleRate <= 0 {
		c.Agent.InputSampleRate = agentapi.DefaultSampleRate
	}
	if c.Agent.OutputSampleRate <= 0 {
		c.Agent.OutputSampleRate = agentapi.DefaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.AudioDoneGrace <= 0 {
		c.AudioDoneGrace = DefaultAudioDoneGrace
	}
	return c
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithConfig sets the initial session configuration.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.cfg = cfg.withDefaults()
	}
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithStateHandler registers fn to receive every state change. Snapshots are
// delivered in order and synchronously; fn must not call Connect or
// Disconnect on the same goroutine.
func WithStateHandler(fn func(State)) Option {
	return func(c *Controller) {
		c.onState = fn
	}
}

// WithTranscriptHandler registers fn to receive every non-blank
// ConversationText event, in arrival order.
func WithTranscriptHandler(fn func(agentapi.ConversationText)) Option {
	return func(c *Controller) {
		c.onTranscript = fn
	}
}

// WithErrorHandler registers fn to receive every surfaced error. The error
// is always an [*Error].
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) {
		c.onError = fn
	}
}

// Controller owns the agent socket and orchestrates capture, playback,
// keepalive and event dispatch. Exactly one session is active at a time.
type Controller struct {
	creds   credential.Source
	dialer  Dialer
	mic     audio.CaptureDevice
	speaker audio.OutputDevice
	metrics *observe.Metrics

	onState      func(State)
	onTranscript func(agentapi.ConversationText)
	onError      func(error)

	mu            sync.Mutex
	cfg           Config
	status        Status
	agentSpeaking bool
	userSpeaking  bool
	micMuted      bool
	lastErr       string
	sess          *session
	lastID        string
	lastStart     time.Time
	last          State
	version       uint64

	notifyMu  sync.Mutex
	delivered uint64
}

// session is the state of one connect attempt.
type session struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	cfg     Config

	encoder   *capture.Encoder
	player    *playback.Scheduler
	keepAlive KeepAlive

	// lifeMu serialises resource start-up in Connect against teardown.
	lifeMu sync.Mutex

	// Guarded by Controller.mu.
	conn    Conn
	opened  bool
	closing bool
	turn    uint64
	grace   *time.Timer

	// turnOpen is set from AgentStartedSpeaking until the next playback
	// boundary. It is guarded by Controller.mu.
	turnOpen bool

	playbackReported atomic.Bool
	teardownOnce     sync.Once
}

// New creates a Controller. mic and speaker are opened per session.
func New(creds credential.Source, dialer Dialer, mic audio.CaptureDevice, speaker audio.OutputDevice, opts ...Option) *Controller {
	c := &Controller{
		creds:   creds,
		dialer:  dialer,
		mic:     mic,
		speaker: speaker,
		cfg:     Config{}.withDefaults(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetConfig replaces the configuration used by the next Connect.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.withDefaults()
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Visual returns the indicator derived from the current state.
func (c *Controller) Visual() Visual {
	return c.State().Visual()
}

// SetMicrophoneMuted suppresses (true) or resumes (false) outbound audio
// without releasing the microphone. The setting carries over to new sessions.
func (c *Controller) SetMicrophoneMuted(muted bool) {
	c.mu.Lock()
	c.micMuted = muted
	if c.sess != nil {
		c.sess.encoder.SetMuted(muted)
	}
	snap, v := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap, v)
}

// Connect starts a new session and returns once the socket is open and the
// configuration message has been sent, or the attempt failed.
//
// It is only valid from [StatusDisconnected] or [StatusError]; otherwise it
// returns [ErrAlreadyActive]. Failures are returned as an [*Error] and also
// delivered to the error handler. The session lives until Disconnect is
// called, ctx is cancelled or the agent closes the socket. Microphone and
// speaker failures are surfaced but do not fail the connect.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	sess := c.newSessionLocked(ctx)
	c.sess = sess
	c.status = StatusConnecting
	c.agentSpeaking, c.userSpeaking = false, false
	c.lastErr = ""
	c.lastID, c.lastStart = sess.id, sess.started
	snap, v := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap, v)

	log := observe.Logger(sess.ctx)
	log.Info("session: connecting")
	start := time.Now()

	conn, e, result := c.dial(sess)
	if e != nil {
		if sess.ctx.Err() != nil {
			return c.abortConnect(sess)
		}
		return c.failConnect(sess, e, start, result)
	}

	sess.lifeMu.Lock()
	c.mu.Lock()
	if c.sess != sess || sess.closing {
		c.mu.Unlock()
		sess.lifeMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("session: connect aborted: %w", context.Canceled)
	}
	sess.conn = conn
	sess.opened = true
	c.status = StatusConnected
	snap, v = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap, v)

	c.metrics.RecordConnect(sess.ctx, time.Since(start), observe.ResultOK)
	c.metrics.ActiveSessions.Add(sess.ctx, 1)
	log.Info("session: connected", "elapsed", time.Since(start))

	// The agent ignores audio until it has applied the settings, so they go
	// out before anything else.
	if err := c.sendSettings(sess); err != nil {
		log.Warn("session: send settings", "err", err)
	}
	sess.keepAlive.Start(sess.cfg.KeepAliveInterval, func() error {
		return c.sendKeepAlive(sess)
	})
	go c.readLoop(sess, conn)

	playErr := sess.player.Open()
	micErr := sess.encoder.Start(sess.ctx, sess.cfg.Agent.InputSampleRate, sess.cfg.BlockSize)
	sess.lifeMu.Unlock()

	// Handlers run outside lifeMu so they may call Disconnect.
	if playErr != nil {
		c.reportPlayback(sess, playErr)
	}
	if micErr != nil {
		c.surface(sess, &Error{Kind: KindMicrophone, Message: MsgMicrophone, Err: micErr})
	}
	return nil
}

// Disconnect ends the current session, if any, and leaves the controller in
// [StatusDisconnected]. It is safe to call in any state, including while
// Connect is in progress, and any number of times.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		observe.Logger(sess.ctx).Info("session: disconnecting")
		c.teardown(sess, StatusDisconnected)
	}

	c.mu.Lock()
	if c.sess == nil {
		c.status = StatusDisconnected
		c.agentSpeaking, c.userSpeaking = false, false
	}
	snap, v := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap, v)
}

// dial fetches a credential and opens the socket under a connect span. Only
// the dial itself is bounded by ConnectTimeout.
func (c *Controller) dial(sess *session) (Conn, *Error, string) {
	ctx, span := observe.StartSpan(sess.ctx, "session.connect",
		trace.WithAttributes(attribute.String("session.id", sess.id)))
	defer span.End()

	token, err := c.creds.Token(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential")
		return nil, credentialError(err), observe.ResultError
	}

	dialCtx, cancel := context.WithTimeout(ctx, sess.cfg.ConnectTimeout)
	defer cancel()
	conn, err := c.dialer.Dial(dialCtx, token)
	if err == nil {
		return conn, nil, observe.ResultOK
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "dial")
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		return nil, timeoutError(err), observe.ResultTimeout
	}
	return nil, connectError(err), observe.ResultError
}

func (c *Controller) newSessionLocked(parent context.Context) *session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithSessionID(parent, id))
	sess := &session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
		cfg:     c.cfg,
	}
	log := observe.Logger(ctx)
	sess.keepAlive.Logger = log
	sess.player = playback.New(c.speaker, sess.cfg.Agent.OutputSampleRate, playback.WithLogger(log))
	sess.encoder = capture.New(c.mic,
		func(f audio.AudioFrame) { c.sendAudio(sess, f) },
		capture.WithLogger(log),
		capture.WithEndHandler(func() {
			log.Warn("session: microphone stream ended, outbound audio stopped")
		}),
	)
	sess.encoder.SetMuted(c.micMuted)
	return sess
}

// abortConnect tears down an attempt cancelled by Disconnect or by the
// caller's context.
func (c *Controller) abortConnect(sess *session) error {
	c.teardown(sess, StatusDisconnected)
	return fmt.Errorf("session: connect aborted: %w", context.Cause(sess.ctx))
}

// failConnect records e, tears the attempt down into [StatusError] and
// reports e once.
func (c *Controller) failConnect(sess *session, e *Error, start time.Time, result string) error {
	c.metrics.RecordConnect(sess.ctx, time.Since(start), result)
	c.mu.Lock()
	if c.sess == sess {
		c.lastErr = e.Message
	}
	c.mu.Unlock()
	c.teardown(sess, StatusError)
	c.report(sess, e)
	return e
}

// teardown releases every resource of sess exactly once and publishes final
// as the new status if sess is still current.
func (c *Controller) teardown(sess *session, final Status) {
	sess.teardownOnce.Do(func() {
		c.mu.Lock()
		sess.closing = true
		stopGraceLocked(sess)
		conn, opened := sess.conn, sess.opened
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
		sess.cancel()

		log := observe.Logger(sess.ctx)
		sess.lifeMu.Lock()
		sess.encoder.Stop()
		sess.keepAlive.Stop()
		if err := sess.player.Close(); err != nil {
			log.Warn("session: release playback", "err", err)
		}
		if err := sess.encoder.Close(); err != nil {
			log.Warn("session: release microphone", "err", err)
		}
		sess.lifeMu.Unlock()

		if opened {
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		}

		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
			c.status = final
			c.agentSpeaking, c.userSpeaking = false, false
		}
		snap, v := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap, v)
		log.Info("session: closed", "status", final, "duration", time.Since(sess.started))
	})
}

// ─── Outbound ─────────────────────────────────────────────────────────────────

func (c *Controller) write(sess *session, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	conn, closing := sess.conn, sess.closing
	c.mu.Unlock()
	if conn == nil || closing {
		return errNotOpen
	}
	return conn.Write(sess.ctx, typ, p)
}

func (c *Controller) sendSettings(sess *session) error {
	payload, err := agentapi.NewSettings(sess.cfg.Agent).Marshal()
	if err != nil {
		return fmt.Errorf("session: encode settings: %w", err)
	}
	return c.write(sess, websocket.MessageText, payload)
}

func (c *Controller) sendKeepAlive(sess *session) error {
	if err := c.write(sess, websocket.MessageText, agentapi.KeepAlive()); err != nil {
		if errors.Is(err, errNotOpen) {
			return nil
		}
		return err
	}
	c.metrics.KeepAlives.Add(sess.ctx, 1)
	return nil
}

// sendAudio runs on the capture goroutine. Frames are dropped, never
// buffered, while the socket is not open.
func (c *Controller) sendAudio(sess *session, f audio.AudioFrame) {
	if err := c.write(sess, websocket.MessageBinary, f.Bytes()); err != nil {
		c.metrics.RecordDropped(sess.ctx, "socket_closed")
		return
	}
	c.metrics.RecordAudioFrame(sess.ctx, observe.DirectionOut)
}

// ─── State ────────────────────────────────────────────────────────────────────

func (c *Controller) stateLocked() State {
	return State{
		Status:          c.status,
		AgentSpeaking:   c.agentSpeaking,
		UserSpeaking:    c.userSpeaking,
		MicrophoneMuted: c.micMuted,
		LastError:       c.lastErr,
		SessionID:       c.lastID,
		StartedAt:       c.lastStart,
	}
}

// snapshotLocked returns the current state and a delivery version. The
// version is zero when nothing changed since the previous snapshot.
func (c *Controller) snapshotLocked() (State, uint64) {
	s := c.stateLocked()
	if s == c.last {
		return s, 0
	}
	c.last = s
	c.version++
	return s, c.version
}

// publish delivers s to the state handler unless a newer snapshot was
// already delivered.
func (c *Controller) publish(s State, v uint64) {
	if v == 0 || c.onState == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if v <= c.delivered {
		return
	}
	c.delivered = v
	c.onState(s)
}

// update runs fn under the state lock if sess is still the live session and
// publishes the result. It reports whether fn ran.
func (c *Controller) update(sess *session, fn func()) bool {
	c.mu.Lock()
	if c.sess != sess || sess.closing {
		c.mu.Unlock()
		return false
	}
	fn()
	snap, v := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap, v)
	return true
}

// surface records a non-fatal error as the last error and reports it.
func (c *Controller) surface(sess *session, e *Error) {
	if !c.update(sess, func() { c.lastErr = e.Message }) {
		return
	}
	c.report(sess, e)
}

func (c *Controller) reportPlayback(sess *session, err error) {
	if sess.playbackReported.CompareAndSwap(false, true) {
		c.surface(sess, &Error{Kind: KindPlayback, Message: MsgPlayback, Err: err})
	}
}

func (c *Controller) report(sess *session, e *Error) {
	c.metrics.RecordError(sess.ctx, e.Kind)
	observe.Logger(sess.ctx).Warn("session: error",
		"kind", e.Kind,
		"message", e.Message,
		"err", e.Err,
	)
	if c.onError != nil {
		c.onError(e)
	}
}
