package session

import (
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/pkg/agentapi"
	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/audio/playback"
)

// readLoop receives frames until the socket closes. Binary frames are agent
// audio; text frames are events. Both are handled in arrival order.
func (c *Controller) readLoop(sess *session, conn Conn) {
	for {
		typ, data, err := conn.Read(sess.ctx)
		if err != nil {
			c.handleClose(sess, err)
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(sess, data)
		case websocket.MessageText:
			c.handleText(sess, data)
		}
	}
}

// handleClose tears the session down after the read loop ended. Closes we
// initiated and normal close codes are silent; anything else surfaces a
// connection-lost error.
func (c *Controller) handleClose(sess *session, err error) {
	c.mu.Lock()
	closing := sess.closing
	c.mu.Unlock()
	if closing || sess.ctx.Err() != nil {
		c.teardown(sess, StatusDisconnected)
		return
	}

	log := observe.Logger(sess.ctx)
	code := websocket.CloseStatus(err)
	if code == -1 {
		// No close frame: the connection dropped.
		code = websocket.StatusAbnormalClosure
	}
	if normalClose(code) {
		log.Info("session: agent closed the socket", "code", int(code))
		c.teardown(sess, StatusDisconnected)
		return
	}

	var reason string
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		reason = ce.Reason
	}
	log.Warn("session: socket closed unexpectedly", "code", int(code), "reason", reason, "err", err)

	e := closeError(code, reason)
	c.mu.Lock()
	if c.sess == sess {
		c.lastErr = e.Message
	}
	c.mu.Unlock()
	c.teardown(sess, StatusDisconnected)
	c.report(sess, e)
}

// handleAudio schedules one inbound chunk. Failures are logged and the chunk
// is dropped; the session continues.
func (c *Controller) handleAudio(sess *session, data []byte) {
	frame, err := audio.FrameFromBytes(data, sess.cfg.Agent.OutputSampleRate)
	if err != nil {
		observe.Logger(sess.ctx).Warn("session: undecodable audio chunk", "bytes", len(data), "err", err)
		c.metrics.RecordDropped(sess.ctx, "malformed")
		return
	}

	err = sess.player.Enqueue(frame)
	switch {
	case err == nil:
		c.metrics.RecordAudioFrame(sess.ctx, observe.DirectionIn)
	case errors.Is(err, playback.ErrMuted):
		c.metrics.RecordDropped(sess.ctx, "muted")
	case errors.Is(err, playback.ErrClosed):
		c.metrics.RecordDropped(sess.ctx, "closed")
	case errors.Is(err, playback.ErrPlaybackUnavailable):
		c.metrics.RecordDropped(sess.ctx, "unavailable")
		c.reportPlayback(sess, err)
	default:
		observe.Logger(sess.ctx).Warn("session: schedule audio chunk", "err", err)
		c.metrics.RecordDropped(sess.ctx, "schedule")
	}
}

// handleText decodes one event and dispatches it. Undecodable payloads are
// logged and dropped.
func (c *Controller) handleText(sess *session, data []byte) {
	ev, err := agentapi.Decode(data)
	if err != nil {
		observe.Logger(sess.ctx).Warn("session: dropping malformed event", "bytes", len(data), "err", err)
		c.metrics.RecordEvent(sess.ctx, KindMalformed)
		return
	}
	c.metrics.RecordEvent(sess.ctx, ev.Type())
	c.dispatch(sess, ev)
}

// dispatch applies ev to the speaking state machine.
func (c *Controller) dispatch(sess *session, ev agentapi.Event) {
	log := observe.Logger(sess.ctx)

	switch e := ev.(type) {
	case agentapi.Welcome:
		log.Info("session: agent ready", "event", e.Type(), "request_id", e.RequestID)

	case agentapi.SettingsApplied:
		log.Info("session: agent ready", "event", e.Type())

	case agentapi.UserStartedSpeaking:
		c.userStartedSpeaking(sess)

	case agentapi.AgentThinking:
		// A new turn is being prepared. Audio that arrives from here on
		// belongs to it; anything older is stale.
		c.update(sess, func() {
			c.userSpeaking = false
			markBoundaryLocked(sess)
		})

	case agentapi.AgentStartedSpeaking:
		c.agentStartedSpeaking(sess)
		c.metrics.RecordAgentLatency(sess.ctx, "total", e.TotalLatency)
		c.metrics.RecordAgentLatency(sess.ctx, "tts", e.TTSLatency)
		c.metrics.RecordAgentLatency(sess.ctx, "ttt", e.TTTLatency)

	case agentapi.AgentAudioDone:
		c.agentAudioDone(sess)

	case agentapi.ConversationText:
		if strings.TrimSpace(e.Text) == "" {
			return
		}
		log.Debug("session: conversation text", "speaker", e.Speaker, "chars", len(e.Text))
		if c.onTranscript != nil && c.live(sess) {
			c.onTranscript(e)
		}

	case agentapi.Error:
		c.surface(sess, remoteError(e.Message, e.Code))

	case agentapi.Warning:
		c.surface(sess, remoteWarning(e.Code, e.Description))

	case agentapi.Unknown:
		log.Debug("session: unhandled event", "type", e.Tag)
	}
}

// userStartedSpeaking handles barge-in: if the agent is talking, or audio is
// still queued, playback is muted and flushed so the user never hears the
// agent continue over them.
func (c *Controller) userStartedSpeaking(sess *session) {
	var flushed int
	var barged bool
	c.update(sess, func() {
		c.userSpeaking = true
		if !c.agentSpeaking && !sess.player.Busy() {
			return
		}
		barged = true
		c.agentSpeaking = false
		stopGraceLocked(sess)
		sess.player.Mute(true)
		flushed = sess.player.Flush()
		markBoundaryLocked(sess)
	})
	if barged {
		c.metrics.BargeIns.Add(sess.ctx, 1)
		observe.Logger(sess.ctx).Info("session: barge-in, playback flushed", "entries", flushed)
	}
}

// agentStartedSpeaking opens a new turn: leftover audio from earlier turns is
// discarded while audio that already arrived for this turn is kept. A turn
// that never reported AgentAudioDone is closed here first, so all of its
// queued audio counts as stale.
func (c *Controller) agentStartedSpeaking(sess *session) {
	var stale int
	c.update(sess, func() {
		if sess.turnOpen {
			markBoundaryLocked(sess)
		}
		c.agentSpeaking = true
		c.userSpeaking = false
		sess.turn++
		sess.turnOpen = true
		stopGraceLocked(sess)
		stale = sess.player.FlushStale()
		sess.player.Mute(false)
	})
	if stale > 0 {
		observe.Logger(sess.ctx).Debug("session: discarded stale playback", "entries", stale)
	}
}

// agentAudioDone closes the current turn segment and clears the speaking
// flag after the grace delay unless a new turn started in the meantime.
func (c *Controller) agentAudioDone(sess *session) {
	c.update(sess, func() {
		markBoundaryLocked(sess)
		stopGraceLocked(sess)
		turn := sess.turn
		sess.grace = time.AfterFunc(sess.cfg.AudioDoneGrace, func() {
			c.update(sess, func() {
				if sess.turn == turn {
					c.agentSpeaking = false
					sess.grace = nil
				}
			})
		})
	})
}

// live reports whether sess is still the active session.
func (c *Controller) live(sess *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess && !sess.closing
}

// markBoundaryLocked ends the current playback segment. c.mu must be held.
func markBoundaryLocked(sess *session) {
	sess.player.Boundary()
	sess.turnOpen = false
}

// stopGraceLocked cancels a pending grace timer. c.mu must be held.
func stopGraceLocked(sess *session) {
	if sess.grace != nil {
		sess.grace.Stop()
		sess.grace = nil
	}
}
