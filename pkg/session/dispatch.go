package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/rey-go/internal/conn"
	"github.com/chriscow/rey-go/pkg/protocol"
	"github.com/chriscow/rey-go/pkg/transcript"
)

// connEvents adapts connection callbacks onto the session. They already
// run on the loop.
type connEvents struct {
	s *Session
}

func (c connEvents) Opened() {
	c.s.logger.Info("Session connected")
	c.s.sink.ConnectivityChanged(true, "")
}

func (c connEvents) Frame(f protocol.Frame) {
	c.s.handleFrame(f)
}

func (c connEvents) Reconnecting(err error, attempt int, delay time.Duration) {
	banner := fmt.Sprintf("Disconnected. Reconnecting in %s (attempt %d)", delay, attempt)
	if conn.IsUnauthorized(err) {
		banner = fmt.Sprintf("Server rejected the auth token. Retrying in %s (attempt %d)", delay, attempt)
	}
	c.s.sink.ConnectivityChanged(false, banner)
	c.s.apply(Disconnected())
}

func (c connEvents) GaveUp(err error) {
	msg := "Unable to reach the server. Reconnect to try again."
	if conn.IsUnauthorized(err) {
		msg = "Server rejected the auth token."
	}
	c.s.sink.ConnectivityChanged(false, msg)
	c.s.raise(KindConnectivity, errors.New(msg))
	c.s.apply(Disconnected())
}

func (s *Session) handleFrame(f protocol.Frame) {
	ev, err := protocol.Decode(f)
	if err != nil {
		s.logger.Warn("Dropping malformed message",
			slog.String("kind", f.Kind.String()),
			slog.String("error", err.Error()))
		s.metrics.Add("errors_"+KindProtocol.String(), 1)
		return
	}

	switch e := ev.(type) {
	case protocol.StateEvent:
		s.handleState(e)
	case protocol.ResponseEvent:
		s.handleResponse(e)
	case protocol.ErrorEvent:
		s.handleServerError(e)
	case protocol.NotificationEvent:
		s.handleNotification(e)
	case protocol.AudioEvent:
		s.handleAudio(e.Clip)
	case protocol.KeepaliveEvent:
		s.logger.Debug("Server keepalive", slog.String("status", e.Status))
	case protocol.PongEvent:
		s.logger.Debug("Pong received")
	case protocol.UnknownEvent:
		s.logger.Debug("Ignoring unknown message", slog.String("type", e.Type))
	}
}

func (s *Session) handleState(e protocol.StateEvent) {
	state, ok := ParseClientState(e.State)
	if !ok {
		s.logger.Warn("Ignoring unknown server state", slog.String("state", e.State))
		return
	}
	s.apply(ServerState(state, e.Message))
}

func (s *Session) handleResponse(e protocol.ResponseEvent) {
	if e.UserText != "" {
		s.appendTranscript(transcript.RoleUser, e.UserText)
	}
	if e.ReyText != "" {
		s.appendTranscript(transcript.RoleRey, e.ReyText)
		s.replay.setText(e.ReyText)
	}
	s.sink.TranscriptUpdated(s.transcript.Entries())

	if e.Expression != "" {
		s.sink.Expression(e.Expression)
	}
}

func (s *Session) handleNotification(e protocol.NotificationEvent) {
	text := e.Message
	if e.Title != "" {
		text = e.Title + ": " + e.Message
	}
	s.logger.Info("Notification received", slog.String("priority", e.Priority), slog.Bool("speak", e.Speak))

	s.appendTranscript(transcript.RoleRey, text)
	s.sink.TranscriptUpdated(s.transcript.Entries())

	if e.Urgent() {
		s.sink.Expression("alert")
	} else {
		s.sink.Expression("happy")
	}
}

func (s *Session) handleServerError(e protocol.ErrorEvent) {
	s.logger.Warn("Server reported error", slog.String("message", e.Message))
	s.raise(KindServer, errors.New(e.Message))
	s.apply(ServerError())
}

func (s *Session) appendTranscript(role transcript.Role, text string) {
	if _, err := s.transcript.Append(role, text); err != nil {
		// entry is kept in memory; only the persisted copy is stale
		s.logger.Warn("Transcript not persisted", slog.String("error", err.Error()))
	}
}

func (s *Session) handleAudio(clip []byte) {
	s.replay.setAudio(clip)
	s.play(clip)
}

// play starts clip under the playback lock. A clip arriving while another
// is playing is cached for replay but not played.
func (s *Session) play(clip []byte) {
	if !s.lock.TryAcquire() {
		s.logger.Warn("Clip received during playback, not played", slog.Int("bytes", len(clip)))
		s.metrics.Add("clips_skipped", 1)
		return
	}
	s.apply(PlaybackStarted())

	ctx := s.playCtx
	go func() {
		err := s.player.Play(ctx, clip)
		s.post(func() { s.playbackDone(err) })
	}()
}

func (s *Session) playbackDone(err error) {
	s.lock.Release()
	if err != nil {
		s.logger.Error("Playback failed", slog.String("error", err.Error()))
		s.raise(KindPlayback, errors.New("Could not play response audio"))
		s.apply(PlaybackFailed())
		return
	}
	s.metrics.Add("clips_played", 1)
	s.apply(PlaybackFinished())
}

func (s *Session) replayLast() {
	if s.lock.Held() {
		s.logger.Debug("Replay ignored during playback")
		return
	}
	if clip := s.replay.audio; len(clip) > 0 {
		s.logger.Info("Replaying cached clip", slog.Int("bytes", len(clip)))
		s.play(clip)
		return
	}
	if text := s.replay.text; text != "" {
		s.send(protocol.ReplayLast(text))
		return
	}
	s.logger.Debug("Nothing to replay")
}

// replayBuffer holds the most recent response for replay.
type replayBuffer struct {
	text  string
	audio []byte
}

// setText records a new response. The cached clip belonged to the
// previous response, so it is dropped.
func (r *replayBuffer) setText(text string) {
	r.text = text
	r.audio = nil
}

func (r *replayBuffer) setAudio(clip []byte) {
	r.audio = clip
}
