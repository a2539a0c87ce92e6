// Package session runs one voice session against the Rey server: it
// reconciles local triggers (push-to-talk, push-to-wake, replay) with
// server pushed state, plays synthesized clips under the playback lock,
// streams microphone audio and keeps the transcript.
//
// Every input, whether a network frame, a captured audio frame, a timer,
// a trigger or a finished clip, is posted as a closure onto one channel
// and executed in order by Run. Goroutines exist only to block on I/O.
package session

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/rey-go/internal/conn"
	"github.com/chriscow/rey-go/pkg/audio"
	"github.com/chriscow/rey-go/pkg/protocol"
	"github.com/chriscow/rey-go/pkg/rtc"
	"github.com/chriscow/rey-go/pkg/transcript"
	"github.com/chriscow/rey-go/pkg/voice"
)

const inboxSize = 256

// Config configures a Session.
type Config struct {
	URL               string
	Token             string
	WakeWordEnabled   bool
	KeepaliveInterval time.Duration
	Backoff           conn.Backoff
	Dialer            conn.Dialer    // defaults to a websocket dialer
	Scheduler         conn.Scheduler // defaults to real timers

	// Transcript defaults to an in-memory store. The session closes it on
	// teardown.
	Transcript *transcript.Store

	Input           audio.InputDevice  // nil disables capture
	InputError      error              // why Input is nil; surfaced once as a permission error
	Output          audio.OutputDevice // nil makes every clip a playback error
	Processing      audio.ProcessorConfig
	CaptureDumpPath string

	Sink   Sink
	Logger *slog.Logger
}

// Session owns the connection, the interaction state and the transcript.
type Session struct {
	id     string
	logger *slog.Logger
	sink   Sink

	inbox    chan func()
	stop     chan struct{}
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
	tearOnce sync.Once

	conn       *conn.Manager
	transcript *transcript.Store
	capture    *audio.Capture
	inputErr   error
	processor  *audio.Processor
	player     *audio.Player
	lock       voice.PlaybackLock

	// loop-owned state
	machine         Machine
	replay          replayBuffer
	captureDisabled bool
	playCtx         context.Context

	metrics     *expvar.Map
	transitions *expvar.Map
}

// New creates a Session. Nothing is dialed or opened until Run.
func New(cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}

	id := uuid.NewString()
	logger := cfg.Logger.With(slog.String("session_id", id))

	s := &Session{
		id:         id,
		logger:     logger,
		sink:       cfg.Sink,
		inbox:      make(chan func(), inboxSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		transcript: cfg.Transcript,
		inputErr:   cfg.InputError,
		lock:       voice.NewPlaybackLock(),
		playCtx:    context.Background(),
	}
	s.metrics, s.transitions = newSessionMetrics()

	if s.transcript == nil {
		s.transcript = transcript.Open(transcript.Config{Logger: logger})
	}

	m, err := conn.New(conn.Config{
		URL:               cfg.URL,
		Token:             cfg.Token,
		WakeWordEnabled:   cfg.WakeWordEnabled,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Backoff:           cfg.Backoff,
		Dialer:            cfg.Dialer,
		Scheduler:         cfg.Scheduler,
		Logger:            logger,
		Metrics:           s.metrics,
	}, s.postAsync, connEvents{s})
	if err != nil {
		return nil, fmt.Errorf("configure connection: %w", err)
	}
	s.conn = m

	if cfg.Input != nil {
		s.capture = audio.NewCapture(audio.CaptureConfig{
			Device:   cfg.Input,
			DumpPath: cfg.CaptureDumpPath,
			Logger:   logger,
		})
	}
	s.processor = audio.NewProcessor(cfg.Processing, s.lock)
	s.player = audio.NewPlayer(cfg.Output, logger)

	return s, nil
}

// ID returns the unique identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Metrics returns the session counters. The map is not published globally.
func (s *Session) Metrics() *expvar.Map {
	return s.metrics
}

// Run connects, starts capture and processes events until ctx is cancelled
// or Close is called. Failures never end the session; it returns nil on an
// orderly stop.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	// cancelled on return so Close also stops capture and playback
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("Starting session")
	s.playCtx = ctx
	s.sink.StatusChanged(s.machine.State, StatusText(s.machine.State, ""))
	s.sink.TranscriptUpdated(s.transcript.Entries())

	s.startCapture(ctx)
	s.conn.Connect(ctx)

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return nil
		case <-s.stop:
			s.teardown()
			return nil
		case fn := <-s.inbox:
			fn()
		}
	}
}

// Close stops a running session and waits for teardown. Calling Close
// on a session that never ran releases its resources directly.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.running.CompareAndSwap(false, true) {
		// Run never started and now never will
		s.teardown()
		close(s.done)
		return nil
	}
	<-s.done
	return nil
}

// PushToTalk asks the server to record one utterance.
func (s *Session) PushToTalk() {
	s.post(func() { s.send(protocol.PushToTalk()) })
}

// PushToTalkStart opens a held push-to-talk turn.
func (s *Session) PushToTalkStart() {
	s.post(func() { s.send(protocol.PushToTalkStart()) })
}

// PushToTalkStop closes a held push-to-talk turn.
func (s *Session) PushToTalkStop() {
	s.post(func() { s.send(protocol.PushToTalkStop()) })
}

// PushToWake acts as if the wake word had been spoken.
func (s *Session) PushToWake() {
	s.post(func() { s.send(protocol.PushToWake()) })
}

// Replay plays the last clip again, or asks the server to re-synthesize
// the last response when no clip is cached.
func (s *Session) Replay() {
	s.post(s.replayLast)
}

// SetWakeWordEnabled sends the flag now if connected and keeps it for
// every future connection.
func (s *Session) SetWakeWordEnabled(enabled bool) {
	s.post(func() {
		if !s.conn.SetWakeWordEnabled(enabled) {
			s.logger.Debug("Wake word setting stored for next connection", slog.Bool("enabled", enabled))
		}
	})
}

// Reconnect restarts the reconnect cycle after the session gave up.
func (s *Session) Reconnect() {
	s.post(s.conn.Reconnect)
}

// post enqueues fn for the loop. It blocks while the inbox is full and
// returns false once the session has stopped.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) postAsync(fn func()) {
	s.post(fn)
}

// tryPost enqueues fn only if there is room.
func (s *Session) tryPost(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	default:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(fn func()) bool {
	finished := make(chan struct{})
	if !s.post(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) send(msg protocol.ControlMessage) {
	if !s.conn.SendControl(msg) {
		s.logger.Debug("Not connected, ignoring trigger", slog.String("type", string(msg.Type)))
	}
}

func (s *Session) teardown() {
	s.tearOnce.Do(func() {
		s.logger.Info("Stopping session")
		if s.capture != nil {
			if err := s.capture.Stop(); err != nil {
				s.logger.Warn("Error stopping capture", slog.String("error", err.Error()))
			}
		}
		s.conn.Close()
		if err := s.transcript.Close(); err != nil {
			s.logger.Warn("Error closing transcript", slog.String("error", err.Error()))
		}
		s.logger.Info("Session stopped")
	})
}

// apply runs the state machine and carries out its effects.
func (s *Session) apply(ev Event) {
	next, effects := Transition(s.machine, ev)
	s.machine = next

	for _, eff := range effects {
		switch eff.Kind {
		case EffectDropped:
			s.logger.Debug("Ignoring state change during playback", slog.String("state", eff.To.String()))
			s.metrics.Add("state_events_dropped", 1)
		case EffectStateChanged:
			s.logger.Debug("State changed", slog.String("from", eff.From.String()), slog.String("to", eff.To.String()))
			s.transitions.Add(fmt.Sprintf("%s_to_%s", eff.From, eff.To), 1)
		case EffectStatus:
			s.sink.StatusChanged(eff.To, StatusText(eff.To, eff.Message))
		case EffectNotifyWaiting:
			s.sink.WaitingEntered()
		}
	}
}

// raise reports err to the host. The message shown is err's own text.
func (s *Session) raise(kind ErrorKind, err error) {
	s.logger.Debug("Raising error", slog.String("error", NewError(kind, err).Error()))
	s.metrics.Add("errors_"+kind.String(), 1)
	s.sink.ErrorRaised(kind, err.Error())
}

func (s *Session) startCapture(ctx context.Context) {
	if s.capture == nil {
		if s.inputErr != nil {
			s.captureFailed(s.inputErr)
			return
		}
		s.logger.Info("No input device, capture disabled")
		return
	}
	err := s.capture.Start(ctx,
		func(f *rtc.AudioFrame) {
			if !s.tryPost(func() { s.captured(f) }) {
				s.metrics.Add("frames_dropped", 1)
			}
		},
		func(err error) {
			go s.post(func() { s.captureFailed(err) })
		})
	if err != nil {
		s.captureFailed(err)
	}
}

func (s *Session) captureFailed(err error) {
	if s.captureDisabled {
		return
	}
	s.captureDisabled = true
	s.logger.Error("Microphone unavailable, capture disabled", slog.String("error", err.Error()))

	msg := "Microphone unavailable"
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		msg = "Microphone access denied"
	}
	s.raise(KindPermission, errors.New(msg))
}

func (s *Session) captured(f *rtc.AudioFrame) {
	if s.captureDisabled {
		return
	}
	s.sink.AudioLevel(audio.Envelope(f.Samples(), audio.EnvelopeBuckets))

	if !s.processor.Process(f) {
		s.metrics.Add("frames_gated", 1)
		return
	}
	if s.conn.SendAudio(f.Data) {
		s.metrics.Add("frames_sent", 1)
	} else {
		s.metrics.Add("frames_dropped", 1)
	}
}

func newSessionMetrics() (*expvar.Map, *expvar.Map) {
	// not registered globally so many sessions (and tests) can coexist
	counters := new(expvar.Map).Init()
	transitions := new(expvar.Map).Init()
	counters.Set("state_transitions", transitions)
	return counters, transitions
}
