// Package conn owns the single duplex channel to the voice server: dialing,
// keepalive pings and reconnection with bounded exponential backoff.
//
// A Manager is not safe for concurrent use. Every method, and every
// callback on its Handler, runs on the owner's event loop; the Manager's
// own goroutines only block on I/O and hand results back through the post
// function supplied to New.
package conn

import (
	"context"
	"expvar"
	"log/slog"
	"time"

	"github.com/chriscow/rey-go/pkg/protocol"
)

// DefaultKeepaliveInterval is how often a ping is sent while open.
const DefaultKeepaliveInterval = 30 * time.Second

// Handler receives connection lifecycle events on the owner's loop.
type Handler interface {
	// Opened is called once the channel is up and config has been sent.
	Opened()
	// Frame delivers an inbound frame from the current channel.
	Frame(f protocol.Frame)
	// Reconnecting is called after a close or failed dial when another
	// attempt has been scheduled.
	Reconnecting(err error, attempt int, delay time.Duration)
	// GaveUp is called when the attempt ceiling is reached.
	GaveUp(err error)
}

// Config configures a Manager.
type Config struct {
	URL               string
	Token             string
	WakeWordEnabled   bool
	KeepaliveInterval time.Duration
	Backoff           Backoff
	Dialer            Dialer    // defaults to WebSocketDialer
	Scheduler         Scheduler // defaults to SystemScheduler
	Logger            *slog.Logger
	Metrics           *expvar.Map // optional counters
}

// Manager maintains at most one live channel.
type Manager struct {
	cfg     Config
	target  string
	post    func(func())
	handler Handler
	logger  *slog.Logger

	ctx       context.Context
	ch        Channel
	gen       uint64 // bumped whenever ch is replaced or abandoned
	attempt   int
	dialing   bool
	closed    bool
	keepalive Timer
	retry     Timer
}

// New creates a Manager. post must enqueue fn onto the owner's loop.
func New(cfg Config, post func(func()), handler Handler) (*Manager, error) {
	target, err := BuildURL(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		// the server answers every ping, so three missed intervals mean
		// the link is dead
		cfg.Dialer = WebSocketDialer{
			ReadTimeout: 3 * cfg.KeepaliveInterval,
			Logger:      cfg.Logger,
		}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = SystemScheduler{}
	}

	return &Manager{
		cfg:     cfg,
		target:  target,
		post:    post,
		handler: handler,
		logger:  cfg.Logger.With(slog.String("component", "conn")),
		ctx:     context.Background(),
	}, nil
}

// Connect starts dialing unless a channel is open or a dial is in flight.
// Failures are never returned; they feed the reconnect cycle.
func (m *Manager) Connect(ctx context.Context) {
	if m.closed || m.dialing || m.ch != nil {
		return
	}
	m.ctx = ctx
	m.cancelRetry()
	m.dialing = true
	m.gen++
	gen := m.gen

	m.logger.Debug("Dialing server", slog.Int("attempt", m.attempt))
	go func() {
		ch, err := m.cfg.Dialer.Dial(ctx, m.target)
		m.post(func() { m.dialed(gen, ch, err) })
	}()
}

// Reconnect resets the attempt counter and dials again. It does nothing
// while a channel is open.
func (m *Manager) Reconnect() {
	if m.closed || m.ch != nil || m.dialing {
		return
	}
	m.logger.Info("Manual reconnect requested")
	m.attempt = 0
	m.Connect(m.ctx)
}

// IsOpen reports whether a channel is currently usable.
func (m *Manager) IsOpen() bool {
	return m.ch != nil
}

// Attempt returns the current consecutive failure count.
func (m *Manager) Attempt() int {
	return m.attempt
}

// SendControl encodes and writes a control message. It returns false
// without error when no channel is open.
func (m *Manager) SendControl(msg protocol.ControlMessage) bool {
	if m.ch == nil {
		return false
	}
	data, err := protocol.EncodeControl(msg)
	if err != nil {
		m.logger.Error("Dropping control message", slog.String("type", string(msg.Type)), slog.String("error", err.Error()))
		return false
	}
	if err := m.ch.WriteText(data); err != nil {
		m.lost(m.gen, err)
		return false
	}
	m.logger.Debug("Sent control message", slog.String("type", string(msg.Type)))
	return true
}

// SendAudio writes one PCM chunk. It returns false when no channel is open.
func (m *Manager) SendAudio(pcm []byte) bool {
	if m.ch == nil {
		return false
	}
	if err := m.ch.WriteBinary(pcm); err != nil {
		m.lost(m.gen, err)
		return false
	}
	return true
}

// SetWakeWordEnabled records the flag for future opens and sends it now if
// a channel is open.
func (m *Manager) SetWakeWordEnabled(enabled bool) bool {
	m.cfg.WakeWordEnabled = enabled
	return m.SendControl(protocol.Config(enabled))
}

// Close tears the connection down for good. It is idempotent.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.gen++
	m.stopKeepalive()
	m.cancelRetry()
	if m.ch != nil {
		if err := m.ch.Close(); err != nil {
			m.logger.Debug("Error closing channel", slog.String("error", err.Error()))
		}
		m.ch = nil
	}
	m.logger.Info("Connection closed")
}

func (m *Manager) dialed(gen uint64, ch Channel, err error) {
	if gen != m.gen || m.closed {
		// superseded while dialing
		if ch != nil {
			ch.Close()
		}
		return
	}
	m.dialing = false
	if err != nil {
		m.lost(gen, err)
		return
	}

	m.ch = ch
	m.logger.Info("Connected to server")
	m.SendControl(protocol.Config(m.cfg.WakeWordEnabled))
	if gen != m.gen {
		// the config write failed and lost() already scheduled a retry
		return
	}
	m.attempt = 0
	m.startKeepalive()
	go m.readLoop(gen, ch)
	m.handler.Opened()
}

func (m *Manager) readLoop(gen uint64, ch Channel) {
	for {
		f, err := ch.Read()
		if err != nil {
			m.post(func() { m.lost(gen, err) })
			return
		}
		m.post(func() {
			if gen == m.gen && !m.closed {
				m.handler.Frame(f)
			}
		})
	}
}

// lost handles a closed channel or failed dial belonging to generation gen.
func (m *Manager) lost(gen uint64, err error) {
	if gen != m.gen || m.closed {
		return
	}
	m.gen++
	m.dialing = false
	m.stopKeepalive()
	if m.ch != nil {
		m.ch.Close()
		m.ch = nil
	}

	switch {
	case IsUnauthorized(err):
		m.logger.Error("Server rejected auth token", slog.String("error", err.Error()))
	case IsNormalClose(err):
		m.logger.Info("Server closed connection")
	default:
		m.logger.Warn("Connection lost", slog.String("error", err.Error()))
	}

	m.attempt++
	if !m.cfg.Backoff.Allow(m.attempt) {
		m.logger.Error("Giving up reconnecting", slog.Int("attempts", m.attempt-1))
		m.handler.GaveUp(err)
		return
	}

	delay := m.cfg.Backoff.Delay(m.attempt)
	m.logger.Info("Reconnecting with backoff",
		slog.Int("attempt", m.attempt),
		slog.Duration("delay", delay))
	m.count("reconnect_attempts")

	m.retry = m.cfg.Scheduler.AfterFunc(delay, func() {
		m.post(func() {
			m.retry = nil
			m.Connect(m.ctx)
		})
	})
	m.handler.Reconnecting(err, m.attempt, delay)
}

func (m *Manager) startKeepalive() {
	m.stopKeepalive()
	gen := m.gen
	m.keepalive = m.cfg.Scheduler.AfterFunc(m.cfg.KeepaliveInterval, func() {
		m.post(func() {
			if gen != m.gen || m.ch == nil {
				return
			}
			if m.SendControl(protocol.Ping()) {
				m.count("pings_sent")
			}
			if gen == m.gen && m.ch != nil {
				m.startKeepalive()
			}
		})
	})
}

func (m *Manager) stopKeepalive() {
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
}

func (m *Manager) cancelRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) count(name string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Add(name, 1)
	}
}
