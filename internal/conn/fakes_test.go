package conn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chriscow/rey-go/pkg/protocol"
)

var errRefused = errors.New("connection refused")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel records writes and serves reads from a Go channel.
type fakeChannel struct {
	mu      sync.Mutex
	written []protocol.Frame
	inbound chan protocol.Frame
	failed  chan error
	closed  bool
	once    sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: make(chan protocol.Frame, 16),
		failed:  make(chan error, 1),
	}
}

func (c *fakeChannel) WriteText(data []byte) error {
	return c.write(protocol.TextFrame(data))
}

func (c *fakeChannel) WriteBinary(data []byte) error {
	return c.write(protocol.BinaryFrame(data))
}

func (c *fakeChannel) write(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed channel")
	}
	c.written = append(c.written, f)
	return nil
}

func (c *fakeChannel) Read() (protocol.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case err := <-c.failed:
		return protocol.Frame{}, err
	}
}

// drop simulates the server going away.
func (c *fakeChannel) drop(err error) {
	c.failed <- err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() {
		select {
		case c.failed <- io.EOF:
		default:
		}
	})
	return nil
}

func (c *fakeChannel) Written() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.written...)
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out scripted channels; a nil channel means failure.
type fakeDialer struct {
	mu      sync.Mutex
	results []*fakeChannel
	targets []string
}

func (d *fakeDialer) queue(chs ...*fakeChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, chs...)
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	if len(d.results) == 0 {
		return nil, errRefused
	}
	ch := d.results[0]
	d.results = d.results[1:]
	if ch == nil {
		return nil, errRefused
	}
	return ch, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

// manualScheduler only runs callbacks when the test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns timers that have neither fired nor been stopped.
func (s *manualScheduler) pending() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *manualScheduler) fire(t *manualTimer) {
	if t.stopped || t.fired {
		return
	}
	t.fired = true
	t.fn()
}

// loop is a stand-in for the session event loop.
type loop struct {
	queue chan func()
}

func newLoop() *loop {
	return &loop{queue: make(chan func(), 64)}
}

func (l *loop) post(fn func()) {
	l.queue <- fn
}

// until runs posted closures until cond holds.
func (l *loop) until(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case fn := <-l.queue:
			fn()
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		}
	}
}

// recordingHandler captures Handler callbacks.
type recordingHandler struct {
	opened   int
	frames   []protocol.Frame
	delays   []time.Duration
	attempts []int
	gaveUp   []error
}

func (h *recordingHandler) Opened()                { h.opened++ }
func (h *recordingHandler) Frame(f protocol.Frame) { h.frames = append(h.frames, f) }
func (h *recordingHandler) GaveUp(err error)       { h.gaveUp = append(h.gaveUp, err) }
func (h *recordingHandler) Reconnecting(err error, attempt int, delay time.Duration) {
	h.attempts = append(h.attempts, attempt)
	h.delays = append(h.delays, delay)
}
