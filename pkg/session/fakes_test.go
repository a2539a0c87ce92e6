package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chriscow/rey-go/internal/conn"
	"github.com/chriscow/rey-go/pkg/audio"
	"github.com/chriscow/rey-go/pkg/audio/wav"
	"github.com/chriscow/rey-go/pkg/protocol"
	"github.com/chriscow/rey-go/pkg/rtc"
	"github.com/chriscow/rey-go/pkg/transcript"
)

var errRefused = errors.New("connection refused")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

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

func (c *fakeChannel) WriteText(data []byte) error   { return c.write(protocol.TextFrame(data)) }
func (c *fakeChannel) WriteBinary(data []byte) error { return c.write(protocol.BinaryFrame(data)) }

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

func (c *fakeChannel) text(s string) {
	c.inbound <- protocol.TextFrame([]byte(s))
}

func (c *fakeChannel) binary(b []byte) {
	c.inbound <- protocol.BinaryFrame(b)
}

func (c *fakeChannel) Written() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.written...)
}

// controls returns the decoded text frames written so far.
func (c *fakeChannel) controls(t *testing.T) []protocol.ControlMessage {
	t.Helper()
	var out []protocol.ControlMessage
	for _, f := range c.Written() {
		if f.Kind != protocol.FrameText {
			continue
		}
		var msg protocol.ControlMessage
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", f.Data, err)
		}
		out = append(out, msg)
	}
	return out
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	results []*fakeChannel
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (conn.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errRefused
	}
	ch := d.results[0]
	d.results = d.results[1:]
	return ch, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) conn.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// fireDelay runs the first pending timer with the given delay.
func (s *manualScheduler) fireDelay(d time.Duration) bool {
	s.mu.Lock()
	var target *manualTimer
	for _, t := range s.timers {
		t.mu.Lock()
		live := !t.stopped && !t.fired && t.delay == d
		t.mu.Unlock()
		if live {
			target = t
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	target.mu.Lock()
	target.fired = true
	target.mu.Unlock()
	target.fn()
	return true
}

// recordingSink captures every host signal.
type recordingSink struct {
	mu          sync.Mutex
	states      []ClientState
	texts       []string
	waiting     int
	expressions []string
	entries     []transcript.Entry
	connected   bool
	banners     []string
	errKinds    []ErrorKind
	errMessages []string
	levels      int
}

func (r *recordingSink) StatusChanged(state ClientState, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.texts = append(r.texts, text)
}

func (r *recordingSink) WaitingEntered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting++
}

func (r *recordingSink) Expression(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expressions = append(r.expressions, name)
}

func (r *recordingSink) TranscriptUpdated(entries []transcript.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
}

func (r *recordingSink) ConnectivityChanged(connected bool, banner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
	r.banners = append(r.banners, banner)
}

func (r *recordingSink) ErrorRaised(kind ErrorKind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errKinds = append(r.errKinds, kind)
	r.errMessages = append(r.errMessages, message)
}

func (r *recordingSink) AudioLevel(envelope []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels++
}

func (r *recordingSink) snapshot() recordingSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recordingSink{
		states:      append([]ClientState(nil), r.states...),
		texts:       append([]string(nil), r.texts...),
		waiting:     r.waiting,
		expressions: append([]string(nil), r.expressions...),
		entries:     append([]transcript.Entry(nil), r.entries...),
		connected:   r.connected,
		banners:     append([]string(nil), r.banners...),
		errKinds:    append([]ErrorKind(nil), r.errKinds...),
		errMessages: append([]string(nil), r.errMessages...),
		levels:      r.levels,
	}
}

func (r *recordingSink) lastState() ClientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateWaiting
	}
	return r.states[len(r.states)-1]
}

// fakeOutput plays clips instantly unless hold is set, in which case
// each Play waits for a value on release.
type fakeOutput struct {
	mu      sync.Mutex
	plays   int
	err     error
	hold    bool
	release chan struct{}
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{release: make(chan struct{}, 4)}
}

func (f *fakeOutput) Play(ctx context.Context, pcm rtc.PCM) error {
	f.mu.Lock()
	hold, err := f.hold, f.err
	f.mu.Unlock()

	if hold {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return err
}

func (f *fakeOutput) setHold(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

func (f *fakeOutput) Plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

// fakeInput produces a steady tone.
type fakeInput struct {
	openErr error
}

func (f *fakeInput) OpenInput(sampleRate, channels, framesPerBuffer int) (audio.InputStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &toneStream{}, nil
}

type toneStream struct{ n int }

func (s *toneStream) Read(buf []int16) error {
	for i := range buf {
		buf[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(s.n)/rtc.SampleRate))
		s.n++
	}
	time.Sleep(2 * time.Millisecond)
	return nil
}

func (s *toneStream) Close() error { return nil }

func wavClip(t *testing.T) []byte {
	t.Helper()
	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = int16(4000 * math.Sin(float64(i)/8))
	}
	var buf bytes.Buffer
	if err := wav.Encode(&buf, samples, 24000, 1); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return buf.Bytes()
}

func counter(m *expvar.Map, name string) int64 {
	v, ok := m.Get(name).(*expvar.Int)
	if !ok {
		return 0
	}
	return v.Value()
}
