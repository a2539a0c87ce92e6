package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/rey-go/pkg/protocol"
)

// CloseUnauthorized is the close code the server uses for a bad token.
const CloseUnauthorized = 4001

// Channel is an ordered, message oriented duplex link to the server.
type Channel interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	// Read blocks until the next frame arrives or the channel fails.
	Read() (protocol.Frame, error)
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, target string) (Channel, error)
}

// BuildURL returns target with the auth token carried as ?token=.
// An empty token leaves the URL untouched.
func BuildURL(target, token string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid URL scheme %q: want ws or wss", u.Scheme)
	}

	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// IsUnauthorized reports whether err is a close frame rejecting the token.
func IsUnauthorized(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == CloseUnauthorized
}

// IsNormalClose reports whether err is an orderly close by either side.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Default timeouts for WebSocketDialer.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReadTimeout      = 3 * DefaultKeepaliveInterval
)

// WebSocketDialer dials gorilla websocket channels.
//
// Every write carries a deadline of WriteTimeout, and the channel fails if
// nothing (not even a pong) arrives within ReadTimeout. A peer that goes
// away silently therefore surfaces as a Read or Write error instead of a
// stalled caller.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	Logger           *slog.Logger
}

func (d WebSocketDialer) Dial(ctx context.Context, target string) (Channel, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout

	logger.Debug("Connecting to WebSocket", slog.String("url", redact(target)))

	c, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	ch := &wsChannel{conn: c, writeTimeout: writeTimeout, readTimeout: readTimeout}
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	logger.Info("WebSocket connected", slog.String("url", redact(target)))
	return ch, nil
}

type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsChannel) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *wsChannel) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *wsChannel) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *wsChannel) Read() (protocol.Frame, error) {
	for {
		// each inbound frame extends the deadline
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return protocol.Frame{}, err
		}
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Frame{}, err
		}
		switch messageType {
		case websocket.TextMessage:
			return protocol.TextFrame(data), nil
		case websocket.BinaryMessage:
			return protocol.BinaryFrame(data), nil
		}
	}
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// redact hides the token query parameter from logs.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
