package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/chriscow/rey-go/pkg/session"
	"github.com/chriscow/rey-go/pkg/transcript"
)

// logSink is the terminal host: status changes and errors go to the log,
// new transcript lines go to out.
type logSink struct {
	session.NopSink

	out    io.Writer
	logger *slog.Logger

	mu    sync.Mutex
	shown int // entries already printed
	last  string
}

func newLogSink(out io.Writer, logger *slog.Logger) *logSink {
	return &logSink{out: out, logger: logger.With(slog.String("component", "host"))}
}

func (l *logSink) StatusChanged(state session.ClientState, text string) {
	l.logger.Info("Status", slog.String("state", state.String()), slog.String("text", text))
}

func (l *logSink) WaitingEntered() {
	l.logger.Debug("Waiting for input")
}

func (l *logSink) Expression(name string) {
	l.logger.Info("Expression", slog.String("name", name))
}

func (l *logSink) ConnectivityChanged(connected bool, banner string) {
	if connected {
		l.logger.Info("Connected")
		return
	}
	l.logger.Warn("Disconnected", slog.String("banner", banner))
}

func (l *logSink) ErrorRaised(kind session.ErrorKind, message string) {
	l.logger.Error(message, slog.String("kind", kind.String()))
}

// TranscriptUpdated prints only the entries that are new since the last
// call. The store evicts from the front, so the last printed entry is
// located by ID rather than by index.
func (l *logSink) TranscriptUpdated(entries []transcript.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if l.last != "" {
		for i, e := range entries {
			if e.ID == l.last {
				start = i + 1
				break
			}
		}
	}
	if len(entries) == 0 {
		l.last = ""
		return
	}
	printTranscript(l.out, entries[start:])
	l.last = entries[len(entries)-1].ID
}

func printTranscript(w io.Writer, entries []transcript.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "[%s] %-4s %s\n", e.Timestamp.Format("15:04:05"), e.Role, e.Text)
	}
}

// controller is the subset of *session.Session the command loop drives.
type controller interface {
	PushToTalk()
	PushToTalkStart()
	PushToTalkStop()
	PushToWake()
	Replay()
	SetWakeWordEnabled(bool)
	Reconnect()
}

// readCommands maps stdin lines to session triggers until ctx is done or
// input ends. It reports whether the user asked to quit.
func readCommands(ctx context.Context, in io.Reader, c controller, logger *slog.Logger) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			if quit := dispatchCommand(line, c, logger); quit {
				return true
			}
		}
	}
}

func dispatchCommand(line string, c controller, logger *slog.Logger) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "t":
		c.PushToTalk()
	case "s":
		c.PushToTalkStart()
	case "e":
		c.PushToTalkStop()
	case "w":
		c.PushToWake()
	case "r":
		c.Replay()
	case "k":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			logger.Warn("Usage: k on|off")
			return false
		}
		c.SetWakeWordEnabled(fields[1] == "on")
	case "c":
		c.Reconnect()
	case "q":
		return true
	default:
		logger.Warn("Unknown command", slog.String("command", fields[0]),
			slog.String("help", "t talk, s/e start/stop, w wake, r replay, k on|off, c reconnect, q quit"))
	}
	return false
}
