package conn

import (
	"math"
	"time"
)

// Backoff describes the reconnect schedule.
type Backoff struct {
	InitialDelay time.Duration // base delay, doubled per attempt
	MaxDelay     time.Duration // cap on a single delay
	Factor       float64       // growth per attempt
	MaxAttempts  int           // consecutive failures before giving up
}

// DefaultBackoff returns the schedule min(1s * 2^attempt, 30s), five attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
		MaxAttempts:  5,
	}
}

// Delay returns how long to wait before reconnect attempt number attempt
// (1-based, so the first retry waits InitialDelay * Factor).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.InitialDelay) * math.Pow(b.Factor, float64(attempt))
	if delay > float64(b.MaxDelay) || math.IsInf(delay, 0) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// Allow reports whether attempt may still be scheduled.
func (b Backoff) Allow(attempt int) bool {
	return attempt <= b.MaxAttempts
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}
