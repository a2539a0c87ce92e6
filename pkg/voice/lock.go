// Package voice holds the playback lock shared by the session loop and the
// capture path.
package voice

import "sync/atomic"

// PlaybackLock is held for the whole duration of a synthesized clip.
// While it is held the microphone stream is logically muted and server
// pushed state changes are ignored. It has at most one holder.
type PlaybackLock interface {
	// TryAcquire takes the lock. It returns false if a clip already holds it.
	TryAcquire() bool

	// Release frees the lock. Releasing a free lock is a no-op.
	Release()

	// Held reports whether a clip is currently playing.
	Held() bool
}

// NewPlaybackLock creates a free PlaybackLock.
func NewPlaybackLock() PlaybackLock {
	return &atomicLock{}
}

type atomicLock struct {
	held atomic.Bool
}

func (l *atomicLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

func (l *atomicLock) Release() {
	l.held.Store(false)
}

func (l *atomicLock) Held() bool {
	return l.held.Load()
}
