// Package transcript keeps the bounded conversation history shown to the
// user and mirrors it into a Persistence backend on every change.
package transcript

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who said an entry.
type Role string

const (
	RoleUser Role = "user"
	RoleRey  Role = "rey"
)

const (
	// DefaultCapacity is the number of entries kept before the oldest is evicted.
	DefaultCapacity = 50

	// StorageKey is the fixed key the history is persisted under.
	StorageKey = "rey:transcript"
)

// Entry is one line of the conversation.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Persistence loads and saves the whole history as a unit.
type Persistence interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
	Close() error
}

// Config configures a Store.
type Config struct {
	Persistence Persistence // defaults to an in-memory backend
	Capacity    int         // defaults to DefaultCapacity
	Logger      *slog.Logger
	Now         func() time.Time
}

// Store is an ordered, capacity-bounded transcript. The newest entry is last.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	persist  Persistence
	logger   *slog.Logger
	now      func() time.Time
}

// Open creates a Store and loads any previously persisted history. A load
// failure is logged and the store starts empty.
func Open(cfg Config) *Store {
	if cfg.Persistence == nil {
		cfg.Persistence = NewMemoryPersistence()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		capacity: cfg.Capacity,
		persist:  cfg.Persistence,
		logger:   cfg.Logger.With(slog.String("component", "transcript")),
		now:      cfg.Now,
	}

	entries, err := s.persist.Load()
	if err != nil {
		s.logger.Warn("Failed to load transcript, starting empty", slog.String("error", err.Error()))
		entries = nil
	}
	s.entries = trim(entries, s.capacity)
	s.logger.Debug("Transcript loaded", slog.Int("entries", len(s.entries)))
	return s
}

// Append adds an entry, evicting the oldest entries beyond capacity, and
// saves the result. The in-memory history is updated even when saving
// fails; the save error is returned.
func (s *Store) Append(role Role, text string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: s.now(),
	}
	s.entries = trim(append(s.entries, entry), s.capacity)

	if err := s.persist.Save(s.entries); err != nil {
		s.logger.Warn("Failed to persist transcript", slog.String("error", err.Error()))
		return entry, fmt.Errorf("save transcript: %w", err)
	}
	return entry, nil
}

// Entries returns a copy of the history, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every entry and persists the empty history.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	if err := s.persist.Save(nil); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Close releases the persistence backend.
func (s *Store) Close() error {
	return s.persist.Close()
}

// trim keeps the newest capacity entries in a freshly allocated slice.
func trim(entries []Entry, capacity int) []Entry {
	if len(entries) > capacity {
		entries = entries[len(entries)-capacity:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
