package transcript

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreCapacityAndOrder(t *testing.T) {
	is := is.New(t)

	store := Open(Config{Logger: quietLogger()})
	for i := 0; i < 51; i++ {
		_, err := store.Append(RoleUser, fmt.Sprintf("message %d", i))
		is.NoErr(err)
	}

	entries := store.Entries()
	is.Equal(len(entries), DefaultCapacity)
	is.Equal(entries[0].Text, "message 1")   // oldest evicted
	is.Equal(entries[49].Text, "message 50") // newest last
	for i := 1; i < len(entries); i++ {
		is.True(entries[i-1].Text != entries[i].Text)
	}
}

func TestStoreAppendAssignsIdentity(t *testing.T) {
	is := is.New(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := Open(Config{Logger: quietLogger(), Now: func() time.Time { return now }})

	a, err := store.Append(RoleUser, "hello")
	is.NoErr(err)
	b, err := store.Append(RoleRey, "hi there")
	is.NoErr(err)

	is.True(a.ID != "")
	is.True(a.ID != b.ID)
	is.Equal(a.Timestamp, now)
	is.Equal(b.Role, RoleRey)
}

func TestStorePersistsEveryAppend(t *testing.T) {
	is := is.New(t)

	mem := NewMemoryPersistence()
	store := Open(Config{Persistence: mem, Logger: quietLogger()})

	_, _ = store.Append(RoleUser, "one")
	_, _ = store.Append(RoleRey, "two")
	is.Equal(mem.Saves(), 2)

	reopened := Open(Config{Persistence: mem, Logger: quietLogger()})
	is.Equal(reopened.Entries(), store.Entries())
}

func TestStoreLoadTrimsToCapacity(t *testing.T) {
	is := is.New(t)

	mem := NewMemoryPersistence()
	seed := make([]Entry, 60)
	for i := range seed {
		seed[i] = Entry{ID: fmt.Sprint(i), Role: RoleRey, Text: fmt.Sprint(i)}
	}
	is.NoErr(mem.Save(seed))

	store := Open(Config{Persistence: mem, Logger: quietLogger()})
	is.Equal(store.Len(), DefaultCapacity)
	is.Equal(store.Entries()[0].ID, "10")
}

type failingPersistence struct{ MemoryPersistence }

var errDiskFull = errors.New("disk full")

func (f *failingPersistence) Load() ([]Entry, error) { return nil, errors.New("corrupt") }
func (f *failingPersistence) Save([]Entry) error     { return errDiskFull }

func TestStoreSurvivesPersistenceFailures(t *testing.T) {
	is := is.New(t)

	store := Open(Config{Persistence: &failingPersistence{}, Logger: quietLogger()})
	is.Equal(store.Len(), 0)

	entry, err := store.Append(RoleUser, "still kept")
	is.True(errors.Is(err, errDiskFull))
	is.Equal(entry.Text, "still kept")
	is.Equal(store.Len(), 1)
}

func TestStoreClear(t *testing.T) {
	is := is.New(t)

	mem := NewMemoryPersistence()
	store := Open(Config{Persistence: mem, Logger: quietLogger()})
	_, _ = store.Append(RoleUser, "forget me")

	is.NoErr(store.Clear())
	is.Equal(store.Len(), 0)

	loaded, err := mem.Load()
	is.NoErr(err)
	is.Equal(len(loaded), 0)
}

func TestPersistenceBackends(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) Persistence
	}{
		{"memory", func(t *testing.T) Persistence { return NewMemoryPersistence() }},
		{"file", func(t *testing.T) Persistence {
			return NewFilePersistence(filepath.Join(t.TempDir(), "rey", "transcript.json"))
		}},
		{"badger", func(t *testing.T) Persistence {
			p, err := OpenBadger(t.TempDir())
			if err != nil {
				t.Fatalf("OpenBadger() error = %v", err)
			}
			return p
		}},
		{"badger in memory", func(t *testing.T) Persistence {
			p, err := OpenBadgerInMemory()
			if err != nil {
				t.Fatalf("OpenBadgerInMemory() error = %v", err)
			}
			return p
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			p := tt.open(t)
			defer p.Close()

			empty, err := p.Load()
			is.NoErr(err)
			is.Equal(len(empty), 0)

			ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			want := []Entry{
				{ID: "a", Role: RoleUser, Text: "turn on the lights", Timestamp: ts},
				{ID: "b", Role: RoleRey, Text: "Done.", Timestamp: ts.Add(time.Second)},
			}
			is.NoErr(p.Save(want))

			got, err := p.Load()
			is.NoErr(err)
			is.Equal(got, want)
		})
	}
}

func TestBadgerSurvivesReopen(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()

	p, err := OpenBadger(dir)
	is.NoErr(err)
	store := Open(Config{Persistence: p, Logger: quietLogger()})
	_, err = store.Append(RoleRey, "remember this")
	is.NoErr(err)
	is.NoErr(store.Close())

	p, err = OpenBadger(dir)
	is.NoErr(err)
	reopened := Open(Config{Persistence: p, Logger: quietLogger()})
	defer reopened.Close()

	is.Equal(reopened.Len(), 1)
	is.Equal(reopened.Entries()[0].Text, "remember this")
}
