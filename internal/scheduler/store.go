package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

const storeKey = "schedules"

// Store persists schedule entries in one JSON file.
type Store struct {
	mu      sync.Mutex
	store   *jsonstore.Store
	entries map[string]*Entry
}

// OpenStore loads (or creates) the schedule store at path.
func OpenStore(path string) (*Store, error) {
	js, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule store: %w", err)
	}
	s := &Store{store: js, entries: make(map[string]*Entry)}
	if _, err := js.Get(storeKey, &s.entries); err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	if s.entries == nil {
		s.entries = make(map[string]*Entry)
	}
	return s, nil
}

// Add validates and persists a new entry.
func (s *Store) Add(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return s.persistLocked()
}

// Get returns a copy of one entry.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes an entry, reporting whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, s.persistLocked()
}

// SetEnabled toggles an entry.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("schedule %s not found", id)
	}
	e.Enabled = enabled
	return s.persistLocked()
}

// List returns copies of all entries, newest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// recordRun stamps a trigger on an entry and persists it.
func (s *Store) recordRun(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("schedule %s not found", id)
	}
	e.RunCount++
	e.LastRun = at
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	return s.store.Set(storeKey, s.entries)
}
