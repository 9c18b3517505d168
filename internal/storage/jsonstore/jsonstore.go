// Package jsonstore provides a single-file JSON key/value persistence primitive.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a mapping from string keys to JSON values backed by one file.
// Load tolerates missing or corrupt files; Save is atomic (temp + rename).
// Callers serialize access through their own lock.
type Store struct {
	path string
	data map[string]json.RawMessage
}

// Open creates a Store backed by path, loading existing content if present.
// A missing or corrupt file initializes an empty store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		path: path,
		data: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		// Corrupt file: start empty rather than failing startup.
		s.data = make(map[string]json.RawMessage)
	}
	return s, nil
}

// Get unmarshals the value stored under key into out.
// Returns false if the key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Set stores a value under key and persists the whole store.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	s.data[key] = raw
	return s.Save()
}

// Delete removes key and persists. Removing an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.Save()
}

// Keys returns all stored keys, in unspecified order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Save atomically writes the store to disk: a sibling temp file is written
// first, then renamed over the target. The temp file is unlinked on error,
// so readers never observe partial content.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write store tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename store: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
