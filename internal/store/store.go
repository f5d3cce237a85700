package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukerupert/subvault/internal/model"
)

// Store persists subscription records as a single JSON array on disk. All
// operations are serialized behind one mutex so concurrent webhook
// deliveries cannot interleave their read-modify-write cycles. Writes go
// through a temp file and atomic rename so a crash mid-write never leaves a
// truncated file behind.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// ReadAll returns every stored record. A missing, unreadable, or corrupt
// file is treated as an empty store: the error is logged and the caller
// sees an empty slice.
func (s *Store) ReadAll() []model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// WriteAll replaces the entire store with the given records.
func (s *Store) WriteAll(subs []model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(subs)
}

// Upsert replaces the record with a matching id, or appends when no record
// has that id.
func (s *Store) Upsert(sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.readLocked()
	replaced := false
	for i := range subs {
		if subs[i].ID == sub.ID {
			subs[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		subs = append(subs, sub)
	}
	return s.writeLocked(subs)
}

// Remove deletes the record with the given id. Removing an id that is not
// present is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.readLocked()
	kept := subs[:0]
	for _, sub := range subs {
		if sub.ID != id {
			kept = append(kept, sub)
		}
	}
	return s.writeLocked(kept)
}

// Clear removes all records.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked([]model.Subscription{})
}

func (s *Store) readLocked() []model.Subscription {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("read subscriptions file", "path", s.path, "error", err)
		}
		return []model.Subscription{}
	}

	var subs []model.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		s.logger.Error("parse subscriptions file", "path", s.path, "error", err)
		return []model.Subscription{}
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	return subs
}

func (s *Store) writeLocked(subs []model.Subscription) error {
	if subs == nil {
		subs = []model.Subscription{}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriptions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "subscriptions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
