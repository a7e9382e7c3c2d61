// Package history keeps the bounded list of past sessions in a durable
// key-value slot. Storage faults never reach callers: a corrupt or unreadable
// slot reads as an empty history.
package history

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/intellixa/console/internal/models"
	"github.com/intellixa/console/internal/storage"
)

const (
	// Key is the slot holding the serialized history list.
	Key = "agentforge_session_ids"

	// MaxEntries bounds the persisted list; older entries are dropped.
	MaxEntries = 50
)

type Store struct {
	kv     storage.KV
	logger *slog.Logger

	// serializes read-modify-write cycles
	mu sync.Mutex
}

func New(kv storage.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{kv: kv, logger: logger}
}

// Append prepends entry and keeps at most MaxEntries, most recent first.
// Duplicate session ids are kept.
func (s *Store) Append(entry models.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append([]models.HistoryEntry{entry}, s.load()...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	s.save(entries)
}

// List returns the stored entries, most recent first.
func (s *Store) List() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Remove drops every entry with the given session id.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load()
	kept := make([]models.HistoryEntry, 0, len(current))
	for _, e := range current {
		if e.SessionID != sessionID {
			kept = append(kept, e)
		}
	}
	s.save(kept)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.save([]models.HistoryEntry{})
}

func (s *Store) load() []models.HistoryEntry {
	raw, ok, err := s.kv.Get(Key)
	if err != nil {
		s.logger.Warn("failed to read history", "error", err)
		return []models.HistoryEntry{}
	}
	if !ok || raw == "" {
		return []models.HistoryEntry{}
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("history is corrupt, treating as empty", "error", err)
		return []models.HistoryEntry{}
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries
}

func (s *Store) save(entries []models.HistoryEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		s.logger.Error("failed to encode history", "error", err)
		return
	}
	if err := s.kv.Set(Key, string(data)); err != nil {
		s.logger.Error("failed to persist history", "error", err)
	}
}
