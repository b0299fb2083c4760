package store

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"relaychat/internal/protocol"
)

// pairKey is a canonicalized unordered username pair, or ("","") for the
// global broadcast stream (spec §3 Conversation key).
type pairKey struct {
	A, B string
}

// HistoryStore is the authoritative, thread-safe append-only chat history
// keyed by canonicalized conversation pair (spec §4.3).
type HistoryStore struct {
	mu   sync.Mutex
	path string
	data map[pairKey][]protocol.HistoryEntry
}

// NewHistoryStore opens (or creates) a HistoryStore backed by history.dat
// in dir.
func NewHistoryStore(dir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &HistoryStore{
		path: filepath.Join(dir, "history.dat"),
		data: make(map[pairKey][]protocol.HistoryEntry),
	}
	s.load()
	return s, nil
}

// Append records a message from sender to receiver (empty receiver ==
// broadcast) under its canonicalized conversation key, and persists the
// full history to disk before returning.
func (s *HistoryStore) Append(sender, receiver, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.canonicalKeyLocked(sender, receiver)
	entry := protocol.HistoryEntry{
		Sender:    sender,
		Timestamp: time.Now().Format("01/02 15:04"),
		Message:   message,
	}
	s.data[key] = append(s.data[key], entry)

	if err := s.saveLocked(); err != nil {
		log.Error().Err(err).Msg("history store: save failed")
	}
}

// Get returns the stored entries for the conversation between sender and
// receiver (empty receiver == broadcast), in insertion order. Note this
// does not verify the caller is one of the two parties named — an
// intentionally unchecked authorization decision (SPEC_FULL §12).
func (s *HistoryStore) Get(sender, receiver string) []protocol.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.canonicalKeyLocked(sender, receiver)
	entries := s.data[key]
	out := make([]protocol.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// canonicalKeyLocked resolves (sender, receiver) to the existing key for
// that pair if one is already present in either order, otherwise mints a
// new key in first-seen (sender, receiver) order. Callers must hold s.mu.
func (s *HistoryStore) canonicalKeyLocked(sender, receiver string) pairKey {
	if receiver == "" {
		return pairKey{}
	}
	if _, ok := s.data[pairKey{sender, receiver}]; ok {
		return pairKey{sender, receiver}
	}
	if _, ok := s.data[pairKey{receiver, sender}]; ok {
		return pairKey{receiver, sender}
	}
	return pairKey{sender, receiver}
}

func (s *HistoryStore) load() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("history store: could not open history.dat, starting empty")
		}
		return
	}
	defer f.Close()

	var data map[pairKey][]protocol.HistoryEntry
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		log.Warn().Err(err).Msg("history store: could not decode history.dat, starting empty")
		return
	}
	s.data = data
}

// saveLocked persists the full history map. Callers must hold s.mu.
func (s *HistoryStore) saveLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(s.data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
