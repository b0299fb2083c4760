// Package store provides the persistent, concurrency-safe user credential
// and chat history stores described in spec §4.2 and §4.3. Both stores
// persist as gob-encoded binary files (the Go analogue of the original
// implementation's pickle-serialized users.dat/history.dat), one mutation
// generation overwriting the whole file at a time.
package store

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// registerTimeout bounds how long Register will wait to acquire the store
// lock before giving up and reporting failure (spec §4.2, §5).
const registerTimeout = 5 * time.Second

// UserStore is the authoritative, thread-safe set of registered
// credentials. Usernames are unique; passwords are stored exactly as
// given, with no hashing — a recorded Open Question decision (spec §9,
// SPEC_FULL §12): hashing would break the literal exact-string-compare
// semantics spec §8's testable properties depend on.
type UserStore struct {
	mu   *timedMutex
	path string
	data map[string]string // username -> password
}

// NewUserStore opens (or creates) a UserStore backed by users.dat in dir.
func NewUserStore(dir string) (*UserStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	s := &UserStore{
		mu:   newTimedMutex(),
		path: filepath.Join(dir, "users.dat"),
		data: make(map[string]string),
	}
	s.load()
	return s, nil
}

// Register inserts a new username/password pair. Returns false if the
// username is already taken, or if the store lock could not be acquired
// within registerTimeout.
func (s *UserStore) Register(username, password string) bool {
	if !s.mu.TryLock(registerTimeout) {
		log.Warn().Str("username", username).Msg("user store: register timed out acquiring lock")
		return false
	}
	defer s.mu.Unlock()

	if _, exists := s.data[username]; exists {
		return false
	}
	s.data[username] = password
	if err := s.saveLocked(); err != nil {
		log.Error().Err(err).Msg("user store: save failed")
	}
	return true
}

// Validate reports whether username/password is a known, matching pair.
func (s *UserStore) Validate(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pwd, ok := s.data[username]
	return ok && pwd == password
}

func (s *UserStore) load() {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("user store: could not open users.dat, starting empty")
		}
		return
	}
	defer f.Close()

	var data map[string]string
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		log.Warn().Err(err).Msg("user store: could not decode users.dat, starting empty")
		return
	}
	s.data = data
}

// saveLocked persists the full credential map. Callers must hold s.mu.
func (s *UserStore) saveLocked() error {
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
