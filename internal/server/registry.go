package server

import (
	"sync"

	"relaychat/internal/protocol"
)

// Registry is the process-wide map of username -> Session for every
// currently authenticated connection (spec §3, §4.5).
//
// Concurrency model
// ------------------
//   - One mutex guards the whole map. Insert, remove, lookup, and fan-out
//     all hold it for their entire critical section.
//   - Fan-out (peer_joined, peer_left, broadcast) iterates the map and
//     writes to each target's socket while still holding the lock. This is
//     a deliberate back-pressure choice (spec §4.5, §5): a slow recipient
//     momentarily stalls every other roster update, in exchange for a
//     single total order of presence and broadcast events across every
//     observer (spec §8 Broadcast total order).
//   - A second successful login for a username already present silently
//     replaces the registry slot (spec §9 Open Question, decided in
//     SPEC_FULL §12): the displaced Session is not proactively closed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert registers sess under username, overwriting any existing entry.
// The previously registered Session for username, if any, is returned so
// callers can log the displacement; it is not otherwise touched.
func (r *Registry) Insert(username string, sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[username]
	r.sessions[username] = sess
	return prev
}

// Remove deletes username's entry, but only if it still points at sess —
// this guards against a stale terminating session evicting a newer login
// under the same name (spec §9 Open Question).
func (r *Registry) Remove(username string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[username] == sess {
		delete(r.sessions, username)
	}
}

// Get returns the Session registered for username, if any.
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	return s, ok
}

// OtherUsernames returns every registered username except exclude (spec
// get_users: "exclude self").
func (r *Registry) OtherUsernames(exclude string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.sessions))
	for u := range r.sessions {
		if u != exclude {
			out = append(out, u)
		}
	}
	return out
}

// FanoutAll sends doc to every registered session with no exclusion (used
// for peer_joined, which the original implementation delivers to the
// newcomer as well).
func (r *Registry) FanoutAll(doc protocol.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		sess.send(doc)
	}
}

// FanoutExcept sends doc to every registered session other than exclude.
func (r *Registry) FanoutExcept(exclude string, doc protocol.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for u, sess := range r.sessions {
		if u == exclude {
			continue
		}
		sess.send(doc)
	}
}

// SendTo delivers doc to username's session if currently registered.
// Reports whether a target session was found.
func (r *Registry) SendTo(username string, doc protocol.Document) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[username]
	if !ok {
		return false
	}
	sess.send(doc)
	return true
}

// Count returns the number of registered sessions, for metrics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
