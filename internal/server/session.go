package server

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"relaychat/internal/protocol"
)

// sessionState is the per-connection lifecycle state (spec §4.4).
type sessionState int

const (
	stateUnauth sessionState = iota
	stateAuth
	stateClosed
)

// Session is the per-connection state machine: unauthenticated ->
// authenticated -> closed. It owns the socket, the authenticated username
// (empty until login succeeds), and the username of any peer whose file
// offer it currently holds (spec §3 Session, §4.4).
type Session struct {
	id         string
	remoteAddr string
	conn       net.Conn
	server     *Server
	log        zerolog.Logger

	// sendMu serializes every write to conn, whether issued by this
	// session's own read loop or by another session's fan-out (spec §5:
	// "interleaved bytes on any given peer socket are impossible").
	sendMu sync.Mutex

	// mu guards the mutable identity/state fields below, which the owning
	// read loop mutates and the registry's fan-out paths may read.
	mu       sync.Mutex
	username string
	state    sessionState
	filePeer string

	closeOnce sync.Once
}

func newSession(conn net.Conn, srv *Server) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		remoteAddr: conn.RemoteAddr().String(),
		conn:       conn,
		server:     srv,
		log:        log.With().Str("session", id).Str("remote", conn.RemoteAddr().String()).Logger(),
		state:      stateUnauth,
	}
}

// Run owns conn for the lifetime of the connection: it reads frames,
// dispatches them by current state, and tears the session down on any
// fatal error or explicit close.
func (s *Session) Run() {
	defer s.terminate()

	s.log.Info().Msg("session started")
	for {
		doc, err := protocol.ReadFrame(s.conn)
		if err != nil {
			s.logReadError(err)
			return
		}
		if s.dispatch(doc) == errCloseSession {
			return
		}
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, protocol.ErrConnectionClosed):
		s.log.Info().Msg("connection closed by peer")
	case errors.Is(err, protocol.ErrProtocolTimeout):
		s.log.Warn().Msg("frame read timed out")
		s.server.metrics.FrameTimedOut()
	case errors.Is(err, protocol.ErrMalformedFrame):
		s.log.Warn().Err(err).Msg("malformed frame, terminating session")
		s.server.metrics.FrameMalformed()
	default:
		s.log.Warn().Err(err).Msg("session read error")
	}
}

func (s *Session) dispatch(doc protocol.Document) error {
	if s.isAuthenticated() {
		return s.server.dispatchAuth(s, doc)
	}
	return s.server.dispatchUnauth(s, doc)
}

// send marshals and writes doc to this session's connection, serialized
// against concurrent writers (its own read loop and registry fan-out).
func (s *Session) send(doc protocol.Document) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := protocol.WriteFrame(s.conn, doc); err != nil {
		s.log.Warn().Err(err).Msg("send failed")
	}
}

func (s *Session) getUsername() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateAuth
}

// authenticate transitions Unauth -> Auth, setting the session's username.
func (s *Session) authenticate(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.state = stateAuth
}

// getFilePeer returns the username of the session currently holding an
// in-flight file offer for this session, or "".
func (s *Session) getFilePeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filePeer
}

func (s *Session) setFilePeer(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filePeer = username
}

// clearFilePeerIfMatches clears filePeer only if it currently equals
// expected, and reports whether it did — guarding against a file_response
// racing a cancelled/superseded offer (spec §4.4, §8 File-transfer scoping).
func (s *Session) clearFilePeerIfMatches(expected string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filePeer != expected {
		return false
	}
	s.filePeer = ""
	return true
}

// terminate runs the Closed transition exactly once: it removes the
// session from the registry (if authenticated), fans out peer_left, and
// releases the socket (spec §4.4 Closed state).
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		username := s.username
		wasAuth := s.state == stateAuth
		s.state = stateClosed
		s.mu.Unlock()

		_ = s.conn.Close()

		if wasAuth {
			s.server.registry.Remove(username, s)
			s.server.registry.FanoutExcept(username, protocol.PeerEvent(protocol.EventPeerLeft, username))
			s.server.metrics.SessionClosed(username)
			s.log.Info().Str("username", username).Msg("session terminated")
		} else {
			s.log.Info().Msg("session terminated before authentication")
		}
	})
}
