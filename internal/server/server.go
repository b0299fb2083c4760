// Package server implements the relay server: the TCP acceptor, the
// per-connection session state machine, the client registry, and the
// command dispatcher described in spec §4.
//
// Concurrency overview
// --------------------
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Acceptor goroutine                                       │
//	│  Accepts TCP connections; spawns one goroutine per Session │
//	│  that owns it for its entire lifetime (spec §4.6).        │
//	└───────────────────┬─────────────────────────────────────┘
//	                    │
//	                    ▼
//	┌─────────────────────────────────────────────────────────┐
//	│  Registry (sync.Mutex)                                    │
//	│  username -> Session for every authenticated connection;  │
//	│  fan-out holds the lock across the whole broadcast.       │
//	└─────────────────────────────────────────────────────────┘
//
//	┌─────────────────────────────────────────────────────────┐
//	│  UserStore / HistoryStore (each its own lock)              │
//	│  Persistent, concurrency-safe credential and history maps. │
//	└─────────────────────────────────────────────────────────┘
package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"relaychat/internal/metrics"
	"relaychat/internal/protocol"
	"relaychat/internal/store"
)

// Server ties together the Registry and the two persistent stores, and
// owns the relay's TCP listener.
type Server struct {
	registry     *Registry
	userStore    *store.UserStore
	historyStore *store.HistoryStore
	metrics      *metrics.Metrics
	log          zerolog.Logger

	listener net.Listener
}

// New creates a Server backed by persistent stores rooted at dataDir. A
// nil m gets a fresh, unwired metrics.Metrics (fine for tests).
func New(dataDir string, m *metrics.Metrics) (*Server, error) {
	users, err := store.NewUserStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("server: init user store: %w", err)
	}
	history, err := store.NewHistoryStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("server: init history store: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		registry:     NewRegistry(),
		userStore:    users,
		historyStore: history,
		metrics:      m,
		log:          log.With().Str("component", "server").Logger(),
	}, nil
}

// ListenAndServe binds addr and accepts connections until ctx is canceled
// or the listener fails. Each accepted connection is handed to its own
// Session goroutine (spec §4.6); no connection count limit is enforced.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info().Str("addr", addr).Msg("relay server listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info().Msg("acceptor stopped")
				return nil
			}
			return err
		}
		s.metrics.ConnectionAccepted()
		sess := newSession(conn, s)
		go sess.Run()
	}
}

// Shutdown stops accepting new connections. In-flight sessions observe
// their next read error once their own socket errors or the process
// exits, and tear themselves down independently (spec §4.6 graceful
// shutdown).
func (s *Server) Shutdown() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// ---------------------------------------------------------------------------
// Command dispatch
// ---------------------------------------------------------------------------

// errCloseSession unwinds Session.Run's read loop on an explicit "close"
// command, reusing the same teardown path as a socket error (spec §4.4:
// the original implementation's _handle_close calls the same finish()
// routine a dropped connection would).
var errCloseSession = closeSessionError{}

type closeSessionError struct{}

func (closeSessionError) Error() string { return "server: session closed by client" }

// dispatchUnauth routes a decoded document from an unauthenticated
// session's pre-auth table. Any command other than login/register is
// logged and silently ignored (spec §4.4 "Any other command in Unauth").
func (s *Server) dispatchUnauth(sess *Session, doc protocol.Document) error {
	switch doc.Command() {
	case protocol.CmdLogin:
		s.handleLogin(sess, doc)
	case protocol.CmdRegister:
		s.handleRegister(sess, doc)
	default:
		sess.log.Warn().Str("command", string(doc.Command())).Msg("unexpected command before authentication")
	}
	return nil
}

// dispatchAuth routes a decoded document from an authenticated session's
// post-auth table.
func (s *Server) dispatchAuth(sess *Session, doc protocol.Document) error {
	switch doc.Command() {
	case protocol.CmdGetUsers:
		s.handleGetUsers(sess, doc)
	case protocol.CmdGetHistory:
		s.handleGetHistory(sess, doc)
	case protocol.CmdChat:
		s.handleChat(sess, doc)
	case protocol.CmdFileRequest:
		s.handleFileRequest(sess, doc)
	case protocol.CmdFileResponse:
		s.handleFileResponse(sess, doc)
	case protocol.CmdClose:
		return errCloseSession
	default:
		sess.log.Warn().Str("command", string(doc.Command())).Msg("unknown command")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Unauth handlers
// ---------------------------------------------------------------------------

func (s *Server) handleLogin(sess *Session, doc protocol.Document) {
	username := doc.Str("username")
	password := doc.Str("password")

	if !s.userStore.Validate(username, password) {
		s.metrics.LoginResult(false)
		sess.send(protocol.LoginResult(username, false, "Incorrect username or password!"))
		return
	}

	sess.authenticate(username)
	sess.send(protocol.LoginResult(username, true, ""))
	if prev := s.registry.Insert(username, sess); prev != nil {
		sess.log.Warn().Str("username", username).Msg("login displaced an existing session for this username")
	}
	s.metrics.LoginResult(true)

	// Fan out peer_joined to every registered session, including the
	// newcomer itself, matching the original implementation.
	s.registry.FanoutAll(protocol.PeerEvent(protocol.EventPeerJoined, username))
}

func (s *Server) handleRegister(sess *Session, doc protocol.Document) {
	username := doc.Str("username")
	password := doc.Str("password")

	ok := s.userStore.Register(username, password)
	s.metrics.RegisterResult(ok)
	if ok {
		sess.send(protocol.RegisterResult(username, true, ""))
		return
	}
	sess.send(protocol.RegisterResult(username, false, "Username already exists!"))
}

// ---------------------------------------------------------------------------
// Auth handlers
// ---------------------------------------------------------------------------

func (s *Server) handleGetUsers(sess *Session, _ protocol.Document) {
	others := s.registry.OtherUsernames(sess.getUsername())
	sess.send(protocol.GetUsersResult(others))
}

func (s *Server) handleGetHistory(sess *Session, doc protocol.Document) {
	peer := doc.Str("peer")
	entries := s.historyStore.Get(sess.getUsername(), peer)
	sess.send(protocol.GetHistoryResult(peer, entries))
}

func (s *Server) handleChat(sess *Session, doc protocol.Document) {
	peer := doc.Str("peer")
	message := doc.Str("message")
	sender := sess.getUsername()

	if peer != "" {
		s.registry.SendTo(peer, protocol.PrivateMessage(sender, message))
		s.historyStore.Append(sender, peer, message)
		s.metrics.ChatMessage("private")
		return
	}

	s.registry.FanoutExcept(sender, protocol.BroadcastMessage(sender, message))
	s.historyStore.Append(sender, "", message)
	s.metrics.ChatMessage("broadcast")
}

func (s *Server) handleFileRequest(sess *Session, doc protocol.Document) {
	peer := doc.Str("peer")
	filename := doc.Str("filename")
	size := doc.Str("size")
	md5 := doc.Str("md5")
	sender := sess.getUsername()

	target, ok := s.registry.Get(peer)
	if !ok {
		s.metrics.FileNegotiation("peer_absent")
		sess.send(protocol.FileResponseError("Peer not found or not connected"))
		return
	}

	target.setFilePeer(sender)
	target.send(protocol.FileRequestEvent(sender, filename, size, md5))
}

func (s *Server) handleFileResponse(sess *Session, doc protocol.Document) {
	peer := doc.Str("peer")
	response := doc.Str("response")
	sender := sess.getUsername()

	// Only honored if peer equals this session's current pending offer
	// (spec §4.4, §8 File-transfer scoping): guards against a stale
	// accept/deny for an offer that was already cancelled or superseded.
	if !sess.clearFilePeerIfMatches(peer) {
		sess.log.Warn().Str("peer", peer).Msg("file_response did not match a pending offer")
		return
	}

	requester, ok := s.registry.Get(peer)
	if !ok {
		return
	}

	ip := ""
	if response == "accept" {
		ip, _, _ = net.SplitHostPort(sess.remoteAddr)
	}
	s.metrics.FileNegotiation(response)
	requester.send(protocol.FileResponseEvent(sender, response, ip))
}
