package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeSession builds a minimal Session backed by an in-memory net.Pipe,
// suitable for exercising Registry fan-out without a real socket.
func pipeSession(t *testing.T, srv *Server) (*Session, net.Conn) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	sess := newSession(serverEnd, srv)
	t.Cleanup(func() { _ = clientEnd.Close() })
	return sess, clientEnd
}

func TestRegistryInsertOverwritesSilently(t *testing.T) {
	srv := testServer(t)
	first, _ := pipeSession(t, srv)
	second, _ := pipeSession(t, srv)

	prev := srv.registry.Insert("alice", first)
	assert.Nil(t, prev)

	prev = srv.registry.Insert("alice", second)
	assert.Same(t, first, prev, "second login for the same username must return the displaced session")

	got, ok := srv.registry.Get("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistryRemoveOnlyIfCurrent(t *testing.T) {
	srv := testServer(t)
	first, _ := pipeSession(t, srv)
	second, _ := pipeSession(t, srv)

	srv.registry.Insert("alice", first)
	srv.registry.Insert("alice", second)

	// The stale first session's terminate path must not evict second.
	srv.registry.Remove("alice", first)
	got, ok := srv.registry.Get("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	srv.registry.Remove("alice", second)
	_, ok = srv.registry.Get("alice")
	assert.False(t, ok)
}

func TestRegistryOtherUsernamesExcludesSelf(t *testing.T) {
	srv := testServer(t)
	alice, _ := pipeSession(t, srv)
	bob, _ := pipeSession(t, srv)

	srv.registry.Insert("alice", alice)
	srv.registry.Insert("bob", bob)

	others := srv.registry.OtherUsernames("alice")
	assert.ElementsMatch(t, []string{"bob"}, others)
}

func TestRegistryCountTracksInsertAndRemove(t *testing.T) {
	srv := testServer(t)
	alice, _ := pipeSession(t, srv)
	bob, _ := pipeSession(t, srv)

	assert.Equal(t, 0, srv.registry.Count())

	srv.registry.Insert("alice", alice)
	srv.registry.Insert("bob", bob)
	assert.Equal(t, 2, srv.registry.Count())

	srv.registry.Remove("alice", alice)
	assert.Equal(t, 1, srv.registry.Count())
}

// testServer builds a Server with stores rooted in a temp dir, for tests
// that only need the registry and dispatch logic.
func testServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return srv
}
