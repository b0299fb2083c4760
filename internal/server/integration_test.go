package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/protocol"
)

// startTestServer boots a Server on an ephemeral loopback port and returns
// its address; the server is shut down by a t.Cleanup hook.
func startTestServer(t *testing.T) string {
	t.Helper()
	srv, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.ListenAndServe(ctx, addr)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})

	// Give the acceptor a moment to bind before tests start dialing.
	for i := 0; i < 50; i++ {
		if c, err := net.DialTimeout("tcp", addr, 50*time.Millisecond); err == nil {
			_ = c.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return addr
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(doc protocol.Document) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteFrame(c.conn, doc))
}

func (c *testClient) recv() protocol.Document {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	doc, err := protocol.ReadFrame(c.conn)
	require.NoError(c.t, err)
	return doc
}

func (c *testClient) registerAndLogin(username, password string) {
	c.send(protocol.RegisterRequest(username, password))
	reg := c.recv()
	require.Equal(c.t, "ok", reg["response"])

	c.send(protocol.LoginRequest(username, password))
	login := c.recv()
	require.Equal(c.t, "ok", login["response"])
	// login also receives its own peer_joined fan-out (spec: "including
	// the newcomer").
	joined := c.recv()
	require.Equal(c.t, string(protocol.EventPeerJoined), joined["type"])
}

func TestScenarioRegisterThenLogin(t *testing.T) {
	addr := startTestServer(t)
	alice := dial(t, addr)

	alice.send(protocol.RegisterRequest("alice", "p"))
	reg := alice.recv()
	assert.Equal(t, string(protocol.EventRegisterResult), reg["type"])
	assert.Equal(t, "ok", reg["response"])

	alice.send(protocol.LoginRequest("alice", "p"))
	login := alice.recv()
	assert.Equal(t, "ok", login["response"])

	joined := alice.recv()
	assert.Equal(t, string(protocol.EventPeerJoined), joined["type"])
	assert.Equal(t, "alice", joined["peer"])
}

func TestScenarioDuplicateRegister(t *testing.T) {
	addr := startTestServer(t)
	alice := dial(t, addr)

	alice.send(protocol.RegisterRequest("alice", "p"))
	_ = alice.recv()

	alice.send(protocol.RegisterRequest("alice", "q"))
	reg := alice.recv()
	assert.Equal(t, "fail", reg["response"])
	assert.Equal(t, "Username already exists!", reg["reason"])
}

func TestScenarioPrivateChatDelivery(t *testing.T) {
	addr := startTestServer(t)
	alice := dial(t, addr)
	bob := dial(t, addr)

	alice.registerAndLogin("alice", "p")
	bob.registerAndLogin("bob", "p")
	// bob's own login fan-out already drained; alice must also observe
	// bob's peer_joined event before proceeding.
	aliceSeesBobJoin := alice.recv()
	assert.Equal(t, "bob", aliceSeesBobJoin["peer"])

	alice.send(protocol.ChatRequest("bob", "hi"))

	msg := bob.recv()
	assert.Equal(t, string(protocol.EventPrivateMessage), msg["type"])
	assert.Equal(t, "alice", msg["peer"])
	assert.Equal(t, "hi", msg["message"])

	alice.send(protocol.Document{"command": "get_history", "peer": "bob"})
	hist := alice.recv()
	data, _ := hist["data"].([]any)
	require.NotEmpty(t, data)
}

func TestScenarioBroadcastDelivery(t *testing.T) {
	addr := startTestServer(t)
	alice := dial(t, addr)
	bob := dial(t, addr)

	alice.registerAndLogin("alice", "p")
	bob.registerAndLogin("bob", "p")
	_ = alice.recv() // alice observes bob's peer_joined

	alice.send(protocol.ChatRequest("", "hello"))

	msg := bob.recv()
	assert.Equal(t, string(protocol.EventBroadcast), msg["type"])
	assert.Equal(t, "alice", msg["peer"])
	assert.Equal(t, "hello", msg["message"])
}

func TestScenarioFileRequestAbsentPeer(t *testing.T) {
	addr := startTestServer(t)
	alice := dial(t, addr)
	alice.registerAndLogin("alice", "p")

	alice.send(protocol.FileRequest("carol", "f.bin", "10B", "ABCD"))
	resp := alice.recv()
	assert.Equal(t, string(protocol.EventFileResponse), resp["type"])
	assert.Equal(t, "error", resp["response"])
	assert.Equal(t, "Peer not found or not connected", resp["reason"])
}

func TestScenarioFileRequestAccepted(t *testing.T) {
	addr := startTestServer(t)
	alice := dial(t, addr)
	bob := dial(t, addr)

	alice.registerAndLogin("alice", "p")
	bob.registerAndLogin("bob", "p")
	_ = alice.recv() // alice observes bob's peer_joined

	alice.send(protocol.FileRequest("bob", "f.bin", "10B", "ABCD"))
	req := bob.recv()
	assert.Equal(t, string(protocol.EventFileRequest), req["type"])
	assert.Equal(t, "alice", req["peer"])
	assert.Equal(t, "f.bin", req["filename"])

	bob.send(protocol.FileResponseRequest("alice", "accept"))
	resp := alice.recv()
	assert.Equal(t, string(protocol.EventFileResponse), resp["type"])
	assert.Equal(t, "bob", resp["peer"])
	assert.Equal(t, "accept", resp["response"])
	assert.Equal(t, "127.0.0.1", resp["ip"])
}
