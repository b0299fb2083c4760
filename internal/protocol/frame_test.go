package protocol

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := Document{
		"command":  "chat",
		"peer":     "bob",
		"message":  "hello there",
		"nested":   map[string]any{"a": float64(1)},
		"numlist":  []any{float64(1), float64(2), float64(3)},
	}

	frame, err := EncodeFrame(doc)
	require.NoError(t, err)

	payloadLen := binary.BigEndian.Uint16(frame[:2])
	assert.Equal(t, int(payloadLen), len(frame)-2)
	assert.GreaterOrEqual(t, len(frame)-2, keySize+ivSize)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = sendAll(client, frame)
	}()

	got, err := ReadFrame(server)
	require.NoError(t, err)
	assert.Equal(t, doc["command"], got["command"])
	assert.Equal(t, doc["peer"], got["peer"])
	assert.Equal(t, doc["message"], got["message"])
}

func TestEncodeFrameFreshKeyAndIV(t *testing.T) {
	doc := Document{"command": "close"}
	f1, err := EncodeFrame(doc)
	require.NoError(t, err)
	f2, err := EncodeFrame(doc)
	require.NoError(t, err)
	assert.NotEqual(t, f1[2:2+keySize], f2[2:2+keySize], "key must be fresh per frame")
	assert.NotEqual(t, f1[2+keySize:2+keySize+ivSize], f2[2+keySize:2+keySize+ivSize], "iv must be fresh per frame")
}

func TestReadFrameConnectionClosed(t *testing.T) {
	client, server := net.Pipe()
	_ = client.Close()

	_, err := ReadFrame(server)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadFrameMalformedBase64(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// valid key+iv, followed by bytes that aren't valid base64.
	payload := append(make([]byte, keySize+ivSize), []byte("!!!not-base64!!!")...)
	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(payload)))
	copy(frame[2:], payload)

	go func() { _ = sendAll(client, frame) }()

	_, err := ReadFrame(server)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameProtocolTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Announce a body longer than what we will ever send.
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], 100)

	done := make(chan struct{})
	go func() {
		_ = sendAll(client, lenBuf[:])
		close(done)
	}()

	start := time.Now()
	_, err := ReadFrame(server)
	elapsed := time.Since(start)
	<-done
	assert.ErrorIs(t, err, ErrProtocolTimeout)
	assert.GreaterOrEqual(t, elapsed, frameReadDeadline)
}
