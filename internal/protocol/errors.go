package protocol

import "errors"

// Sentinel errors surfaced by the frame codec and used by session handling
// to decide whether a failure is fatal to the connection (spec §7).
var (
	// ErrMalformedFrame covers a truncated payload, a base64 decode
	// failure, or a document that isn't valid UTF-8 text.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrProtocolTimeout is returned when a frame's body is not fully
	// received within the per-frame read deadline.
	ErrProtocolTimeout = errors.New("protocol: frame read timed out")

	// ErrConnectionClosed is returned on a zero-byte read, indicating the
	// peer closed the connection.
	ErrConnectionClosed = errors.New("protocol: connection closed")
)
