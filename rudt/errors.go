package rudt

import "errors"

// Sentinel errors surfaced at the operation boundaries described in
// spec.md §7, checked with errors.Is rather than a type hierarchy — the
// teacher never builds one either (see DESIGN.md).
var (
	// ErrBroken is returned, wrapped with its cause, by Send/Recv/RecvChunk
	// once the flow has been marked broken (EXP exhaustion or a malformed
	// ACK). A peer shutdown is reported as ErrClosed instead.
	ErrBroken = errors.New("rudt: connection broken")

	// ErrClosed is returned by any operation on a flow whose Close has
	// already completed.
	ErrClosed = errors.New("rudt: connection closed")

	// ErrBufferFull is returned by a non-blocking Send when the send
	// buffer has no room and by a non-blocking Recv when nothing is
	// available yet.
	ErrBufferFull = errors.New("rudt: buffer full")

	// ErrMalformedControl is returned internally when a control packet
	// fails validation (short ACK payload, ACK past last_sent+1); the flow
	// is marked broken as a side effect.
	ErrMalformedControl = errors.New("rudt: malformed control packet")

	// ErrHandshakeTimeout is returned by Dial when no handshake response
	// arrives within the configured number of retries.
	ErrHandshakeTimeout = errors.New("rudt: handshake timed out")
)
