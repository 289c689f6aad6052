package transport

import "errors"

// Sentinel errors for channel failures.
var (
	// ErrChannelBroken means the subprocess died or the duplex stream closed
	// underneath us. The channel is unusable; mid-conversation state is gone.
	ErrChannelBroken = errors.New("transport: channel broken")

	// ErrHandshakeTimeout means the initialize exchange did not complete
	// within the handshake timeout.
	ErrHandshakeTimeout = errors.New("transport: handshake timed out")

	// ErrCallTimeout means a single request exceeded the per-call timeout.
	// The call fails; the channel stays usable if the process is alive.
	ErrCallTimeout = errors.New("transport: call timed out")

	// ErrChannelClosed means Call was used after Close.
	ErrChannelClosed = errors.New("transport: channel closed")
)
