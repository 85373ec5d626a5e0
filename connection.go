package valuesync

import (
	"context"
	"io"

	"github.com/dalian-mobile/valuesync/codec"
	"github.com/dalian-mobile/valuesync/protocol"
)

// Connection is the channel a manager syncs over: received payloads
// feed out in arrival order, sent payloads are handed off best-effort,
// and the serialization format is bound per connection through the
// Codec accessor. protocol.Pipe and protocol.Net conns both qualify.
type Connection interface {
	protocol.Feeder
	protocol.Drainer
	io.Closer

	Connected() bool
	Codec() codec.Codec
}

// BootstrapConnection is the consumer role: a connection that can
// perform the initial handshake yielding the peer's value snapshot,
// for callers that have no local state to start from.
type BootstrapConnection interface {
	Connection

	// Connect suspends until the first payload arrives or fails.
	Connect(ctx context.Context) ([]byte, error)
}
