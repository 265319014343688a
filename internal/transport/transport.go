// Package transport abstracts the wire channel that carries forwarded
// events between agent processes and the coordinator. The bus never sees
// wire details: it hands the transport an opaque payload and a destination,
// and receives (origin, payload) pairs back.
package transport

import "context"

// Transport moves opaque payloads between named endpoints. Implementations
// own the wire encoding and connection lifecycle; the core only retries.
//
// Send delivers a payload to the named destination. Receive blocks until a
// payload arrives for this endpoint, the context is cancelled, or the
// transport is closed. Both are safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, destination string, payload []byte) error
	Receive(ctx context.Context) (origin string, payload []byte, err error)
	Close() error
}
