package rpc

import (
	"errors"
	"fmt"

	"github.com/tzrikka/duplex/pkg/wire"
)

// Re-exported so callers of this package never need to import pkg/wire
// themselves just to compare errors with errors.Is.
var (
	ErrEventNameTooBig = wire.ErrEventNameTooBig
	ErrInvalidData     = wire.ErrInvalidData
)

// ErrReceiverClosed is returned by [SocketIo.Notify], [Notifier.Notify], and
// [Response.Send] once the outbound serializer has terminated. The
// connection is effectively dead, and the caller should stop using it.
var ErrReceiverClosed = errors.New("rpc: outbound serializer is gone")

// ErrConnectionReset is returned by [SocketIo.Recv] when the transport
// itself failed (as opposed to the peer cleanly closing the connection).
var ErrConnectionReset = errors.New("rpc: connection reset")

// ConnectionAbortedError is returned by [SocketIo.Recv] when the peer sent a
// WebSocket close frame. It carries the close code and reason the peer gave.
type ConnectionAbortedError struct {
	Code   uint16
	Reason string
}

func (e *ConnectionAbortedError) Error() string {
	return fmt.Sprintf("rpc: connection aborted by peer: code=%d reason=%q", e.Code, e.Reason)
}
