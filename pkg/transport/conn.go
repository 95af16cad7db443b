package transport

import (
	"bufio"
	"net"

	"github.com/rs/zerolog"
)

// DefaultMaxMessageSize is a reassembled-message size limit for callers of
// [NewConn] that have no tighter bound of their own; NewConn itself always
// uses the limit it is given.
const DefaultMaxMessageSize = 1 << 20 // 1 MiB.

// Conn is the server side of one hijacked WebSocket connection: a thin,
// synchronous, message-oriented duplex over the raw socket. It does not run
// any goroutines of its own and does not serialize concurrent access. The
// caller is responsible for reading from exactly one goroutine and writing
// from exactly one (different) goroutine.
type Conn struct {
	logger *zerolog.Logger
	nc     net.Conn
	rw     *bufio.ReadWriter

	maxMessageSize uint64
	headerBuf      [8]byte // Scratch space, to avoid an allocation per frame header.
}

// NewConn wraps an already-hijacked net.Conn (post HTTP-upgrade) as a
// WebSocket [Conn]. maxMessageSize bounds the size of a single (possibly
// reassembled) data message; [Conn.Next] rejects anything larger.
func NewConn(logger *zerolog.Logger, nc net.Conn, maxMessageSize uint64) *Conn {
	rw := bufio.NewReadWriter(bufio.NewReader(nc), bufio.NewWriter(nc))
	return NewConnFromHijack(logger, nc, rw, maxMessageSize)
}

// NewConnFromHijack wraps a net.Conn together with the *bufio.ReadWriter
// [http.Hijacker.Hijack] returned for it. Using that same ReadWriter
// (instead of allocating a fresh one over nc) matters because its reader
// may already hold bytes the client pipelined right after the handshake
// request; a fresh bufio.Reader would silently discard them.
func NewConnFromHijack(logger *zerolog.Logger, nc net.Conn, rw *bufio.ReadWriter, maxMessageSize uint64) *Conn {
	return &Conn{
		logger:         logger,
		nc:             nc,
		rw:             rw,
		maxMessageSize: maxMessageSize,
	}
}

// Close closes the underlying network connection without sending a close
// frame. Callers that want an RFC-compliant close handshake should send a
// close control frame first with [Conn.WriteControl].
func (c *Conn) Close() error {
	return c.nc.Close()
}
