// Package rpc implements the per-connection RPC core: the outbound
// serializer, the call registry and abort primitive, the receive loop, and
// the public SocketIo/Notifier/Response surface. It sits on top of
// pkg/wire (frame codec) and pkg/transport (WebSocket message framing): one
// goroutine owns the reader and decodes frames into Procedures, a second
// owns the writer and drains a bounded outbound queue, and the two never
// touch each other's half of the connection directly.
package rpc

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/transport"
	"github.com/tzrikka/duplex/pkg/wire"
)

type outboundKind int

const (
	outboundPong outboundKind = iota
	outboundData
)

// outboundItem is one tagged entry on the outbound queue.
type outboundItem struct {
	kind    outboundKind
	payload []byte
}

// SocketIo is the per-connection RPC handle: it owns the reader half
// (exclusively, via [SocketIo.Recv]) and a clonable handle to the outbound
// sender.
type SocketIo struct {
	logger *zerolog.Logger
	conn   *transport.Conn

	out       chan outboundItem
	closed    chan struct{}
	closeOnce sync.Once

	registry *registry
}

// New constructs a [SocketIo] over an already-established WebSocket
// connection and spawns the outbound serializer. bufferCapacity bounds the
// outbound queue; a typical value is 16.
func New(logger *zerolog.Logger, conn *transport.Conn, bufferCapacity int) *SocketIo {
	s := &SocketIo{
		logger:   logger,
		conn:     conn,
		out:      make(chan outboundItem, bufferCapacity),
		closed:   make(chan struct{}),
		registry: newRegistry(),
	}
	go s.runSerializer()
	return s
}

// Notifier is a cheaply cloneable handle over the outbound sender, usable
// from any goroutine to push notifications on this connection (e.g. a
// broadcast fan-out task unrelated to the receive loop).
type Notifier struct {
	sio *SocketIo
}

// Notifier returns a clonable handle over this connection's outbound
// sender.
func (s *SocketIo) Notifier() Notifier {
	return Notifier{sio: s}
}

// String identifies the connection a Notifier is bound to, for log fields.
func (n Notifier) String() string {
	return fmt.Sprintf("notifier(%p)", n.sio)
}

// Notify encodes a type-1 frame and enqueues it on the outbound queue.
func (n Notifier) Notify(name string, payload []byte) error {
	return n.sio.Notify(name, payload)
}

// Notify encodes a type-1 frame and enqueues it on the outbound queue.
func (s *SocketIo) Notify(name string, payload []byte) error {
	buf, err := wire.EncodeNotify(name, payload)
	if err != nil {
		return err
	}
	return s.enqueue(outboundItem{kind: outboundData, payload: buf})
}

// enqueue pushes item onto the outbound queue, blocking if it's full, and
// fails with [ErrReceiverClosed] if the serializer has already terminated.
func (s *SocketIo) enqueue(item outboundItem) error {
	select {
	case s.out <- item:
		return nil
	case <-s.closed:
		return ErrReceiverClosed
	}
}

// markClosed is idempotent: it's called both by the serializer (on a
// transport write error) and by the receive loop (on teardown), and must
// not panic on a second call from whichever side loses the race.
func (s *SocketIo) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// runSerializer is the single task pinned to the writer half: it drains
// the outbound queue and writes each item to the transport, in enqueue
// order. It never interleaves writes with any other goroutine; the
// transport's writer half is never touched outside this loop.
func (s *SocketIo) runSerializer() {
	for {
		select {
		case item := <-s.out:
			var err error
			switch item.kind {
			case outboundPong:
				err = s.conn.WriteControl(transport.OpcodePong, item.payload)
			case outboundData:
				err = s.conn.WriteMessage(item.payload)
			}
			if err != nil {
				s.logger.Err(err).Msg("outbound serializer write failed, closing connection")
				s.markClosed()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// Recv returns the next logical event on this connection. It owns the
// reader half exclusively: callers MUST only call Recv from a single
// goroutine at a time.
func (s *SocketIo) Recv() (Procedure, error) {
	for {
		ev, err := s.conn.Next()
		if err != nil {
			s.registry.tripAll()
			s.markClosed()
			return Procedure{}, fmt.Errorf("%w: %v", ErrConnectionReset, err)
		}

		switch ev.Kind {
		case transport.EventClose:
			s.registry.tripAll()
			s.markClosed()
			return Procedure{}, &ConnectionAbortedError{Code: ev.CloseCode, Reason: ev.CloseReason}

		case transport.EventPing:
			s.logger.Trace().Bytes("payload", ev.Data).Msg("received WebSocket ping, queuing pong")
			if err := s.enqueue(outboundItem{kind: outboundPong, payload: ev.Data}); err != nil {
				s.registry.tripAll()
				return Procedure{}, fmt.Errorf("%w: %v", ErrConnectionReset, err)
			}

		case transport.EventData:
			d, err := wire.Decode(ev.Data)
			if err != nil {
				return Procedure{}, err
			}

			switch d.Tag {
			case wire.TagNotify:
				return Procedure{Kind: ProcedureNotify, Request: d.Req}, nil

			case wire.TagCall:
				ctrl := s.registry.register(d.CallID)
				resp := &Response{callID: d.CallID, sio: s}
				return Procedure{Kind: ProcedureCall, Request: d.Req, Response: resp, Abort: ctrl}, nil

			case wire.TagReset:
				s.logger.Trace().Uint32("call_id", d.CallID).Msg("received reset, tripping abort controller")
				s.registry.trip(d.CallID)

			default:
				return Procedure{}, wire.ErrInvalidData
			}
		}
	}
}
