package rpc

import (
	"sync"

	"github.com/tzrikka/duplex/pkg/wire"
)

// ProcedureKind tags the shape of one value returned by [SocketIo.Recv].
type ProcedureKind int

const (
	// ProcedureNotify carries a one-way (method, payload) pair.
	ProcedureNotify ProcedureKind = iota
	// ProcedureCall carries a request that expects exactly one [Response].
	ProcedureCall
)

// Procedure is the tagged variant yielded by [SocketIo.Recv]. For
// [ProcedureNotify], only Request is populated. For [ProcedureCall],
// Request, Response, and Abort are all populated.
type Procedure struct {
	Kind     ProcedureKind
	Request  *wire.Request
	Response *Response
	Abort    *AbortController
}

// Response is a single-use capability to reply to one inbound call. It is
// valid until [Response.Send] is called; after that (or after the
// connection tears down) it must not be used again.
type Response struct {
	callID uint32
	sio    *SocketIo

	mu   sync.Mutex
	done bool
}

// Send encodes a type-4 frame carrying payload and enqueues it on the
// outbound queue, then deregisters this call from the registry. Send is
// meant to be called at most once per response; later calls are a no-op.
func (r *Response) Send(payload []byte) error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil
	}
	r.done = true
	r.mu.Unlock()

	defer r.sio.registry.remove(r.callID)
	return r.sio.enqueue(outboundItem{kind: outboundData, payload: wire.EncodeResponse(r.callID, payload)})
}

// Drop releases this response's call-id from the registry without sending
// a reply. Callers that decide not to answer a call (e.g. because
// [AbortController.Done] fired first) should call this explicitly, since
// Go has no destructors to do it for them.
func (r *Response) Drop() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.sio.registry.remove(r.callID)
}
