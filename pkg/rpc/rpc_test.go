package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/transport"
	"github.com/tzrikka/duplex/pkg/wire"
)

// clientFrame builds one masked client-to-server WebSocket frame wrapping
// payload, mirroring pkg/transport's own test helper (every client frame
// must be masked, per RFC 6455 §5.1).
func clientFrame(opcode transport.Opcode, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x80 | byte(opcode))

	n := len(payload)
	switch {
	case n <= 125:
		buf.WriteByte(0x80 | byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(0x80 | 126)
		binary.Write(&buf, binary.BigEndian, uint16(n))
	default:
		buf.WriteByte(0x80 | 127)
		binary.Write(&buf, binary.BigEndian, uint64(n))
	}

	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	buf.Write(key[:])
	masked := make([]byte, n)
	copy(masked, payload)
	for i := range masked {
		masked[i] ^= key[i%4]
	}
	buf.Write(masked)
	return buf.Bytes()
}

func readServerFrame(t *testing.T, client net.Conn) (transport.Opcode, []byte) {
	t.Helper()
	header := make([]byte, 2)
	if _, err := readFull(client, header); err != nil {
		t.Fatalf("failed to read frame header: %v", err)
	}
	opcode := transport.Opcode(header[0] & 0x0f)
	length := int(header[1] & 0x7f)
	if header[1]&0x80 != 0 {
		t.Fatalf("server frame has the mask bit set, want unmasked")
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := readFull(client, payload); err != nil {
			t.Fatalf("failed to read frame payload: %v", err)
		}
	}
	return opcode, payload
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestSocketIo(t *testing.T) (*SocketIo, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	logger := zerolog.Nop()
	conn := transport.NewConn(&logger, server, transport.DefaultMaxMessageSize)
	return New(&logger, conn, 16), client
}

func TestRecvNotify(t *testing.T) {
	sio, client := newTestSocketIo(t)

	buf, err := wire.EncodeNotify("ping", []byte("Hi"))
	if err != nil {
		t.Fatalf("EncodeNotify() error = %v", err)
	}
	go client.Write(clientFrame(transport.OpcodeBinary, buf))

	proc, err := sio.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if proc.Kind != ProcedureNotify {
		t.Fatalf("Recv().Kind = %v, want ProcedureNotify", proc.Kind)
	}
	if got := proc.Request.Method(); got != "ping" {
		t.Errorf("Request.Method() = %q, want %q", got, "ping")
	}
	if got := proc.Request.Data(); !bytes.Equal(got, []byte("Hi")) {
		t.Errorf("Request.Data() = % x, want % x", got, []byte("Hi"))
	}
}

func TestRecvCallAndRespond(t *testing.T) {
	sio, client := newTestSocketIo(t)

	buf, err := wire.EncodeCall("echo", 42, []byte("hello"))
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	go client.Write(clientFrame(transport.OpcodeBinary, buf))

	proc, err := sio.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if proc.Kind != ProcedureCall {
		t.Fatalf("Recv().Kind = %v, want ProcedureCall", proc.Kind)
	}
	if got := proc.Request.Method(); got != "echo" {
		t.Errorf("Request.Method() = %q, want %q", got, "echo")
	}
	if proc.Abort.Tripped() {
		t.Errorf("Abort.Tripped() = true before any reset, want false")
	}

	if err := proc.Response.Send([]byte("hello")); err != nil {
		t.Fatalf("Response.Send() error = %v", err)
	}

	opcode, payload := readServerFrame(t, client)
	if opcode != transport.OpcodeBinary {
		t.Fatalf("response frame opcode = %v, want binary", opcode)
	}
	id, reply, err := wire.DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if id != 42 {
		t.Errorf("DecodeResponse() id = %d, want 42", id)
	}
	if !bytes.Equal(reply, []byte("hello")) {
		t.Errorf("DecodeResponse() payload = % x, want % x", reply, []byte("hello"))
	}

	if _, ok := sio.registry.cells[42]; ok {
		t.Errorf("registry still holds call id 42 after Response.Send()")
	}
}

func TestResetTripsAbortController(t *testing.T) {
	sio, client := newTestSocketIo(t)

	callBuf, _ := wire.EncodeCall("slow", 7, nil)
	go client.Write(clientFrame(transport.OpcodeBinary, callBuf))

	proc, err := sio.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	resetDone := make(chan struct{})
	go func() {
		client.Write(clientFrame(transport.OpcodeBinary, wire.EncodeReset(7)))
		close(resetDone)
	}()

	// The reset frame is itself a logical event the receive loop consumes
	// internally (no Procedure is yielded for it), so drive Recv once more
	// to process it before checking the controller.
	done := make(chan struct{})
	go func() {
		sio.Recv() //nolint:errcheck // blocks on the pipe until the test ends; error is irrelevant here
		close(done)
	}()

	select {
	case <-proc.Abort.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("AbortController did not trip after a type-3 reset frame")
	}
	if !proc.Abort.Tripped() {
		t.Errorf("Abort.Tripped() = false after Done() fired, want true")
	}
	if _, ok := sio.registry.cells[7]; ok {
		t.Errorf("registry still holds call id 7 after reset")
	}
	<-resetDone
}

func TestAbortOnResetUnwindsTask(t *testing.T) {
	sio, client := newTestSocketIo(t)

	callBuf, _ := wire.EncodeCall("slow", 9, nil)
	go client.Write(clientFrame(transport.OpcodeBinary, callBuf))

	proc, err := sio.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	started := make(chan struct{})
	taskErr := make(chan error, 1)
	go func() {
		err := proc.Abort.AbortOnReset(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
		taskErr <- err
	}()
	<-started

	resetDone := make(chan struct{})
	go func() {
		client.Write(clientFrame(transport.OpcodeBinary, wire.EncodeReset(9)))
		close(resetDone)
	}()

	// As in TestResetTripsAbortController, the reset frame is consumed
	// internally by the receive loop and yields no Procedure of its own.
	recvDone := make(chan struct{})
	go func() {
		sio.Recv() //nolint:errcheck // blocks on the pipe until the test ends; error is irrelevant here
		close(recvDone)
	}()

	select {
	case err := <-taskErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("AbortOnReset() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AbortOnReset did not unwind the task after a reset")
	}
	<-resetDone
}

func TestSpawnAndAbortOnResetWaitReturnsAfterReset(t *testing.T) {
	sio, client := newTestSocketIo(t)

	callBuf, _ := wire.EncodeCall("slow", 11, nil)
	go client.Write(clientFrame(transport.OpcodeBinary, callBuf))

	proc, err := sio.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	started := make(chan struct{})
	handle := proc.Abort.SpawnAndAbortOnReset(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	go client.Write(clientFrame(transport.OpcodeBinary, wire.EncodeReset(11)))
	recvDone := make(chan struct{})
	go func() {
		sio.Recv() //nolint:errcheck // blocks on the pipe until the test ends; error is irrelevant here
		close(recvDone)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- handle.Wait() }()

	select {
	case err := <-waitErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("TaskHandle.Wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TaskHandle.Wait() did not return after a reset")
	}
}

func TestTeardownTripsAllOutstandingCalls(t *testing.T) {
	sio, client := newTestSocketIo(t)

	var controllers []*AbortController
	for i := uint32(1); i <= 3; i++ {
		buf, _ := wire.EncodeCall("work", i, nil)
		go client.Write(clientFrame(transport.OpcodeBinary, buf))
		proc, err := sio.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		controllers = append(controllers, proc.Abort)
	}

	client.Close() // Simulates a transport failure.

	if _, err := sio.Recv(); err == nil {
		t.Fatal("Recv() error = nil after transport failure, want non-nil")
	}

	for i, ctrl := range controllers {
		select {
		case <-ctrl.Done():
		default:
			t.Errorf("controller %d not tripped after teardown", i)
		}
	}
}

func TestPeerCloseReturnsConnectionAborted(t *testing.T) {
	sio, client := newTestSocketIo(t)

	buf, _ := wire.EncodeCall("work", 1, nil)
	go client.Write(clientFrame(transport.OpcodeBinary, buf))
	proc, err := sio.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	closePayload := make([]byte, 2+len("bye"))
	binary.BigEndian.PutUint16(closePayload, 1000)
	copy(closePayload[2:], "bye")
	go client.Write(clientFrame(transport.OpcodeClose, closePayload))

	_, err = sio.Recv()
	var aborted *ConnectionAbortedError
	if err == nil {
		t.Fatal("Recv() error = nil, want ConnectionAbortedError")
	}
	if !errors.As(err, &aborted) {
		t.Fatalf("Recv() error = %v, want *ConnectionAbortedError", err)
	}
	if aborted.Code != 1000 || aborted.Reason != "bye" {
		t.Errorf("ConnectionAbortedError = %+v, want {1000, bye}", aborted)
	}

	select {
	case <-proc.Abort.Done():
	default:
		t.Error("outstanding call's AbortController not tripped by peer close")
	}
}

func TestPingEnqueuesPong(t *testing.T) {
	sio, client := newTestSocketIo(t)

	notifyBuf, _ := wire.EncodeNotify("x", nil)
	go func() {
		client.Write(clientFrame(transport.OpcodePing, []byte{0xDE, 0xAD}))
		client.Write(clientFrame(transport.OpcodeBinary, notifyBuf))
	}()

	type result struct {
		proc Procedure
		err  error
	}
	recvDone := make(chan result, 1)
	go func() {
		proc, err := sio.Recv()
		recvDone <- result{proc, err}
	}()

	opcode, payload := readServerFrame(t, client)
	if opcode != transport.OpcodePong {
		t.Fatalf("first outbound frame opcode = %v, want pong", opcode)
	}
	if !bytes.Equal(payload, []byte{0xDE, 0xAD}) {
		t.Errorf("pong payload = % x, want % x", payload, []byte{0xDE, 0xAD})
	}

	select {
	case r := <-recvDone:
		if r.err != nil {
			t.Fatalf("Recv() error = %v", r.err)
		}
		if r.proc.Kind != ProcedureNotify || r.proc.Request.Method() != "x" {
			t.Errorf("Recv() after ping = %+v, want the notify for method %q", r.proc, "x")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv() did not return the notify after the ping")
	}
}

func TestNotifyNameTooBig(t *testing.T) {
	sio, _ := newTestSocketIo(t)
	if err := sio.Notify(strings.Repeat("x", 256), nil); err != ErrEventNameTooBig {
		t.Errorf("Notify() error = %v, want ErrEventNameTooBig", err)
	}
}
