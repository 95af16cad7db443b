package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestNotifyRoundTrip(t *testing.T) {
	buf, err := EncodeNotify("ping", []byte("Hi"))
	if err != nil {
		t.Fatalf("EncodeNotify() error = %v", err)
	}

	want := []byte{0x01, 0x04, 'p', 'i', 'n', 'g', 'H', 'i'}
	if !bytes.Equal(buf, want) {
		t.Fatalf("EncodeNotify() = % x, want % x", buf, want)
	}

	d, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d.Tag != TagNotify {
		t.Fatalf("Decode().Tag = %v, want TagNotify", d.Tag)
	}
	if got := d.Req.Method(); got != "ping" {
		t.Errorf("Req.Method() = %q, want %q", got, "ping")
	}
	if got := d.Req.Data(); !bytes.Equal(got, []byte("Hi")) {
		t.Errorf("Req.Data() = % x, want % x", got, []byte("Hi"))
	}
}

func TestCallAndResponseRoundTrip(t *testing.T) {
	buf, err := EncodeCall("echo", 0x0000002A, []byte("hello"))
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}

	d, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d.Tag != TagCall {
		t.Fatalf("Decode().Tag = %v, want TagCall", d.Tag)
	}
	if got := d.Req.Method(); got != "echo" {
		t.Errorf("Req.Method() = %q, want %q", got, "echo")
	}
	if d.CallID != 42 {
		t.Errorf("Decode().CallID = %d, want 42", d.CallID)
	}
	if got := d.Req.Data(); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Req.Data() = % x, want % x", got, []byte("hello"))
	}

	resp := EncodeResponse(42, []byte("hello"))
	want := []byte{0x04, 0x00, 0x00, 0x00, 0x2A, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(resp, want) {
		t.Fatalf("EncodeResponse() = % x, want % x", resp, want)
	}

	id, payload, err := DecodeResponse(resp)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if id != 42 {
		t.Errorf("DecodeResponse() id = %d, want 42", id)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Errorf("DecodeResponse() payload = % x, want % x", payload, []byte("hello"))
	}
}

func TestResetFrame(t *testing.T) {
	buf := EncodeReset(42)
	want := []byte{0x03, 0x00, 0x00, 0x00, 0x2A}
	if !bytes.Equal(buf, want) {
		t.Fatalf("EncodeReset() = % x, want % x", buf, want)
	}

	d, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d.Tag != TagReset || d.CallID != 42 {
		t.Fatalf("Decode() = %+v, want {Tag: TagReset, CallID: 42}", d)
	}
}

func TestNameLengthBoundary(t *testing.T) {
	if _, err := EncodeNotify(strings.Repeat("x", 255), nil); err != nil {
		t.Errorf("EncodeNotify() with 255-byte name: error = %v, want nil", err)
	}
	if _, err := EncodeNotify(strings.Repeat("x", 256), nil); err != ErrEventNameTooBig {
		t.Errorf("EncodeNotify() with 256-byte name: error = %v, want ErrEventNameTooBig", err)
	}
}

func TestInvalidUTF8(t *testing.T) {
	buf := []byte{0x01, 0x02, 0xFF, 0xFE}
	if _, err := Decode(buf); err != ErrInvalidData {
		t.Errorf("Decode() error = %v, want ErrInvalidData", err)
	}
}

func TestInsufficientBytes(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x01, 0x04, 'p', 'i'},  // name_len says 4, only 2 bytes given
		{0x02, 0x00, 0x00, 0x00}, // call id truncated
		{0x03, 0x00, 0x00},
	}
	for _, buf := range cases {
		if _, err := Decode(buf); err != ErrInvalidData {
			t.Errorf("Decode(% x) error = %v, want ErrInvalidData", buf, err)
		}
	}
}

func TestUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0x09}); err != ErrInvalidData {
		t.Errorf("Decode() error = %v, want ErrInvalidData", err)
	}
}

func TestResponseRejectedByDecode(t *testing.T) {
	buf := EncodeResponse(1, []byte("x"))
	if _, err := Decode(buf); err != ErrInvalidData {
		t.Errorf("Decode() of a response frame error = %v, want ErrInvalidData", err)
	}
}
