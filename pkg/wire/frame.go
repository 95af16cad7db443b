// Package wire implements the compact binary frame codec for the duplex
// RPC protocol: one logical frame per transport message, tagged by a single
// leading octet (1=notify, 2=call, 3=reset, 4=response). It knows nothing
// about sockets, goroutines, or call lifecycles; see
// [github.com/tzrikka/duplex/pkg/rpc] for that.
package wire

import (
	"encoding/binary"
	"unicode/utf8"
)

// Tag identifies the wire-level type of a frame.
type Tag byte

const (
	// TagNotify carries a one-way (name, payload) pair, in either direction.
	TagNotify Tag = 1
	// TagCall carries a (name, call_id, payload) request, peer to us.
	TagCall Tag = 2
	// TagReset carries a bare call_id, peer to us, canceling that call.
	TagReset Tag = 3
	// TagResponse carries a (call_id, payload) reply, us to peer.
	TagResponse Tag = 4
)

const maxNameLen = 255

// EncodeNotify builds a type-1 frame: `u8 name_len | name | payload`.
// It fails with [ErrEventNameTooBig] if name is longer than 255 bytes.
func EncodeNotify(name string, payload []byte) ([]byte, error) {
	if len(name) > maxNameLen {
		return nil, ErrEventNameTooBig
	}
	buf := make([]byte, 0, 1+1+len(name)+len(payload))
	buf = append(buf, byte(TagNotify), byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, payload...)
	return buf, nil
}

// EncodeCall builds a type-2 frame: `u8 name_len | name | u32 call_id | payload`.
// It fails with [ErrEventNameTooBig] if name is longer than 255 bytes.
//
// The receive loop itself never calls this (calls always originate from
// the peer), but it's kept alongside the decoder for round-trip testing
// and for any future peer-side counterpart.
func EncodeCall(name string, id uint32, payload []byte) ([]byte, error) {
	if len(name) > maxNameLen {
		return nil, ErrEventNameTooBig
	}
	buf := make([]byte, 0, 1+1+len(name)+4+len(payload))
	buf = append(buf, byte(TagCall), byte(len(name)))
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint32(buf, id)
	buf = append(buf, payload...)
	return buf, nil
}

// EncodeReset builds a type-3 frame: `u32 call_id`.
func EncodeReset(id uint32) []byte {
	buf := make([]byte, 0, 1+4)
	buf = append(buf, byte(TagReset))
	buf = binary.BigEndian.AppendUint32(buf, id)
	return buf
}

// EncodeResponse builds a type-4 frame: `u32 call_id | payload`.
func EncodeResponse(id uint32, payload []byte) []byte {
	buf := make([]byte, 0, 1+4+len(payload))
	buf = append(buf, byte(TagResponse))
	buf = binary.BigEndian.AppendUint32(buf, id)
	buf = append(buf, payload...)
	return buf
}

// Decoded is the result of decoding one inbound frame.
type Decoded struct {
	Tag Tag
	// Req is populated for TagNotify and TagCall.
	Req *Request
	// CallID is populated for TagCall and TagReset.
	CallID uint32
}

// Decode parses one complete, owned message buffer into a [Decoded] frame.
// It rejects TagResponse (the server never receives responses) and any
// unrecognized tag with [ErrInvalidData].
func Decode(buf []byte) (Decoded, error) {
	if len(buf) < 1 {
		return Decoded{}, ErrInvalidData
	}
	tag := Tag(buf[0])
	rest := buf[1:]

	switch tag {
	case TagNotify:
		req, err := parseRequest(buf, rest, false)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Tag: TagNotify, Req: req}, nil

	case TagCall:
		req, err := parseRequest(buf, rest, true)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Tag: TagCall, Req: req, CallID: req.callID}, nil

	case TagReset:
		id, err := readUint32(rest)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Tag: TagReset, CallID: id}, nil

	default:
		return Decoded{}, ErrInvalidData
	}
}

// DecodeResponse parses a type-4 frame, returning its call id and payload.
// Only used by tests and by any peer-side counterpart of this codec; the
// server-side receive loop never decodes responses (see [Decode]).
func DecodeResponse(buf []byte) (id uint32, payload []byte, err error) {
	if len(buf) < 1 || Tag(buf[0]) != TagResponse {
		return 0, nil, ErrInvalidData
	}
	rest := buf[1:]
	id, err = readUint32(rest)
	if err != nil {
		return 0, nil, err
	}
	return id, rest[4:], nil
}

func readUint32(rest []byte) (uint32, error) {
	if len(rest) < 4 {
		return 0, ErrInvalidData
	}
	return binary.BigEndian.Uint32(rest[:4]), nil
}

// parseRequest reads `u8 name_len | name [| u32 call_id]` from rest, which is
// buf with the leading tag byte already stripped, and returns a [Request]
// that borrows buf for its lifetime. withID controls whether a call_id
// follows the name (true for TagCall, false for TagNotify).
func parseRequest(buf, rest []byte, withID bool) (*Request, error) {
	if len(rest) < 1 {
		return nil, ErrInvalidData
	}
	nameLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < nameLen {
		return nil, ErrInvalidData
	}
	name := rest[:nameLen]
	if !utf8.Valid(name) {
		return nil, ErrInvalidData
	}
	rest = rest[nameLen:]

	var id uint32
	if withID {
		var err error
		id, err = readUint32(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[4:]
	}

	dataOffset := len(buf) - len(rest)
	return &Request{
		buf:        buf,
		methodLen:  uint8(nameLen),
		dataOffset: uint16(dataOffset),
		callID:     id,
	}, nil
}
