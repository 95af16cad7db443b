package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxControlPayload is the maximum payload size of a WebSocket control frame
// (ping/pong/close), per https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.
const maxControlPayload = 125

// frameHeader is one parsed WebSocket frame header (the Extension/Application
// data itself is read separately, straight into the caller's buffer).
// Based on https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
type frameHeader struct {
	fin           bool
	rsv           [3]bool
	opcode        Opcode
	masked        bool
	payloadLength uint64
	maskingKey    [4]byte
}

// readFrameHeader reads and validates one frame header from r. Because this
// side of the connection is the server, it requires the mask bit to be set
// (https://datatracker.ietf.org/doc/html/rfc6455#section-5.1: "A server MUST
// NOT accept a new connection ... if the frame is not masked").
func readFrameHeader(r io.Reader, buf []byte) (frameHeader, error) {
	var h frameHeader

	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return h, fmt.Errorf("failed to read the first two header bytes: %w", err)
	}
	b0, b1 := buf[0], buf[1]

	h.fin = b0&0x80 != 0
	h.rsv[0] = b0&0x40 != 0
	h.rsv[1] = b0&0x20 != 0
	h.rsv[2] = b0&0x10 != 0
	if h.rsv[0] || h.rsv[1] || h.rsv[2] {
		return h, errors.New("client sent non-zero reserved bits")
	}
	h.opcode = Opcode(b0 & 0x0f)
	if (h.opcode > OpcodeBinary && h.opcode < OpcodeClose) || h.opcode > OpcodePong {
		return h, fmt.Errorf("client sent an unknown opcode %d", h.opcode)
	}

	h.masked = b1&0x80 != 0
	if !h.masked {
		return h, errors.New("client sent an unmasked frame")
	}
	length := b1 & 0x7f

	switch {
	case length <= 125:
		h.payloadLength = uint64(length)
	case length == 126:
		if _, err := io.ReadFull(r, buf[:2]); err != nil {
			return h, fmt.Errorf("failed to read extended payload length: %w", err)
		}
		h.payloadLength = uint64(binary.BigEndian.Uint16(buf[:2]))
	default: // 127
		if _, err := io.ReadFull(r, buf[:8]); err != nil {
			return h, fmt.Errorf("failed to read extended payload length: %w", err)
		}
		h.payloadLength = binary.BigEndian.Uint64(buf[:8])
	}

	if h.opcode.isControl() && h.payloadLength > maxControlPayload {
		return h, errors.New("client sent an oversized control frame")
	}

	if _, err := io.ReadFull(r, h.maskingKey[:]); err != nil {
		return h, fmt.Errorf("failed to read masking key: %w", err)
	}

	return h, nil
}

func unmask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

// writeFrameHeader writes one unmasked frame header to w, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.1: "a server MUST
// NOT mask any frames that it sends to the client".
func writeFrameHeader(w io.Writer, opcode Opcode, fin bool, payloadLength int) error {
	var b0 byte
	if fin {
		b0 |= 0x80
	}
	b0 |= byte(opcode)

	switch {
	case payloadLength <= 125:
		if _, err := w.Write([]byte{b0, byte(payloadLength)}); err != nil {
			return err
		}
	case payloadLength <= 0xFFFF:
		header := make([]byte, 4)
		header[0] = b0
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(payloadLength))
		if _, err := w.Write(header); err != nil {
			return err
		}
	default:
		header := make([]byte, 10)
		header[0] = b0
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(payloadLength))
		if _, err := w.Write(header); err != nil {
			return err
		}
	}
	return nil
}
