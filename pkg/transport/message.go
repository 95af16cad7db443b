package transport

import (
	"bytes"
	"fmt"
	"io"
)

// EventKind tags the shape of one value returned by [Conn.Next].
type EventKind int

const (
	// EventData carries one complete, defragmented binary message.
	EventData EventKind = iota
	// EventPing carries a ping control frame's application data. The
	// caller is responsible for queuing a matching pong; this layer
	// never writes back on its own, since the writer half belongs to
	// whichever single task the caller dedicates to writes.
	EventPing
	// EventClose indicates the peer sent a close control frame.
	EventClose
)

// Event is one value yielded by [Conn.Next].
type Event struct {
	Kind EventKind
	Data []byte // Payload for EventData and EventPing.

	CloseCode   uint16
	CloseReason string
}

// Next reads from the connection until one complete logical event is
// available: a fully defragmented data message, a ping, or a close. Pong
// frames, always unsolicited here per RFC 6455 §5.5.2-3, are consumed
// silently. A message that starts fragmented is always decoded from the
// full reassembled buffer once the final fragment arrives, never from the
// last fragment alone.
func (c *Conn) Next() (Event, error) {
	var msg bytes.Buffer
	fragmented := false

	for {
		h, err := readFrameHeader(c.rw, c.headerBuf[:])
		if err != nil {
			c.logger.Err(err).Msg("failed to read WebSocket frame header")
			return Event{}, fmt.Errorf("failed to read frame header: %w", err)
		}
		c.logger.Trace().Str("opcode", h.opcode.String()).Uint64("length", h.payloadLength).
			Msg("received WebSocket frame")

		if h.opcode == OpcodeBinary || h.opcode == OpcodeContinuation {
			if uint64(msg.Len())+h.payloadLength > c.maxMessageSize {
				err := fmt.Errorf("message of at least %d bytes exceeds the %d-byte limit",
					uint64(msg.Len())+h.payloadLength, c.maxMessageSize)
				c.logger.Err(err).Msg("rejecting oversized WebSocket message")
				return Event{}, err
			}
		}

		payload := make([]byte, h.payloadLength)
		if h.payloadLength > 0 {
			if _, err := io.ReadFull(c.rw, payload); err != nil {
				c.logger.Err(err).Msg("failed to read WebSocket frame payload")
				return Event{}, fmt.Errorf("failed to read frame payload: %w", err)
			}
			unmask(payload, h.maskingKey)
		}

		switch h.opcode {
		case OpcodeClose:
			code, reason := parseClose(payload)
			c.logger.Trace().Uint16("close_code", code).Str("close_reason", reason).
				Msg("received WebSocket close control frame")
			return Event{Kind: EventClose, CloseCode: code, CloseReason: reason}, nil

		case OpcodePing:
			c.logger.Trace().Bytes("payload", payload).Msg("received WebSocket ping control frame")
			return Event{Kind: EventPing, Data: payload}, nil

		case OpcodePong:
			continue // No unsolicited pings are sent, so nothing to correlate.

		case OpcodeBinary:
			if !h.fin {
				fragmented = true
				msg.Write(payload)
				continue
			}
			if fragmented {
				// A message that started fragmented must finish as a
				// continuation frame, never as a second whole binary frame.
				err := fmt.Errorf("unexpected binary frame mid-fragmentation")
				c.logger.Err(err).Msg("protocol error")
				return Event{}, err
			}
			c.logger.Debug().Bytes("data", payload).Msg("received WebSocket data message")
			return Event{Kind: EventData, Data: payload}, nil

		case OpcodeContinuation:
			if !fragmented {
				err := fmt.Errorf("continuation frame without a preceding fragment")
				c.logger.Err(err).Msg("protocol error")
				return Event{}, err
			}
			msg.Write(payload)
			if h.fin {
				c.logger.Debug().Bytes("data", msg.Bytes()).Msg("received WebSocket data message")
				return Event{Kind: EventData, Data: msg.Bytes()}, nil
			}

		default:
			err := fmt.Errorf("unexpected opcode %d", h.opcode)
			c.logger.Err(err).Msg("protocol error")
			return Event{}, err
		}
	}
}

// WriteMessage writes one complete, unfragmented binary data frame.
func (c *Conn) WriteMessage(payload []byte) error {
	if err := writeFrameHeader(c.rw, OpcodeBinary, true, len(payload)); err != nil {
		c.logger.Err(err).Msg("failed to write WebSocket frame header")
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := c.rw.Write(payload); err != nil {
		c.logger.Err(err).Msg("failed to write WebSocket frame payload")
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	if err := c.rw.Flush(); err != nil {
		c.logger.Err(err).Msg("failed to flush WebSocket data frame")
		return err
	}
	c.logger.Debug().Bytes("data", payload).Msg("sent WebSocket data message")
	return nil
}

// WriteControl writes one control frame (pong or close). The payload must be
// at most [maxControlPayload] bytes, per RFC 6455 §5.5.
func (c *Conn) WriteControl(opcode Opcode, payload []byte) error {
	if len(payload) > maxControlPayload {
		return fmt.Errorf("control frame payload of %d bytes exceeds the %d-byte limit", len(payload), maxControlPayload)
	}
	if err := writeFrameHeader(c.rw, opcode, true, len(payload)); err != nil {
		c.logger.Err(err).Msg("failed to write WebSocket control frame header")
		return fmt.Errorf("failed to write control frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.rw.Write(payload); err != nil {
			c.logger.Err(err).Msg("failed to write WebSocket control frame payload")
			return fmt.Errorf("failed to write control frame payload: %w", err)
		}
	}
	if err := c.rw.Flush(); err != nil {
		c.logger.Err(err).Msg("failed to flush WebSocket control frame")
		return err
	}
	c.logger.Trace().Str("opcode", opcode.String()).Bytes("payload", payload).
		Msg("sent WebSocket control frame")
	return nil
}
