package transport

import "encoding/binary"

// StatusCode is a WebSocket close status code, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.1.
type StatusCode uint16

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusUnsupportedData StatusCode = 1003
	StatusInvalidPayload  StatusCode = 1007
	StatusPolicyViolation StatusCode = 1008
	StatusMessageTooBig   StatusCode = 1009
	StatusInternalError   StatusCode = 1011
)

// String returns the status code's name, or "unknown" if unrecognized.
func (s StatusCode) String() string {
	switch s {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusInvalidPayload:
		return "invalid frame payload data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusInternalError:
		return "internal server error"
	default:
		return "unknown"
	}
}

// parseClose extracts the status code and reason from a close frame's
// payload, per https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.1.
// A close frame may carry no body at all, in which case the code defaults
// to [StatusNormalClosure] and the reason is empty.
func parseClose(payload []byte) (uint16, string) {
	if len(payload) < 2 {
		return uint16(StatusNormalClosure), ""
	}
	return binary.BigEndian.Uint16(payload[:2]), string(payload[2:])
}

// encodeClose builds a close frame payload from a status code and reason.
func encodeClose(code StatusCode, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf[:2], uint16(code))
	copy(buf[2:], reason)
	return buf
}

// SendClose writes a close control frame with the given status code and
// reason. It does not wait for the peer's answering close frame nor close
// the underlying socket. The caller decides when to tear down the
// connection, since a well-behaved peer may still have data frames in
// flight it wants delivered first.
func (c *Conn) SendClose(code StatusCode, reason string) error {
	return c.WriteControl(OpcodeClose, encodeClose(code, reason))
}
