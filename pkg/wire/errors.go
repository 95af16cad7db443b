package wire

import "errors"

// ErrEventNameTooBig is returned by the Encode* functions when a method or
// notification name is longer than 255 bytes (the name length prefix is a
// single octet).
var ErrEventNameTooBig = errors.New("wire: event name exceeds 255 bytes")

// ErrInvalidData is returned by [Decode] when the given buffer doesn't carry
// a complete, well-formed frame: an unknown frame-type tag, a truncated
// header or payload, or a method name that isn't valid UTF-8. All of these
// distinct failure modes fold into this single error.
var ErrInvalidData = errors.New("wire: invalid frame data")
