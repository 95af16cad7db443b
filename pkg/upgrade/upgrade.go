// Package upgrade implements the server side of the HTTP-to-WebSocket
// handshake and hands the resulting hijacked connection to pkg/transport
// and pkg/rpc.
package upgrade

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/rpc"
	"github.com/tzrikka/duplex/pkg/transport"
)

// websocketGUID is the fixed value RFC 6455 §1.3 defines for deriving
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Subprotocol is the value this server expects (and echoes) in the
// Sec-WebSocket-Protocol header.
const Subprotocol = "websocket.io-rpc-v0.1"

// OutboundQueueCapacity is the default bound for a SocketIo's outbound
// queue, passed to [rpc.New] by [Accept].
const OutboundQueueCapacity = 16

// DefaultMaxMessageSize is the default reassembled-message size limit
// passed to [transport.NewConnFromHijack] by [Accept].
const DefaultMaxMessageSize = transport.DefaultMaxMessageSize

var (
	ErrNotGet           = errors.New("upgrade: request method is not GET")
	ErrMissingUpgrade   = errors.New("upgrade: missing or mismatched Connection/Upgrade headers")
	ErrUnsupportedVer   = errors.New("upgrade: Sec-WebSocket-Version is not 13")
	ErrMissingKey       = errors.New("upgrade: missing Sec-WebSocket-Key header")
	ErrWrongSubprotocol = errors.New("upgrade: missing or mismatched Sec-WebSocket-Protocol header")
	ErrNotHijackable    = errors.New("upgrade: response writer does not support hijacking")
)

// validate checks the inbound request's handshake headers, without
// touching the response.
func validate(r *http.Request) error {
	if r.Method != http.MethodGet {
		return ErrNotGet
	}
	if !headerContains(r.Header, "Connection", "upgrade") {
		return ErrMissingUpgrade
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return ErrMissingUpgrade
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return ErrUnsupportedVer
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return ErrMissingKey
	}
	if !headerContains(r.Header, "Sec-WebSocket-Protocol", Subprotocol) {
		return ErrWrongSubprotocol
	}
	return nil
}

// headerContains reports whether any comma-separated value of header name
// equals want, case-insensitively.
func headerContains(h http.Header, name, want string) bool {
	for _, part := range strings.Split(h.Get(name), ",") {
		if strings.EqualFold(strings.TrimSpace(part), want) {
			return true
		}
	}
	return false
}

func acceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Accept validates the request, performs the 101 handshake, hijacks the
// connection, and wraps it as an [rpc.SocketIo] with the default outbound
// queue capacity and maximum message size. See [AcceptWithQueueCapacity] to
// override either.
func Accept(logger *zerolog.Logger, w http.ResponseWriter, r *http.Request) (*rpc.SocketIo, error) {
	return AcceptWithQueueCapacity(logger, w, r, OutboundQueueCapacity, DefaultMaxMessageSize)
}

// AcceptWithQueueCapacity is [Accept] with an explicit outbound queue
// capacity and maximum reassembled-message size. Once the connection is
// hijacked, logger is stamped with a short, opaque connection ID for
// correlation. The ID has no protocol meaning and never appears on the wire.
func AcceptWithQueueCapacity(logger *zerolog.Logger, w http.ResponseWriter, r *http.Request, queueCapacity int, maxMessageSize uint64) (*rpc.SocketIo, error) {
	if err := validate(r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, ErrNotHijackable.Error(), http.StatusInternalServerError)
		return nil, ErrNotHijackable
	}

	nc, rw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return nil, err
	}
	// Clear any deadlines the HTTP server set while reading the request, so
	// they don't cut the long-lived WebSocket connection short.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		nc.Close()
		return nil, err
	}

	connID := shortuuid.New()
	l := logger.With().Str("conn_id", connID).Logger()

	key := r.Header.Get("Sec-WebSocket-Key")
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Protocol: " + Subprotocol + "\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n\r\n"
	if _, err := rw.WriteString(resp); err != nil {
		nc.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		nc.Close()
		return nil, err
	}

	l.Debug().Str("remote_addr", r.RemoteAddr).Msg("accepted WebSocket upgrade")

	conn := transport.NewConnFromHijack(&l, nc, rw, maxMessageSize)
	return rpc.New(&l, conn, queueCapacity), nil
}
