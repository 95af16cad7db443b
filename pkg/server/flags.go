// Package server wires pkg/upgrade and pkg/rpc into a conformance/echo
// harness: an HTTP listener that accepts WebSocket upgrades at one path and
// logs (and echoes) whatever Procedures arrive on each connection. It is
// the ambient CLI/config layer around the core library, not a "room" or
// "broadcast" application of its own.
package server

import (
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultListenPort   = 8080
	DefaultQueueDepth   = 16
	DefaultMaxFrameSize = 1 << 20 // 1 MiB.
)

// Flags defines the CLI flags that configure the duplexd harness. These can
// also be set using environment variables and the application's
// configuration file, via the same three-way source chain on every flag.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "listen-port",
			Usage: "TCP port to accept WebSocket upgrade requests on",
			Value: DefaultListenPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DUPLEXD_LISTEN_PORT"),
				toml.TOML("server.listen_port", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "outbound-queue-depth",
			Usage: "bounded outbound queue capacity per connection",
			Value: DefaultQueueDepth,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DUPLEXD_QUEUE_DEPTH"),
				toml.TOML("server.outbound_queue_depth", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-frame-size",
			Usage: "maximum size in bytes of a single (possibly reassembled) data message",
			Value: DefaultMaxFrameSize,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("DUPLEXD_MAX_FRAME_SIZE"),
				toml.TOML("server.max_frame_size", configFilePath),
			),
		},
	}
}
