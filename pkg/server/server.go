package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/duplex/pkg/rpc"
	"github.com/tzrikka/duplex/pkg/upgrade"
)

const (
	timeout = 3 * time.Second
	path    = "/duplex"
)

type harness struct {
	listenPort    int
	queueCapacity int
	maxFrameSize  int
}

// Start is the `cmd/duplexd` CLI action: it initializes logging and runs
// the conformance harness.
func Start(_ context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"))
	h := &harness{
		listenPort:    cmd.Int("listen-port"),
		queueCapacity: cmd.Int("outbound-queue-depth"),
		maxFrameSize:  cmd.Int("max-frame-size"),
	}
	return h.run()
}

func initLog(devMode bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if !devMode {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Warn().Msg("********** DEV MODE - UNSAFE IN PRODUCTION! **********")
}

func (h *harness) run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, h.handleUpgrade)

	srv := &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(h.listenPort)),
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: 0, // A long-lived connection must not be write-timed-out mid-stream.
	}

	log.Info().Int("port", h.listenPort).Str("path", path).Msg("duplexd listening for WebSocket upgrades")
	if err := srv.ListenAndServe(); err != nil {
		log.Err(err).Send()
		return err
	}
	return nil
}

// handleUpgrade accepts one connection and runs the echo loop: log every
// Notify/Call, and for calls, send back the same payload it received.
// Enough to manually exercise a listener (and compare against reference
// clients) without being a feature application of its own.
func (h *harness) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	sio, err := upgrade.AcceptWithQueueCapacity(&log.Logger, w, r, h.queueCapacity, uint64(h.maxFrameSize))
	if err != nil {
		log.Err(err).Msg("WebSocket upgrade rejected")
		return
	}

	for {
		proc, err := sio.Recv()
		if err != nil {
			log.Info().Err(err).Msg("connection closed")
			return
		}

		switch proc.Kind {
		case rpc.ProcedureNotify:
			log.Debug().Str("method", proc.Request.Method()).Bytes("data", proc.Request.Data()).
				Msg("received notification")

		case rpc.ProcedureCall:
			log.Debug().Str("method", proc.Request.Method()).Bytes("data", proc.Request.Data()).
				Msg("received call, echoing reply")
			if err := proc.Response.Send(proc.Request.Data()); err != nil {
				log.Err(err).Msg("failed to send call response")
				return
			}
		}
	}
}
