// Package server runs the TCP listener and per-connection read/dispatch/
// write loop, spec §4.9. Grounded on the teacher's v3/syndicate/server.go
// HandleConnections/handleConnection accept loop: a plain Accept loop
// spawning one goroutine per connection, with the TLS handshake and
// trusted-device gate dropped (this protocol has no device-identity
// concept) in favor of the spec's simple accept-and-spawn.
package server

import (
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/simonll4/worker-ai-core/internal/connection"
	"github.com/simonll4/worker-ai-core/internal/decode"
	"github.com/simonll4/worker-ai-core/internal/framing"
	"github.com/simonll4/worker-ai-core/internal/modelpool"
	"github.com/simonll4/worker-ai-core/internal/session"
	"github.com/simonll4/worker-ai-core/internal/wire"
)

// Config bundles the collaborators shared across every connection (spec
// §4.9: "a shared model pool, frame decoder, and (optionally) visualizer").
type Config struct {
	Addr       string
	Pool       *modelpool.Pool
	Decoder    *decode.Registry
	Sessions   *session.Manager
	Catalog    connection.ClassResolver
	Visualizer connection.FrameVisualizer
	Logger     zerolog.Logger

	DefaultConfThreshold float64
	DefaultNMSIoU        float64
	MaxFrameBytes        uint32
	InitialWindowSize    int
}

// Server owns the listener and the set of in-flight connection handlers so
// Shutdown can finalize every active session before closing the listener.
type Server struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	handlers map[*connection.Handler]struct{}
}

// New constructs a Server; it does not yet bind the listener.
func New(cfg Config) *Server {
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = framing.DefaultMaxFrameBytes
	}
	return &Server{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "server").Logger(),
		handlers: make(map[*connection.Handler]struct{}),
	}
}

// Addr returns the listener's bound address, or "" if ListenAndServe has
// not yet bound it. Useful when Config.Addr used an OS-assigned port
// ("127.0.0.1:0").
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ListenAndServe binds the configured address and accepts connections until
// ctx is cancelled. On cancellation it first closes the listener, which
// stops accepting; it then waits for the connection goroutines to return
// (each closes its handler, finalizing that connection's session), and
// finally finalizes any sessions still active. The listener is therefore
// already closed while sessions are being finalized.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return eris.Wrapf(err, "server: listen on %s", s.cfg.Addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("worker-ai listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return s.listener.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				_ = g.Wait()
				s.drainAll()
				return nil
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		g.Go(func() error {
			s.handleConnection(gctx, conn)
			return nil
		})
	}
}

// Shutdown finalizes all active sessions and closes the listener. Safe to
// call even if ListenAndServe's context cancellation already triggered the
// same close.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	s.drainAll()
	return ln.Close()
}

func (s *Server) drainAll() {
	s.mu.Lock()
	handlers := make([]*connection.Handler, 0, len(s.handlers))
	for h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h.Close()
	}
	s.cfg.Sessions.EndAll()
}

// handleConnection runs the read→dispatch→write loop for one connection
// until it errors, the peer closes, or ctx is cancelled (spec §4.9: "spawn
// an isolated handler with its own tracker and session service").
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	connID := uuid.NewString()
	log := s.log.With().Str("remote_addr", remote).Str("conn_id", connID).Logger()

	s.cfg.Pool.ConnectionOpened()
	defer s.cfg.Pool.ConnectionClosed()

	h := connection.New(connection.Deps{
		Pool:                 s.cfg.Pool,
		Decoder:              s.cfg.Decoder,
		Sessions:             s.cfg.Sessions,
		Catalog:              s.cfg.Catalog,
		Visualizer:           s.cfg.Visualizer,
		Logger:               log,
		DefaultConfThreshold: s.cfg.DefaultConfThreshold,
		DefaultNMSIoU:        s.cfg.DefaultNMSIoU,
		MaxFrameBytes:        s.cfg.MaxFrameBytes,
		InitialWindowSize:    s.cfg.InitialWindowSize,
	}, remote)

	s.mu.Lock()
	s.handlers[h] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.handlers, h)
		s.mu.Unlock()
		h.Close()
	}()

	codec := wire.NewCodec()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := framing.ReadMessage(conn, s.cfg.MaxFrameBytes)
		if err != nil {
			if !eris.Is(err, framing.ErrFrameTooLarge) {
				return // clean EOF or transport error: peer is gone
			}
			s.writeOne(conn, codec, wire.NewErrorEnvelope(wire.ErrFrameTooLarge, err.Error()))
			return
		}

		env, decErr := codec.Decode(payload)
		if decErr != nil {
			switch {
			case wire.IsVersionUnsupported(decErr):
				s.writeOne(conn, codec, wire.NewErrorEnvelope(wire.ErrVersionUnsupported, "unsupported protocol_version"))
			case wire.IsBadMessage(decErr):
				s.writeOne(conn, codec, wire.NewErrorEnvelope(wire.ErrBadMessage, "msg_type does not match carried variant"))
			default:
				log.Warn().Err(decErr).Msg("malformed envelope")
			}
			return
		}

		for resp := range h.Dispatch(ctx, env) {
			if err := s.writeOne(conn, codec, resp); err != nil {
				log.Debug().Err(err).Msg("write failed, closing connection")
				return
			}
			if resp.MsgType == wire.MsgResult {
				if upd := h.WindowUpdateIfChanged(); upd != nil {
					if err := s.writeOne(conn, codec, upd); err != nil {
						return
					}
				}
			}
		}

		if h.State() == connection.StateClosing {
			return
		}
	}
}

func (s *Server) writeOne(conn net.Conn, codec *wire.Codec, env *wire.Envelope) error {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, env); err != nil {
		return eris.Wrap(err, "server: encode envelope")
	}
	return framing.WriteMessage(conn, buf.Bytes())
}
