package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Mmx233/lanchat/config"
	"github.com/Mmx233/lanchat/protocol"
	"github.com/Mmx233/lanchat/server/registry"
	"github.com/Mmx233/lanchat/server/uploads"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server represents the chat relay
type Server struct {
	config   *config.Server
	registry *registry.Registry
	uploads  *uploads.Store
	logger   zerolog.Logger

	handlers sync.WaitGroup

	mu       sync.Mutex
	sessions map[*Session]struct{} // every accepted connection, registered or not
	addr     net.Addr
}

// New creates a new server
func New(conf *config.Server) (*Server, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	logger := log.With().Str("com", "server").Logger()

	return &Server{
		config:   conf,
		registry: registry.New(logger),
		uploads:  uploads.New(conf.Upload.Dir, conf.Upload.ManifestEnabled(), logger),
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Start listens on the configured address and serves until ctx is cancelled.
func Start(ctx context.Context, conf *config.Server) error {
	srv, err := New(conf)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// ListenAndServe binds the configured TCP address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Registry exposes the live member set.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Uploads exposes the upload store.
func (s *Server) Uploads() *uploads.Store {
	return s.uploads
}

// Addr returns the bound address once Serve has started, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// session and waits for all handlers to return. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	logger := s.logger.With().Str("addr", ln.Addr().String()).Logger()
	logger.Info().
		Int("max_clients", s.config.MaxClients).
		Str("upload_dir", s.uploads.Dir()).
		Uint32("protocol_version", protocol.ProtocolVersion).
		Msg("chat server listening")

	err := s.acceptLoop(ctx, ln, logger)
	s.shutdown(ln, logger)
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, logger zerolog.Logger) error {
	dl, canPoll := ln.(deadlineListener)
	if !canPoll {
		// Fall back to unblocking Accept by closing the listener.
		stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
		defer stop()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if canPoll {
			_ = dl.SetDeadline(time.Now().Add(s.config.AcceptPollInterval))
		}

		conn, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			logger.Error().Err(err).Msg("accept connection failed")
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		sess := newSession(conn, s.config.WriteTimeout)
		s.track(sess)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConnection(sess)
		}()
	}
}

// shutdown closes the listener and every session, then waits for handlers.
func (s *Server) shutdown(ln net.Listener, logger zerolog.Logger) {
	logger.Info().Msg("server shutting down")
	if err := ln.Close(); err != nil && !isNetClosedError(err) {
		logger.Debug().Err(err).Msg("close listener failed")
	}

	// Closing transports first unblocks any fan-out stuck writing to a peer
	// that stopped reading; it holds the registry read lock until then.
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		_ = sess.Close()
	}

	s.registry.CloseAll()

	s.handlers.Wait()
	logger.Info().Msg("server stopped")
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}
