package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/lanchat/protocol"
	"github.com/Mmx233/lanchat/server/connid"
	"github.com/Mmx233/lanchat/server/registry"
	"github.com/Mmx233/lanchat/server/uploads"
	"github.com/rs/zerolog"
)

// State is the position of a session in its lifecycle.
type State int32

const (
	StateAwaitingIdentity State = iota
	StateActive
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

var (
	errExpectedUsername = errors.New("expected USERNAME_SET frame")
	errUnexpectedFrame  = errors.New("unexpected frame type")
)

// Session is the server side of one client connection. The handler that
// accepted the connection owns it; the registry only sends through it.
type Session struct {
	id          connid.ID
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time
	username    string // written once, before registration

	writeTimeout time.Duration

	active    atomic.Bool
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	s := &Session{
		id:           connid.Generate(),
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
		writeTimeout: writeTimeout,
	}
	s.active.Store(true)
	return s
}

func (s *Session) ID() connid.ID          { return s.id }
func (s *Session) Username() string       { return s.username }
func (s *Session) RemoteAddr() string     { return s.remoteAddr }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }
func (s *Session) Active() bool           { return s.active.Load() }
func (s *Session) MarkInactive()          { s.active.Store(false) }
func (s *Session) State() State           { return State(s.state.Load()) }

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// Write writes to the peer under the write timeout. A failed or timed out
// write leaves the stream in an unknown state, so the transport is closed and
// the handler's next read ends the session.
func (s *Session) Write(p []byte) (int, error) {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	n, err := s.conn.Write(p)
	if err != nil {
		_ = s.Close()
	}
	return n, err
}

// Send writes raw text to the peer.
func (s *Session) Send(text string) error {
	_, err := io.WriteString(s, text)
	return err
}

// Close closes the transport once; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

var _ registry.Member = (*Session)(nil)

// idleReader refreshes the read deadline before every read when an idle
// timeout is configured.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	}
	return r.conn.Read(p)
}

// handleConnection runs the session state machine for one accepted connection.
func (s *Server) handleConnection(sess *Session) {
	logger := s.logger.With().
		Stringer("conn_id", sess.id).
		Str("remote", sess.remoteAddr).
		Logger()

	defer s.untrack(sess)
	defer func() {
		if err := sess.Close(); err != nil && !isNetClosedError(err) {
			logger.Debug().Err(err).Msg("close connection failed")
		}
	}()

	logger.Debug().Msg("new connection")

	r := idleReader{conn: sess.conn, timeout: s.config.IdleTimeout}
	buf := make([]byte, s.config.BufferSize)

	sess.setState(StateAwaitingIdentity)
	username, err := s.awaitIdentity(r, buf)
	if err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		sess.setState(StateTerminating)
		return
	}
	sess.username = username
	logger = logger.With().Str("username", username).Logger()

	s.registry.Register(sess)
	defer s.terminate(sess, logger)
	sess.setState(StateActive)

	if count := s.registry.Count(); s.config.MaxClients > 0 && count > s.config.MaxClients {
		logger.Warn().Int("count", count).Int("max_clients", s.config.MaxClients).Msg("advisory client limit exceeded")
	}
	logger.Info().Msg("client connected")
	s.registry.Notify(username + " joined the chat")

	err = s.serve(sess, r, buf, logger)
	logDisconnect(logger, err)
}

// awaitIdentity reads the first frame, which must be a valid USERNAME_SET.
func (s *Server) awaitIdentity(r io.Reader, buf []byte) (string, error) {
	frame, err := protocol.ReadFrame(r, buf)
	if err != nil {
		return "", err
	}
	if frame.Type != protocol.MsgTypeUsernameSet {
		return "", fmt.Errorf("%w, got %s", errExpectedUsername, frame.Type)
	}
	return protocol.DecodeUsername(frame.Payload, s.config.MaxUsernameLength)
}

// serve is the ACTIVE loop. It returns nil on a graceful disconnect or when
// the session was marked inactive by a failed broadcast.
func (s *Server) serve(sess *Session, r io.Reader, buf []byte, logger zerolog.Logger) error {
	for sess.Active() {
		frame, err := protocol.ReadFrame(r, buf)
		if err != nil {
			return err
		}

		logger.Trace().Stringer("type", frame.Type).Int("payload", len(frame.Payload)).Msg("frame received")

		switch frame.Type {
		case protocol.MsgTypeMessage:
			text := string(frame.Payload)
			logger.Info().Str("text", text).Msg("message")
			s.registry.BroadcastChat(sess, text)

		case protocol.MsgTypeFileTransfer:
			if err := s.receiveFile(sess, r, frame.Payload, logger); err != nil {
				return err
			}

		case protocol.MsgTypeDisconnect:
			logger.Info().Msg("client disconnecting gracefully")
			return nil

		case protocol.MsgTypePing:
			// The read itself refreshed the idle deadline.

		case protocol.MsgTypeClientList:
			if err := sess.Send(registry.FormatNotification(s.registry.OnlineSummary())); err != nil {
				return fmt.Errorf("send client list: %w", err)
			}

		default:
			return fmt.Errorf("%w: %s", errUnexpectedFrame, frame.Type)
		}
	}
	return nil
}

// receiveFile runs the receiving side of a file transfer. Only errors that
// leave the stream unusable are returned; a destination file failure aborts
// the transfer but keeps the session.
func (s *Server) receiveFile(sess *Session, r io.Reader, payload []byte, logger zerolog.Logger) error {
	header, err := protocol.DecodeFileHeader(payload)
	if err != nil {
		return err
	}
	logger = logger.With().Str("file", header.Filename).Int64("size", header.Size).Logger()

	if err := protocol.WriteAck(sess); err != nil {
		return err
	}

	chunk := protocol.GetChunkBuffer(s.config.FileBufferSize)
	defer protocol.PutChunkBuffer(chunk)

	upload, createErr := s.uploads.Create(header.Filename)
	var dst io.Writer = io.Discard
	if createErr != nil {
		logger.Error().Err(createErr).Msg("cannot create destination file, discarding transfer")
	} else {
		dst = upload
	}

	stats, err := protocol.ReceiveFile(r, dst, header.Size, *chunk)
	if err != nil {
		if upload != nil {
			upload.Abort()
		}
		if errors.Is(err, protocol.ErrTransferIncomplete) {
			return err
		}
		logger.Error().Err(err).Msg("write destination file failed, transfer aborted")
		return nil
	}
	if upload == nil {
		return nil
	}

	path, err := upload.Commit(uploads.Record{
		Size:       stats.Bytes,
		Sender:     sess.username,
		Remote:     sess.remoteAddr,
		DurationMs: stats.Elapsed.Milliseconds(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("store received file failed")
		return nil
	}

	logger.Info().
		Str("path", path).
		Int64("bytes", stats.Bytes).
		Float64("mb_per_sec", stats.MBps()).
		Msg("file received")
	s.registry.Notify(sess.username + " shared file: " + upload.Name())
	return nil
}

// terminate is the TERMINATING step for a registered session.
func (s *Server) terminate(sess *Session, logger zerolog.Logger) {
	sess.setState(StateTerminating)
	sess.MarkInactive()
	if s.registry.Unregister(sess) {
		s.registry.Notify(sess.username + " left the chat")
	}
	logger.Info().Dur("connected_for", time.Since(sess.connectedAt)).Msg("client disconnected")
}

func isNetClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func logDisconnect(logger zerolog.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("client closed connection")
	case isTimeout(err):
		logger.Warn().Msg("idle timeout")
	case isNetClosedError(err):
		logger.Debug().Msg("connection closed by server")
	default:
		logger.Warn().Err(err).Msg("session terminated")
	}
}
