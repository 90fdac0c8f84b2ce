package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/lanchat/config"
	"github.com/Mmx233/lanchat/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrMessageTooLong  = errors.New("message too long")
	ErrInvalidUsername = errors.New("invalid username")
	ErrNotRegularFile  = errors.New("not a regular file")
	ErrAckTimeout      = errors.New("timed out waiting for file transfer acknowledgment")
	ErrClosed          = errors.New("client closed")
)

// ProgressFunc is called after each chunk of an upload.
type ProgressFunc func(sent, total int64)

// Client is one connection to a chat server. A single goroutine owns the
// socket's read side; everything the server sends is delivered on Messages
// except the file transfer acknowledgment, which is routed to SendFile.
type Client struct {
	config *config.Client
	conn   net.Conn
	logger zerolog.Logger

	writeMu  sync.Mutex // keeps frames and file data from interleaving
	username string

	messages   chan string
	ack        chan struct{}
	ackPending atomic.Bool

	closed    chan struct{}
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to addr and starts the receive loop. A bare host uses
// conf.ServerPort.
func Dial(ctx context.Context, addr string, conf *config.Client) (*Client, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	target, err := config.ResolveServerAddress(addr, conf.ServerPort)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", target, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c := &Client{
		config:   conf,
		conn:     conn,
		logger:   log.With().Str("com", "client").Str("server", target).Logger(),
		messages: make(chan string, 64),
		ack:      make(chan struct{}, 1),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	c.logger.Info().Msg("connected to server")
	return c, nil
}

// Messages delivers server text in arrival order. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan string {
	return c.messages
}

// Done is closed when the receive loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the receive loop, if it has ended.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Username returns the name sent by Login.
func (c *Client) Username() string {
	return c.username
}

// LocalAddr returns the local address of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.messages)
	defer close(c.done)

	buf := make([]byte, config.DefaultBufferSize)
	var held string // ack prefix carried over from the previous read
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			text := held + string(buf[:n])
			held = ""
			if c.ackPending.Load() {
				if i := strings.Index(text, protocol.AckToken); i >= 0 {
					text = text[:i] + text[i+len(protocol.AckToken):]
					c.ackPending.Store(false)
					select {
					case c.ack <- struct{}{}:
					default:
					}
				} else if k := ackPrefixLen(text); k > 0 {
					held = text[len(text)-k:]
					text = text[:len(text)-k]
				}
			}
			c.deliver(text)
		}
		if err != nil {
			c.deliver(held)
			if errors.Is(err, net.ErrClosed) {
				select {
				case <-c.closed:
					err = ErrClosed
				default:
				}
			}
			c.readErr = err
			c.logger.Debug().Err(err).Msg("receive loop stopped")
			return
		}
	}
}

func (c *Client) deliver(text string) {
	if text == "" {
		return
	}
	select {
	case c.messages <- text:
	case <-c.closed:
	}
}

// ackPrefixLen returns the length of the longest proper prefix of the ack
// token that text ends with.
func ackPrefixLen(text string) int {
	for k := min(len(protocol.AckToken)-1, len(text)); k > 0; k-- {
		if strings.HasSuffix(text, protocol.AckToken[:k]) {
			return k
		}
	}
	return 0
}

func (c *Client) write(fn func(w io.Writer) error) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn(c.conn)
}

// Login sends the username and, if configured, starts the keepalive loop.
func (c *Client) Login(username string) error {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > config.DefaultMaxUsernameLength {
		return fmt.Errorf("%w: must be 1 to %d bytes", ErrInvalidUsername, config.DefaultMaxUsernameLength)
	}
	if err := c.write(func(w io.Writer) error { return protocol.WriteUsername(w, username) }); err != nil {
		return err
	}
	c.username = username
	c.logger.Info().Str("username", username).Msg("logged in")

	if c.config.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(c.config.PingInterval)
	}
	return nil
}

// SendMessage sends one chat line. Empty text is not sent.
func (c *Client) SendMessage(text string) error {
	if text == "" {
		return nil
	}
	if len(text) > c.config.MaxMessageLength {
		return fmt.Errorf("%w (max %d bytes)", ErrMessageTooLong, c.config.MaxMessageLength)
	}
	return c.write(func(w io.Writer) error { return protocol.WriteMessage(w, text) })
}

// RequestClientList asks the server for the online users; the reply arrives
// on Messages.
func (c *Client) RequestClientList() error {
	return c.write(protocol.WriteClientList)
}

// Ping sends a keepalive frame.
func (c *Client) Ping() error {
	return c.write(protocol.WritePing)
}

func (c *Client) pingLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// SendFile uploads the file at path under its base name. progress may be nil.
func (c *Client) SendFile(path string, progress ProgressFunc) (protocol.TransferStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.TransferStats{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return protocol.TransferStats{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return protocol.TransferStats{}, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	header := protocol.FileHeader{Filename: filepath.Base(path), Size: info.Size()}
	logger := c.logger.With().Str("file", header.Filename).Int64("size", header.Size).Logger()

	var src io.Reader = f
	if progress != nil {
		src = &progressReader{r: f, total: header.Size, fn: progress}
	}

	chunk := protocol.GetChunkBuffer(c.config.FileBufferSize)
	defer protocol.PutChunkBuffer(chunk)

	var stats protocol.TransferStats
	err = c.write(func(w io.Writer) error {
		select {
		case <-c.ack:
		default:
		}
		c.ackPending.Store(true)
		defer c.ackPending.Store(false)
		var serr error
		stats, serr = protocol.SendFile(w, src, header, c.waitAck, *chunk)
		return serr
	})
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			// The server is now out of step with the stream.
			logger.Error().Err(err).Msg("file transfer failed, closing connection")
			_ = c.Close()
		}
		return stats, err
	}

	logger.Info().
		Int64("bytes", stats.Bytes).
		Float64("mb_per_sec", stats.MBps()).
		Msg("file sent")
	return stats, nil
}

func (c *Client) waitAck() error {
	timer := time.NewTimer(c.config.AckTimeout)
	defer timer.Stop()
	select {
	case <-c.ack:
		return nil
	case <-timer.C:
		return ErrAckTimeout
	case <-c.done:
		return fmt.Errorf("wait for acknowledgment: %w", io.ErrUnexpectedEOF)
	case <-c.closed:
		return ErrClosed
	}
}

// Disconnect tells the server the session is ending and closes the
// connection.
func (c *Client) Disconnect() error {
	err := c.write(protocol.WriteDisconnect)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection and waits for the background goroutines.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		c.wg.Wait()
		c.logger.Info().Msg("disconnected from server")
	})
	return err
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
