package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const helpText = `Available commands:
  /help               Show this help message
  /sendfile <path>    Send a file to the server
  /who                List online users
  /quit or /exit      Disconnect from the server
  Any other text      Send as chat message`

// Console is the interactive line interface over a logged in Client.
type Console struct {
	client *Client
	in     io.Reader
	out    io.Writer
	now    func() time.Time

	mu     sync.Mutex
	stamp  *color.Color
	notice *color.Color
	sender *color.Color
	ok     *color.Color
	fail   *color.Color
}

// NewConsole binds a console to c. Output is uncolored when noColor is set or
// out is not a terminal.
func NewConsole(c *Client, in io.Reader, out io.Writer, noColor bool) *Console {
	con := &Console{
		client: c,
		in:     in,
		out:    out,
		now:    time.Now,
		stamp:  color.New(color.FgHiBlack),
		notice: color.New(color.FgYellow),
		sender: color.New(color.FgCyan, color.Bold),
		ok:     color.New(color.FgGreen),
		fail:   color.New(color.FgRed),
	}
	if noColor {
		for _, col := range []*color.Color{con.stamp, con.notice, con.sender, con.ok, con.fail} {
			col.DisableColor()
		}
	}
	return con
}

func (con *Console) println(a ...any) {
	con.mu.Lock()
	defer con.mu.Unlock()
	_, _ = fmt.Fprintln(con.out, a...)
}

func (con *Console) success(format string, a ...any) {
	con.println(con.ok.Sprintf("✓ "+format, a...))
}

func (con *Console) failure(format string, a ...any) {
	con.println(con.fail.Sprintf("✗ "+format, a...))
}

// render formats one chunk of server text with a timestamp.
func (con *Console) render(text string) string {
	stamp := con.stamp.Sprint(con.now().Format("15:04:05"))
	switch {
	case strings.HasPrefix(text, "***"):
		return stamp + " " + con.notice.Sprint(text)
	case strings.HasPrefix(text, "["):
		if i := strings.Index(text, "]: "); i > 0 {
			return stamp + " " + con.sender.Sprint(text[:i+2]) + text[i+2:]
		}
	}
	return stamp + " " + text
}

// Run reads commands until /quit, end of input, ctx cancellation or loss of
// the server, then disconnects.
func (con *Console) Run(ctx context.Context) error {
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for text := range con.client.Messages() {
			con.println(con.render(text))
		}
	}()

	stop := make(chan struct{})
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(con.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	con.println(helpText)

	err := con.loop(ctx, lines)
	close(stop)

	select {
	case <-con.client.Done():
		_ = con.client.Close()
	default:
		if derr := con.client.Disconnect(); derr != nil && !errors.Is(derr, ErrClosed) && err == nil {
			err = derr
		}
	}
	<-printed
	con.success("Disconnected from server")
	return err
}

func (con *Console) loop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			con.println("Disconnecting...")
			return nil
		case <-con.client.Done():
			con.failure("Connection to server lost")
			if err := con.client.Err(); !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := con.handle(line)
			if quit || err != nil {
				return err
			}
		}
	}
}

// handle executes one input line and reports whether the console should stop.
func (con *Console) handle(line string) (bool, error) {
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return false, nil

	case input == "/quit" || input == "/exit":
		con.println("Disconnecting...")
		return true, nil

	case input == "/help":
		con.println(helpText)
		return false, nil

	case input == "/who":
		if err := con.client.RequestClientList(); err != nil {
			con.failure("Failed to request client list: %v", err)
			return true, err
		}
		return false, nil

	case input == "/sendfile" || strings.HasPrefix(input, "/sendfile "):
		path := strings.TrimSpace(strings.TrimPrefix(input, "/sendfile"))
		if path == "" {
			con.println("Usage: /sendfile <path/to/file>")
			return false, nil
		}
		return con.sendFile(path)

	default:
		err := con.client.SendMessage(line)
		switch {
		case err == nil:
			return false, nil
		case errors.Is(err, ErrMessageTooLong):
			con.failure("Message too long (max %d characters)", con.client.config.MaxMessageLength)
			return false, nil
		default:
			con.failure("Failed to send message: %v", err)
			return true, err
		}
	}
}

func (con *Console) sendFile(path string) (bool, error) {
	lastPercent := int64(-1)
	stats, err := con.client.SendFile(path, func(sent, total int64) {
		if total == 0 {
			return
		}
		if percent := sent * 100 / total; percent/10 != lastPercent/10 {
			lastPercent = percent
			con.println(fmt.Sprintf("Progress: %d%% (%d/%d bytes)", percent, sent, total))
		}
	})
	if err != nil {
		con.failure("File transfer failed: %v", err)
		// Local file errors happen before anything is written.
		select {
		case <-con.client.closed:
			return true, err
		default:
			return false, nil
		}
	}
	con.success("File sent: %s (%d bytes, %.2f MB/s)", filepath.Base(path), stats.Bytes, stats.MBps())
	return false, nil
}
