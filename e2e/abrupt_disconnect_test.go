package e2e

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/Mmx233/lanchat/client"
	"github.com/Mmx233/lanchat/config"
	"github.com/Mmx233/lanchat/server"
)

// TestAbruptDisconnect kills a client process without a DISCONNECT frame and
// checks that the remaining peers see exactly one leave notification and the
// server keeps relaying.
func TestAbruptDisconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	workDir := t.TempDir()
	port := getFreePort(t)

	serverConfig := &config.Server{
		Listen:             config.Listen{IP: "127.0.0.1", Port: port},
		AcceptPollInterval: 20 * time.Millisecond,
		Upload:             config.Upload{Dir: filepath.Join(workDir, "uploads")},
	}
	srv, err := server.New(serverConfig)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("server error: %v", err)
		}
	}()
	defer func() {
		cancel()
		<-serverDone
	}()
	waitFor(t, "server listening", func() bool { return srv.Addr() != nil })

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	observer := dial(t, ctx, addr, "observer")
	defer observer.Close()

	// Build the binary first to avoid go run's subprocess issues
	binaryPath := filepath.Join(workDir, "lanchat-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	buildCmd.Dir = ".."
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to build binary: %v, output: %s", err, output)
	}

	crashCmd := exec.CommandContext(ctx, binaryPath, "run", "client", addr, "-u", "crashy")
	// Keep stdin open so the console does not see end of input.
	stdin, err := crashCmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	defer stdin.Close()
	crashCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := crashCmd.Start(); err != nil {
		t.Fatalf("failed to start client process: %v", err)
	}
	defer func() {
		if crashCmd.Process != nil {
			_ = syscall.Kill(-crashCmd.Process.Pid, syscall.SIGKILL)
			_ = crashCmd.Wait()
		}
	}()

	inbox := collect(observer)
	inbox.expect(t, "*** crashy joined the chat ***")
	if _, err := fmt.Fprintln(stdin, "hello before crash"); err != nil {
		t.Fatalf("write to client stdin: %v", err)
	}
	inbox.expect(t, "[crashy]: hello before crash")

	t.Log("Killing client process with SIGKILL...")
	if err := syscall.Kill(-crashCmd.Process.Pid, syscall.SIGKILL); err != nil {
		t.Fatalf("failed to kill client process group: %v", err)
	}
	_ = crashCmd.Wait()

	inbox.expect(t, "*** crashy left the chat ***")
	waitFor(t, "crashy unregistered", func() bool { return srv.Registry().Count() == 1 })

	// The relay still works for new sessions.
	late := dial(t, ctx, addr, "late")
	defer late.Close()
	inbox.expect(t, "*** late joined the chat ***")
	if err := late.SendMessage("still relaying"); err != nil {
		t.Fatalf("send: %v", err)
	}
	inbox.expect(t, "[late]: still relaying")

	if n := strings.Count(inbox.all(), "crashy left the chat"); n != 1 {
		t.Fatalf("expected one leave notification, got %d", n)
	}
}

func getFreePort(t testing.TB) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func dial(t *testing.T, ctx context.Context, addr, username string) *client.Client {
	t.Helper()
	c, err := client.Dial(ctx, addr, &config.Client{})
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	if err := c.Login(username); err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type messageLog struct {
	c    *client.Client
	seen strings.Builder
	pos  int
}

func collect(c *client.Client) *messageLog {
	return &messageLog{c: c}
}

func (m *messageLog) all() string {
	return m.seen.String()
}

// expect reads messages until want appears after the previous match.
func (m *messageLog) expect(t *testing.T, want string) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		if i := strings.Index(m.seen.String()[m.pos:], want); i >= 0 {
			m.pos += i + len(want)
			return
		}
		select {
		case text, ok := <-m.c.Messages():
			if !ok {
				t.Fatalf("connection closed while waiting for %q", want)
			}
			m.seen.WriteString(text)
		case <-timeout:
			t.Fatalf("timed out waiting for %q, got %q", want, m.seen.String())
		}
	}
}
