package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mmx233/lanchat/client"
	"github.com/Mmx233/lanchat/config"
	"github.com/Mmx233/lanchat/tools"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	username string

	clientCmd = &cobra.Command{
		Use:     "client <server_address>",
		Short:   "Connect to a chat server",
		Example: "  lanchat run client 192.168.1.100\n  lanchat run client 192.168.1.100:9000 -u alice",
		Args:    cobra.ExactArgs(1),
		RunE:    runClient,
	}

	dialTimeout = 10 * time.Second
)

func init() {
	clientCmd.Flags().StringVarP(&username, "username", "u",
		tools.GetenvDefault(config.EnvPrefix+"USERNAME", ""), "chat username, prompted for when empty")
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}
	if username != "" {
		cfg.Username = username
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	stdin := bufio.NewReader(os.Stdin)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	c, err := client.Dial(dialCtx, args[0], cfg)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(out, "✓ Connected to server %s\n", args[0])

	name := cfg.Username
	if name == "" {
		if name, err = promptUsername(stdin, out); err != nil {
			return err
		}
	}
	if err := c.Login(name); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Logged in as '%s'\n", c.Username())

	if err := client.NewConsole(c, stdin, out, cfg.NoColor).Run(ctx); err != nil {
		logger.Error().Err(err).Msg("session ended with error")
		return err
	}
	return nil
}

func promptUsername(in *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprintf(out, "Enter your username (max %d characters): ", config.DefaultMaxUsernameLength)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read username: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
