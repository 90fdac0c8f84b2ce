package config

import (
	"fmt"
	"os"

	"github.com/Mmx233/lanchat/examples"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string // --config flag value

	Cmd = &cobra.Command{
		Use:   "config",
		Short: "Generate configuration files",
		Args:  cobra.NoArgs,
	}

	ServerCmd = newTemplateCmd(examples.Server, "Generate server configuration file")
	ClientCmd = newTemplateCmd(examples.Client, "Generate client configuration file")
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "output config file path")
	Cmd.AddCommand(ServerCmd)
	Cmd.AddCommand(ClientCmd)
}

// GetConfigFile returns the value of the --config flag
func GetConfigFile() string {
	return configFile
}

func newTemplateCmd(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTemplate(kind, GetConfigFile())
		},
	}
}

// writeTemplate writes the embedded template for kind to outputPath. An
// existing file is never overwritten.
func writeTemplate(kind, outputPath string) error {
	logger := log.With().Str("com", "generate").Logger()

	content, err := examples.Template(kind)
	if err != nil {
		return fmt.Errorf("load %s config template: %w", kind, err)
	}

	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("file already exists: %s", outputPath)
		}
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	logger.Info().Str("file", outputPath).Str("kind", kind).Msg("generated configuration")
	return nil
}
