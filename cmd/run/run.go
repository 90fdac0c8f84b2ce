package run

import (
	"github.com/Mmx233/lanchat/config"
	"github.com/Mmx233/lanchat/tools"
	"github.com/spf13/cobra"
)

var (
	// Empty means built-in defaults.
	configFile = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "")
	Cmd        = &cobra.Command{
		Use:   "run",
		Short: "Run lanchat server or client",
		Args:  cobra.NoArgs,
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "path of config file")
	Cmd.AddCommand(serverCmd)
	Cmd.AddCommand(clientCmd)
}
