// Package args holds the flags shared by every rpcmesh subcommand.
package args

import (
	"github.com/spf13/cobra"
)

type GlobalArgs struct {
	ConfigPath string
	LogLevel   string
}

// ProcessArgs registers the shared flags on a subcommand.
func ProcessArgs(a *GlobalArgs, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&a.ConfigPath, "config-path", "c", "", "Path to the YAML config file")
	_ = cmd.MarkPersistentFlagRequired("config-path")

	cmd.PersistentFlags().StringVarP(&a.LogLevel, "log-level", "l", "info", "Log level (debug, info, warn, error, fatal)")
}
