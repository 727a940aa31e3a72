package cli

import (
	"github.com/spf13/cobra"
)

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "config.ini"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Debug      bool
}

// NewRootCommand creates the root command for the plantcheck CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "plantcheck",
		Short:         "Classify plant health from photos and reconcile plant statuses",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to the INI configuration file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "log per-plant probabilities")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewClassifyCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
