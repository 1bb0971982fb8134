package app

import (
	"github.com/spf13/cobra"
)

// NewCommand builds the root command of a stage binary. No flag is required, so the
// binary can be scheduled as is.
func NewCommand(stage, short string, fn StageFunc) *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:           stage,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd.Context(), stage, opts, fn)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigPath, "config", "", "config file or directory holding config.yaml")
	flags.StringVar(&opts.Date, "date", "", "run day as YYYY-MM-DD (default today)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "override log.level")
	if stage == StageRetain {
		flags.BoolVar(&opts.DryRun, "dry-run", false, "list retention candidates without moving anything")
	}
	return cmd
}
