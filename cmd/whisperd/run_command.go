package main

import (
	"github.com/spf13/cobra"

	"whisperd/internal/config"
	"whisperd/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var overrides config.Overrides

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve transcription requests over stdin/stdout",
		Long: "Run the resident worker. Requests are read as newline-delimited JSON on stdin\n" +
			"and responses are written one per line to stdout. Logs go to stderr and the\n" +
			"configured log directory. The worker exits on EOF, a shutdown request, a\n" +
			"signal, or after the idle timeout elapses with no requests.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.effectiveConfig(overrides)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				In:  cmd.InOrStdin(),
				Out: cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().IntVar(&overrides.IdleTimeout, "idle-timeout", 0, "Seconds without requests before the worker exits")
	cmd.Flags().StringVar(&overrides.Model, "model", "", "Transcription model name")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringArrayVar(&overrides.AllowedDomains, "allowed-domain", nil, "Restrict fetches to this domain and its subdomains (repeatable)")
	return cmd
}
