package cmd

import (
	"syncq/internal/worker"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var cfg worker.Config

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start the command worker and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(cfg)
		},
	}

	command.Flags().IntVarP(&cfg.Port, "port", "p", -1, "Control API port, 0 disables it (default from API_PORT)")
	command.Flags().DurationVar(&cfg.Budget, "budget", 0, "Time one worker invocation may run (default from WORKER_BUDGET)")
	command.Flags().DurationVar(&cfg.Heartbeat, "heartbeat", 0, "Heartbeat interval (default from WORKER_HEARTBEAT)")
	command.Flags().BoolVar(&cfg.NoSync, "no-sync", false, "Disable the periodic timeline sync")

	return command
}
