package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"syncq/internal/app"
	"syncq/internal/config"
	"syncq/internal/domain"
	"syncq/internal/infra/sqlite"
	"syncq/internal/queue"
	"syncq/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type queueEntry struct {
	ID           string    `yaml:"id"`
	Code         string    `yaml:"code"`
	Summary      string    `yaml:"summary"`
	Executions   int       `yaml:"executions"`
	RetriesLeft  int       `yaml:"retries_left"`
	LastExecuted time.Time `yaml:"last_executed,omitempty"`
	Message      string    `yaml:"message,omitempty"`
}

// openQueue loads the persisted queue. The worker must not be running.
func openQueue(ctx context.Context) (*queue.Queue, func(), error) {
	cfg := config.Load()
	worker.SetLogLevel(cfg.LogLevel)

	db, err := sqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return nil, nil, err
	}
	store, err := app.OpenQueueStore(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close queue store")
		}
		_ = db.Close()
	}
	q := queue.New(store, queue.Config{
		RetryWindow:        cfg.Queue.RetryWindow,
		RetryCheckInterval: cfg.Queue.RetryCheckInterval,
		MaxErrorAge:        cfg.Queue.MaxErrorAge,
	})
	if err := q.Load(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return q, closeFn, nil
}

func queueCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the persisted command queue while the worker is stopped",
	}
	command.AddCommand(queueListCmd(), queueResendCmd(), queueClearCmd())
	return command
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [type]",
		Short: "Print the waiting commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := domain.QueueTypes
			if len(args) == 1 {
				qt, ok := domain.ParseQueueType(args[0])
				if !ok {
					return fmt.Errorf("unknown queue type %q", args[0])
				}
				types = []domain.QueueType{qt}
			}

			q, closeFn, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out := make(map[domain.QueueType][]queueEntry, len(types))
			for _, qt := range types {
				entries := []queueEntry{}
				for _, c := range q.List(qt) {
					entries = append(entries, queueEntry{
						ID:           c.ID,
						Code:         string(c.Code),
						Summary:      c.Summary(),
						Executions:   c.Result.ExecutionCount,
						RetriesLeft:  c.Result.RetriesLeft,
						LastExecuted: c.Result.LastExecuted,
						Message:      c.Result.Message,
					})
				}
				out[qt] = entries
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		},
	}
}

func queueResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend <id>",
		Short: "Move a retry or error command back to the current queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			c, err := q.Resend(args[0])
			if err != nil {
				return err
			}
			if err := q.Save(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("command_id", c.ID).Str("summary", c.Summary()).Msg("command resent")
			return nil
		},
	}
}

func queueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every command from every queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n := q.Clear()
			if err := q.Save(cmd.Context()); err != nil {
				return err
			}
			log.Info().Int("removed", n).Msg("command queue cleared")
			return nil
		},
	}
}
