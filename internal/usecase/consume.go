package usecase

import (
	"context"
	"time"

	"syncq/internal/domain"
	"syncq/internal/events"
	"syncq/internal/queue"

	"github.com/rs/zerolog/log"
)

// CommandExecutor runs one attempt of a command and records the outcome in its result.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd *domain.Command)
}

// Observer is told about the command being executed. cancel aborts it.
type Observer interface {
	Started(cmd *domain.Command, cancel context.CancelFunc)
	Finished(cmd *domain.Command)
}

// Consumer is one worker invocation: it executes queued commands one after
// the other until the queue is empty, the budget is spent or it is asked to stop.
type Consumer struct {
	Q    *queue.Queue
	Exec CommandExecutor
	Bus  *events.Bus
	// Budget is the wall-clock time after which the invocation yields.
	Budget time.Duration
	// Stopping is checked before every command.
	Stopping func() bool
	Observer Observer
}

// Run returns the number of commands executed.
func (c Consumer) Run(ctx context.Context) int {
	start := time.Now()
	processed := 0
	for {
		if ctx.Err() != nil {
			log.Ctx(ctx).Info().Int("processed", processed).Msg("worker cancelled")
			return processed
		}
		if c.Stopping != nil && c.Stopping() {
			log.Ctx(ctx).Debug().Int("processed", processed).Msg("worker stopping")
			return processed
		}
		if c.Budget > 0 && processed > 0 && time.Since(start) >= c.Budget {
			log.Ctx(ctx).Info().Int("processed", processed).Dur("budget", c.Budget).Msg("worker budget spent, yielding")
			return processed
		}

		cmd := c.Q.Poll()
		if cmd == nil {
			return processed
		}

		cmdCtx, cancel := context.WithCancel(ctx)
		if c.Observer != nil {
			c.Observer.Started(cmd, cancel)
		}
		c.Exec.Execute(cmdCtx, cmd)
		cancel()
		if c.Observer != nil {
			c.Observer.Finished(cmd)
		}

		placed := c.Q.AfterExecution(cmd)
		c.Bus.Publish(events.Event{Type: events.EventAfterExec, Command: cmd, Queue: placed})
		processed++
	}
}
