// Package executor runs single commands: it picks the handler for a command,
// resolves the account and connection it needs and records the outcome in
// the command's result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"syncq/internal/domain"
	"syncq/internal/events"
	"syncq/internal/ports"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler performs the work of one command code.
type Handler interface {
	Execute(ctx context.Context, ex *Execution) error
}

type HandlerFunc func(ctx context.Context, ex *Execution) error

func (f HandlerFunc) Execute(ctx context.Context, ex *Execution) error { return f(ctx, ex) }

// Execution is what a handler gets to work with.
type Execution struct {
	Command *domain.Command
	// Account is empty for always-runnable commands.
	Account domain.Account
	Conn    ports.Connection
	Data    ports.DataUpdater
	Logger  zerolog.Logger

	exec *Executor
}

// Progress updates the progress text of the running command and broadcasts it.
func (ex *Execution) Progress(format string, args ...any) {
	ex.Command.Result.Progress = fmt.Sprintf(format, args...)
	ex.exec.bus.Publish(events.Event{
		Type:    events.EventProgress,
		Command: ex.Command,
		Text:    ex.Command.Result.Progress,
	})
}

// Sink queues the follow-up commands handlers schedule, like media downloads.
type Sink interface {
	Enqueue(cmd *domain.Command) error
}

type Options struct {
	DownloadDir string
	PageLimit   int
	Now         func() time.Time
}

type Executor struct {
	accounts ports.AccountStore
	conns    ports.ConnectionFactory
	data     ports.DataUpdater
	bus      *events.Bus
	opts     Options
	sink     Sink

	handlers map[domain.CommandCode]Handler
	timeline Handler
	actors   Handler
}

func New(accounts ports.AccountStore, conns ports.ConnectionFactory, data ports.DataUpdater, bus *events.Bus, opts Options) *Executor {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "downloads"
	}
	e := &Executor{
		accounts: accounts,
		conns:    conns,
		data:     data,
		bus:      bus,
		opts:     opts,
		handlers: make(map[domain.CommandCode]Handler),
		timeline: HandlerFunc(getTimeline),
		actors:   HandlerFunc(getActors),
	}
	e.registerDefaults()
	return e
}

// Register sets the handler of code, replacing the default one.
func (e *Executor) Register(code domain.CommandCode, h Handler) {
	e.handlers[code] = h
}

// SetSink sets where follow-up commands go. Without a sink none are scheduled.
func (e *Executor) SetSink(s Sink) {
	e.sink = s
}

// noop performs no remote call. It fails with an auth error so that the
// command ends in the error queue, where it can be resent.
func noop(reason string) Handler {
	return HandlerFunc(func(ctx context.Context, ex *Execution) error {
		ex.Logger.Warn().Str("reason", reason).Msg("command skipped")
		return domain.NewConnectionError(domain.KindAuth, 0, errors.New(reason))
	})
}

// strategy chooses the handler for cmd and prepares its execution.
func (e *Executor) strategy(cmd *domain.Command, logger zerolog.Logger) (Handler, *Execution, error) {
	ex := &Execution{Command: cmd, Data: e.data, Logger: logger, exec: e}

	if cmd.Code.AlwaysRunnable() {
		h, ok := e.handlers[cmd.Code]
		if !ok {
			return noop("no handler for " + string(cmd.Code)), ex, nil
		}
		conn, err := e.conns.ForOrigin(cmd.Timeline.Origin)
		if err != nil {
			return nil, ex, err
		}
		ex.Conn = conn
		return h, ex, nil
	}

	acct, ok := e.accounts.Get(cmd.Timeline.Account)
	switch {
	case !ok:
		return noop(fmt.Sprintf("account %q not found", cmd.Timeline.Account)), ex, nil
	case !acct.IsValidAndSucceeded():
		return noop(fmt.Sprintf("account %q is not valid or not authenticated", acct.Name)), ex, nil
	}
	ex.Account = acct
	ex.Logger = logger.With().Str("account", acct.Name).Logger()

	var h Handler
	switch {
	case cmd.Code == domain.CodeGetFollowers || cmd.Code == domain.CodeGetFriends:
		h = e.actors
	case cmd.Code.FetchesTimeline():
		if cmd.Timeline.IsActorList() {
			h = e.actors
		} else {
			h = e.timeline
		}
	default:
		if h, ok = e.handlers[cmd.Code]; !ok {
			return noop("no handler for " + string(cmd.Code)), ex, nil
		}
	}

	conn, err := e.conns.ForAccount(acct)
	if err != nil {
		return nil, ex, err
	}
	ex.Conn = conn
	return h, ex, nil
}

// Execute runs one attempt of cmd and records its outcome in cmd.Result.
// It never panics; a failure of the handler is reflected in the result only.
func (e *Executor) Execute(ctx context.Context, cmd *domain.Command) {
	logger := log.Ctx(ctx).With().
		Str("command_id", cmd.ID).
		Str("code", string(cmd.Code)).
		Logger()

	cmd.Result.PrepareForLaunch(e.opts.Now())
	e.bus.Publish(events.Event{Type: events.EventBeforeExec, Command: cmd})

	start := time.Now()
	err := e.run(ctx, cmd, logger)
	record(&cmd.Result, err)
	cmd.Result.AfterExecutionEnded()

	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev.Dur("duration", time.Since(start)).
		Int("retries_left", cmd.Result.RetriesLeft).
		Int("new", cmd.Result.NewCount).
		Msg("command executed")
}

func (e *Executor) run(ctx context.Context, cmd *domain.Command, logger zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("command handler panicked")
			err = &panicError{value: r}
		}
	}()

	h, ex, err := e.strategy(cmd, logger)
	if err != nil {
		return err
	}
	return h.Execute(logger.WithContext(ctx), ex)
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// record classifies err into the counters of r. Interrupted and io failures
// are soft; everything else, including unexpected errors, is hard.
func record(r *domain.Result, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.IncrementIo(msg)
		return
	}
	kind, ok := domain.KindOf(err)
	switch {
	case !ok:
		r.IncrementParse(msg)
	case kind == domain.KindIO:
		r.IncrementIo(msg)
	case kind == domain.KindAuth:
		r.IncrementAuth(msg)
	default:
		r.IncrementParse(msg)
	}
}
