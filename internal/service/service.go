// Package service drives the background worker: it decides when a worker
// invocation starts, watches it through a heartbeat and stops it.
package service

import (
	"context"
	"sync"
	"time"

	"syncq/internal/domain"
	"syncq/internal/events"
	"syncq/internal/queue"
	"syncq/internal/usecase"

	"github.com/rs/zerolog/log"
)

type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

type Config struct {
	Heartbeat       time.Duration
	Budget          time.Duration
	MaxTaskDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Heartbeat:       10 * time.Second,
		Budget:          5 * time.Minute,
		MaxTaskDuration: 10 * time.Minute,
	}
}

type inflight struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
}

// Service owns the state machine stopped -> running -> stopping -> stopped.
// At most one worker invocation runs at a time and commands are executed
// sequentially.
type Service struct {
	q    *queue.Queue
	exec usecase.CommandExecutor
	bus  *events.Bus
	cfg  Config

	wake   chan struct{}
	exited chan struct{}

	mu           sync.Mutex
	state        State
	ready        bool
	held         bool
	worker       bool
	workerCancel context.CancelFunc
	current      *inflight
	executed     int
}

func New(q *queue.Queue, exec usecase.CommandExecutor, bus *events.Bus, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.MaxTaskDuration <= 0 {
		cfg.MaxTaskDuration = def.MaxTaskDuration
	}
	return &Service{
		q:      q,
		exec:   exec,
		bus:    bus,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}, 1),
		state:  StateStopped,
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetReady tells whether the host can run commands. The queue must be loaded
// before the service is made ready.
func (s *Service) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
	s.signal()
}

func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Submit puts cmd into the pre-queue and asks for a worker. A command
// submitted while stopping waits until the worker runs again.
func (s *Service) Submit(cmd *domain.Command) error {
	return s.submit(cmd, true)
}

// Enqueue is Submit for follow-up commands: it does not lift a Stop.
func (s *Service) Enqueue(cmd *domain.Command) error {
	return s.submit(cmd, false)
}

func (s *Service) submit(cmd *domain.Command, release bool) error {
	if !s.Ready() {
		return domain.ErrServiceUnavailable
	}
	if release {
		s.mu.Lock()
		s.held = false
		s.mu.Unlock()
	}
	added := s.q.Add(domain.QueuePre, cmd)
	s.bus.Publish(events.Event{Type: events.EventQueueChanged, Command: cmd, Queue: domain.QueuePre})
	log.Debug().Str("command", cmd.String()).Bool("added", added).Msg("command submitted")
	s.signal()
	return nil
}

// Wake asks the service to re-evaluate whether the worker should run.
func (s *Service) Wake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return domain.ErrServiceUnavailable
	}
	if s.state == StateStopping {
		return domain.ErrStopping
	}
	s.held = false
	s.signalLocked()
	return nil
}

// Stop asks the running worker to exit after the current command. With
// force the current command is cancelled as well. The worker stays stopped
// until the next Submit or Wake.
func (s *Service) Stop(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = true
	if s.state == StateStopped {
		return
	}
	if s.state == StateRunning {
		s.setStateLocked(StateStopping)
	}
	if force && s.workerCancel != nil {
		log.Warn().Msg("cancelling worker")
		s.workerCancel()
	}
	s.signalLocked()
}

func (s *Service) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signalLocked()
}

func (s *Service) signalLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopping
}

// Run is the host loop. It returns when ctx is done, after the worker
// exited and the queue was saved.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Heartbeat)
	defer t.Stop()

	log.Ctx(ctx).Info().Dur("heartbeat", s.cfg.Heartbeat).Msg("worker service started")
	for {
		select {
		case <-ctx.Done():
			s.shutdown(ctx)
			return ctx.Err()
		case <-s.wake:
			s.evaluate(ctx)
		case <-s.exited:
			s.evaluate(ctx)
		case <-t.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	s.mu.Lock()
	if c := s.current; c != nil && time.Since(c.started) > s.cfg.MaxTaskDuration {
		log.Ctx(ctx).Warn().Str("command_id", c.id).Dur("running", time.Since(c.started)).Msg("command exceeded max duration, cancelling")
		if s.state == StateRunning {
			s.setStateLocked(StateStopping)
		}
		c.cancel()
	}
	s.mu.Unlock()

	if s.q.Loaded() {
		s.q.MaintainIfDue()
	}
	s.save(ctx)
	s.evaluate(ctx)
}

// evaluate applies the transitions of the state machine.
func (s *Service) evaluate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStopped:
		if s.ready && !s.held && s.q.AnythingToExecute() {
			s.setStateLocked(StateRunning)
			s.startWorkerLocked(ctx)
		}
	case StateRunning:
		if s.worker {
			if !s.ready {
				s.setStateLocked(StateStopping)
			}
			return
		}
		// the previous invocation yielded or ran dry
		if s.ready && !s.held && s.q.AnythingToExecute() {
			s.startWorkerLocked(ctx)
			return
		}
		s.setStateLocked(StateStopping)
		s.stoppedLocked(ctx)
	case StateStopping:
		if !s.worker {
			s.stoppedLocked(ctx)
		}
	}
}

func (s *Service) stoppedLocked(ctx context.Context) {
	s.setStateLocked(StateStopped)
	s.bus.Publish(events.Event{Type: events.EventOnStop, State: string(StateStopped)})
	log.Ctx(ctx).Info().Int("executed", s.executed).Msg("worker stopped")
	// pick up work that arrived while stopping
	if s.ready && !s.held && s.q.AnythingToExecute() {
		s.signalLocked()
	}
}

func (s *Service) setStateLocked(st State) {
	if s.state == st {
		return
	}
	log.Debug().Str("from", string(s.state)).Str("to", string(st)).Msg("worker state changed")
	s.state = st
	s.bus.Publish(events.Event{Type: events.EventStateChanged, State: string(st)})
}

func (s *Service) startWorkerLocked(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	s.worker = true
	s.workerCancel = cancel

	consumer := usecase.Consumer{
		Q:        s.q,
		Exec:     s.exec,
		Bus:      s.bus,
		Budget:   s.cfg.Budget,
		Stopping: s.stopping,
		Observer: s,
	}
	go func() {
		defer cancel()
		n := consumer.Run(wctx)

		s.mu.Lock()
		s.worker = false
		s.workerCancel = nil
		s.current = nil
		s.executed += n
		s.mu.Unlock()

		select {
		case s.exited <- struct{}{}:
		default:
		}
	}()
}

func (s *Service) Started(cmd *domain.Command, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &inflight{id: cmd.ID, started: time.Now(), cancel: cancel}
}

func (s *Service) Finished(cmd *domain.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Executing returns the id of the command being executed, if any.
func (s *Service) Executing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.id, true
}

func (s *Service) save(ctx context.Context) {
	if !s.q.Loaded() || !s.q.Changed() {
		return
	}
	if err := s.q.Save(context.WithoutCancel(ctx)); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to save command queue")
	}
}

// shutdown force-stops the worker, waits for it and saves the queue.
func (s *Service) shutdown(ctx context.Context) {
	s.Stop(true)
	for {
		s.mu.Lock()
		running := s.worker
		s.mu.Unlock()
		if !running {
			break
		}
		<-s.exited
	}
	s.mu.Lock()
	if s.state != StateStopped {
		s.stoppedLocked(ctx)
	}
	s.mu.Unlock()
	s.save(ctx)
}
