// Package queue holds the durable multi-queue of pending commands.
//
// A command lives in exactly one of the pre, current, retry and error
// sub-queues. Commands arriving from outside land in the pre-queue and are
// moved to the current queue by the next maintenance pass; executed commands
// are placed by AfterExecution according to their Result.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"syncq/internal/domain"
	"syncq/internal/ports"

	"github.com/rs/zerolog/log"
)

var ErrNotLoaded = errors.New("queue is not loaded")

type Config struct {
	// RetryWindow is the minimum time a command waits in the retry queue.
	RetryWindow time.Duration
	// RetryCheckInterval spaces the passes that promote retries and purge errors.
	RetryCheckInterval time.Duration
	// MaxErrorAge is how long a command may stay in the error queue.
	MaxErrorAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryWindow:        15 * time.Minute,
		RetryCheckInterval: time.Minute,
		MaxErrorAge:        10 * 24 * time.Hour,
	}
}

type Option func(*Queue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

type Queue struct {
	store ports.QueueStore
	cfg   Config
	now   func() time.Time

	// mu serializes load, save and every mutation. Readers only take the
	// lock of the sub-queue they look at.
	mu       sync.Mutex
	queues   map[domain.QueueType]*subQueue
	inFlight map[string]*domain.Command
	loaded   bool

	changed        atomic.Bool
	lastRetryCheck atomic.Int64
}

func New(store ports.QueueStore, cfg Config, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = def.RetryWindow
	}
	if cfg.RetryCheckInterval <= 0 {
		cfg.RetryCheckInterval = def.RetryCheckInterval
	}
	if cfg.MaxErrorAge <= 0 {
		cfg.MaxErrorAge = def.MaxErrorAge
	}
	q := &Queue{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		queues:   make(map[domain.QueueType]*subQueue, len(domain.QueueTypes)),
		inFlight: make(map[string]*domain.Command),
	}
	for _, qt := range domain.QueueTypes {
		q.queues[qt] = newSubQueue(qt)
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Now() time.Time { return q.now() }

// Load hydrates all sub-queues from the store. Only the first successful call does work.
func (q *Queue) Load(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.loaded {
		return nil
	}
	wasChanged := q.changed.Load()
	total := 0
	for _, qt := range domain.QueueTypes {
		cmds, err := q.store.Load(ctx, qt)
		if err != nil {
			return fmt.Errorf("load %s queue: %w", qt, err)
		}
		for _, c := range cmds {
			if q.addLocked(qt, c) {
				total++
			}
		}
	}
	q.loaded = true
	q.changed.Store(wasChanged)
	log.Ctx(ctx).Info().Int("commands", total).Msg("command queue loaded")
	return nil
}

func (q *Queue) Loaded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loaded
}

// Save rewrites the store with the in-memory state when something changed.
// Commands being executed are saved in the current queue.
func (q *Queue) Save(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.loaded {
		return ErrNotLoaded
	}
	if !q.changed.Load() {
		return nil
	}
	snap := q.Snapshot()
	for _, c := range q.inFlight {
		snap[domain.QueueCurrent] = append(snap[domain.QueueCurrent], c.Clone())
	}
	if err := q.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save command queue: %w", err)
	}
	q.changed.Store(false)
	log.Ctx(ctx).Debug().
		Int("pre", len(snap[domain.QueuePre])).
		Int("current", len(snap[domain.QueueCurrent])).
		Int("retry", len(snap[domain.QueueRetry])).
		Int("error", len(snap[domain.QueueError])).
		Msg("command queue saved")
	return nil
}

func (q *Queue) Changed() bool { return q.changed.Load() }

// Add upserts cmd into the sub-queue qt. It returns false when an equal
// command was already waiting and cmd was merged into it.
func (q *Queue) Add(qt domain.QueueType, cmd *domain.Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addLocked(qt, cmd)
}

func (q *Queue) addLocked(qt domain.QueueType, cmd *domain.Command) bool {
	key := cmd.Key()
	pre, current := q.queues[domain.QueuePre], q.queues[domain.QueueCurrent]
	retry, errq := q.queues[domain.QueueRetry], q.queues[domain.QueueError]
	byKey := func(c *domain.Command) bool { return c.Key() == key }

	switch qt {
	case domain.QueuePre:
		if existing := firstByKey(key, current, pre); existing != nil {
			mergeFlags(existing, cmd)
			return false
		}
	case domain.QueueCurrent:
		if existing := current.findKey(key); existing != nil {
			mergeFlags(existing, cmd)
			return false
		}
		pre.removeWhere(byKey)
		if len(retry.removeWhere(byKey))+len(errq.removeWhere(byKey)) > 0 {
			cmd.Result.ResetRetries(cmd.Code)
		}
	case domain.QueueRetry:
		if firstByKey(key, current, pre) != nil {
			return false
		}
		retry.removeWhere(byKey)
		errq.removeWhere(byKey)
	case domain.QueueError:
		if firstByKey(key, current, pre, retry) != nil {
			return false
		}
		errq.removeWhere(byKey)
	default:
		log.Warn().Str("queue", string(qt)).Msg("unknown queue type, command dropped")
		return false
	}
	q.queues[qt].push(cmd)
	q.changed.Store(true)
	return true
}

func firstByKey(key string, sqs ...*subQueue) *domain.Command {
	for _, s := range sqs {
		if c := s.findKey(key); c != nil {
			return c
		}
	}
	return nil
}

func mergeFlags(existing, cmd *domain.Command) {
	existing.InForeground = existing.InForeground || cmd.InForeground
	existing.Manual = existing.Manual || cmd.Manual
}

// Poll pops the highest priority command of the current queue after a
// maintenance pass. The returned command stays tracked as in flight until
// AfterExecution is called.
func (q *Queue) Poll() *domain.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	q.movePreLocked()
	if now.Sub(time.Unix(0, q.lastRetryCheck.Load())) >= q.cfg.RetryCheckInterval {
		q.maintainLocked(now)
	}
	c := q.queues[domain.QueueCurrent].pop()
	if c == nil {
		return nil
	}
	q.inFlight[c.ID] = c.Clone()
	q.changed.Store(true)
	return c
}

// Maintain runs a full maintenance pass regardless of the check interval.
func (q *Queue) Maintain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.movePreLocked()
	q.maintainLocked(q.now())
}

// MaintainIfDue promotes retries and purges aged errors when the check
// interval has elapsed since the last pass. It reports whether a pass ran.
func (q *Queue) MaintainIfDue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if now.Sub(time.Unix(0, q.lastRetryCheck.Load())) < q.cfg.RetryCheckInterval {
		return false
	}
	q.maintainLocked(now)
	return true
}

func (q *Queue) movePreLocked() {
	for {
		c := q.queues[domain.QueuePre].pop()
		if c == nil {
			return
		}
		q.changed.Store(true)
		q.addLocked(domain.QueueCurrent, c)
	}
}

func (q *Queue) maintainLocked(now time.Time) {
	q.lastRetryCheck.Store(now.UnixNano())

	due := q.queues[domain.QueueRetry].removeWhere(func(c *domain.Command) bool {
		return q.retryDue(c, now)
	})
	for _, c := range due {
		q.changed.Store(true)
		q.addLocked(domain.QueueCurrent, c)
	}

	purged := q.queues[domain.QueueError].removeWhere(func(c *domain.Command) bool {
		return now.Sub(errorAgeFrom(c)) > q.cfg.MaxErrorAge
	})
	for _, c := range purged {
		q.changed.Store(true)
		log.Info().Str("command", c.String()).Msg("purged from error queue")
	}
	if len(due) > 0 {
		log.Debug().Int("count", len(due)).Msg("retry commands promoted")
	}
}

func (q *Queue) retryDue(c *domain.Command, now time.Time) bool {
	return now.Sub(c.Result.LastExecuted) >= q.cfg.RetryWindow
}

func errorAgeFrom(c *domain.Command) time.Time {
	if !c.Result.LastExecuted.IsZero() {
		return c.Result.LastExecuted
	}
	return c.CreatedAt
}

// AfterExecution places an executed command: dropped on success, retry
// queue for a soft failure with retries left, error queue otherwise. It
// returns the queue the command went to, or "" when it was dropped.
func (q *Queue) AfterExecution(cmd *domain.Command) domain.QueueType {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, tracked := q.inFlight[cmd.ID]
	delete(q.inFlight, cmd.ID)
	q.changed.Store(true)
	if !tracked {
		return ""
	}
	switch {
	case !cmd.Result.HasError():
		return ""
	case cmd.Result.ShouldRetry():
		if q.addLocked(domain.QueueRetry, cmd) {
			return domain.QueueRetry
		}
	default:
		if q.addLocked(domain.QueueError, cmd) {
			return domain.QueueError
		}
	}
	return ""
}

// AnythingToExecute reports whether a Poll could return a command now.
func (q *Queue) AnythingToExecute() bool {
	if q.queues[domain.QueuePre].len() > 0 || q.queues[domain.QueueCurrent].len() > 0 {
		return true
	}
	now := q.now()
	if now.Sub(time.Unix(0, q.lastRetryCheck.Load())) < q.cfg.RetryCheckInterval {
		return false
	}
	retry := q.queues[domain.QueueRetry]
	retry.mu.RLock()
	defer retry.mu.RUnlock()
	for _, c := range retry.items {
		if q.retryDue(c, now) {
			return true
		}
	}
	return false
}

// Resend moves a waiting command back to the current queue with a fresh retry budget.
func (q *Queue) Resend(id string) (*domain.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, qt := range domain.QueueTypes {
		sq := q.queues[qt]
		if sq.findID(id) == nil {
			continue
		}
		if qt == domain.QueuePre || qt == domain.QueueCurrent {
			return sq.findID(id).Clone(), nil
		}
		removed := sq.removeWhere(func(c *domain.Command) bool { return c.ID == id })
		cmd := removed[0]
		cmd.Result.ResetRetries(cmd.Code)
		cmd.Manual = true
		q.changed.Store(true)
		q.addLocked(domain.QueueCurrent, cmd)
		return cmd.Clone(), nil
	}
	return nil, fmt.Errorf("command %s: %w", id, domain.ErrNotFound)
}

// Delete removes the command from every sub-queue. A command being executed
// is dropped once its execution ends.
func (q *Queue) Delete(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	found := false
	if _, ok := q.inFlight[id]; ok {
		delete(q.inFlight, id)
		found = true
	}
	for _, qt := range domain.QueueTypes {
		if len(q.queues[qt].removeWhere(func(c *domain.Command) bool { return c.ID == id })) > 0 {
			found = true
		}
	}
	if found {
		q.changed.Store(true)
	}
	return found
}

// Clear empties every sub-queue and returns the number of commands removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.inFlight)
	q.inFlight = make(map[string]*domain.Command)
	for _, qt := range domain.QueueTypes {
		n += q.queues[qt].clear()
	}
	q.changed.Store(true)
	return n
}

// Find returns a copy of the waiting command with the given ID and its queue.
func (q *Queue) Find(id string) (*domain.Command, domain.QueueType, bool) {
	for _, qt := range domain.QueueTypes {
		if c := q.queues[qt].findID(id); c != nil {
			return c.Clone(), qt, true
		}
	}
	return nil, "", false
}

func (q *Queue) Size(qt domain.QueueType) int {
	sq, ok := q.queues[qt]
	if !ok {
		return 0
	}
	return sq.len()
}

// List returns sorted copies of the commands waiting in qt.
func (q *Queue) List(qt domain.QueueType) []*domain.Command {
	sq, ok := q.queues[qt]
	if !ok {
		return nil
	}
	return sq.snapshot()
}

func (q *Queue) Snapshot() map[domain.QueueType][]*domain.Command {
	out := make(map[domain.QueueType][]*domain.Command, len(q.queues))
	for qt, sq := range q.queues {
		out[qt] = sq.snapshot()
	}
	return out
}
