package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"syncq/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	data  map[domain.QueueType][]map[string]string
	saves int
	fail  error
}

func newMemStore() *memStore {
	return &memStore{data: map[domain.QueueType][]map[string]string{}}
}

func (s *memStore) Load(_ context.Context, qt domain.QueueType) ([]*domain.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var out []*domain.Command
	for _, rec := range s.data[qt] {
		c, err := domain.CommandFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, snap map[domain.QueueType][]*domain.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saves++
	s.data = map[domain.QueueType][]map[string]string{}
	for qt, cmds := range snap {
		for _, c := range cmds {
			s.data[qt] = append(s.data[qt], c.Record())
		}
	}
	return nil
}

func (s *memStore) Close() error { return nil }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, store *memStore, clk *clock) *Queue {
	t.Helper()
	q := New(store, DefaultConfig(), WithClock(clk.Now))
	require.NoError(t, q.Load(context.Background()))
	return q
}

var home = domain.Timeline{Type: domain.TimelineHome, Account: "alice@example.social", Origin: "https://example.social"}

// execute simulates one attempt with the given outcome.
func execute(q *Queue, clk *clock, fail func(*domain.Result)) *domain.Command {
	c := q.Poll()
	if c == nil {
		return nil
	}
	c.Result.PrepareForLaunch(clk.Now())
	if fail != nil {
		fail(&c.Result)
	}
	c.Result.AfterExecutionEnded()
	q.AfterExecution(c)
	return c
}

func soft(r *domain.Result) { r.IncrementIo("timeout") }
func hard(r *domain.Result) { r.IncrementParse("bad json") }

func TestAdd_DeduplicatesEqualCommands(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	first := domain.NewCommand(domain.CodeGetTimeline, home, clk.Now())
	second := domain.NewCommand(domain.CodeGetTimeline, home, clk.Now().Add(time.Second))
	second.InForeground = true

	assert.True(t, q.Add(domain.QueueCurrent, first))
	assert.False(t, q.Add(domain.QueueCurrent, second))
	assert.Equal(t, 1, q.Size(domain.QueueCurrent))

	got, _, ok := q.Find(first.ID)
	require.True(t, ok)
	assert.True(t, got.InForeground, "flags of the duplicate are merged")

	other := domain.NewCommand(domain.CodeGetTimeline, domain.Timeline{Type: domain.TimelineMentions, Account: home.Account}, clk.Now())
	assert.True(t, q.Add(domain.QueueCurrent, other))
	assert.Equal(t, 2, q.Size(domain.QueueCurrent))
}

func TestAdd_ItemCommandsForDifferentItemsStayDistinct(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	assert.True(t, q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "1", clk.Now())))
	assert.True(t, q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "2", clk.Now())))
	assert.False(t, q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "1", clk.Now())))
	assert.Equal(t, 2, q.Size(domain.QueueCurrent))
}

func TestPoll_PriorityThenCreationTime(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)
	t0 := clk.Now()

	del := domain.NewItemCommand(domain.CodeDeleteNote, home, "n1", t0)
	olderUpdate := domain.NewItemCommand(domain.CodeUpdateNote, home, "7", t0.Add(time.Second))
	newerUpdate := domain.NewItemCommand(domain.CodeUpdateNote, home, "8", t0.Add(2*time.Second))

	q.Add(domain.QueueCurrent, del)
	q.Add(domain.QueueCurrent, newerUpdate)
	q.Add(domain.QueueCurrent, olderUpdate)

	assert.Equal(t, olderUpdate.ID, q.Poll().ID)
	assert.Equal(t, newerUpdate.ID, q.Poll().ID)
	assert.Equal(t, del.ID, q.Poll().ID)
	assert.Nil(t, q.Poll())
}

func TestPoll_MovesPreQueueToCurrent(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	c := domain.NewCommand(domain.CodeGetTimeline, home, clk.Now())
	q.Add(domain.QueuePre, c)
	assert.Equal(t, 1, q.Size(domain.QueuePre))
	assert.True(t, q.AnythingToExecute())

	got := q.Poll()
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Zero(t, q.Size(domain.QueuePre))
}

func TestRetry_NotPolledBeforeWindow(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "42", clk.Now()))
	c := execute(q, clk, soft)
	require.NotNil(t, c)
	assert.Equal(t, 1, q.Size(domain.QueueRetry))
	assert.Equal(t, domain.DefaultRetries-1, c.Result.RetriesLeft)

	clk.Advance(2 * time.Minute)
	assert.Nil(t, q.Poll(), "retry window has not elapsed")
	assert.Equal(t, 1, q.Size(domain.QueueRetry))

	clk.Advance(DefaultConfig().RetryWindow)
	got := q.Poll()
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
}

func TestRetry_PromotionOnlyAtCheckInterval(t *testing.T) {
	clk := newClock()
	cfg := Config{RetryWindow: time.Minute, RetryCheckInterval: 10 * time.Minute, MaxErrorAge: time.Hour}
	q := New(newMemStore(), cfg, WithClock(clk.Now))
	require.NoError(t, q.Load(context.Background()))

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "42", clk.Now()))
	require.NotNil(t, execute(q, clk, soft))

	clk.Advance(2 * time.Minute)
	assert.False(t, q.AnythingToExecute())
	assert.Nil(t, q.Poll(), "eligible but the check interval has not elapsed")

	clk.Advance(10 * time.Minute)
	assert.True(t, q.AnythingToExecute())
	assert.NotNil(t, q.Poll())
}

func TestZeroRetryCodeGoesStraightToErrorQueue(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewCommand(domain.CodeGetTimeline, home, clk.Now()))
	c := execute(q, clk, soft)
	require.NotNil(t, c)

	assert.Zero(t, q.Size(domain.QueueRetry))
	assert.Equal(t, 1, q.Size(domain.QueueError))
}

func TestHardErrorIsNotRetried(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeFollow, home, "actor-1", clk.Now()))
	c := execute(q, clk, hard)
	require.NotNil(t, c)

	assert.Zero(t, q.Size(domain.QueueRetry))
	assert.Equal(t, 1, q.Size(domain.QueueError))
	assert.Equal(t, domain.DefaultRetries-1, c.Result.RetriesLeft)
}

func TestSuccessRemovesCommand(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeFollow, home, "actor-1", clk.Now()))
	require.NotNil(t, execute(q, clk, nil))
	for _, qt := range domain.QueueTypes {
		assert.Zero(t, q.Size(qt), qt)
	}
}

func TestTenSoftFailuresEndInErrorQueue(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	cmd := domain.NewItemCommand(domain.CodeUpdateNote, home, "5", clk.Now())
	q.Add(domain.QueueCurrent, cmd)

	for attempt := 1; attempt <= domain.DefaultRetries; attempt++ {
		c := execute(q, clk, soft)
		require.NotNil(t, c, "attempt %d", attempt)
		clk.Advance(DefaultConfig().RetryWindow + time.Second)
	}

	require.Equal(t, 1, q.Size(domain.QueueError))
	parked := q.List(domain.QueueError)[0]
	assert.Equal(t, cmd.ID, parked.ID)
	assert.Zero(t, parked.Result.RetriesLeft)
	assert.Equal(t, domain.DefaultRetries, parked.Result.ExecutionCount)

	clk.Advance(time.Hour)
	assert.Nil(t, q.Poll(), "commands in the error queue are not retried automatically")
	assert.Equal(t, 1, q.Size(domain.QueueError))
}

func TestResubmitPullsCommandOutOfErrorQueue(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "9", clk.Now()))
	require.NotNil(t, execute(q, clk, hard))
	require.Equal(t, 1, q.Size(domain.QueueError))

	again := domain.NewItemCommand(domain.CodeLike, home, "9", clk.Now())
	again.Result.RetriesLeft = 0
	assert.True(t, q.Add(domain.QueueCurrent, again))

	assert.Zero(t, q.Size(domain.QueueError))
	assert.Equal(t, 1, q.Size(domain.QueueCurrent))
	assert.Equal(t, domain.DefaultRetries, q.List(domain.QueueCurrent)[0].Result.RetriesLeft)
}

func TestResend(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeAnnounce, home, "3", clk.Now()))
	c := execute(q, clk, hard)
	require.NotNil(t, c)

	resent, err := q.Resend(c.ID)
	require.NoError(t, err)
	assert.True(t, resent.Manual)
	assert.Equal(t, domain.DefaultRetries, resent.Result.RetriesLeft)
	_, qt, ok := q.Find(c.ID)
	require.True(t, ok)
	assert.Equal(t, domain.QueueCurrent, qt)

	_, err = q.Resend("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestErrorQueuePurgedAfterMaxAge(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeDeleteNote, home, "old", clk.Now()))
	require.NotNil(t, execute(q, clk, hard))
	require.Equal(t, 1, q.Size(domain.QueueError))

	clk.Advance(DefaultConfig().MaxErrorAge - time.Hour)
	q.Poll()
	assert.Equal(t, 1, q.Size(domain.QueueError))

	clk.Advance(2 * time.Hour)
	assert.Nil(t, q.Poll())
	assert.Zero(t, q.Size(domain.QueueError))
}

func TestDeleteAndClear(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	a := domain.NewItemCommand(domain.CodeLike, home, "a", clk.Now())
	b := domain.NewItemCommand(domain.CodeLike, home, "b", clk.Now())
	q.Add(domain.QueueCurrent, a)
	q.Add(domain.QueueError, b)

	assert.True(t, q.Delete(a.ID))
	assert.False(t, q.Delete(a.ID))
	assert.Equal(t, 1, q.Clear())
	for _, qt := range domain.QueueTypes {
		assert.Zero(t, q.Size(qt))
	}
}

func TestDeleteWhileExecutingDropsCommand(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "a", clk.Now()))
	c := q.Poll()
	require.NotNil(t, c)
	assert.True(t, q.Delete(c.ID))

	c.Result.PrepareForLaunch(clk.Now())
	soft(&c.Result)
	c.Result.AfterExecutionEnded()
	assert.Equal(t, domain.QueueType(""), q.AfterExecution(c))
	assert.Zero(t, q.Size(domain.QueueRetry))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clk := newClock()
	store := newMemStore()
	q := newTestQueue(t, store, clk)

	q.Add(domain.QueueCurrent, domain.NewCommand(domain.CodeGetTimeline, home, clk.Now()))
	q.Add(domain.QueuePre, domain.NewItemCommand(domain.CodeGetAvatar, domain.EmptyTimeline, "12", clk.Now()))
	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeLike, home, "x", clk.Now()))
	require.NotNil(t, execute(q, clk, soft))
	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeFollow, home, "y", clk.Now()))

	require.NoError(t, q.Save(context.Background()))
	assert.False(t, q.Changed())
	require.NoError(t, q.Save(context.Background()))
	assert.Equal(t, 1, store.saves, "unchanged queue is not written again")

	reloaded := New(store, DefaultConfig(), WithClock(clk.Now))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, q.Snapshot(), reloaded.Snapshot())
	assert.False(t, reloaded.Changed())
}

func TestSaveLoadKeepsSubMillisecondOrder(t *testing.T) {
	clk := newClock()
	store := newMemStore()
	q := newTestQueue(t, store, clk)

	base := clk.Now().Add(100 * time.Microsecond)
	first := domain.NewItemCommand(domain.CodeLike, home, "first", base)
	first.ID = "zzz"
	second := domain.NewItemCommand(domain.CodeLike, home, "second", base.Add(300*time.Microsecond))
	second.ID = "aaa"
	q.Add(domain.QueueCurrent, second)
	q.Add(domain.QueueCurrent, first)
	require.NoError(t, q.Save(context.Background()))

	reloaded := New(store, DefaultConfig(), WithClock(clk.Now))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, q.Snapshot(), reloaded.Snapshot())

	got := reloaded.Poll()
	require.NotNil(t, got)
	assert.Equal(t, "zzz", got.ID)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestMaintainIfDue(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeDeleteNote, home, "old", clk.Now()))
	require.NotNil(t, execute(q, clk, hard))
	require.Equal(t, 1, q.Size(domain.QueueError))

	clk.Advance(DefaultConfig().MaxErrorAge + time.Hour)
	assert.True(t, q.MaintainIfDue())
	assert.Zero(t, q.Size(domain.QueueError))
	assert.False(t, q.MaintainIfDue(), "next pass waits for the check interval")
}

func TestLoadIsIdempotent(t *testing.T) {
	clk := newClock()
	store := newMemStore()
	q := newTestQueue(t, store, clk)
	q.Add(domain.QueueCurrent, domain.NewCommand(domain.CodeGetTimeline, home, clk.Now()))
	require.NoError(t, q.Save(context.Background()))

	q2 := New(store, DefaultConfig(), WithClock(clk.Now))
	require.NoError(t, q2.Load(context.Background()))
	store.fail = errors.New("must not be called")
	require.NoError(t, q2.Load(context.Background()))
	assert.Equal(t, 1, q2.Size(domain.QueueCurrent))
}

func TestSaveBeforeLoadIsRefused(t *testing.T) {
	q := New(newMemStore(), DefaultConfig())
	assert.ErrorIs(t, q.Save(context.Background()), ErrNotLoaded)
}

func TestInFlightCommandIsSavedInCurrentQueue(t *testing.T) {
	clk := newClock()
	store := newMemStore()
	q := newTestQueue(t, store, clk)

	q.Add(domain.QueueCurrent, domain.NewItemCommand(domain.CodeUpdateNote, home, "1", clk.Now()))
	c := q.Poll()
	require.NotNil(t, c)
	require.NoError(t, q.Save(context.Background()))

	reloaded := New(store, DefaultConfig(), WithClock(clk.Now))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, 1, reloaded.Size(domain.QueueCurrent))
}

func TestConcurrentAddsKeepOneCopy(t *testing.T) {
	clk := newClock()
	q := newTestQueue(t, newMemStore(), clk)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Add(domain.QueuePre, domain.NewCommand(domain.CodeGetTimeline, home, clk.Now()))
			_ = q.List(domain.QueuePre)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, q.Size(domain.QueuePre))
}
