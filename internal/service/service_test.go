package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"syncq/internal/domain"
	"syncq/internal/events"
	"syncq/internal/infra/sqlite"
	"syncq/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var home = domain.Timeline{Type: domain.TimelineHome, Account: "alice@example.social"}

// gateExecutor blocks on commands whose item id is registered in gates.
type gateExecutor struct {
	mu       sync.Mutex
	gates    map[string]chan struct{}
	executed []string
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{gates: map[string]chan struct{}{}}
}

func (e *gateExecutor) gate(itemID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.gates[itemID] = ch
	return ch
}

func (e *gateExecutor) Execute(ctx context.Context, cmd *domain.Command) {
	cmd.Result.PrepareForLaunch(time.Now().UTC())
	e.mu.Lock()
	gate := e.gates[cmd.ItemID]
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			cmd.Result.IncrementIo(ctx.Err().Error())
		}
	}
	cmd.Result.AfterExecutionEnded()

	e.mu.Lock()
	e.executed = append(e.executed, cmd.ItemID)
	e.mu.Unlock()
}

func (e *gateExecutor) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

type fixture struct {
	svc  *Service
	q    *queue.Queue
	exec *gateExecutor
	bus  *events.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := sqlite.OpenCommandStore(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q := queue.New(store, queue.DefaultConfig())
	require.NoError(t, q.Load(context.Background()))
	bus := events.NewBus(100)
	t.Cleanup(bus.Close)
	exec := newGateExecutor()
	return &fixture{svc: New(q, exec, bus, cfg), q: q, exec: exec, bus: bus}
}

func (f *fixture) run(t *testing.T) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- f.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
		}
	})
	return cancelFn, ch
}

func like(item string) *domain.Command {
	return domain.NewItemCommand(domain.CodeLike, home, item, time.Now().UTC())
}

var fast = Config{Heartbeat: 10 * time.Millisecond, Budget: time.Minute, MaxTaskDuration: time.Minute}

func TestSubmit_RequiresReadyHost(t *testing.T) {
	f := newFixture(t, fast)
	assert.ErrorIs(t, f.svc.Submit(like("1")), domain.ErrServiceUnavailable)
	assert.ErrorIs(t, f.svc.Wake(), domain.ErrServiceUnavailable)
	assert.Zero(t, f.q.Size(domain.QueuePre))

	f.svc.SetReady(true)
	assert.NoError(t, f.svc.Submit(like("1")))
	assert.NoError(t, f.svc.Wake())
	assert.Equal(t, 1, f.q.Size(domain.QueuePre))
}

func TestRun_ExecutesSubmittedCommandsAndStops(t *testing.T) {
	f := newFixture(t, fast)
	f.svc.SetReady(true)
	f.run(t)

	stopped := make(chan struct{}, 10)
	f.bus.Subscribe(func(events.Event) { stopped <- struct{}{} }, events.EventOnStop)

	require.NoError(t, f.svc.Submit(like("1")))
	require.NoError(t, f.svc.Submit(like("2")))

	require.Eventually(t, func() bool { return len(f.exec.Executed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.svc.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("no on_stop event")
	}
	assert.False(t, f.q.AnythingToExecute())
}

func TestSubmitWhileStopping_RunsOnlyAfterRestart(t *testing.T) {
	f := newFixture(t, fast)
	f.svc.SetReady(true)
	f.run(t)

	gate := f.exec.gate("slow")
	slow := like("slow")
	require.NoError(t, f.svc.Submit(slow))
	require.Eventually(t, func() bool {
		id, ok := f.svc.Executing()
		return ok && id == slow.ID
	}, 2*time.Second, 5*time.Millisecond)

	f.svc.Stop(false)
	assert.Equal(t, StateStopping, f.svc.State())
	assert.ErrorIs(t, f.svc.Wake(), domain.ErrStopping)

	require.NoError(t, f.svc.Submit(like("late")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.exec.Executed(), "nothing runs while the worker is stopping")
	assert.Equal(t, StateStopping, f.svc.State())

	close(gate)
	require.Eventually(t, func() bool { return len(f.exec.Executed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"slow", "late"}, f.exec.Executed())
}

func TestStop_ForceCancelsInFlight(t *testing.T) {
	f := newFixture(t, fast)
	f.svc.SetReady(true)
	f.run(t)

	f.exec.gate("stuck")
	stuck := like("stuck")
	require.NoError(t, f.svc.Submit(stuck))
	require.Eventually(t, func() bool { _, ok := f.svc.Executing(); return ok }, 2*time.Second, 5*time.Millisecond)

	f.svc.Stop(true)
	require.Eventually(t, func() bool { return len(f.exec.Executed()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// the cancelled attempt is a soft failure and waits in the retry queue
	require.Eventually(t, func() bool { return f.q.Size(domain.QueueRetry) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.svc.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)
}

func TestHeartbeat_CancelsCommandOverMaxDuration(t *testing.T) {
	cfg := fast
	cfg.MaxTaskDuration = 30 * time.Millisecond
	f := newFixture(t, cfg)
	f.svc.SetReady(true)
	f.run(t)

	f.exec.gate("hung")
	require.NoError(t, f.svc.Submit(like("hung")))

	require.Eventually(t, func() bool { return len(f.exec.Executed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.svc.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.q.Size(domain.QueueRetry))
}

func TestRun_SavesQueueOnShutdown(t *testing.T) {
	store, err := sqlite.OpenCommandStore(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	defer store.Close()
	q := queue.New(store, queue.DefaultConfig())
	require.NoError(t, q.Load(context.Background()))
	bus := events.NewBus(10)
	defer bus.Close()
	svc := New(q, newGateExecutor(), bus, Config{Heartbeat: time.Hour})

	// not ready: nothing executes, the command only waits
	q.Add(domain.QueueError, like("parked"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	saved, err := store.Load(context.Background(), domain.QueueError)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.False(t, q.Changed())
}

func TestStateChangesArePublished(t *testing.T) {
	f := newFixture(t, fast)
	var (
		mu     sync.Mutex
		states []string
	)
	f.bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.State)
	}, events.EventStateChanged)

	f.svc.SetReady(true)
	f.run(t)
	require.NoError(t, f.svc.Submit(like("1")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"running", "stopping", "stopped"}, states[:3])
}

func TestHeartbeat_PurgesAgedErrorsWithoutWork(t *testing.T) {
	f := newFixture(t, fast)
	old := like("old")
	old.CreatedAt = time.Now().UTC().Add(-queue.DefaultConfig().MaxErrorAge - time.Hour)
	f.q.Add(domain.QueueError, old)
	f.svc.SetReady(true)
	f.run(t)

	require.Eventually(t, func() bool { return f.q.Size(domain.QueueError) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.exec.Executed())
	assert.Equal(t, StateStopped, f.svc.State())
}

func TestStop_HoldsUntilWake(t *testing.T) {
	f := newFixture(t, fast)
	f.svc.SetReady(true)
	f.run(t)

	gate := f.exec.gate("slow")
	slow := like("slow")
	require.NoError(t, f.svc.Submit(slow))
	require.Eventually(t, func() bool {
		id, ok := f.svc.Executing()
		return ok && id == slow.ID
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.Submit(like("queued")))

	f.svc.Stop(false)
	close(gate)
	require.Eventually(t, func() bool { return f.svc.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"slow"}, f.exec.Executed())
	assert.Equal(t, StateStopped, f.svc.State())
	assert.True(t, f.q.AnythingToExecute())

	require.NoError(t, f.svc.Wake())
	require.Eventually(t, func() bool { return len(f.exec.Executed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"slow", "queued"}, f.exec.Executed())
}
