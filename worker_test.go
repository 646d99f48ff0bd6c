package taskmill

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Owner Submission Tests
// ============================================================================

func TestWorker_OwnPopIsLIFO(t *testing.T) {
	s := startScheduler(t, WithWorkers(1))
	var mu sync.Mutex
	var order []int

	require.NoError(t, s.Submit(func(w *Worker) {
		for i := 0; i < 5; i++ {
			assert.NoError(t, w.Submit(func(*Worker) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}
	}))
	require.NoError(t, s.Wait(testContext(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{4, 3, 2, 1, 0}, order)
}

func TestWorker_SubmitInline(t *testing.T) {
	s := startScheduler(t, WithWorkers(2))
	var sum atomic.Uint64

	add := func(_ *Worker, args *Args) {
		var total uint64
		for _, v := range args {
			total += v
		}
		sum.Add(total)
	}

	require.NoError(t, s.Submit(func(w *Worker) {
		for i := uint64(0); i < 10; i++ {
			assert.NoError(t, w.SubmitInline(add, Args{i, i, i, i, i, i, i, i}))
		}
		assert.ErrorIs(t, w.SubmitInline(nil, Args{}), ErrNilFunc)
	}))
	require.NoError(t, s.Wait(testContext(t)))
	assert.EqualValues(t, 8*45, sum.Load())
}

func TestWorker_TrySubmitBusy(t *testing.T) {
	// one worker: nobody else can take the child before the parent returns
	s := startScheduler(t, WithWorkers(1), WithSlotPoolSize(2))
	var ran atomic.Int64
	errs := make(chan error, 3)

	require.NoError(t, s.Submit(func(w *Worker) {
		// the parent holds one slot, the first child the other
		errs <- w.TrySubmit(func(*Worker) { ran.Add(1) })
		errs <- w.TrySubmit(func(*Worker) { ran.Add(1) })
		errs <- w.TrySubmit(nil)
	}))
	require.NoError(t, s.Wait(testContext(t)))

	assert.NoError(t, <-errs)
	assert.ErrorIs(t, <-errs, ErrBusy)
	assert.ErrorIs(t, <-errs, ErrNilFunc)
	assert.EqualValues(t, 1, ran.Load())
	assert.EqualValues(t, 1, s.Stats().Busy)
}

func TestWorker_SaturatedSubmitHelpsInsteadOfDeadlocking(t *testing.T) {
	s := startScheduler(t, WithWorkers(1), WithSlotPoolSize(2))
	var ran atomic.Int64

	require.NoError(t, s.Submit(func(w *Worker) {
		for i := 0; i < 100; i++ {
			assert.NoError(t, w.Submit(func(*Worker) { ran.Add(1) }))
		}
	}))
	require.NoError(t, s.Wait(testContext(t)))
	assert.EqualValues(t, 100, ran.Load())
	assert.Zero(t, s.Stats().Workers[0].PendingSlots)
}

func TestWorker_ExecuteFreesSlotBeforeRunning(t *testing.T) {
	s := newTestScheduler(t, WithWorkers(1), WithSlotPoolSize(1))
	w := s.Workers()[0]

	slot, ok := w.slots.TryAcquire()
	require.True(t, ok)
	var ran, heldDuringRun bool
	slot.storeBoxed(funcTask(func(*Worker) {
		ran = true
		heldDuringRun = slot.Pending()
	}))
	s.outstanding.Add(1)

	require.NoError(t, w.execute(slot, false))
	assert.True(t, ran)
	assert.False(t, heldDuringRun)
	free, ok := w.slots.TryAcquire()
	require.True(t, ok)
	assert.Same(t, slot, free)
}

// Every node of the tree submits its children and a render job while the
// worker that runs it may be nested deep inside helping; the default slot
// pool must be enough to finish.
func TestWorker_RecursiveTreeWithRenderJobs(t *testing.T) {
	s := newTestScheduler(t, WithWorkers(4))
	const depth, fanout = 8, 3
	var nodes, renders atomic.Int64

	var visit func(w *Worker, level int)
	visit = func(w *Worker, level int) {
		nodes.Add(1)
		assert.NoError(t, w.SubmitRender(func(*RenderAgent) { renders.Add(1) }))
		if level == depth {
			return
		}
		for i := 0; i < fanout; i++ {
			assert.NoError(t, w.Submit(func(w *Worker) { visit(w, level+1) }))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx, func(w *Worker) error {
		visit(w, 0)
		return nil
	}))

	// (3^9 - 1) / 2
	const want = 9841
	assert.EqualValues(t, want, nodes.Load())
	assert.EqualValues(t, want, renders.Load())
	assert.Zero(t, s.Stats().Dropped)
}

func TestWorker_NestedFuturesSingleWorker(t *testing.T) {
	s := startScheduler(t, WithWorkers(1), WithSlotPoolSize(4))

	var fib func(w *Worker, n int) (int, error)
	fib = func(w *Worker, n int) (int, error) {
		if n < 2 {
			return n, nil
		}
		f := SubmitToWorker(w, func(w *Worker) (int, error) { return fib(w, n-1) })
		b, err := fib(w, n-2)
		if err != nil {
			return 0, err
		}
		a, err := Await(w, f)
		return a + b, err
	}

	v, err := Spawn(s, func(w *Worker) (int, error) { return fib(w, 15) }).Wait(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 610, v)
}

// ============================================================================
// Stealing Tests
// ============================================================================

func TestWorker_IdlePeersSteal(t *testing.T) {
	s := startScheduler(t, WithWorkers(4))
	var ran atomic.Int64

	require.NoError(t, s.Submit(func(w *Worker) {
		for i := 0; i < 200; i++ {
			assert.NoError(t, w.Submit(func(*Worker) {
				time.Sleep(100 * time.Microsecond)
				ran.Add(1)
			}))
		}
	}))
	require.NoError(t, s.Wait(testContext(t)))

	assert.EqualValues(t, 200, ran.Load())
	st := s.Stats()
	assert.Positive(t, st.Stolen)

	busy := 0
	for _, ws := range st.Workers {
		if ws.Executed > 0 {
			busy++
		}
	}
	assert.Greater(t, busy, 1)
}

func TestWorker_DequeGrowsUnderLoad(t *testing.T) {
	s := startScheduler(t, WithWorkers(1), WithDequeCapacity(2), WithSlotPoolSize(64))
	release := make(chan struct{})

	require.NoError(t, s.Submit(func(w *Worker) {
		for i := 0; i < 32; i++ {
			assert.NoError(t, w.Submit(func(*Worker) { <-release }))
		}
		assert.GreaterOrEqual(t, w.general.Capacity(), 32)
		assert.Equal(t, 4, w.general.Retired())
		close(release)
	}))
	require.NoError(t, s.Wait(testContext(t)))
	assert.Equal(t, 4, s.Stats().Workers[0].Retired)
}
