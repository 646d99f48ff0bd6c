package taskmill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_Value(t *testing.T) {
	s := startScheduler(t, WithWorkers(2))
	f := Spawn(s, func(*Worker) (string, error) { return "done", nil })

	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future did not complete")
	}
	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestFuture_ErrorIsDelivered(t *testing.T) {
	s := startScheduler(t, WithWorkers(2))
	sentinel := errors.New("job failed")

	_, err := Spawn(s, func(*Worker) (int, error) { return 0, sentinel }).Wait(testContext(t))
	assert.ErrorIs(t, err, sentinel)
	require.NoError(t, s.Wait(testContext(t)))
	assert.EqualValues(t, 1, s.Stats().Failed)
	assert.NoError(t, s.Stop())
}

func TestFuture_PanicIsDeliveredNotRecorded(t *testing.T) {
	s := startScheduler(t, WithWorkers(2))

	_, err := Spawn(s, func(*Worker) (int, error) { panic("kaboom") }).Wait(testContext(t))
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)

	assert.True(t, s.Alive())
	require.NoError(t, s.Wait(testContext(t)))
	st := s.Stats()
	assert.EqualValues(t, 1, st.Failed)
	assert.Zero(t, st.Panics)
	assert.NoError(t, s.Stop())
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	s := startScheduler(t, WithWorkers(1))
	release := make(chan struct{})
	f := Spawn(s, func(*Worker) (int, error) {
		<-release
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFuture_NilFunc(t *testing.T) {
	s := startScheduler(t, WithWorkers(1))
	_, err := Spawn[int](s, nil).Result()
	assert.ErrorIs(t, err, ErrNilFunc)
	_, err = SpawnRender[int](s, nil).Result()
	assert.ErrorIs(t, err, ErrNilFunc)

	errc := make(chan error, 2)
	require.NoError(t, s.Submit(func(w *Worker) {
		_, err := SubmitToWorker[int](w, nil).Result()
		errc <- err
		_, err = SubmitRenderAffinity[int](w, nil).Result()
		errc <- err
	}))
	assert.ErrorIs(t, <-errc, ErrNilFunc)
	assert.ErrorIs(t, <-errc, ErrNilFunc)
}

func TestFuture_SpawnBeforeStart(t *testing.T) {
	s := newTestScheduler(t, WithWorkers(1))
	_, err := Spawn(s, func(*Worker) (int, error) { return 1, nil }).Result()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Zero(t, s.Stats().Outstanding)
}

func TestFuture_AwaitReturnsWhenSchedulerStops(t *testing.T) {
	s := startScheduler(t, WithWorkers(1))
	errc := make(chan error, 1)

	require.NoError(t, s.Submit(func(w *Worker) {
		never := newFuture[int](nil)
		_, err := Await(w, never)
		errc <- err
	}))
	time.Sleep(10 * time.Millisecond)
	s.RequestStop()

	assert.ErrorIs(t, <-errc, ErrSchedulerStopped)
	assert.NoError(t, s.Stop())
}
