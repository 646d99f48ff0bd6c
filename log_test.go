package taskmill

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer serializes writes from concurrent loops.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func TestLogging_Lifecycle(t *testing.T) {
	var out syncBuffer
	s := startScheduler(t, WithWorkers(2), WithLogger(newTestLogger(&out, logiface.LevelInformational)))
	require.NoError(t, s.Stop())

	logs := out.String()
	assert.Contains(t, logs, `"msg":"scheduler started"`)
	assert.Contains(t, logs, `"msg":"scheduler stopped"`)
	assert.Contains(t, logs, `"scheduler":"`+s.ID()+`"`)
	assert.NotContains(t, logs, `"lvl":"debug"`)
}

func TestLogging_LoopDebugEvents(t *testing.T) {
	var out syncBuffer
	s := startScheduler(t, WithWorkers(1), WithLogger(newTestLogger(&out, logiface.LevelDebug)))
	require.NoError(t, s.Stop())

	logs := out.String()
	assert.Contains(t, logs, `"loop":"worker-0"`)
	assert.Contains(t, logs, `"loop":"render"`)
	assert.Contains(t, logs, `"msg":"loop started"`)
	assert.Contains(t, logs, `"msg":"loop stopped"`)
}

func TestLogging_JobPanic(t *testing.T) {
	var out syncBuffer
	s := startScheduler(t, WithWorkers(1), WithLogger(newTestLogger(&out, logiface.LevelInformational)))

	require.NoError(t, s.Submit(func(*Worker) { panic("logged") }))
	require.Eventually(t, func() bool { return s.Stats().Panics == 1 }, 5*time.Second, time.Millisecond)
	require.Error(t, s.Stop())

	logs := out.String()
	assert.Contains(t, logs, `"lvl":"err"`)
	assert.Contains(t, logs, `"msg":"job panicked"`)
	assert.Contains(t, logs, `"msg":"scheduler stopped with errors"`)
}

func TestLogging_NilLoggerIsSilent(t *testing.T) {
	s := startScheduler(t, WithWorkers(1))
	require.NoError(t, s.Submit(func(*Worker) { panic("unlogged") }))
	require.Eventually(t, func() bool { return s.Stats().Panics == 1 }, 5*time.Second, time.Millisecond)
	assert.Error(t, s.Stop())
}
