package asyncio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// futureFunc adapts a plain function to the Future interface, the same
// shape as http.HandlerFunc in the standard library.
type futureFunc func(w *Waker) (struct{}, bool)

func (f futureFunc) Poll(w *Waker) (struct{}, bool) { return f(w) }

type doneFuture struct{}

func (doneFuture) Poll(_ *Waker) (struct{}, bool) { return struct{}{}, true }

func TestBlockOnRootCompletesImmediately(t *testing.T) {
	ex, err := New()
	require.NoError(t, err)
	defer ex.Close()

	_, err = BlockOn(ex, func() Future[struct{}] { return doneFuture{} })
	require.NoError(t, err)
}

type countingFuture struct {
	done *int
}

func (f *countingFuture) Poll(_ *Waker) (struct{}, bool) {
	*f.done++
	return struct{}{}, true
}

// TestSpawnNImmediateTasksAllCompleteBeforeBlockOnReturns covers spec.md
// §8's round-trip property: spawning N tasks that each immediately
// complete must all finish before BlockOn returns.
func TestSpawnNImmediateTasksAllCompleteBeforeBlockOnReturns(t *testing.T) {
	ex, err := New()
	require.NoError(t, err)
	defer ex.Close()

	const n = 50
	completed := 0
	spawned := false

	_, err = BlockOn(ex, func() Future[struct{}] {
		return futureFunc(func(_ *Waker) (struct{}, bool) {
			if !spawned {
				for i := 0; i < n; i++ {
					require.NoError(t, Spawn(&countingFuture{done: &completed}))
				}
				spawned = true
				return struct{}{}, false
			}
			return struct{}{}, true
		})
	})
	require.NoError(t, err)
	require.Equal(t, n, completed)
}

func TestBlockOnRejectsNesting(t *testing.T) {
	ex, err := New()
	require.NoError(t, err)
	defer ex.Close()

	inner, err := New()
	require.NoError(t, err)
	defer inner.Close()

	_, err = BlockOn(ex, func() Future[struct{}] {
		return futureFunc(func(_ *Waker) (struct{}, bool) {
			_, nestedErr := BlockOn(inner, func() Future[struct{}] { return doneFuture{} })
			require.ErrorIs(t, nestedErr, ErrNestedBlockOn)
			return struct{}{}, true
		})
	})
	require.NoError(t, err)
}

func TestSpawnWithoutExecutorFails(t *testing.T) {
	require.Nil(t, current())
	err := Spawn(doneFuture{})
	require.ErrorIs(t, err, ErrNoExecutor)
}

func TestBlockOnDeadlocksWhenNothingCanWakeRoot(t *testing.T) {
	ex, err := New()
	require.NoError(t, err)
	defer ex.Close()

	_, err = BlockOn(ex, func() Future[struct{}] {
		return futureFunc(func(_ *Waker) (struct{}, bool) {
			return struct{}{}, false // never ready, never arms anything, never spawns
		})
	})
	require.ErrorIs(t, err, ErrDeadlock)
}

func TestRunQueueIsFIFO(t *testing.T) {
	ex := &Executor{runnable: newRunQueue(), logger: nopLoggerForTest()}
	a := &task{ex: ex}
	b := &task{ex: ex}
	c := &task{ex: ex}
	ex.enqueue(a)
	ex.enqueue(b)
	ex.enqueue(c)

	require.Same(t, a, ex.runnable.pop())
	require.Same(t, b, ex.runnable.pop())
	require.Same(t, c, ex.runnable.pop())
	require.Nil(t, ex.runnable.pop())
}

// TestEnqueueDedupesAlreadyQueuedTask covers spec.md §8's invariant: a
// task the runtime itself schedules is never in the runnable queue twice.
func TestEnqueueDedupesAlreadyQueuedTask(t *testing.T) {
	ex := &Executor{runnable: newRunQueue(), logger: nopLoggerForTest()}
	tk := &task{ex: ex}

	w := &Waker{t: tk}
	w.Wake()
	w.Wake()
	w.Wake()

	require.Equal(t, 1, ex.runnable.l.Len())
}
