package asyncio

import "container/list"

// Future is a suspendable computation. Poll drives it forward: it returns
// the produced value and true once the future is ready, or the zero value
// and false if the future is not yet ready. A future that returns false
// must have arranged for w to be woken eventually (by arming a reactor
// interest, or by some other future's completion), or it will never be
// polled again.
//
// Go has no async/await, so futures here are written the way the Rust
// source's async fn bodies would be hand-desugared: as small structs that
// track their own resume point.
type Future[T any] interface {
	Poll(w *Waker) (T, bool)
}

// rootFuture is the type-erased shape of a root future: poll reports only
// readiness and the produced value stays inside the wrapper. BlockOn wraps
// the caller's Future[T] in a rootFutureFor[T], which implements it.
type rootFuture interface {
	poll(w *Waker) bool
}

type rootFutureFor[T any] struct {
	fut   Future[T]
	value T
}

func (r *rootFutureFor[T]) poll(w *Waker) bool {
	v, ready := r.fut.Poll(w)
	if ready {
		r.value = v
	}
	return ready
}

// task is the heap-resident wrapper around a spawned computation producing
// no value. A task is reachable from the runnable queue (while scheduled)
// and from any Waker cloned out of it; Go's garbage collector retires it
// once nothing references it any more, which is this runtime's rendering
// of the reference-counted Task the spec describes (refcounting would add
// nothing a GC doesn't already give us in a single-threaded runtime).
type task struct {
	fut      Future[struct{}]
	ex       *Executor
	done     bool
	queued   bool // true while an entry for this task sits in ex.runnable
	listElem *list.Element
}

// Waker is a handle that, when invoked, returns its associated task to the
// runnable queue. Wakers may be cloned freely (copy the struct) and stored
// in the reactor's waker table; invoking one more than once is idempotent:
// while the task is already queued (or done), a further Wake does nothing.
type Waker struct {
	t *task // nil for the inert root waker
}

// Wake enqueues the task this waker was bound to, if any. It is safe to
// call multiple times and safe to call after the task has already
// completed (it is then a no-op).
func (w *Waker) Wake() {
	if w == nil || w.t == nil || w.t.done {
		return
	}
	w.t.ex.enqueue(w.t)
}

// noopWaker is handed to the root future: its readiness is checked
// explicitly by BlockOn's main loop at each step, so it never needs to be
// scheduled through the runnable queue.
var noopWaker = &Waker{}

// runQueue is the executor's FIFO of runnable tasks, backed by
// container/list the same way the teacher package (gaio's watcher.go)
// keeps its per-fd reader/writer interest lists.
type runQueue struct {
	l *list.List
}

func newRunQueue() *runQueue {
	return &runQueue{l: list.New()}
}

func (q *runQueue) push(t *task) {
	t.listElem = q.l.PushBack(t)
	t.queued = true
}

func (q *runQueue) pop() *task {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	q.l.Remove(e)
	t := e.Value.(*task)
	t.listElem = nil
	t.queued = false
	return t
}

func (q *runQueue) empty() bool {
	return q.l.Len() == 0
}
