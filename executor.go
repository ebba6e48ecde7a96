package asyncio

import (
	"runtime"

	"go.uber.org/zap"
)

// Executor owns the runnable task queue and the reactor, and drives the
// BlockOn main loop. It is the ambient context Spawn and every TCP
// primitive resolve through without an explicit parameter, exactly as
// spec.md's "thread-local ambient executor" describes; since this runtime
// is single-threaded and confined to the goroutine that calls BlockOn, a
// package-level slot (currentExecutor) plays the same role a real
// thread-local would.
type Executor struct {
	runnable *runQueue
	reactor  *reactor
	logger   *zap.Logger
}

type options struct {
	logger *zap.Logger
}

// Option configures an Executor at construction time. There is no
// configuration file (spec.md §6): this functional-options shape, used
// throughout the corpus (e.g. joeycumines-go-utilpkg's eventloop package),
// is the whole of it.
type Option func(*options)

// WithLogger installs a structured logger for reactor/executor trace
// events (fd registration, interest arming, wake dispatch, task
// enqueue/dequeue). The default is a no-op logger: diagnostic output is
// not part of the contract, per spec.md §6.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an empty runnable queue and a fresh reactor.
func New(opts ...Option) (*Executor, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	re, err := newReactor(o.logger)
	if err != nil {
		return nil, err
	}
	ex := &Executor{
		runnable: newRunQueue(),
		reactor:  re,
		logger:   o.logger,
	}
	// Mirrors the teacher package's own finalizer discipline
	// (watcher.go's NewWatcherSize): system resources (here, the epoll fd)
	// get reclaimed even if the caller forgets to Close.
	runtime.SetFinalizer(ex, func(ex *Executor) {
		_ = ex.reactor.close()
	})
	return ex, nil
}

// Close releases the reactor's kernel resources. Only safe to call once
// BlockOn has returned and no Listener/Stream created from this executor
// is still in use.
func (ex *Executor) Close() error {
	runtime.SetFinalizer(ex, nil)
	return ex.reactor.close()
}

// currentExecutor is the ambient executor for the duration of a BlockOn
// call. Nested BlockOn on the same goroutine is rejected.
var currentExecutor *Executor

func current() *Executor {
	return currentExecutor
}

// enqueue pushes t onto the runnable queue unless it is already queued or
// already done, preserving the "never in-queue twice" invariant (spec.md
// §8) without needing a refcount on top of it.
func (ex *Executor) enqueue(t *task) {
	if t.done || t.queued {
		return
	}
	ex.runnable.push(t)
	ex.logger.Debug("executor: task enqueued")
}

func (ex *Executor) spawn(fut Future[struct{}]) {
	t := &task{fut: fut, ex: ex}
	ex.enqueue(t)
}

func (ex *Executor) pollTask(t *task) {
	if t.done {
		return
	}
	w := &Waker{t: t}
	_, ready := t.fut.Poll(w)
	ex.logger.Debug("executor: task polled", zap.Bool("ready", ready))
	if ready {
		t.done = true
	}
}

// Spawn wraps fut in a task and pushes it onto the runnable queue of the
// currently installed executor. It must be called from inside that
// executor's BlockOn call (directly, or from a future BlockOn is driving);
// otherwise it returns ErrNoExecutor.
func Spawn(fut Future[struct{}]) error {
	ex := current()
	if ex == nil {
		return ErrNoExecutor
	}
	ex.spawn(fut)
	return nil
}

// BlockOn installs ex as the ambient executor, builds the root future via
// rootFactory, and runs the main loop (spec.md §4.2) until it completes:
//
//  1. Poll the root future with an inert waker; return if ready.
//  2. Drain the runnable queue, polling each task with a waker bound to it.
//  3. Poll the root future again (a drained task may have satisfied it).
//  4. Block in reactor.wait() until readiness wakes some task, then repeat.
func BlockOn[T any](ex *Executor, rootFactory func() Future[T]) (T, error) {
	var zero T
	if current() != nil {
		return zero, ErrNestedBlockOn
	}
	currentExecutor = ex
	defer func() { currentExecutor = nil }()

	root := &rootFutureFor[T]{fut: rootFactory()}

	for {
		if root.poll(noopWaker) {
			return root.value, nil
		}

		for {
			t := ex.runnable.pop()
			if t == nil {
				break
			}
			ex.pollTask(t)
		}

		if root.poll(noopWaker) {
			return root.value, nil
		}

		if ex.runnable.empty() && ex.reactor.idle() {
			return zero, ErrDeadlock
		}

		if err := ex.reactor.wait(); err != nil {
			return zero, err
		}
	}
}
