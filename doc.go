// Package asyncio is a minimal single-threaded cooperative runtime for
// non-blocking network I/O.
//
// It hosts cooperative tasks (Future implementations) that are resumed in
// response to readiness events on file descriptors, delivered by a kernel
// event multiplexer (epoll on Linux). The runtime is built from three
// pieces, leaves first:
//
//   - reactor: owns the epoll instance and the table of armed wakers.
//   - Executor: owns the runnable task queue and drives BlockOn's main loop.
//   - Listener / Stream: non-blocking TCP wrappers that suspend onto the
//     reactor on EAGAIN.
//
// The runtime is explicitly single-threaded: every Task, the reactor, and
// every Listener/Stream are confined to the goroutine that called BlockOn.
package asyncio
