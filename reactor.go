package asyncio

import "go.uber.org/zap"

// readyEvent is one fd's readiness report from a single poller wait.
type readyEvent struct {
	fd       int
	readable bool
	writable bool
}

// pollerBackend is the platform-specific half of the reactor: the raw
// kernel multiplexer calls. poller_linux.go supplies the epoll-backed
// implementation.
type pollerBackend interface {
	add(fd int) error
	modify(fd int, readable, writable bool) error
	remove(fd int) error
	wait() ([]readyEvent, error)
	close() error
}

// fdInterest tracks which directions are currently armed for one fd. Both
// slots disarmed means the fd is registered but nothing is waiting on it.
type fdInterest struct {
	readArmed  bool
	writeArmed bool
}

// reactor owns the kernel readiness multiplexer, the set of registered
// fds, and the token -> waker table. It is the Go counterpart of
// original_source/src/reactor.rs: same token encoding (fd*2 readable,
// fd*2+1 writable), same "arm overwrites, wait consumes" contract.
type reactor struct {
	p        pollerBackend
	wakers   map[int64]*Waker
	interest map[int]*fdInterest
	logger   *zap.Logger
}

func newReactor(logger *zap.Logger) (*reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &reactor{
		p:        p,
		wakers:   make(map[int64]*Waker),
		interest: make(map[int]*fdInterest),
		logger:   logger,
	}, nil
}

func readToken(fd int) int64  { return int64(fd) * 2 }
func writeToken(fd int) int64 { return int64(fd)*2 + 1 }

// register puts fd under kernel observation with no interest armed yet.
// fd must already be a valid, open socket; register sets it non-blocking.
func (r *reactor) register(fd int) error {
	if err := setNonblock(fd); err != nil {
		return err
	}
	if err := r.p.add(fd); err != nil {
		return err
	}
	r.interest[fd] = &fdInterest{}
	r.logger.Debug("reactor: fd registered", zap.Int("fd", fd))
	return nil
}

// armReadable stores w under fd's read token, overwriting (and silently
// dropping, per spec) any waker previously armed on that token.
func (r *reactor) armReadable(fd int, w *Waker) {
	in := r.interestFor(fd)
	r.wakers[readToken(fd)] = w
	in.readArmed = true
	r.applyInterest(fd, in)
	r.logger.Debug("reactor: arm readable", zap.Int("fd", fd), zap.Int64("token", readToken(fd)))
}

// armWritable is armReadable's write-direction twin.
func (r *reactor) armWritable(fd int, w *Waker) {
	in := r.interestFor(fd)
	r.wakers[writeToken(fd)] = w
	in.writeArmed = true
	r.applyInterest(fd, in)
	r.logger.Debug("reactor: arm writable", zap.Int("fd", fd), zap.Int64("token", writeToken(fd)))
}

func (r *reactor) interestFor(fd int) *fdInterest {
	in, ok := r.interest[fd]
	if !ok {
		in = &fdInterest{}
		r.interest[fd] = in
	}
	return in
}

func (r *reactor) applyInterest(fd int, in *fdInterest) {
	if !in.readArmed && !in.writeArmed {
		return
	}
	if err := r.p.modify(fd, in.readArmed, in.writeArmed); err != nil {
		// A modify racing with deregister on a closed fd is not specified
		// by the source; we take the conservative reading and drop it.
		r.logger.Debug("reactor: modify on fd failed, treating as disarmed", zap.Int("fd", fd), zap.Error(err))
	}
}

// wait blocks until the kernel reports at least one readiness event, then
// invokes every waker that event satisfies. Callers must only invoke wait
// when the runnable queue is empty.
func (r *reactor) wait() error {
	events, err := r.p.wait()
	if err != nil {
		return err
	}
	r.logger.Debug("reactor: wait returned", zap.Int("events", len(events)))
	for _, ev := range events {
		in, ok := r.interest[ev.fd]
		if !ok {
			// Deregistered between the kernel queuing this event and us
			// draining it; nothing left to wake.
			continue
		}
		if ev.readable {
			if w, ok := r.wakers[readToken(ev.fd)]; ok {
				delete(r.wakers, readToken(ev.fd))
				in.readArmed = false
				r.logger.Debug("reactor: wake readable", zap.Int("fd", ev.fd))
				w.Wake()
			}
		}
		if ev.writable {
			if w, ok := r.wakers[writeToken(ev.fd)]; ok {
				delete(r.wakers, writeToken(ev.fd))
				in.writeArmed = false
				r.logger.Debug("reactor: wake writable", zap.Int("fd", ev.fd))
				w.Wake()
			}
		}
		// Oneshot: re-arm only the direction(s) still wanted, if any.
		r.applyInterest(ev.fd, in)
	}
	return nil
}

// deregister drops both direction slots for fd (without invoking their
// wakers) and stops tracking fd in the poller. Must run before fd's owner
// closes the underlying socket, so a reused fd number can't inherit a
// stale waker.
func (r *reactor) deregister(fd int) {
	delete(r.wakers, readToken(fd))
	delete(r.wakers, writeToken(fd))
	delete(r.interest, fd)
	if err := r.p.remove(fd); err != nil {
		r.logger.Debug("reactor: remove on fd failed", zap.Int("fd", fd), zap.Error(err))
	}
	r.logger.Debug("reactor: fd deregistered", zap.Int("fd", fd))
}

// idle reports whether no interest is currently armed anywhere. The
// executor's main loop must never call wait while idle is true: that would
// block forever.
func (r *reactor) idle() bool {
	return len(r.wakers) == 0
}

func (r *reactor) close() error {
	return r.p.close()
}
