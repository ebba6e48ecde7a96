package asyncio

import (
	"fmt"
	"net"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Listener is a non-blocking TCP listener registered with the owning
// executor's reactor. It has no net.Conn/net.Listener underneath it on
// purpose: the whole point of this runtime is owning the fd's readiness
// lifecycle directly, which Go's own net package (and its private
// runtime poller) would otherwise take over.
type Listener struct {
	fd     int
	re     *reactor
	logger *zap.Logger
	closed bool
}

// Bind creates a non-blocking TCP socket of the appropriate address
// family, sets SO_REUSEADDR, binds, listens with a backlog of 1024, and
// registers the fd with the current executor's reactor. Must be called
// from inside BlockOn (it resolves the ambient executor via Spawn's same
// mechanism).
func Bind(addr string) (*Listener, error) {
	ex := current()
	if ex == nil {
		return nil, ErrNoExecutor
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("asyncio: resolve %q: %w", addr, err)
	}

	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("asyncio: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("asyncio: setsockopt SO_REUSEADDR: %w", err)
	}

	sa, err := sockaddrFromTCPAddr(tcpAddr)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("asyncio: bind %q: %w", addr, err)
	}
	const backlog = 1024
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("asyncio: listen: %w", err)
	}

	if err := ex.reactor.register(fd); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("asyncio: register listener fd: %w", err)
	}

	ex.logger.Debug("tcp: bound", zap.String("addr", addr), zap.Int("fd", fd))
	l := &Listener{fd: fd, re: ex.reactor, logger: ex.logger}
	// Matches the teacher package's finalizer discipline on individual
	// accepted connections (watcher.go's runtime.SetFinalizer(pcb.conn,
	// ...)): a Listener a caller lets go out of scope without an explicit
	// Close must still have its fd deregistered and closed.
	runtime.SetFinalizer(l, func(l *Listener) { _ = l.Close() })
	return l, nil
}

// AcceptResult is what the Future returned by Listener.Accept resolves to.
type AcceptResult struct {
	Stream *Stream
	Addr   net.Addr
	Err    error
}

// Accept returns a Future yielding the next accepted connection. The
// listener is an infinite lazy sequence (spec.md §4.3): a non-nil Err
// does not end it, and the caller is expected to call Accept again.
func (l *Listener) Accept() Future[AcceptResult] {
	return &acceptFuture{l: l}
}

type acceptFuture struct {
	l *Listener
}

func (f *acceptFuture) Poll(w *Waker) (AcceptResult, bool) {
	l := f.l
	if l.closed {
		return AcceptResult{Err: ErrListenerClosed}, true
	}
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err == nil {
			ex := current()
			s, rerr := newStreamFromFD(nfd, ex.reactor, ex.logger)
			if rerr != nil {
				_ = unix.Close(nfd)
				return AcceptResult{Err: rerr}, true
			}
			return AcceptResult{Stream: s, Addr: sockaddrToNetAddr(sa)}, true
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			l.re.armReadable(l.fd, w)
			return AcceptResult{}, false
		}
		return AcceptResult{Err: err}, true
	}
}

// Close deregisters the listener from the reactor and closes its socket.
// Safe to call more than once.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	runtime.SetFinalizer(l, nil)
	l.re.deregister(l.fd)
	return unix.Close(l.fd)
}

// Stream is a non-blocking, reactor-backed TCP connection.
type Stream struct {
	fd     int
	re     *reactor
	logger *zap.Logger
	closed bool
}

func newStreamFromFD(fd int, re *reactor, logger *zap.Logger) (*Stream, error) {
	if err := re.register(fd); err != nil {
		return nil, err
	}
	logger.Debug("tcp: stream registered", zap.Int("fd", fd))
	s := &Stream{fd: fd, re: re, logger: logger}
	// See Listener's finalizer above; gaio sets one on every accepted
	// connection (watcher.go:417), not just on the top-level watcher.
	runtime.SetFinalizer(s, func(s *Stream) { _ = s.Close() })
	return s, nil
}

// ReadResult is what the Future returned by Stream.Read resolves to. N==0
// with a nil Err means the peer closed its write half (EOF), per
// spec.md §4.3/§7.
type ReadResult struct {
	N   int
	Err error
}

// Read issues one non-blocking read into buf.
func (s *Stream) Read(buf []byte) Future[ReadResult] {
	return &readFuture{s: s, buf: buf}
}

type readFuture struct {
	s   *Stream
	buf []byte
}

func (f *readFuture) Poll(w *Waker) (ReadResult, bool) {
	s := f.s
	if s.closed {
		return ReadResult{Err: ErrStreamClosed}, true
	}
	for {
		n, err := unix.Read(s.fd, f.buf)
		if err == nil {
			return ReadResult{N: n}, true
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			s.re.armReadable(s.fd, w)
			return ReadResult{}, false
		}
		return ReadResult{Err: err}, true
	}
}

// WriteResult is what the Future returned by Stream.Write resolves to. N
// may be less than len(buf) (a short write); the caller decides whether
// to call Write again for the remainder.
type WriteResult struct {
	N   int
	Err error
}

// Write issues one non-blocking write of buf.
func (s *Stream) Write(buf []byte) Future[WriteResult] {
	return &writeFuture{s: s, buf: buf}
}

type writeFuture struct {
	s   *Stream
	buf []byte
}

func (f *writeFuture) Poll(w *Waker) (WriteResult, bool) {
	s := f.s
	if s.closed {
		return WriteResult{Err: ErrStreamClosed}, true
	}
	for {
		n, err := unix.Write(s.fd, f.buf)
		if err == nil {
			return WriteResult{N: n}, true
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			s.re.armWritable(s.fd, w)
			return WriteResult{}, false
		}
		return WriteResult{Err: err}, true
	}
}

// Flush is a trivial, immediately-ready success: this facade keeps no
// user-space write buffer (spec.md §4.3/§9 Open Questions).
func (s *Stream) Flush() Future[error] {
	return flushFuture{}
}

type flushFuture struct{}

func (flushFuture) Poll(_ *Waker) (error, bool) { return nil, true }

// Shutdown shuts down the write half of the connection. Per spec.md §9
// Open Questions, whether a full-duplex shutdown is ever wanted is left
// unstated by the source; this keeps the source's write-half-only
// behavior rather than guessing at a broader one.
func (s *Stream) Shutdown() Future[error] {
	return &shutdownFuture{s: s}
}

type shutdownFuture struct {
	s *Stream
}

func (f *shutdownFuture) Poll(_ *Waker) (error, bool) {
	if f.s.closed {
		return ErrStreamClosed, true
	}
	return unix.Shutdown(f.s.fd, unix.SHUT_WR), true
}

// Close deregisters the stream from the reactor before closing its fd,
// so a later fd reuse can never inherit a stale waker (spec.md §3).
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)
	s.re.deregister(s.fd)
	return unix.Close(s.fd)
}

func sockaddrFromTCPAddr(a *net.TCPAddr) (unix.Sockaddr, error) {
	if a.IP == nil || a.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if a.IP != nil {
			copy(sa.Addr[:], a.IP.To4())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return sa, nil
}

func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	default:
		return nil
	}
}
