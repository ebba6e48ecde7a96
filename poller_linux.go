//go:build linux

package asyncio

import "golang.org/x/sys/unix"

// maxEvents bounds a single epoll_wait batch. Matches the teacher
// package's own maxEvents constant (aio_generic.go) sized for the same
// reason: enough to amortize context-switch cost on a busy listener
// without unbounded allocation.
const maxEvents = 1024

// epollPoller is the Linux backend for reactor's pollerBackend interface,
// grounded on the epoll wiring in
// other_examples/b22671cf_trpc-group-tnet__internal-poller-poller_epoll.go.go:
// EpollCreate1 with EPOLL_CLOEXEC, EPOLLONESHOT per-direction interest,
// EPOLLHUP/EPOLLERR folded into both readable and writable so a dead
// socket always wakes whichever side is waiting on it.
type epollPoller struct {
	epfd int
	raw  [maxEvents]unix.EpollEvent
	out  []readyEvent
}

func newPoller() (pollerBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd, out: make([]readyEvent, 0, maxEvents)}, nil
}

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func (p *epollPoller) add(fd int) error {
	ev := unix.EpollEvent{Events: 0, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, readable, writable bool) error {
	var events uint32
	if readable {
		events |= unix.EPOLLIN
	}
	if writable {
		events |= unix.EPOLLOUT
	}
	if events != 0 {
		events |= unix.EPOLLONESHOT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	// Linux ignores the event argument for EPOLL_CTL_DEL, but older
	// kernels (pre-2.6.9) require a non-nil pointer; pass a zeroed one for
	// portability, matching common epoll wrapper practice.
	ev := unix.EpollEvent{}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev)
}

func (p *epollPoller) wait() ([]readyEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.raw[:], -1)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	p.out = p.out[:0]
	for i := 0; i < n; i++ {
		ev := p.raw[i]
		hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0
		p.out = append(p.out, readyEvent{
			fd:       int(ev.Fd),
			readable: hup || ev.Events&unix.EPOLLIN != 0,
			writable: hup || ev.Events&unix.EPOLLOUT != 0,
		})
	}
	return p.out, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
