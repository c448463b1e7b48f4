//go:build linux
// +build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller (Linux).
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func toEpollEvents(interest Event) uint32 {
	var ev uint32
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	ev |= unix.EPOLLRDHUP
	if interest&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	if interest&OneShot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func fromEpollEvents(ev uint32) Event {
	var e Event
	if ev&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if ev&unix.EPOLLRDHUP != 0 {
		e |= ReadHangUp
	}
	if ev&unix.EPOLLHUP != 0 {
		e |= HangUp
	}
	if ev&unix.EPOLLERR != 0 {
		e |= ErrorEvent
	}
	return e
}

// Add starts watching fd for interest.
func (p *EpollPoller) Add(fd int, interest Event) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes fd's interest set, re-arming a one-shot registration.
func (p *EpollPoller) Modify(fd int, interest Event) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove stops watching fd.
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for ready events, growing the reusable event buffer if
// the kernel reports a full batch.
func (p *EpollPoller) Wait(timeoutMs int) ([]Readiness, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Readiness, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Readiness{
			Fd:     int(p.events[i].Fd),
			Events: fromEpollEvents(p.events[i].Events),
		})
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return out, nil
}

// Close closes the underlying epoll fd.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

// SetNonblock sets non-blocking mode on fd.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
