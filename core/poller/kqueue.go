//go:build darwin
// +build darwin

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer. Unlike epoll, kqueue
// has no single "interest set" per fd, read and write readiness are
// separate filters, so Modify has to diff against what was previously
// registered and delete the filter that's no longer wanted.
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t

	mu    sync.Mutex
	armed map[int]Event // last-registered interest, for Modify's diff
}

// NewPoller creates a new Poller (Darwin).
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
		armed:  make(map[int]Event),
	}, nil
}

func (p *KqueuePoller) apply(fd int, interest Event) error {
	prev := p.armed[fd]

	var clear uint16
	if interest&EdgeTriggered != 0 {
		clear = unix.EV_CLEAR
	}
	var oneshot uint16
	if interest&OneShot != 0 {
		oneshot = unix.EV_ONESHOT
	}

	changes := make([]unix.Kevent_t, 0, 2)
	if interest&Readable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ,
			Flags: unix.EV_ADD | unix.EV_ENABLE | clear | oneshot,
		})
	} else if prev&Readable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE,
		})
	}
	if interest&Writable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE,
			Flags: unix.EV_ADD | unix.EV_ENABLE | clear | oneshot,
		})
	} else if prev&Writable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE,
		})
	}

	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
			return err
		}
	}
	p.armed[fd] = interest
	return nil
}

// Add starts watching fd for interest.
func (p *KqueuePoller) Add(fd int, interest Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(fd, interest)
}

// Modify changes fd's interest set, re-arming a one-shot registration.
func (p *KqueuePoller) Modify(fd int, interest Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(fd, interest)
}

// Remove stops watching fd.
func (p *KqueuePoller) Remove(fd int) error {
	p.mu.Lock()
	prev := p.armed[fd]
	delete(p.armed, fd)
	p.mu.Unlock()

	changes := make([]unix.Kevent_t, 0, 2)
	if prev&Readable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if prev&Writable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// Wait blocks for ready events.
func (p *KqueuePoller) Wait(timeoutMs int) ([]Readiness, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	merged := make(map[int]Event, n)
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Ident)
		var e Event
		switch p.events[i].Filter {
		case unix.EVFILT_READ:
			e = Readable
		case unix.EVFILT_WRITE:
			e = Writable
		}
		if p.events[i].Flags&unix.EV_EOF != 0 {
			e |= HangUp
		}
		if p.events[i].Flags&unix.EV_ERROR != 0 {
			e |= ErrorEvent
		}
		merged[fd] |= e
	}

	out := make([]Readiness, 0, len(merged))
	for fd, e := range merged {
		out = append(out, Readiness{Fd: fd, Events: e})
	}
	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, len(p.events)*2)
	}
	return out, nil
}

// Close closes the underlying kqueue fd.
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}

// SetNonblock sets non-blocking mode on fd.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
