// Package core implements the reactor server: bind+listen, the
// readiness event loop, and the worker-task bodies that parse, build,
// and write one connection's HTTP exchange.
package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/searchktools/reactorweb/config"
	"github.com/searchktools/reactorweb/core/httpcore"
	"github.com/searchktools/reactorweb/core/logger"
	"github.com/searchktools/reactorweb/core/poller"
	"github.com/searchktools/reactorweb/core/timer"
	"github.com/searchktools/reactorweb/core/workerpool"
)

// MaxFD caps the number of simultaneously open connections, mirroring
// WebServer::MAX_FD in the original source.
const MaxFD = 65536

// Server is the single-reactor HTTP/1.1 static file server.
type Server struct {
	cfg *config.Config
	log *logger.Logger

	listenFd int
	poller   poller.Poller
	heap     *timer.Heap
	pool     *workerpool.Pool

	mu    sync.Mutex
	conns map[int]*httpcore.Connection

	listenEvent poller.Event
	connEvent   poller.Event

	maxFD int // capacity cap, defaults to MaxFD; overridable in tests
	ready chan struct{}

	cancel  context.CancelFunc // set by run, before ready is closed
	stopped chan struct{}      // closed once run has fully torn down
}

// New builds a Server bound to cfg's port; the socket isn't opened
// until Run is called.
func New(cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		listenFd: -1,
		heap:     timer.New(),
		pool:     workerpool.New(cfg.ThreadNum, cfg.ThreadNum*64),
		conns:    make(map[int]*httpcore.Connection),
		maxFD:    MaxFD,
		ready:    make(chan struct{}),
	}

	s.connEvent = poller.Readable | poller.OneShot | poller.ReadHangUp
	if cfg.ConnEdgeTriggered() {
		s.connEvent |= poller.EdgeTriggered
	}
	s.listenEvent = poller.Readable
	if cfg.ListenEdgeTriggered() {
		s.listenEvent |= poller.EdgeTriggered
	}
	return s
}

// Run binds the listening socket itself and runs the reactor loop
// until ctx is cancelled or an unrecoverable error occurs.
func (s *Server) Run(ctx context.Context) error {
	if err := s.initSocket(); err != nil {
		return fmt.Errorf("reactorweb: init socket: %w", err)
	}
	defer unix.Close(s.listenFd)
	return s.run(ctx)
}

// RunListenerFD runs the reactor loop against an already-bound,
// already-listening, non-blocking socket fd, the hook cmd/webserver
// uses to hand the server a tableflip-managed listener instead of
// binding its own, so restarts can reuse the same socket.
func (s *Server) RunListenerFD(ctx context.Context, fd int) error {
	s.listenFd = fd
	return s.run(ctx)
}

// run drives the reactor loop and the worker pool's shutdown under one
// errgroup.Group, given s.listenFd is already set up. Idle-connection
// reaping happens inline in the reactor loop via the timer heap, not on
// its own goroutine.
func (s *Server) run(ctx context.Context) error {
	p, err := poller.NewPoller()
	if err != nil {
		return fmt.Errorf("reactorweb: new poller: %w", err)
	}
	s.poller = p
	defer p.Close()

	if err := s.poller.Add(s.listenFd, s.listenEvent); err != nil {
		return fmt.Errorf("reactorweb: watch listener: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.stopped = make(chan struct{})
	defer close(s.stopped)

	s.log.Infof("listening on port %d (threads=%d, timeout=%dms)", s.cfg.Port, s.cfg.ThreadNum, s.cfg.TimeoutMS)
	close(s.ready)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.reactorLoop(gctx) })
	g.Go(func() error {
		// Once the reactor loop stops taking new work, stop the
		// worker pool and wait for in-flight tasks to drain before
		// the connections they're working on get torn down below.
		<-gctx.Done()
		s.pool.Close()
		s.pool.Wait()
		return nil
	})

	err = g.Wait()
	s.closeAllConnections()
	return err
}

// Ready is closed once the listening socket is bound and registered
// with the poller, for callers (tests, health checks) that need to
// know the server has started accepting before they dial it.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Shutdown requests the reactor to stop and waits for it to fully drain
// (worker pool finished, connections closed), bounded by ctx. If the
// server has not become ready, it first waits for that, and returns
// ctx's error if ctx ends before then.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.cancel()

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound port, resolving port 0 to whatever the
// kernel assigned. Only meaningful after Ready is closed.
func (s *Server) Addr() (int, error) {
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return 0, err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("reactorweb: unexpected sockaddr type %T", sa)
	}
	return in4.Port, nil
}

func (s *Server) initSocket() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	if s.cfg.OptLinger {
		linger := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
			unix.Close(fd)
			return err
		}
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	s.listenFd = fd
	return nil
}

// reactorLoop owns the poll/accept cycle; worker-pool tasks (onRead,
// onWrite, rearm, closeConn) run concurrently with it and reach back
// into the poller, heap, and connection table, which is why those
// share data structures guard themselves internally.
func (s *Server) reactorLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timeoutMs, ok := s.heap.NextTickMS()
		if !ok {
			timeoutMs = 1000
		} else if timeoutMs == 0 {
			timeoutMs = 1
		}

		ready, err := s.poller.Wait(timeoutMs)
		if err != nil {
			return fmt.Errorf("reactorweb: poll wait: %w", err)
		}

		for _, r := range ready {
			if r.Fd == s.listenFd {
				s.dealListen()
				continue
			}
			s.dealEvent(r.Fd, r.Events)
		}
	}
}

// dealListen drains every pending connection on the listener, matching
// the original's DealListen_ accept-until-EAGAIN loop.
func (s *Server) dealListen() {
	for {
		nfd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				s.log.Warnf("accept: %v", err)
			}
			return
		}

		if s.activeCount() >= s.maxFD {
			s.sendError(nfd, "Server busy!")
			unix.Close(nfd)
			continue
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		ip, port := addrOf(sa)
		s.addClient(nfd, ip, port)
	}
}

func (s *Server) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) addClient(fd int, ip string, port int) {
	conn := httpcore.NewConnection()
	conn.SetRoot(s.cfg.Root)
	conn.Init(fd, ip, port)

	s.mu.Lock()
	s.conns[fd] = conn
	s.mu.Unlock()

	s.heap.Add(fd, s.cfg.TimeoutMS, func() { s.closeConn(fd) })

	if err := s.poller.Add(fd, s.connEvent); err != nil {
		s.closeConn(fd)
		return
	}
	s.log.Infof("client[%d](%s:%d) in, count=%d", fd, ip, port, s.activeCount())
}

// dealEvent dispatches a ready connection fd to the exact table the
// original's event loop uses: error/hangup closes outright, otherwise
// the deadline is extended and the read or write task is handed to the
// worker pool.
func (s *Server) dealEvent(fd int, events poller.Event) {
	s.mu.Lock()
	conn, ok := s.conns[fd]
	s.mu.Unlock()
	if !ok {
		return
	}

	if events&(poller.ErrorEvent|poller.HangUp|poller.ReadHangUp) != 0 {
		s.closeConn(fd)
		return
	}

	s.heap.Adjust(fd, s.cfg.TimeoutMS)

	if events&poller.Readable != 0 {
		s.pool.Submit(func() { s.onRead(conn) })
	} else if events&poller.Writable != 0 {
		s.pool.Submit(func() { s.onWrite(conn) })
	}
}

// onRead drains the socket, looping when the connection is
// edge-triggered since a re-arm won't fire again until every queued
// byte has been read once.
func (s *Server) onRead(conn *httpcore.Connection) {
	if conn.Closed() {
		return
	}
	first := true
	for {
		n, err := conn.Read()
		if err != nil {
			if !isAgainOrIntr(err) {
				s.closeConn(conn.Fd())
				return
			}
			break
		}
		if n == 0 {
			if first {
				// Peer closed its write side with nothing queued.
				s.closeConn(conn.Fd())
				return
			}
			break
		}
		first = false
		if !s.cfg.ConnEdgeTriggered() {
			break
		}
	}
	s.onProcess(conn)
}

// onProcess builds the response for whatever has been read so far and
// re-arms the fd: for more input if nothing has been read yet, for
// writing otherwise. The actual write happens on the next dispatch of
// that writable event, not inline here.
func (s *Server) onProcess(conn *httpcore.Connection) {
	if conn.Closed() {
		return
	}
	if !conn.Process() {
		s.rearm(conn, poller.Readable)
		return
	}
	s.rearm(conn, poller.Writable)
}

func (s *Server) onWrite(conn *httpcore.Connection) {
	if conn.Closed() {
		return
	}
	edge := s.cfg.ConnEdgeTriggered()
	if _, err := conn.Write(edge); err != nil && !isAgainOrIntr(err) {
		s.closeConn(conn.Fd())
		return
	}

	if conn.ToWriteBytes() > 0 {
		s.rearm(conn, poller.Writable)
		return
	}

	if conn.IsKeepAlive() {
		// Re-run process in case a pipelined request is already
		// buffered; otherwise this just re-arms for read.
		s.onProcess(conn)
		return
	}
	s.closeConn(conn.Fd())
}

func (s *Server) rearm(conn *httpcore.Connection, extra poller.Event) {
	events := extra | poller.OneShot | poller.ReadHangUp
	if s.cfg.ConnEdgeTriggered() {
		events |= poller.EdgeTriggered
	}
	if err := s.poller.Modify(conn.Fd(), events); err != nil {
		s.closeConn(conn.Fd())
	}
}

func (s *Server) closeConn(fd int) {
	s.mu.Lock()
	conn, ok := s.conns[fd]
	if ok {
		delete(s.conns, fd)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.heap.Remove(fd)
	s.poller.Remove(fd)
	s.log.Infof("client[%d](%s:%d) quit, count=%d", fd, conn.IP(), conn.Port(), s.activeCount())
	conn.Close()
}

func (s *Server) closeAllConnections() {
	s.mu.Lock()
	fds := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		fds = append(fds, fd)
	}
	s.mu.Unlock()
	for _, fd := range fds {
		s.closeConn(fd)
	}
}

// sendError best-effort writes a plain-text response on a socket that
// will be closed immediately after, matching the original's
// SendError_ used only for the over-capacity path.
func (s *Server) sendError(fd int, msg string) {
	body := fmt.Sprintf("HTTP/1.1 400 Bad Request\r\n\r\n%s\r\n", msg)
	unix.Write(fd, []byte(body))
}

func isAgainOrIntr(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

func addrOf(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), a.Port
	default:
		return "", 0
	}
}
