package httpcore

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactorweb/core/buffer"
)

// ActiveCount is the number of currently open connections, tracked with
// a single process-wide atomic counter the way the original tracks
// userCount on the connection type itself.
var activeCount int64

func ActiveCount() int64 { return atomic.LoadInt64(&activeCount) }

// Connection is one accepted client socket: its read/write buffers, the
// request parser and response builder reused across keep-alive
// requests on it, and the two-entry iovec describing what's still
// queued to be written.
type Connection struct {
	fd     int
	ip     string
	port   int
	closed bool

	root     string
	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	parser   *Parser
	response *Response

	iovHead [][]byte // [0]=writeBuf readable region, [1]=mmap'd file body
	iovLen  int      // 0, 1 or 2, how many of iovHead are in use
}

// NewConnection allocates a Connection with its own parser and response
// builder; its read/write buffers are drawn from the shared pool on
// Init and returned to it on Close. The server allocates one Connection
// per accepted fd.
func NewConnection() *Connection {
	return &Connection{
		parser:   NewParser(),
		response: NewResponse(),
		closed:   true,
	}
}

// Init binds c to a freshly accepted fd, acquiring a fresh read/write
// buffer pair from the shared pool.
func (c *Connection) Init(fd int, ip string, port int) {
	atomic.AddInt64(&activeCount, 1)
	c.fd = fd
	c.ip = ip
	c.port = port
	c.readBuf = buffer.Acquire()
	c.writeBuf = buffer.Acquire()
	c.closed = false
}

// Fd returns the underlying file descriptor.
func (c *Connection) Fd() int { return c.fd }

// IP returns the peer address recorded at Init.
func (c *Connection) IP() string { return c.ip }

// Port returns the peer port recorded at Init.
func (c *Connection) Port() int { return c.port }

// Closed reports whether Close has already run for the current Init.
func (c *Connection) Closed() bool { return c.closed }

// Close releases the response's mapped file, the socket, and the
// read/write buffer pair (back to the shared pool), exactly once per
// Init. Safe to call multiple times.
func (c *Connection) Close() {
	c.response.Close()
	if c.closed {
		return
	}
	c.closed = true
	atomic.AddInt64(&activeCount, -1)
	unix.Close(c.fd)
	buffer.Release(c.readBuf)
	buffer.Release(c.writeBuf)
	c.readBuf = nil
	c.writeBuf = nil
}

// ToWriteBytes returns the number of bytes still queued across both
// iovec entries.
func (c *Connection) ToWriteBytes() int {
	total := 0
	for i := 0; i < c.iovLen; i++ {
		total += len(c.iovHead[i])
	}
	return total
}

// Read performs a scatter read into the read buffer. edgeTriggered
// callers should loop until Read reports an error (EAGAIN on a
// non-blocking fd), since a one-shot edge-triggered fd only re-arms
// after every queued byte has been drained.
func (c *Connection) Read() (int, error) {
	return c.readBuf.ReadFromFD(c.fd)
}

// Write performs a vectored write of whatever remains queued, retiring
// fully-written iovec entries and advancing the write buffer to match.
// It loops internally the way the original's write() does, stopping
// once the queue drains or a partial write leaves at most 10KiB
// outstanding for a non-edge-triggered caller.
func (c *Connection) Write(edgeTriggered bool) (int, error) {
	var total int
	for {
		if c.iovLen == 0 {
			return total, nil
		}
		n, err := unix.Writev(c.fd, c.iovHead[:c.iovLen])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n <= 0 {
			return total, nil
		}
		c.retireWritten(n)
		if c.iovLen == 0 {
			return total, nil
		}
		if !edgeTriggered && c.ToWriteBytes() <= 10*1024 {
			return total, nil
		}
	}
}

// retireWritten advances the iovec pair by n bytes actually written,
// draining iovHead[0] (the header/status-line buffer) before
// iovHead[1] (the memory-mapped file body).
func (c *Connection) retireWritten(n int) {
	if n >= c.ToWriteBytes() {
		c.writeBuf.RetrieveAll()
		c.iovHead[0] = nil
		if c.iovLen == 2 {
			c.iovHead[1] = nil
		}
		c.iovLen = 0
		return
	}

	if n < len(c.iovHead[0]) {
		c.writeBuf.Retrieve(n)
		c.iovHead[0] = c.iovHead[0][n:]
		return
	}

	remaining := n - len(c.iovHead[0])
	if len(c.iovHead[0]) > 0 {
		c.writeBuf.RetrieveAll()
		c.iovHead[0] = nil
	}
	c.iovHead[1] = c.iovHead[1][remaining:]
}

// Process parses whatever has been read so far, builds the response
// (200 unless the request line is malformed, then 400) and arms the
// iovec for Write. A request whose headers are still incomplete is
// answered from what has been parsed so far. It returns false only when
// the read buffer is empty (the caller should keep reading).
func (c *Connection) Process() bool {
	c.parser.Init()
	if c.readBuf.ReadableLen() <= 0 {
		return false
	}

	if c.parser.Parse(c.readBuf) {
		c.response.Init(c.root, c.parser.Path, c.parser.IsKeepAlive(), 200)
	} else {
		c.response.Init(c.root, c.parser.Path, false, 400)
	}

	c.response.MakeResponse(c.writeBuf)

	c.iovHead = [][]byte{c.writeBuf.Peek(), nil}
	c.iovLen = 1
	if c.response.FileLen() > 0 && c.response.File() != nil {
		c.iovHead[1] = c.response.File()
		c.iovLen = 2
	}
	return true
}

// SetRoot records the document root used by Process.
func (c *Connection) SetRoot(root string) {
	c.root = root
}

// IsKeepAlive reports whether the most recently processed request
// asked to keep the connection open.
func (c *Connection) IsKeepAlive() bool {
	return c.response.isKeepAlive
}
