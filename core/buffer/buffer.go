// Package buffer implements the read/write byte region shared by every
// connection: a contiguous slice with a prependable head, a readable
// middle, and a writable tail.
package buffer

import (
	"sync"

	"golang.org/x/sys/unix"
)

// overflowSize is the scratch region readv() drains into when the
// writable tail of the buffer is smaller than what the kernel has queued
// for a single socket. 64KiB matches the original C++ ReadFd's stack
// buffer.
const overflowSize = 64 * 1024

const initialCapacity = 1024

// Buffer is a growable byte region with three indices:
// [0, read) prependable, [read, write) readable, [write, cap) writable.
type Buffer struct {
	buf   []byte
	read  int
	write int
}

// New returns a Buffer with the default initial capacity.
func New() *Buffer {
	return NewSize(initialCapacity)
}

// NewSize returns a Buffer pre-sized to initSize bytes.
func NewSize(initSize int) *Buffer {
	if initSize <= 0 {
		initSize = initialCapacity
	}
	return &Buffer{buf: make([]byte, initSize)}
}

// ReadableLen returns the number of unread bytes.
func (b *Buffer) ReadableLen() int { return b.write - b.read }

// WritableLen returns the number of bytes that can be written without
// growing the buffer.
func (b *Buffer) WritableLen() int { return len(b.buf) - b.write }

// PrependableLen returns the number of reclaimable bytes before read.
func (b *Buffer) PrependableLen() int { return b.read }

// Peek returns a borrowed view of the readable region. The slice is only
// valid until the next mutating call on the Buffer.
func (b *Buffer) Peek() []byte { return b.buf[b.read:b.write] }

// BeginWrite returns a borrowed view of the writable region.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.write:len(b.buf)] }

// Retrieve advances read by n. Precondition: n <= ReadableLen().
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableLen() {
		panic("buffer: retrieve past write position")
	}
	b.read += n
	if b.read == b.write {
		b.read = 0
		b.write = 0
	}
}

// RetrieveUntil advances read up to (and not past) the absolute offset
// end, measured from the start of the underlying slice.
func (b *Buffer) RetrieveUntil(end int) {
	if end < b.read || end > b.write {
		panic("buffer: retrieve-until out of range")
	}
	b.Retrieve(end - b.read)
}

// RetrieveAll resets both indices to zero and zeroes the capacity
// region, matching the original bzero-on-reset behaviour.
func (b *Buffer) RetrieveAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.read = 0
	b.write = 0
}

// RetrieveAllToString copies the readable region out as a string, then
// resets the buffer.
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// EnsureWritable grows or compacts the buffer so at least n bytes are
// writable without further growth.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableLen() < n {
		b.makeSpace(n)
	}
}

// Append copies data into the writable region, growing as needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.write:], data)
	b.write += len(data)
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// Write implements io.Writer, so a Buffer can be the destination of
// fmt.Fprintf when building response headers.
func (b *Buffer) Write(data []byte) (int, error) {
	b.Append(data)
	return len(data), nil
}

// makeSpace implements the compaction-or-grow rule: if prependable +
// writable is already enough, slide the readable region down to offset
// 0; otherwise grow the backing slice.
func (b *Buffer) makeSpace(n int) {
	if b.WritableLen()+b.PrependableLen() < n {
		grown := make([]byte, b.write+n+1)
		copy(grown, b.buf[:b.write])
		b.buf = grown
		return
	}
	readable := b.ReadableLen()
	copy(b.buf, b.buf[b.read:b.write])
	b.read = 0
	b.write = readable
}

// ReadFromFD performs a scatter read: one syscall across the writable
// tail and a stack-sized overflow buffer, so a single read drains the
// socket even when the writable tail alone is too small. Returns the
// number of bytes read and any error (io errors are returned verbatim so
// the caller can distinguish EAGAIN/EINTR from a hard failure).
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var overflow [overflowSize]byte
	writable := b.WritableLen()

	iovs := [][]byte{b.BeginWrite(), overflow[:]}
	n, err := unix.Readv(fd, iovs)
	if n <= 0 {
		return n, err
	}

	if n <= writable {
		b.write += n
	} else {
		b.write = len(b.buf)
		b.Append(overflow[:n-writable])
	}
	return n, err
}

// WriteToFD writes the readable region in a single syscall and retires
// what was sent.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	return n, err
}

// pool recycles Buffer instances across connections, applied to the
// read/write buffer pair every connection owns. A single growable tier
// rather than fixed size classes, since request and response sizes here
// vary too widely for a small set of fixed buckets to pay off.
var pool = sync.Pool{
	New: func() any { return New() },
}

// Acquire returns a reset Buffer from the shared pool.
func Acquire() *Buffer {
	b := pool.Get().(*Buffer)
	b.read, b.write = 0, 0
	return b
}

// Release returns b to the shared pool.
func Release(b *Buffer) {
	if b == nil {
		return
	}
	if cap(b.buf) > 256*1024 {
		// Don't pool buffers that grew unusually large; let the GC
		// reclaim them instead of holding the memory indefinitely.
		return
	}
	pool.Put(b)
}
