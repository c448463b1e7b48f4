// Package timer implements the indexed min-heap keyed by connection
// deadline that drives the reactor's poll timeout and idle-connection
// eviction. Grounded on the original source's timer/heaptimer.cpp.
package timer

import (
	"sync"
	"time"
)

// Callback fires when a node expires or is explicitly worked.
type Callback func()

type node struct {
	id       int
	expires  time.Time
	callback Callback
}

// Heap is an indexed binary min-heap over node.expires, with an
// auxiliary id->position index kept invariant across every swap so
// Add/Adjust/Remove by id run in O(log N).
type Heap struct {
	mu    sync.Mutex
	nodes []node
	index map[int]int // id -> position in nodes
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{index: make(map[int]int)}
}

// Len returns the number of scheduled nodes.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nodes)
}

func (h *Heap) less(i, j int) bool { return h.nodes[i].expires.Before(h.nodes[j].expires) }

func (h *Heap) swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.index[h.nodes[i].id] = i
	h.index[h.nodes[j].id] = j
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

// siftDown returns true if i moved (i.e. it was not already a leaf or
// already satisfying the heap property).
func (h *Heap) siftDown(i, n int) bool {
	start := i
	for {
		left := i*2 + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && h.less(right, left) {
			smallest = right
		}
		if !h.less(smallest, i) {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
	return i > start
}

// Add schedules id to fire timeoutMS from now with cb. If id is already
// scheduled, its deadline and callback are replaced and the node is
// repositioned.
func (h *Heap) Add(id int, timeoutMS int, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	expires := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)

	if pos, ok := h.index[id]; ok {
		h.nodes[pos].expires = expires
		h.nodes[pos].callback = cb
		if !h.siftDown(pos, len(h.nodes)) {
			h.siftUp(pos)
		}
		return
	}

	pos := len(h.nodes)
	h.nodes = append(h.nodes, node{id: id, expires: expires, callback: cb})
	h.index[id] = pos
	h.siftUp(pos)
}

// Adjust extends id's deadline to timeoutMS from now, without changing
// its callback. Intended for the extend-only re-arm on keep-alive
// activity; id must already be scheduled.
func (h *Heap) Adjust(id int, timeoutMS int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pos, ok := h.index[id]
	if !ok {
		return
	}
	h.nodes[pos].expires = time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	h.siftDown(pos, len(h.nodes))
}

// Remove deletes id from the heap without invoking its callback.
func (h *Heap) Remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pos, ok := h.index[id]
	if !ok {
		return
	}
	h.del(pos)
}

func (h *Heap) del(pos int) {
	n := len(h.nodes) - 1
	if pos != n {
		h.swap(pos, n)
		if !h.siftDown(pos, n) {
			h.siftUp(pos)
		}
	}
	last := h.nodes[n]
	delete(h.index, last.id)
	h.nodes = h.nodes[:n]
}

// DoWork invokes id's callback (if scheduled) and removes it. The
// callback runs after the heap's lock is released, since callbacks
// routinely call back into the heap (e.g. Remove) to tear down the
// connection they were scheduled for.
func (h *Heap) DoWork(id int) {
	h.mu.Lock()
	pos, ok := h.index[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	cb := h.nodes[pos].callback
	h.del(pos)
	h.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Tick fires and removes every node whose deadline has already passed.
func (h *Heap) Tick() {
	for _, cb := range h.popExpired() {
		cb()
	}
}

// popExpired removes every expired node and returns its callbacks,
// deferring invocation until the lock is released.
func (h *Heap) popExpired() []Callback {
	h.mu.Lock()
	defer h.mu.Unlock()

	var due []Callback
	now := time.Now()
	for len(h.nodes) > 0 {
		root := h.nodes[0]
		if root.expires.After(now) {
			break
		}
		if root.callback != nil {
			due = append(due, root.callback)
		}
		h.del(0)
	}
	return due
}

// NextTickMS runs Tick, then returns the milliseconds until the new root
// expires, 0 if already due, and -1 (via the ok=false return) if the
// heap is empty.
func (h *Heap) NextTickMS() (ms int, ok bool) {
	h.Tick()

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.nodes) == 0 {
		return 0, false
	}
	d := time.Until(h.nodes[0].expires)
	if d < 0 {
		return 0, true
	}
	return int(d / time.Millisecond), true
}
