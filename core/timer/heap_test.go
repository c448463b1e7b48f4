package timer

import (
	"testing"
	"time"
)

func (h *Heap) checkInvariant(t *testing.T) {
	t.Helper()
	for i := range h.nodes {
		if pos, ok := h.index[h.nodes[i].id]; !ok || pos != i {
			t.Fatalf("index[%d] = %d, want %d", h.nodes[i].id, pos, i)
		}
		if i > 0 {
			parent := (i - 1) / 2
			if h.less(i, parent) {
				t.Fatalf("heap property violated at %d (parent %d)", i, parent)
			}
		}
	}
}

func TestAddMaintainsHeapProperty(t *testing.T) {
	h := New()
	timeouts := []int{50, 10, 40, 20, 30, 5, 60, 15}
	for i, ms := range timeouts {
		h.Add(i, ms, nil)
	}
	h.checkInvariant(t)
	if h.Len() != len(timeouts) {
		t.Fatalf("Len = %d, want %d", h.Len(), len(timeouts))
	}
}

func TestAddExistingIDRepositions(t *testing.T) {
	h := New()
	h.Add(1, 100, nil)
	h.Add(2, 10, nil)
	h.Add(3, 50, nil)
	h.checkInvariant(t)

	h.Add(1, 1, nil) // now the soonest
	h.checkInvariant(t)
	if h.nodes[0].id != 1 {
		t.Fatalf("expected id 1 at root after re-add with shorter timeout")
	}
}

func TestRemoveMaintainsHeapProperty(t *testing.T) {
	h := New()
	for i := 0; i < 20; i++ {
		h.Add(i, (20-i)*5, nil)
	}
	h.Remove(5)
	h.Remove(0)
	h.Remove(19)
	h.checkInvariant(t)
	if h.Len() != 17 {
		t.Fatalf("Len = %d, want 17", h.Len())
	}
}

func TestDoWorkFiresCallbackAndRemoves(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, 10, func() { fired = true })
	h.DoWork(1)
	if !fired {
		t.Fatalf("callback not invoked")
	}
	if h.Len() != 0 {
		t.Fatalf("node not removed after DoWork")
	}
}

func TestTickFiresOnlyExpired(t *testing.T) {
	h := New()
	var fired []int
	h.Add(1, 1, func() { fired = append(fired, 1) })
	h.Add(2, 10000, func() { fired = append(fired, 2) })

	time.Sleep(15 * time.Millisecond)
	h.Tick()

	if len(fired) != 1 || fired[0] != 1 {
		t.Fatalf("fired = %v, want only [1]", fired)
	}
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}
}

func TestNextTickMSEmpty(t *testing.T) {
	h := New()
	_, ok := h.NextTickMS()
	if ok {
		t.Fatalf("NextTickMS reported a deadline on an empty heap")
	}
}

func TestNextTickMSDueNow(t *testing.T) {
	h := New()
	h.Add(1, 0, func() {})
	time.Sleep(2 * time.Millisecond)
	ms, ok := h.NextTickMS()
	// The already-due node is consumed by Tick inside NextTickMS, which
	// leaves the heap empty, so no deadline is reported.
	if ok {
		t.Fatalf("expected no deadline once the due node fired, got %dms", ms)
	}
	if h.Len() != 0 {
		t.Fatalf("expected immediately-due node to fire and be removed")
	}
}

func TestAdjustExtendsDeadline(t *testing.T) {
	h := New()
	h.Add(1, 5, nil)
	h.Adjust(1, 10000)
	h.checkInvariant(t)
	if !h.nodes[h.index[1]].expires.After(time.Now().Add(time.Second)) {
		t.Fatalf("Adjust did not extend the deadline")
	}
}
