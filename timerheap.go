package gevio

import (
	"container/heap"
	"time"
)

// timerItem is one entry in a reactor's timer heap: a deadline paired with
// the callback to fire. idx tracks its position in the heap so it can be
// removed in O(log n) on cancellation — the same trick gaio's watcher.go
// uses for its timedHeap of *aiocb.
type timerItem struct {
	deadline time.Time
	seq      uint64 // tie-breaks equal deadlines in FIFO order
	cb       Callback
	arg      any
	fd       int
	flags    EventFlag // always EvTimeout; handleTimers passes EvTimeout to cb on fire
	idx      int       // heap index, maintained by timerHeap
	canceled bool
}

// timerHeap is a min-heap on deadline, implementing container/heap.Interface
// exactly as gaio's timedHeap does.
type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.idx = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.idx = -1
	*h = old[:n-1]
	return item
}

// removeItem removes item from h if it is still present (idx >= 0), using
// heap.Remove for O(log n) removal. It is a no-op if the item already fired
// or was already removed.
func (h *timerHeap) removeItem(item *timerItem) {
	if item.idx < 0 || item.idx >= h.Len() || (*h)[item.idx] != item {
		return
	}
	heap.Remove(h, item.idx)
}
