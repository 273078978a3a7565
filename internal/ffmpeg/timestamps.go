package ffmpeg

import (
	"container/heap"
	"sync"
	"time"
)

type stamp struct {
	ts  time.Duration
	dur time.Duration
}

type stampHeap []stamp

func (h stampHeap) Len() int           { return len(h) }
func (h stampHeap) Less(i, j int) bool { return h[i].ts < h[j].ts }
func (h stampHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stampHeap) Push(x any)        { *h = append(*h, x.(stamp)) }
func (h *stampHeap) Pop() any {
	old := *h
	s := old[len(old)-1]
	*h = old[:len(old)-1]
	return s
}

// stampQueue hands submitted timestamps back to outputs. Decoders emit in
// presentation order, so outputs take the smallest pending timestamp; an
// ordered queue instead returns them first in, first out.
type stampQueue struct {
	mu      sync.Mutex
	ordered bool
	heap    stampHeap
	fifo    []stamp
	last    stamp
}

func (q *stampQueue) push(ts, dur time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ordered {
		q.fifo = append(q.fifo, stamp{ts, dur})
		return
	}
	heap.Push(&q.heap, stamp{ts, dur})
}

// pop returns the next timestamp. When outputs outnumber inputs the last
// timestamp is extrapolated by its duration.
func (q *stampQueue) pop() (time.Duration, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.ordered && len(q.fifo) > 0:
		q.last = q.fifo[0]
		q.fifo = q.fifo[1:]
	case !q.ordered && q.heap.Len() > 0:
		q.last = heap.Pop(&q.heap).(stamp)
	default:
		q.last.ts += q.last.dur
	}
	return q.last.ts, q.last.dur
}

func (q *stampQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ordered {
		return len(q.fifo)
	}
	return q.heap.Len()
}
