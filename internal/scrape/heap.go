package scrape

import (
	"cmp"

	"github.com/shelfsync/shelfsync/internal/domain"
)

type entry struct {
	task domain.ScrapeTask
	seq  uint64 // insertion order; kept across retries
}

// taskHeap implements heap.Interface: priority descending, then creation
// time, then insertion order.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	if c := a.task.CreatedAt.Compare(b.task.CreatedAt); c != 0 {
		return c < 0
	}
	return cmp.Less(a.seq, b.seq)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
