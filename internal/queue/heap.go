package queue

import (
	"container/heap"

	"github.com/ternarybob/metior/internal/models"
)

// jobHeap orders jobs by AutomationJob.Before: priority desc, then
// effective time asc, then created_at asc. Entries whose state is no
// longer queued are dropped lazily on pop.
type jobHeap struct {
	items []*models.AutomationJob
}

func newJobHeap() *jobHeap {
	h := &jobHeap{}
	heap.Init(h)
	return h
}

func (h *jobHeap) Len() int           { return len(h.items) }
func (h *jobHeap) Less(i, j int) bool { return h.items[i].Before(h.items[j]) }
func (h *jobHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *jobHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*models.AutomationJob))
}

func (h *jobHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

// push adds a job in heap order
func (h *jobHeap) push(job *models.AutomationJob) {
	heap.Push(h, job)
}

// popQueued removes and returns the best job still in the queued state,
// discarding stale entries (cancelled while queued, requeued elsewhere).
func (h *jobHeap) popQueued() *models.AutomationJob {
	for h.Len() > 0 {
		job := heap.Pop(h).(*models.AutomationJob)
		if job.State == models.JobStateQueued {
			return job
		}
	}
	return nil
}

// depth counts entries still in the queued state
func (h *jobHeap) depth() int {
	n := 0
	for _, job := range h.items {
		if job.State == models.JobStateQueued {
			n++
		}
	}
	return n
}
