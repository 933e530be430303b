package queue

import (
	"container/heap"
	"time"
)

// heapItem is a single entry in the priority heap: highest priority first,
// FIFO among equal priorities.
type heapItem struct {
	id        string
	priority  int
	createdAt time.Time
	index     int
}

// priorityHeap implements container/heap.Interface over heapItems, ordered
// by (-priority, createdAt) so Pop always returns the most urgent, oldest
// pending query.
type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityHeap)(nil)
