package delivery

import (
	"container/heap"
	"sync"

	"hookrelay/pkg/models"
)

// PriorityQueue orders pending deliveries by descending priority, FIFO
// within the same priority. Safe for concurrent use.
type PriorityQueue struct {
	mu   sync.Mutex
	heap deliveryHeap
	seq  uint64
}

func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

func (q *PriorityQueue) Push(d models.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.heap, queuedDelivery{delivery: d, seq: q.seq})
}

// Pop removes and returns the highest-priority delivery. The second return
// is false when the queue is empty.
func (q *PriorityQueue) Pop() (models.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return models.Delivery{}, false
	}
	item := heap.Pop(&q.heap).(queuedDelivery)
	return item.delivery, true
}

func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

type queuedDelivery struct {
	delivery models.Delivery
	seq      uint64
}

type deliveryHeap []queuedDelivery

func (h deliveryHeap) Len() int { return len(h) }

func (h deliveryHeap) Less(i, j int) bool {
	if h[i].delivery.Priority != h[j].delivery.Priority {
		return h[i].delivery.Priority > h[j].delivery.Priority
	}
	// Same priority: earlier arrival wins.
	return h[i].seq < h[j].seq
}

func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deliveryHeap) Push(x interface{}) {
	*h = append(*h, x.(queuedDelivery))
}

func (h *deliveryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
