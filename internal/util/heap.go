package util

import (
	"container/heap"
	"math"
)

// Candidate represents a search candidate with distance
type Candidate struct {
	ID       uint32
	Distance float32
}

// MinHeap implements a min-heap for candidates
type MinHeap struct {
	candidates []*Candidate
}

// NewMinHeap creates a new min-heap
func NewMinHeap(capacity int) *MinHeap {
	return &MinHeap{candidates: make([]*Candidate, 0, capacity)}
}

func (h *MinHeap) Len() int { return len(h.candidates) }

func (h *MinHeap) Less(i, j int) bool {
	return h.candidates[i].Distance < h.candidates[j].Distance
}

func (h *MinHeap) Swap(i, j int) {
	h.candidates[i], h.candidates[j] = h.candidates[j], h.candidates[i]
}

func (h *MinHeap) Push(x interface{}) {
	h.candidates = append(h.candidates, x.(*Candidate))
}

func (h *MinHeap) Pop() interface{} {
	old := h.candidates
	n := len(old)
	item := old[n-1]
	h.candidates = old[0 : n-1]
	return item
}

// PushCandidate adds a candidate to the heap
func (h *MinHeap) PushCandidate(c *Candidate) {
	heap.Push(h, c)
}

// PopCandidate removes and returns the minimum candidate
func (h *MinHeap) PopCandidate() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Candidate)
}

// MaxHeap implements a max-heap for candidates
type MaxHeap struct {
	candidates []*Candidate
}

// NewMaxHeap creates a new max-heap
func NewMaxHeap(capacity int) *MaxHeap {
	return &MaxHeap{candidates: make([]*Candidate, 0, capacity)}
}

func (h *MaxHeap) Len() int { return len(h.candidates) }

func (h *MaxHeap) Less(i, j int) bool {
	return h.candidates[i].Distance > h.candidates[j].Distance // Reverse for max-heap
}

func (h *MaxHeap) Swap(i, j int) {
	h.candidates[i], h.candidates[j] = h.candidates[j], h.candidates[i]
}

func (h *MaxHeap) Push(x interface{}) {
	h.candidates = append(h.candidates, x.(*Candidate))
}

func (h *MaxHeap) Pop() interface{} {
	old := h.candidates
	n := len(old)
	item := old[n-1]
	h.candidates = old[0 : n-1]
	return item
}

// PushCandidate adds a candidate to the heap
func (h *MaxHeap) PushCandidate(c *Candidate) {
	heap.Push(h, c)
}

// PopCandidate removes and returns the maximum candidate
func (h *MaxHeap) PopCandidate() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Candidate)
}

// Top returns the maximum candidate without removing it
func (h *MaxHeap) Top() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return h.candidates[0]
}

// ResultHeap is a fixed-size max-heap over (distance, label) pairs. It is
// initialized full of +Inf/-1 sentinels so the worst current answer sits
// at the root; a posting-list scan replaces the root whenever it finds a
// closer element. Labels are int64 so the -1 sentinel survives into
// results that scanned fewer than k codes.
type ResultHeap struct {
	dists  []float32
	labels []int64
}

// NewResultHeap creates a result heap holding exactly k entries.
func NewResultHeap(k int) *ResultHeap {
	h := &ResultHeap{
		dists:  make([]float32, k),
		labels: make([]int64, k),
	}
	for i := 0; i < k; i++ {
		h.dists[i] = float32(math.Inf(1))
		h.labels[i] = -1
	}
	return h
}

// WorstDistance returns the distance at the root, the largest of the k
// current answers.
func (h *ResultHeap) WorstDistance() float32 { return h.dists[0] }

// ReplaceTop pops the worst answer and pushes (dist, label) in its place.
func (h *ResultHeap) ReplaceTop(dist float32, label int64) {
	h.dists[0] = dist
	h.labels[0] = label
	h.siftDown(0)
}

func (h *ResultHeap) siftDown(i int) {
	n := len(h.dists)
	for {
		left := 2*i + 1
		right := left + 1
		largest := i
		if left < n && h.dists[left] > h.dists[largest] {
			largest = left
		}
		if right < n && h.dists[right] > h.dists[largest] {
			largest = right
		}
		if largest == i {
			return
		}
		h.dists[i], h.dists[largest] = h.dists[largest], h.dists[i]
		h.labels[i], h.labels[largest] = h.labels[largest], h.labels[i]
		i = largest
	}
}

// Sorted drains the heap into ascending-distance order.
func (h *ResultHeap) Sorted() ([]float32, []int64) {
	n := len(h.dists)
	dists := make([]float32, n)
	labels := make([]int64, n)
	for i := n - 1; i >= 0; i-- {
		dists[i] = h.dists[0]
		labels[i] = h.labels[0]
		last := len(h.dists) - 1
		h.dists[0], h.labels[0] = h.dists[last], h.labels[last]
		h.dists = h.dists[:last]
		h.labels = h.labels[:last]
		if len(h.dists) > 0 {
			h.siftDown(0)
		}
	}
	h.dists = dists
	h.labels = labels
	return dists, labels
}
