package chunk

import (
	"cmp"
	"container/heap"
)

// head is the next unread element of one chunk.
type head[T cmp.Ordered] struct {
	value  T
	chunk  int
	offset int
}

type headHeap[T cmp.Ordered] []head[T]

func (h headHeap[T]) Len() int { return len(h) }

func (h headHeap[T]) Less(i, j int) bool {
	if h[i].value != h[j].value {
		return h[i].value < h[j].value
	}
	return h[i].chunk < h[j].chunk
}

func (h headHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *headHeap[T]) Push(x any) { *h = append(*h, x.(head[T])) }

func (h *headHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Merge combines non-decreasing chunks into one non-decreasing slice holding
// every element of every chunk, duplicates included. Equal values are taken
// from lower chunk indexes first.
func Merge[T cmp.Ordered](chunks [][]T) []T {
	total := 0
	h := make(headHeap[T], 0, len(chunks))
	for i, c := range chunks {
		total += len(c)
		if len(c) > 0 {
			h = append(h, head[T]{value: c[0], chunk: i})
		}
	}
	heap.Init(&h)

	out := make([]T, 0, total)
	for h.Len() > 0 {
		top := h[0]
		out = append(out, top.value)

		next := top.offset + 1
		if next < len(chunks[top.chunk]) {
			h[0] = head[T]{value: chunks[top.chunk][next], chunk: top.chunk, offset: next}
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return out
}

// MergeChunks merges the values of sorted chunks.
func MergeChunks(chunks []Chunk) []int32 {
	values := make([][]int32, len(chunks))
	for i, c := range chunks {
		values[i] = c.Values
	}
	return Merge(values)
}
