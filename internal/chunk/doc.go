// Package chunk splits an input sequence into per-worker chunks and merges the
// sorted chunks that come back.
//
// Partition produces at most one chunk per worker. Chunks are contiguous, keep
// the original element order, and all have the same length except possibly the
// last, which may be shorter:
//
//	items:   [5 3 8 1 9 2 7 4 6]   workers: 3   size: ceil(9/3) = 3
//	chunks:  [5 3 8] [1 9 2] [7 4 6]
//
// Merge is a k-way merge over chunks that are already non-decreasing. A heap
// holds the current head of each chunk, so merging N values from W chunks
// costs O(N log W). Merge trusts its input and does not re-check ordering.
package chunk
