package chunk

import (
	"errors"

	"github.com/duke-git/lancet/v2/slice"
)

// ErrNoWorkers is returned when a job is partitioned for zero workers.
var ErrNoWorkers = errors.New("no workers are connected")

// Chunk is a contiguous run of the input assigned to one worker.
type Chunk struct {
	Values []int32 // Elements in original order until a worker sorts them
	Index  int     // Position of the chunk in the job, also the worker slot
}

// Len returns the number of elements in the chunk.
func (c Chunk) Len() int { return len(c.Values) }

// Size returns the chunk length used to split n items across workerCount
// workers: ceil(n / workerCount).
func Size(n, workerCount int) int {
	if workerCount <= 0 || n <= 0 {
		return 0
	}
	return (n + workerCount - 1) / workerCount
}

// Partition splits items into at most workerCount contiguous chunks of
// Size(len(items), workerCount) elements; the last chunk may be shorter.
//
// Empty input yields zero chunks. The returned chunks own their backing
// arrays, so workers may sort them in place without touching items.
//
// Returns ErrNoWorkers when workerCount is not positive.
func Partition(items []int32, workerCount int) ([]Chunk, error) {
	if workerCount <= 0 {
		return nil, ErrNoWorkers
	}
	if len(items) == 0 {
		return []Chunk{}, nil
	}

	parts := slice.Chunk(items, Size(len(items), workerCount))
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{Index: i, Values: p}
	}
	return chunks, nil
}

// TotalLen sums the lengths of chunks.
func TotalLen(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Values)
	}
	return n
}
