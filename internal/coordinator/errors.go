package coordinator

import (
	"fmt"
	"strings"

	"github.com/dreamware/sortmesh/internal/chunk"
)

// ErrNoWorkers is returned by SortDistributed when the registry is empty. No
// network I/O happens in that case.
var ErrNoWorkers = chunk.ErrNoWorkers

// TransportError is an I/O failure while sending a chunk to, or reading a
// sorted chunk from, one worker.
type TransportError struct {
	Err    error
	Worker string
	Op     string // "send" or "receive"
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.Worker, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SerializationError is a response that arrived but could not be used: a
// malformed frame or one that does not answer the request that was sent.
type SerializationError struct {
	Err    error
	Worker string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("worker %s: bad response: %v", e.Worker, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// JobError reports every failed task of one job. Successful outcomes are not
// included; the caller's partial policy decides what happens to them.
type JobError struct {
	JobID    string
	Failures []Outcome
}

func (e *JobError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Err.Error())
	}
	return fmt.Sprintf("job %s: %d of its chunks failed: %s", e.JobID, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the per-worker errors to errors.Is and errors.As.
func (e *JobError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
