package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/chunk"
	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/metrics"
)

// Exchanger sends one chunk to a worker and returns it sorted.
// *WorkerHandle is the production implementation.
type Exchanger interface {
	Addr() string
	Exchange(ctx context.Context, c chunk.Chunk) (chunk.Chunk, error)
}

// Outcome is the result of dispatching one chunk: either the sorted chunk or
// the reason it did not come back.
type Outcome struct {
	Err       error
	Worker    string
	Chunk     chunk.Chunk
	Index     int
	RoundTrip time.Duration
}

// OK reports whether the worker returned a sorted chunk.
func (o Outcome) OK() bool { return o.Err == nil }

// Dispatcher runs chunk exchanges on a goroutine pool, one task per chunk.
type Dispatcher struct {
	pool *ants.Pool
	log  *zap.Logger
}

// NewDispatcher creates a dispatcher whose pool runs at most poolSize tasks at
// once; poolSize <= 0 means unbounded.
func NewDispatcher(poolSize int, log *zap.Logger) (*Dispatcher, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}
	return &Dispatcher{pool: pool, log: logger.OrNop(log)}, nil
}

// Running returns the number of tasks currently executing.
func (d *Dispatcher) Running() int { return d.pool.Running() }

// Release stops the pool. Tasks already running finish; later Dispatch calls
// fail every chunk.
func (d *Dispatcher) Release() { d.pool.Release() }

// Dispatch sends job.Chunks[i] to workers[i] for every chunk, concurrently,
// and fills job.Outcomes with one outcome per chunk in chunk order.
//
// Every task runs to completion: a failing task neither cancels nor waits
// for the others. Outcomes are collected in submission order, so a slow early
// task delays when later results are observed but not when they run. Each
// task adds its round-trip time to the job's communication counter.
//
// Workers beyond len(job.Chunks) are not used. More chunks than workers is a
// caller error: one worker never receives two chunks of the same job.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job, workers []Exchanger) error {
	if len(job.Chunks) > len(workers) {
		return fmt.Errorf("job %s has %d chunks for %d workers", job.ID, len(job.Chunks), len(workers))
	}

	pending := make([]chan Outcome, len(job.Chunks))
	for i, c := range job.Chunks {
		c := c // per-iteration copy: task runs asynchronously (go1.21 loop semantics)
		w := workers[i]
		done := make(chan Outcome, 1)
		pending[i] = done

		task := func() {
			out := Outcome{Index: c.Index, Worker: w.Addr()}
			defer func() {
				if r := recover(); r != nil {
					out.Err = fmt.Errorf("worker %s: dispatch panic: %v", w.Addr(), r)
				}
				done <- out
			}()

			start := time.Now()
			sorted, err := w.Exchange(ctx, c)
			out.RoundTrip = time.Since(start)
			job.addCommunication(out.RoundTrip)
			metrics.DispatchSeconds.Observe(out.RoundTrip.Seconds())

			if err != nil {
				out.Err = err
				return
			}
			out.Chunk = sorted
		}

		if err := d.pool.Submit(task); err != nil {
			done <- Outcome{Index: c.Index, Worker: w.Addr(), Err: fmt.Errorf("submit chunk %d: %w", c.Index, err)}
		}
	}

	job.Outcomes = make([]Outcome, len(pending))
	for i, done := range pending {
		out := <-done
		if out.Err != nil {
			d.log.Warn("chunk failed",
				zap.String("job", job.ID),
				zap.Int("chunk", out.Index),
				zap.String("worker", out.Worker),
				zap.Error(out.Err))
		}
		job.Outcomes[i] = out
	}
	return nil
}
