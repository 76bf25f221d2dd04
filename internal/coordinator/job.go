package coordinator

import (
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"

	"github.com/dreamware/sortmesh/internal/chunk"
)

// Job is the state of one SortDistributed call. It lives for the duration of
// the call and is never persisted.
type Job struct {
	started   time.Time
	ID        string
	Items     []int32
	Chunks    []chunk.Chunk
	Outcomes  []Outcome
	commNanos atomic.Int64
	workers   int
}

// NewJob starts the clock on a job over items.
func NewJob(items []int32) *Job {
	return &Job{ID: uuid.NewString(), Items: items, started: time.Now()}
}

func (j *Job) addCommunication(d time.Duration) {
	j.commNanos.Add(int64(d))
}

// Communication is the sum of every task's round-trip time so far.
func (j *Job) Communication() time.Duration {
	return time.Duration(j.commNanos.Load())
}

// Failures returns the outcomes that did not produce a sorted chunk.
func (j *Job) Failures() []Outcome {
	var failed []Outcome
	for _, o := range j.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// SortedChunks returns the chunks that came back, in chunk order.
func (j *Job) SortedChunks() []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(j.Outcomes))
	for _, o := range j.Outcomes {
		if o.OK() {
			out = append(out, o.Chunk)
		}
	}
	return out
}

// JobReport summarizes a finished job.
//
// Compute is Wall minus Communication: an approximation of the time not spent
// exchanging chunks. Communication sums concurrent round trips, so Compute
// can be negative when several workers are in flight at once.
type JobReport struct {
	ID            string
	InputLen      int
	Chunks        int
	Workers       int
	Failures      int
	Partial       bool
	Wall          time.Duration
	Communication time.Duration
	Compute       time.Duration
	RoundTripP50  time.Duration
	RoundTripP99  time.Duration
	RoundTripMax  time.Duration
}

// maxTrackedMicros is one hour; longer round trips are clamped.
const maxTrackedMicros = int64(time.Hour / time.Microsecond)

// Report builds the job summary. Call it once every outcome is in.
func (j *Job) Report() *JobReport {
	wall := time.Since(j.started)
	comm := j.Communication()

	r := &JobReport{
		ID:            j.ID,
		InputLen:      len(j.Items),
		Chunks:        len(j.Chunks),
		Workers:       j.workers,
		Failures:      len(j.Failures()),
		Wall:          wall,
		Communication: comm,
		Compute:       wall - comm,
	}

	if len(j.Outcomes) == 0 {
		return r
	}

	hist := hdrhistogram.New(1, maxTrackedMicros, 3)
	for _, o := range j.Outcomes {
		us := o.RoundTrip.Microseconds()
		if us < 1 {
			us = 1
		}
		if us > maxTrackedMicros {
			us = maxTrackedMicros
		}
		_ = hist.RecordValue(us)
	}
	r.RoundTripP50 = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
	r.RoundTripP99 = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond
	r.RoundTripMax = time.Duration(hist.Max()) * time.Microsecond
	return r
}
