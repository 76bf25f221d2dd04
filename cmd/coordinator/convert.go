package main

import (
	"github.com/dreamware/sortmesh/internal/cluster"
	"github.com/dreamware/sortmesh/internal/coordinator"
)

// newWorkerInfo converts a registry handle for the API. LastProbe stays nil
// until a probe has run.
func newWorkerInfo(h *coordinator.WorkerHandle) cluster.WorkerInfo {
	info := cluster.WorkerInfo{
		Addr:         h.Addr(),
		Index:        h.Index(),
		Status:       h.Status().String(),
		RegisteredAt: h.RegisteredAt(),
	}
	if lp := h.LastProbe(); !lp.IsZero() {
		info.LastProbe = &lp
	}
	return info
}

func newJobReport(r *coordinator.JobReport) *cluster.JobReport {
	if r == nil {
		return nil
	}
	return &cluster.JobReport{
		ID:            r.ID,
		InputLen:      r.InputLen,
		Chunks:        r.Chunks,
		Workers:       r.Workers,
		Failures:      r.Failures,
		Partial:       r.Partial,
		Wall:          r.Wall,
		Communication: r.Communication,
		Compute:       r.Compute,
		RoundTripP50:  r.RoundTripP50,
		RoundTripP99:  r.RoundTripP99,
		RoundTripMax:  r.RoundTripMax,
	}
}

// newFailures lists the chunks a job error names.
func newFailures(err *coordinator.JobError) []cluster.Failure {
	out := make([]cluster.Failure, 0, len(err.Failures))
	for _, f := range err.Failures {
		out = append(out, cluster.Failure{Worker: f.Worker, Chunk: f.Index, Error: f.Err.Error()})
	}
	return out
}

func newProbeResult(r coordinator.ProbeResult) cluster.ProbeResult {
	return cluster.ProbeResult{Addr: r.Addr, Target: r.Target, Status: r.Status.String(), Latency: r.Latency}
}
