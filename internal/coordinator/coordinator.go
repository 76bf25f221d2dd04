package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sortmesh/internal/chunk"
	"github.com/dreamware/sortmesh/internal/config"
	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/metrics"
)

// Options configures a Coordinator.
type Options struct {
	Logger        *zap.Logger
	PartialPolicy string        // config.PolicyAbort (default) or config.PolicyPartial
	ProbeTimeout  time.Duration // <= 0 selects DefaultProbeTimeout
	ProbePort     int           // port dialed on each worker host by probes
	ProbeInterval time.Duration // period of the probe monitor; <= 0 runs one round per Start
	PoolSize      int           // <= 0 means unbounded dispatch
	MaxFrameSize  int           // <= 0 selects wire.DefaultMaxFrameSize
}

// OptionsFromConfig maps the coordinator section of the configuration.
func OptionsFromConfig(cfg config.CoordinatorConfig, log *zap.Logger) Options {
	return Options{
		Logger:        log,
		PartialPolicy: cfg.PartialPolicy,
		ProbeTimeout:  cfg.ProbeTimeout,
		ProbePort:     cfg.ProbePort,
		ProbeInterval: cfg.ProbeInterval,
		PoolSize:      cfg.PoolSize,
		MaxFrameSize:  cfg.MaxFrameSize,
	}
}

// Coordinator ties the registry, dispatcher and prober together and exposes
// the caller-facing operations: ListWorkers, SortDistributed and ProbeAll.
type Coordinator struct {
	registry   *Registry
	dispatcher *Dispatcher
	prober     *Prober
	monitor    *ProbeMonitor
	log        *zap.Logger
	policy     string
	probePort  int
}

// New creates a coordinator with an empty registry.
func New(opts Options) (*Coordinator, error) {
	log := logger.OrNop(opts.Logger)

	policy := opts.PartialPolicy
	if policy == "" {
		policy = config.PolicyAbort
	}

	dispatcher, err := NewDispatcher(opts.PoolSize, log)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(opts.MaxFrameSize, log)
	prober := NewProber(opts.ProbeTimeout, log)
	return &Coordinator{
		registry:   registry,
		dispatcher: dispatcher,
		prober:     prober,
		monitor:    NewProbeMonitor(registry, prober, opts.ProbePort, opts.ProbeInterval, log),
		log:        log,
		policy:     policy,
		probePort:  opts.ProbePort,
	}, nil
}

// Registry returns the worker registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Prober returns the liveness prober.
func (c *Coordinator) Prober() *Prober { return c.prober }

// ProbePort returns the port probes dial on each worker host.
func (c *Coordinator) ProbePort() int { return c.probePort }

// Monitor returns the probe monitor that records every probe result for
// registered workers. It is not started; callers run Start themselves.
func (c *Coordinator) Monitor() *ProbeMonitor { return c.monitor }

// ListWorkers returns the address of every registered worker in registration
// order.
func (c *Coordinator) ListWorkers() []string {
	return c.registry.Addresses()
}

// Workers returns the registered handles in registration order.
func (c *Coordinator) Workers() []*WorkerHandle {
	return c.registry.Snapshot()
}

// SortDistributed partitions items across the registered workers, has each
// worker sort its chunk, and merges the results.
//
// Chunk i goes to the i-th worker of a registry snapshot taken at the start
// of the job. Empty input returns an empty result without contacting any
// worker.
//
// Failure handling depends on the partial policy:
//   - abort: any failed chunk yields an empty result and a *JobError
//   - partial: the chunks that came back are merged and returned together
//     with a *JobError naming the ones that did not
//
// Returns ErrNoWorkers, with a nil report, when no worker is registered.
func (c *Coordinator) SortDistributed(ctx context.Context, items []int32) ([]int32, *JobReport, error) {
	workers := c.registry.Snapshot()

	job := NewJob(items)
	job.workers = len(workers)

	chunks, err := chunk.Partition(items, len(workers))
	if err != nil {
		metrics.JobsTotal.WithLabelValues(metrics.JobNoWorkers).Inc()
		return nil, nil, err
	}
	job.Chunks = chunks

	if len(chunks) == 0 {
		metrics.JobsTotal.WithLabelValues(metrics.JobEmpty).Inc()
		return []int32{}, job.Report(), nil
	}

	exchangers := make([]Exchanger, len(chunks))
	for i := range chunks {
		exchangers[i] = workers[i]
	}
	if err := c.dispatcher.Dispatch(ctx, job, exchangers); err != nil {
		metrics.JobsTotal.WithLabelValues(metrics.JobFailed).Inc()
		return []int32{}, job.Report(), err
	}

	var (
		result []int32
		jobErr error
		status = metrics.JobOK
	)
	failures := job.Failures()
	switch {
	case len(failures) == 0:
		result = chunk.MergeChunks(job.SortedChunks())
	case c.policy == config.PolicyPartial:
		result = chunk.MergeChunks(job.SortedChunks())
		jobErr = &JobError{JobID: job.ID, Failures: failures}
		status = metrics.JobPartial
	default:
		result = []int32{}
		jobErr = &JobError{JobID: job.ID, Failures: failures}
		status = metrics.JobFailed
	}

	report := job.Report()
	report.Partial = status == metrics.JobPartial
	metrics.JobsTotal.WithLabelValues(status).Inc()

	c.log.Info("sort job finished",
		zap.String("job", job.ID),
		zap.String("status", status),
		zap.Int("items", len(items)),
		zap.Int("chunks", len(chunks)),
		zap.Int("failures", len(failures)),
		zap.Duration("wall", report.Wall),
		zap.Duration("communication", report.Communication),
		zap.Duration("compute", report.Compute))

	return result, report, jobErr
}

// SortLocal sorts items in-process without touching any worker. It is the
// single-process baseline distributed jobs are compared against; the report
// has one chunk, zero workers and no communication time.
func (c *Coordinator) SortLocal(items []int32) ([]int32, *JobReport) {
	job := NewJob(items)
	out := make([]int32, len(items))
	copy(out, items)
	slices.Sort(out)
	if len(items) > 0 {
		job.Chunks = []chunk.Chunk{{Values: out}}
	}

	report := job.Report()
	c.log.Info("local sort finished",
		zap.String("job", job.ID),
		zap.Int("items", len(items)),
		zap.Duration("compute", report.Compute))
	return out, report
}

// ProbeAll probes each address and streams the results in completion order.
//
// An address naming a registered worker is probed on that worker's host at
// the probe port, and the result is recorded on the handle. Any other address
// is probed as given, with the probe port added if it has none. An empty list
// probes every registered worker.
func (c *Coordinator) ProbeAll(ctx context.Context, addrs []string) <-chan ProbeResult {
	if len(addrs) == 0 {
		addrs = c.registry.Addresses()
	}

	targets := make([]ProbeTarget, len(addrs))
	for i, a := range addrs {
		targets[i] = ProbeTarget{Addr: a, Target: c.probeTarget(a)}
	}

	results := c.prober.ProbeAll(ctx, targets)
	out := make(chan ProbeResult, len(targets))
	go func() {
		defer close(out)
		for res := range results {
			if h, ok := c.registry.Lookup(res.Addr); ok {
				c.monitor.apply(h, res)
			}
			out <- res
		}
	}()
	return out
}

func (c *Coordinator) probeTarget(addr string) string {
	if h, ok := c.registry.Lookup(addr); ok {
		return h.ProbeAddr(c.probePort)
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(c.probePort))
}

// EvictOffline removes workers whose last probe failed.
func (c *Coordinator) EvictOffline() []string {
	return c.registry.EvictOffline()
}

// Serve accepts worker connections on ln and registers each one until ctx is
// cancelled or ln fails. It closes ln before returning and returns nil on
// cancellation.
//
// Every connection accepted on ln becomes a worker, so ln must not listen on
// the probe port: a probe dialing it would register a worker that never
// answers. Serve refuses to start in that case.
func (c *Coordinator) Serve(ctx context.Context, ln net.Listener) error {
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok && c.probePort != 0 && tcp.Port == c.probePort {
		_ = ln.Close()
		return fmt.Errorf("control listener %s uses the probe port %d", ln.Addr(), c.probePort)
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		_ = ln.Close()
	}()

	c.log.Info("accepting workers", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c.registry.Register(conn)
	}
}

// Close stops the probe monitor, releases the dispatch pool and closes every
// worker connection.
func (c *Coordinator) Close() {
	c.monitor.Stop()
	c.dispatcher.Release()
	c.registry.CloseAll()
}
