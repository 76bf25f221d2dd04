package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/logger"
)

// ProbeMonitor periodically probes every registered worker and records the
// observed status on its handle. It is the single consumer of probe results
// for registered workers: Coordinator.ProbeAll hands its results to the same
// monitor, so transitions are detected in one place.
//
// The monitor never evicts. A callback can be installed to react when a worker
// goes offline, for example to call Registry.EvictOffline.
type ProbeMonitor struct {
	registry  *Registry
	prober    *Prober
	log       *zap.Logger
	onOffline func(addr string)
	ctx       context.Context
	cancel    context.CancelFunc
	interval  time.Duration
	probePort int
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewProbeMonitor creates a monitor that probes each worker's host on
// probePort every interval.
//
// Example:
//
//	monitor := NewProbeMonitor(registry, NewProber(2*time.Second, log), 5001, 10*time.Second, log)
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewProbeMonitor(registry *Registry, prober *Prober, probePort int, interval time.Duration, log *zap.Logger) *ProbeMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProbeMonitor{
		registry:  registry,
		prober:    prober,
		probePort: probePort,
		interval:  interval,
		log:       logger.OrNop(log),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetOnOffline sets a callback invoked, on its own goroutine, each time a
// worker transitions into StatusOffline.
func (m *ProbeMonitor) SetOnOffline(callback func(addr string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = callback
}

// Interval returns the period between probe rounds.
func (m *ProbeMonitor) Interval() time.Duration { return m.interval }

// Start probes immediately and then once per interval until ctx or the
// monitor is cancelled. It blocks. A non-positive interval runs one round.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	if m.interval <= 0 {
		m.CheckAll(ctx)
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("probe monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.prober.Timeout()))

	m.CheckAll(ctx)

	for {
		select {
		case <-ticker.C:
			m.CheckAll(ctx)
		case <-ctx.Done():
			m.log.Info("probe monitor stopping", zap.String("reason", "context cancelled"))
			return
		case <-m.ctx.Done():
			m.log.Info("probe monitor stopping", zap.String("reason", "stopped"))
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (m *ProbeMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// CheckAll runs one probe round over the current registry snapshot and
// returns the results in completion order.
func (m *ProbeMonitor) CheckAll(ctx context.Context) []ProbeResult {
	handles := m.registry.Snapshot()
	if len(handles) == 0 {
		return nil
	}

	byAddr := make(map[string]*WorkerHandle, len(handles))
	targets := make([]ProbeTarget, len(handles))
	for i, h := range handles {
		byAddr[h.Addr()] = h
		targets[i] = ProbeTarget{Addr: h.Addr(), Target: h.ProbeAddr(m.probePort)}
	}

	results := make([]ProbeResult, 0, len(handles))
	for res := range m.prober.ProbeAll(ctx, targets) {
		results = append(results, res)
		m.apply(byAddr[res.Addr], res)
	}
	return results
}

// apply records res on h and reacts to a status transition. Every probe
// result for a registered worker goes through here, whether it came from a
// monitor round or from Coordinator.ProbeAll, so each transition is seen once.
func (m *ProbeMonitor) apply(h *WorkerHandle, res ProbeResult) {
	previous := h.recordProbe(res.Status, time.Now())
	if previous == res.Status {
		return
	}
	switch res.Status {
	case StatusOffline:
		m.log.Warn("worker offline", zap.String("addr", h.Addr()), zap.String("probe", res.Target))
		if cb := m.callback(); cb != nil {
			go cb(h.Addr())
		}
	case StatusOnline:
		m.log.Info("worker online", zap.String("addr", h.Addr()), zap.Duration("latency", res.Latency))
	}
}

func (m *ProbeMonitor) callback() func(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onOffline
}
