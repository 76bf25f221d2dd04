package coordinator

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/metrics"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 2 * time.Second

// ProbeResult is the outcome of probing one address.
type ProbeResult struct {
	Addr    string        // Address as the caller named it
	Target  string        // Address actually dialed
	Status  Status        // StatusOnline or StatusOffline
	Latency time.Duration // Time spent dialing
}

// DialFunc opens a connection; it matches (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Prober answers whether an address currently accepts TCP connections. Each
// probe opens a fresh connection, independent of any worker's control
// connection, and closes it without exchanging a payload.
type Prober struct {
	dial    DialFunc
	log     *zap.Logger
	timeout time.Duration
}

// NewProber creates a prober with the given per-probe timeout. timeout <= 0
// selects DefaultProbeTimeout.
func NewProber(timeout time.Duration, log *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	d := &net.Dialer{}
	return &Prober{dial: d.DialContext, timeout: timeout, log: logger.OrNop(log)}
}

// SetDialFunc replaces the dialer. Used by tests.
func (p *Prober) SetDialFunc(dial DialFunc) {
	p.dial = dial
}

// Timeout returns the per-probe timeout.
func (p *Prober) Timeout() time.Duration { return p.timeout }

// Probe dials addr and reports StatusOnline if the connection is established
// within the timeout, StatusOffline otherwise. It never returns an error.
func (p *Prober) Probe(ctx context.Context, addr string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dial(ctx, "tcp", addr)
	res := ProbeResult{Addr: addr, Target: addr, Latency: time.Since(start)}
	if err != nil {
		res.Status = StatusOffline
		p.log.Debug("probe failed", zap.String("addr", addr), zap.Error(err))
	} else {
		_ = conn.Close()
		res.Status = StatusOnline
	}
	metrics.ProbesTotal.WithLabelValues(res.Status.String()).Inc()
	return res
}

// ProbeTarget pairs the name a caller knows a worker by with the address to
// dial for it.
type ProbeTarget struct {
	Addr   string
	Target string
}

// ProbeAll probes every target concurrently. Each result is delivered on the
// returned channel as soon as it is known, in completion order; the channel
// is closed after the last one.
func (p *Prober) ProbeAll(ctx context.Context, targets []ProbeTarget) <-chan ProbeResult {
	out := make(chan ProbeResult, len(targets))

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t ProbeTarget) {
			defer wg.Done()
			res := p.Probe(ctx, t.Target)
			res.Addr = t.Addr
			out <- res
		}(t)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
