// Package coordinator implements the coordinator side of sortmesh.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sortmesh/internal/chunk"
	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/metrics"
	"github.com/dreamware/sortmesh/internal/wire"
)

// Status is the advisory liveness of a registered worker.
//
// State transitions:
//
//	Connected ──probe ok──▶ Online ◀──probe ok──┐
//	    │                     │                  │
//	    └──probe fail──▶ Offline ───────────────┘
//
// Only the liveness probe moves a handle out of Connected. No status removes a
// handle from the registry; eviction is an explicit call.
type Status int32

const (
	// StatusConnected is the initial state, entered when the worker's
	// connection is accepted.
	StatusConnected Status = iota
	// StatusOnline means the last probe reached the worker.
	StatusOnline
	// StatusOffline means the last probe failed or timed out.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// MarshalText renders the status name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkerHandle is the coordinator's durable reference to one connected worker:
// its network identity, the connection it dialed in on, and an advisory
// status.
//
// The connection is retained for the worker's lifetime and reused by every
// job. Exchanges on one handle are serialized, so at most one request is
// outstanding per connection and concurrent jobs cannot read each other's
// responses.
type WorkerHandle struct {
	registeredAt time.Time
	conn         net.Conn
	codec        *wire.Codec
	log          *zap.Logger
	addr         string
	host         string
	index        int

	// mu serializes request/response pairs on conn.
	mu sync.Mutex

	status    atomic.Int32
	lastProbe atomic.Int64 // unix nanos, 0 if never probed
	nextID    atomic.Uint64
	closed    atomic.Bool
}

func newWorkerHandle(conn net.Conn, index, maxFrameSize int, now time.Time, log *zap.Logger) *WorkerHandle {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return &WorkerHandle{
		conn:         conn,
		codec:        wire.NewCodec(conn, maxFrameSize),
		log:          logger.OrNop(log),
		addr:         addr,
		host:         host,
		index:        index,
		registeredAt: now,
	}
}

// Addr returns the worker's remote address as seen on the control connection.
func (h *WorkerHandle) Addr() string { return h.addr }

// Host returns the host part of Addr.
func (h *WorkerHandle) Host() string { return h.host }

// Index is the registration sequence number. It never changes and is never
// reused, even after eviction.
func (h *WorkerHandle) Index() int { return h.index }

// RegisteredAt returns when the connection was accepted.
func (h *WorkerHandle) RegisteredAt() time.Time { return h.registeredAt }

// Status returns the last observed status.
func (h *WorkerHandle) Status() Status { return Status(h.status.Load()) }

// LastProbe returns when the status was last set by a probe, or the zero time.
func (h *WorkerHandle) LastProbe() time.Time {
	ns := h.lastProbe.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ProbeAddr returns the address the liveness probe dials for this worker.
func (h *WorkerHandle) ProbeAddr(port int) string {
	return net.JoinHostPort(h.host, fmt.Sprint(port))
}

// recordProbe stores a probe result and returns the status it replaced. The
// swap is atomic, so when results race exactly one caller sees a given
// transition.
func (h *WorkerHandle) recordProbe(s Status, at time.Time) Status {
	h.lastProbe.Store(at.UnixNano())
	return Status(h.status.Swap(int32(s)))
}

// Exchange sends c to the worker and blocks for the sorted response.
//
// No deadline applies unless ctx carries one. A failed exchange leaves the
// connection in whatever state the failure produced; the handle is neither
// closed nor retried.
//
// Returns:
//   - the sorted chunk, tagged with c.Index
//   - *TransportError on any I/O failure, including the worker hanging up
//   - *SerializationError on an undecodable or mismatched response
func (h *WorkerHandle) Exchange(ctx context.Context, c chunk.Chunk) (chunk.Chunk, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return chunk.Chunk{}, &TransportError{Worker: h.addr, Op: "send", Err: net.ErrClosed}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = h.conn.SetDeadline(deadline)
		defer h.conn.SetDeadline(time.Time{})
	}

	id := h.nextID.Add(1)
	if err := h.codec.Send(wire.Frame{ID: id, Index: c.Index, Values: c.Values}); err != nil {
		if errors.Is(err, wire.ErrFrameTooLarge) {
			return chunk.Chunk{}, &SerializationError{Worker: h.addr, Err: err}
		}
		return chunk.Chunk{}, &TransportError{Worker: h.addr, Op: "send", Err: err}
	}

	resp, err := h.receive(id)
	if err != nil {
		return chunk.Chunk{}, err
	}

	switch {
	case resp.Index != c.Index:
		return chunk.Chunk{}, &SerializationError{Worker: h.addr, Err: fmt.Errorf("response for chunk %d, sent chunk %d", resp.Index, c.Index)}
	case len(resp.Values) != len(c.Values):
		return chunk.Chunk{}, &SerializationError{Worker: h.addr, Err: fmt.Errorf("response has %d values, sent %d", len(resp.Values), len(c.Values))}
	}
	return chunk.Chunk{Index: c.Index, Values: resp.Values}, nil
}

// receive reads frames until the response to request id arrives. IDs grow
// monotonically per handle, so a lower ID is the late answer to an exchange
// that gave up (for example on a context deadline) and is discarded. A
// higher ID answers nothing that was sent.
func (h *WorkerHandle) receive(id uint64) (wire.Frame, error) {
	for {
		resp, err := h.codec.Receive()
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) || errors.Is(err, wire.ErrFrameTooLarge) {
				return wire.Frame{}, &SerializationError{Worker: h.addr, Err: err}
			}
			return wire.Frame{}, &TransportError{Worker: h.addr, Op: "receive", Err: err}
		}
		switch {
		case resp.ID == id:
			return resp, nil
		case resp.ID < id:
			h.log.Debug("discarding stale response",
				zap.String("addr", h.addr),
				zap.Uint64("id", resp.ID),
				zap.Uint64("waiting_for", id))
		default:
			return wire.Frame{}, &SerializationError{Worker: h.addr, Err: fmt.Errorf("response id %d does not answer request %d", resp.ID, id)}
		}
	}
}

// Close closes the worker's connection. The worker loop sees end-of-stream
// and exits.
func (h *WorkerHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.conn.Close()
}

// Registry tracks connected workers in registration order.
//
// Membership only grows through Register. Probing never removes entries;
// a dead worker stays registered, visible only through its status, until
// Evict or EvictOffline is called.
//
// Concurrency Model:
//   - Register appends and publishes the new snapshot under one lock
//   - Snapshot returns a copy that is safe to iterate without the lock
//   - Handles are shared pointers; their own state is atomic or locked
type Registry struct {
	log          *zap.Logger
	now          func() time.Time
	handles      []*WorkerHandle
	mu           sync.RWMutex
	nextIndex    int
	maxFrameSize int
}

// NewRegistry creates an empty registry. maxFrameSize bounds frames on every
// handle's codec; <= 0 selects wire.DefaultMaxFrameSize.
func NewRegistry(maxFrameSize int, log *zap.Logger) *Registry {
	return &Registry{
		log:          logger.OrNop(log),
		now:          time.Now,
		maxFrameSize: maxFrameSize,
	}
}

// Register adopts conn as a worker connection and assigns it the next index.
// The registry owns conn from now on.
func (r *Registry) Register(conn net.Conn) *WorkerHandle {
	r.mu.Lock()
	h := newWorkerHandle(conn, r.nextIndex, r.maxFrameSize, r.now(), r.log)
	r.nextIndex++
	r.handles = append(r.handles, h)
	n := len(r.handles)
	r.mu.Unlock()

	metrics.RegisteredWorkers.Set(float64(n))
	r.log.Info("worker connected",
		zap.String("addr", h.addr),
		zap.Int("index", h.index),
		zap.Int("workers", n))
	return h
}

// Snapshot returns the registered handles in registration order.
func (r *Registry) Snapshot() []*WorkerHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*WorkerHandle(nil), r.handles...)
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Addresses returns every worker's address in registration order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.handles))
	for i, h := range r.handles {
		out[i] = h.addr
	}
	return out
}

// Lookup finds a handle by address.
func (r *Registry) Lookup(addr string) (*WorkerHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.handles, func(h *WorkerHandle) bool { return h.addr == addr })
	if i < 0 {
		return nil, false
	}
	return r.handles[i], true
}

// Evict removes the worker at addr and closes its connection. It reports
// whether a worker was removed.
func (r *Registry) Evict(addr string) bool {
	evicted := r.evictWhere(func(h *WorkerHandle) bool { return h.addr == addr })
	return len(evicted) > 0
}

// EvictOffline removes every worker whose last probe failed and returns their
// addresses. Workers that were never probed are kept.
func (r *Registry) EvictOffline() []string {
	return r.evictWhere(func(h *WorkerHandle) bool { return h.Status() == StatusOffline })
}

func (r *Registry) evictWhere(match func(*WorkerHandle) bool) []string {
	r.mu.Lock()
	var removed []*WorkerHandle
	kept := r.handles[:0:0]
	for _, h := range r.handles {
		if match(h) {
			removed = append(removed, h)
		} else {
			kept = append(kept, h)
		}
	}
	r.handles = kept
	n := len(kept)
	r.mu.Unlock()

	addrs := make([]string, 0, len(removed))
	for _, h := range removed {
		_ = h.Close()
		addrs = append(addrs, h.addr)
		r.log.Info("worker evicted", zap.String("addr", h.addr), zap.String("status", h.Status().String()))
	}
	if len(removed) > 0 {
		metrics.RegisteredWorkers.Set(float64(n))
	}
	return addrs
}

// CloseAll closes every worker connection. Handles stay registered.
func (r *Registry) CloseAll() {
	for _, h := range r.Snapshot() {
		_ = h.Close()
	}
}
