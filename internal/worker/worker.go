package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/config"
	"github.com/dreamware/sortmesh/internal/logger"
)

// DialFunc opens a connection; it matches (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Worker is one worker process: a coordinator connection, its Loop, and an
// optional liveness listener.
type Worker struct {
	cfg  config.WorkerConfig
	dial DialFunc
	log  *zap.Logger
}

// New creates a worker from its configuration.
func New(cfg config.WorkerConfig, log *zap.Logger) *Worker {
	d := &net.Dialer{}
	return &Worker{cfg: cfg, dial: d.DialContext, log: logger.OrNop(log)}
}

// SetDialFunc replaces the dialer. Used by tests.
func (w *Worker) SetDialFunc(dial DialFunc) {
	w.dial = dial
}

// Connect dials the coordinator, retrying up to cfg.ConnectRetries times with
// cfg.RetryDelay between attempts to ride out a coordinator that is still
// starting.
func (w *Worker) Connect(ctx context.Context) (net.Conn, error) {
	attempts := w.cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := w.dial(ctx, "tcp", w.cfg.CoordinatorAddr)
		if err == nil {
			w.log.Info("connected to coordinator",
				zap.String("coordinator", w.cfg.CoordinatorAddr),
				zap.String("local", conn.LocalAddr().String()))
			return conn, nil
		}
		lastErr = err
		w.log.Warn("connect retry",
			zap.Int("attempt", i+1),
			zap.Int("of", attempts),
			zap.Error(err))

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("connect to coordinator %s after %d attempts: %w", w.cfg.CoordinatorAddr, attempts, lastErr)
}

// Run connects, serves the liveness listener if one is configured, and runs
// the Loop until the coordinator hangs up or ctx is cancelled.
//
// A liveness listener that cannot bind is not fatal: the worker still sorts,
// and the coordinator's probes report it offline.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.ProbeAddr != "" {
		ln, err := net.Listen("tcp", w.cfg.ProbeAddr)
		if err != nil {
			w.log.Warn("liveness listener disabled",
				zap.String("probe_addr", w.cfg.ProbeAddr),
				zap.Error(err))
		} else {
			go func() {
				if err := ServeLiveness(ctx, ln, w.log); err != nil {
					w.log.Error("liveness listener stopped", zap.Error(err))
				}
			}()
			defer ln.Close()
		}
	}

	conn, err := w.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	loop := NewLoop(conn, w.cfg.MaxFrameSize, w.log)
	err = loop.Run(ctx)
	w.log.Info("worker loop closed", zap.Uint64("chunks", loop.Handled()), zap.Error(err))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeLiveness accepts connections on ln and closes each immediately. It
// gives the coordinator's probe something to connect to. It returns nil once
// ctx is cancelled or ln is closed.
func ServeLiveness(ctx context.Context, ln net.Listener, log *zap.Logger) error {
	log = logger.OrNop(log)
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		_ = ln.Close()
	}()

	log.Info("liveness listener up", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		_ = conn.Close()
	}
}
