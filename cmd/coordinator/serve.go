package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/config"
	"github.com/dreamware/sortmesh/internal/coordinator"
	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	controlAddr   string
	httpAddr      string
	partialPolicy string
	probePort     int
	probeInterval time.Duration
	probeTimeout  time.Duration
	poolSize      int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept workers and serve the control API",
		Long: `Listen for worker connections on the control address and serve the HTTP
control API (sort, workers, probe, eviction, metrics) on the HTTP address.
Workers that connect stay registered until they are explicitly evicted.`,
		Example: `  coordinator serve
  coordinator serve --control-addr :5000 --http-addr :8080
  coordinator serve --partial-policy partial --probe-interval 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg.Coordinator)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	opts.bindFlags(cmd)
	return cmd
}

func (o *serveOptions) bindFlags(cmd *cobra.Command) {
	d := config.Default().Coordinator
	f := cmd.Flags()
	f.StringVar(&o.controlAddr, "control-addr", d.ControlAddr, "TCP address workers connect to")
	f.StringVar(&o.httpAddr, "http-addr", d.HTTPAddr, "HTTP control API address")
	f.StringVar(&o.partialPolicy, "partial-policy", d.PartialPolicy, "what to do when some workers fail: abort or partial")
	f.IntVar(&o.probePort, "probe-port", d.ProbePort, "port dialed on each worker host by liveness probes")
	f.DurationVar(&o.probeInterval, "probe-interval", d.ProbeInterval, "background probe period, 0 disables")
	f.DurationVar(&o.probeTimeout, "probe-timeout", d.ProbeTimeout, "timeout of a single probe")
	f.IntVar(&o.poolSize, "pool-size", d.PoolSize, "max concurrent chunk exchanges, 0 for unbounded")
}

// apply overrides cfg with the flags the user set explicitly.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.CoordinatorConfig) {
	flags := cmd.Flags()
	if flags.Changed("control-addr") {
		cfg.ControlAddr = o.controlAddr
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = o.httpAddr
	}
	if flags.Changed("partial-policy") {
		cfg.PartialPolicy = o.partialPolicy
	}
	if flags.Changed("probe-port") {
		cfg.ProbePort = o.probePort
	}
	if flags.Changed("probe-interval") {
		cfg.ProbeInterval = o.probeInterval
	}
	if flags.Changed("probe-timeout") {
		cfg.ProbeTimeout = o.probeTimeout
	}
	if flags.Changed("pool-size") {
		cfg.PoolSize = o.poolSize
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	coord, err := coordinator.New(coordinator.OptionsFromConfig(cfg.Coordinator, log))
	if err != nil {
		return err
	}
	defer coord.Close()

	controlLn, err := net.Listen("tcp", cfg.Coordinator.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen on control address: %w", err)
	}
	httpLn, err := net.Listen("tcp", cfg.Coordinator.HTTPAddr)
	if err != nil {
		controlLn.Close()
		return fmt.Errorf("listen on http address: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, coord, controlLn, httpLn, log)
}

// serve runs the accept loop, the HTTP server and the probe monitor until ctx
// is done or one of them fails, then shuts everything down.
func serve(ctx context.Context, coord *coordinator.Coordinator, controlLn, httpLn net.Listener, log *zap.Logger) error {
	log = logger.OrNop(log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := newServer(coord, metrics.NewRegistry(), log)
	errCh := make(chan error, 2)

	go func() {
		if err := coord.Serve(ctx, controlLn); err != nil {
			errCh <- fmt.Errorf("accept workers: %w", err)
		}
	}()
	go func() {
		log.Info("control API listening", zap.String("addr", httpLn.Addr().String()))
		if err := srv.app.Listener(httpLn); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var monitor *coordinator.ProbeMonitor
	if coord.Monitor().Interval() > 0 {
		monitor = coord.Monitor()
		go monitor.Start(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("coordinator failed", zap.Error(runErr))
	}
	cancel()

	if monitor != nil {
		monitor.Stop()
	}
	if err := srv.app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("coordinator stopped")
	return runErr
}
