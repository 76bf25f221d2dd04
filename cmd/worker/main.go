// Command worker connects to a sortmesh coordinator and sorts the chunks it
// is sent until the coordinator hangs up.
//
//	worker --coordinator 10.0.0.1:5000 --probe-addr :5001
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/config"
	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/worker"
)

const version = "0.1.0"

type options struct {
	configPath      string
	logLevel        string
	coordinatorAddr string
	probeAddr       string
	retries         int
	retryDelay      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Sort chunks for a sortmesh coordinator",
		Long: `Dial the coordinator's control address, retrying while it is unreachable,
and sort every chunk received on that connection. The worker also accepts
connections on its probe address so the coordinator's liveness probe can reach
it. It exits when the coordinator closes the connection.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	d := config.Default().Worker
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	f.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	f.StringVar(&opts.coordinatorAddr, "coordinator", d.CoordinatorAddr, "coordinator control address")
	f.StringVar(&opts.probeAddr, "probe-addr", d.ProbeAddr, "liveness listener address, empty to disable")
	f.IntVar(&opts.retries, "retries", d.ConnectRetries, "connection attempts before giving up")
	f.DurationVar(&opts.retryDelay, "retry-delay", d.RetryDelay, "pause between connection attempts")
	return cmd
}

// load reads the config file, then applies the flags the user set.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("coordinator") {
		cfg.Worker.CoordinatorAddr = o.coordinatorAddr
	}
	if flags.Changed("probe-addr") {
		cfg.Worker.ProbeAddr = o.probeAddr
	}
	if flags.Changed("retries") {
		cfg.Worker.ConnectRetries = o.retries
	}
	if flags.Changed("retry-delay") {
		cfg.Worker.RetryDelay = o.retryDelay
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	log = log.Named("worker")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting worker",
		zap.String("coordinator", cfg.Worker.CoordinatorAddr),
		zap.String("probe_addr", cfg.Worker.ProbeAddr))

	return worker.New(cfg.Worker, log).Run(ctx)
}
