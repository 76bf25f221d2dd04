// Command coordinator runs the sortmesh coordinator and talks to a running
// one over its HTTP control surface.
//
//	coordinator serve --config sortmesh.yaml
//	coordinator workers
//	coordinator sort numbers.txt
//	coordinator probe
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/config"
	"github.com/dreamware/sortmesh/internal/logger"
)

const version = "0.1.0"

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	server     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Distributed integer sort coordinator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.server, "server", "http://127.0.0.1:8080", "coordinator HTTP address used by client commands")

	root.AddCommand(
		newServeCmd(opts),
		newWorkersCmd(opts),
		newSortCmd(opts),
		newProbeCmd(opts),
		newEvictCmd(opts),
	)
	return root
}

// loadConfig reads the config file and applies the root flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.Named("coordinator"), nil
}
