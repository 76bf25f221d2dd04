package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/sortmesh/internal/coordinator"
)

func TestLoadFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  coordinator_addr: 10.0.0.1:5000\n  connect_retries: 3\n"), 0o600))

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--probe-addr", "", "--retry-delay", "1s"}))

	opts := &options{}
	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.probeAddr, _ = cmd.Flags().GetString("probe-addr")
	opts.retryDelay, _ = cmd.Flags().GetDuration("retry-delay")

	cfg, err := opts.load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5000", cfg.Worker.CoordinatorAddr, "file value kept")
	assert.Equal(t, 3, cfg.Worker.ConnectRetries)
	assert.Equal(t, "", cfg.Worker.ProbeAddr, "flag overrides file")
	assert.Equal(t, time.Second, cfg.Worker.RetryDelay)
}

func TestRunInvalidFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--retries", "0"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_retries")
}

func TestRunGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--coordinator", addr, "--probe-addr", "", "--retries", "2", "--retry-delay", "10ms"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

// TestRunServesCoordinator starts the worker command against a real
// coordinator and sorts through it.
func TestRunServesCoordinator(t *testing.T) {
	coord, err := coordinator.New(coordinator.Options{})
	require.NoError(t, err)
	defer coord.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = coord.Serve(ctx, ln) }()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--coordinator", ln.Addr().String(), "--probe-addr", "127.0.0.1:0"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return len(coord.ListWorkers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	got, _, err := coord.SortDistributed(context.Background(), []int32{5, 4, 3, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, got)

	// The coordinator hanging up ends the worker cleanly.
	coord.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}
