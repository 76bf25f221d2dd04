package worker

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/sortmesh/internal/config"
	"github.com/dreamware/sortmesh/internal/wire"
)

func testConfig() config.WorkerConfig {
	cfg := config.Default().Worker
	cfg.CoordinatorAddr = "coordinator:5000"
	cfg.ProbeAddr = ""
	cfg.ConnectRetries = 3
	cfg.RetryDelay = time.Millisecond
	return cfg
}

// TestConnectRetries fails twice before the coordinator answers.
func TestConnectRetries(t *testing.T) {
	w := New(testConfig(), nil)

	var mu sync.Mutex
	attempts := 0
	coordSide, workerSide := net.Pipe()
	defer coordSide.Close()
	defer workerSide.Close()

	w.SetDialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		assert.Equal(t, "coordinator:5000", addr)
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return workerSide, nil
	})

	conn, err := w.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, workerSide, conn)
	assert.Equal(t, 3, attempts)
}

// TestConnectGivesUp exhausts every attempt.
func TestConnectGivesUp(t *testing.T) {
	w := New(testConfig(), nil)

	attempts := 0
	w.SetDialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	})

	_, err := w.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

// TestConnectCancelled stops retrying once the context is done.
func TestConnectCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectRetries = 100
	cfg.RetryDelay = time.Hour
	w := New(cfg, nil)
	w.SetDialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestWorkerRun drives a full worker over a pipe until the coordinator hangs up.
func TestWorkerRun(t *testing.T) {
	w := New(testConfig(), nil)

	coordSide, workerSide := net.Pipe()
	defer coordSide.Close()
	w.SetDialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return workerSide, nil
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	codec := wire.NewCodec(coordSide, 0)
	require.NoError(t, codec.Send(wire.Frame{ID: 1, Values: []int32{2, 1}}))
	resp, err := codec.Receive()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, resp.Values)

	require.NoError(t, coordSide.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// TestServeLiveness accepts probe dials and stops on cancellation.
func TestServeLiveness(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeLiveness(ctx, ln, nil) }()

	for i := 0; i < 3; i++ {
		conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
		require.NoError(t, err)
		conn.Close()
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("liveness listener did not stop")
	}

	_, err = net.DialTimeout("tcp", ln.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed after cancellation")
}

// TestWorkerRunProbePortTaken keeps sorting when the liveness port is in use.
func TestWorkerRunProbePortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.ProbeAddr = taken.Addr().String()
	w := New(cfg, nil)

	coordSide, workerSide := net.Pipe()
	defer coordSide.Close()
	w.SetDialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return workerSide, nil
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	codec := wire.NewCodec(coordSide, 0)
	require.NoError(t, codec.Send(wire.Frame{ID: 1, Values: []int32{3, -3}}))
	resp, err := codec.Receive()
	require.NoError(t, err)
	assert.Equal(t, []int32{-3, 3}, resp.Values)

	require.NoError(t, coordSide.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
