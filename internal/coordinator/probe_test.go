package coordinator

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen opens a loopback listener that accepts and immediately closes.
func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// blackhole never connects; it only returns once ctx is done.
func blackhole(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNewProberDefaults(t *testing.T) {
	assert.Equal(t, DefaultProbeTimeout, NewProber(0, nil).Timeout())
	assert.Equal(t, DefaultProbeTimeout, NewProber(-time.Second, nil).Timeout())
	assert.Equal(t, time.Second, NewProber(time.Second, nil).Timeout())
}

func TestProbe(t *testing.T) {
	ln := listen(t)
	p := NewProber(time.Second, nil)

	tests := []struct {
		name string
		addr string
		want Status
	}{
		{"listening", ln.Addr().String(), StatusOnline},
		{"refused", closedAddr(t), StatusOffline},
		{"unresolvable", "no-such-host.invalid:1", StatusOffline},
		{"malformed", "not an address", StatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Probe(context.Background(), tt.addr)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.addr, res.Addr)
			assert.Equal(t, tt.addr, res.Target)
		})
	}
}

// TestProbeTimeout verifies a silent target resolves to offline within the
// timeout rather than hanging.
func TestProbeTimeout(t *testing.T) {
	p := NewProber(50*time.Millisecond, nil)
	p.SetDialFunc(blackhole)

	start := time.Now()
	res := p.Probe(context.Background(), "10.255.255.1:5000")
	assert.Equal(t, StatusOffline, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

// TestProbeAllCompletionOrder verifies fast results are not held back by
// slow ones and the channel closes after the last result.
func TestProbeAllCompletionOrder(t *testing.T) {
	p := NewProber(time.Second, nil)
	p.SetDialFunc(func(ctx context.Context, _, addr string) (net.Conn, error) {
		switch addr {
		case "slow:1":
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil, errors.New("unreachable")
		default:
			c1, c2 := net.Pipe()
			c2.Close()
			return c1, nil
		}
	})

	targets := []ProbeTarget{
		{Addr: "slow", Target: "slow:1"},
		{Addr: "fast", Target: "fast:1"},
	}

	var got []ProbeResult
	for res := range p.ProbeAll(context.Background(), targets) {
		got = append(got, res)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "fast", got[0].Addr)
	assert.Equal(t, StatusOnline, got[0].Status)
	assert.Equal(t, "slow", got[1].Addr)
	assert.Equal(t, "slow:1", got[1].Target)
	assert.Equal(t, StatusOffline, got[1].Status)
}

func TestProbeAllEmpty(t *testing.T) {
	p := NewProber(time.Second, nil)
	_, open := <-p.ProbeAll(context.Background(), nil)
	assert.False(t, open)
}

// TestProbeAllCancelled resolves every target to offline once ctx is done.
func TestProbeAllCancelled(t *testing.T) {
	p := NewProber(time.Minute, nil)
	p.SetDialFunc(blackhole)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var n int
	for res := range p.ProbeAll(ctx, []ProbeTarget{{Addr: "a", Target: "a:1"}, {Addr: "b", Target: "b:1"}}) {
		assert.Equal(t, StatusOffline, res.Status)
		n++
	}
	assert.Equal(t, 2, n)
}
