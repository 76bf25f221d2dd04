package coordinator

import (
	"context"
	"net"
	"testing"

	"github.com/dreamware/sortmesh/internal/wire"
	"github.com/dreamware/sortmesh/internal/worker"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// addrConn gives one end of a net.Pipe a distinct remote address so several
// pipe-backed workers can share a registry.
type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

// pipeConn returns the coordinator end (reporting addr as its remote address)
// and the worker end of a fresh pipe.
func pipeConn(t *testing.T, addr string) (net.Conn, net.Conn) {
	t.Helper()
	coordSide, workerSide := net.Pipe()
	t.Cleanup(func() {
		coordSide.Close()
		workerSide.Close()
	})
	return addrConn{Conn: coordSide, remote: fakeAddr(addr)}, workerSide
}

// registerLoopWorker registers a pipe-backed worker running a real worker
// loop and returns its handle.
func registerLoopWorker(t *testing.T, r *Registry, addr string) *WorkerHandle {
	t.Helper()
	coordSide, workerSide := pipeConn(t, addr)
	h := r.Register(coordSide)

	loop := worker.NewLoop(workerSide, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = loop.Run(ctx) }()
	return h
}

// registerDeadWorker registers a worker whose far end is already closed.
func registerDeadWorker(t *testing.T, r *Registry, addr string) *WorkerHandle {
	t.Helper()
	coordSide, workerSide := pipeConn(t, addr)
	h := r.Register(coordSide)
	workerSide.Close()
	return h
}

// registerRecordingWorker registers a pipe-backed worker that sorts like the
// real loop and reports a copy of every chunk it receives, before sorting.
func registerRecordingWorker(t *testing.T, r *Registry, addr string) (*WorkerHandle, <-chan []int32) {
	t.Helper()
	coordSide, workerSide := pipeConn(t, addr)
	h := r.Register(coordSide)

	received := make(chan []int32, 16)
	go func() {
		codec := wire.NewCodec(workerSide, 0)
		for {
			f, err := codec.Receive()
			if err != nil {
				return
			}
			received <- append([]int32(nil), f.Values...)
			worker.SortChunk(f.Values)
			if err := codec.Send(f); err != nil {
				return
			}
		}
	}()
	return h, received
}
