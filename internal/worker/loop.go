package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/wire"
)

// State is the worker loop state.
type State int32

const (
	// StateConnected is the initial state: the connection to the coordinator
	// is up and the loop is waiting for, or handling, a chunk.
	StateConnected State = iota
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "connected"
}

// Loop serves chunk requests on one connection.
type Loop struct {
	conn    net.Conn
	codec   *wire.Codec
	log     *zap.Logger
	state   atomic.Int32
	handled atomic.Uint64
}

// NewLoop wraps an established coordinator connection. The loop does not
// close conn; the caller that dialed it does.
func NewLoop(conn net.Conn, maxFrameSize int, log *zap.Logger) *Loop {
	return &Loop{
		conn:  conn,
		codec: wire.NewCodec(conn, maxFrameSize),
		log:   logger.OrNop(log),
	}
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Handled returns the number of chunks sorted so far.
func (l *Loop) Handled() uint64 { return l.handled.Load() }

// Run reads, sorts and answers chunks until the coordinator closes the
// stream, a read or write fails, or ctx is cancelled.
//
// Returns:
//   - nil when the stream ended cleanly between frames
//   - ctx.Err() when cancelled
//   - the I/O or decoding error otherwise
func (l *Loop) Run(ctx context.Context) error {
	defer l.state.Store(int32(StateClosed))

	stop := context.AfterFunc(ctx, func() {
		// Unblock a pending read.
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		req, err := l.codec.Receive()
		if errors.Is(err, io.EOF) {
			l.log.Info("coordinator closed the connection", zap.Uint64("chunks", l.Handled()))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive chunk: %w", err)
		}

		SortChunk(req.Values)

		if err := l.codec.Send(req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("send chunk %d: %w", req.Index, err)
		}
		n := l.handled.Add(1)
		l.log.Debug("chunk sorted",
			zap.Uint64("id", req.ID),
			zap.Int("index", req.Index),
			zap.Int("len", len(req.Values)),
			zap.Uint64("chunks", n))
	}
}

// SortChunk sorts values ascending in place.
func SortChunk(values []int32) {
	slices.Sort(values)
}
