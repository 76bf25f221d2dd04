package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame body: 64 MiB, roughly 13M int32
// values in the worst zigzag case.
const DefaultMaxFrameSize = 64 << 20

const headerSize = 4

// Codec reads and writes frames over a transport it does not own. A Codec is
// not safe for concurrent use; callers serialize Send/Receive pairs.
type Codec struct {
	rw      io.ReadWriter
	header  [headerSize]byte
	maxSize int
}

// NewCodec wraps rw. maxSize <= 0 selects DefaultMaxFrameSize.
func NewCodec(rw io.ReadWriter, maxSize int) *Codec {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Codec{rw: rw, maxSize: maxSize}
}

// Send writes one length-prefixed frame in a single Write call.
func (c *Codec) Send(f Frame) error {
	body := Marshal(f)
	if len(body) > c.maxSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, len(body), c.maxSize)
	}

	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)

	if _, err := c.rw.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. It returns io.EOF, unwrapped, only when
// the stream ends cleanly on a frame boundary. A stream that ends inside a
// frame yields io.ErrUnexpectedEOF.
func (c *Codec) Receive() (Frame, error) {
	if _, err := io.ReadFull(c.rw, c.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(c.header[:])
	if uint64(size) > uint64(c.maxSize) {
		return Frame{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, size, c.maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("read frame body: %w", err)
	}
	return Unmarshal(body)
}
