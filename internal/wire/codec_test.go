package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestMarshalRoundTripEdgeValues checks the extremes of the int32 range,
// zero, negatives and duplicates.
func TestMarshalRoundTripEdgeValues(t *testing.T) {
	tests := []struct {
		name   string
		values []int32
	}{
		{"empty chunk", []int32{}},
		{"single zero", []int32{0}},
		{"int32 extremes", []int32{math.MinInt32, math.MaxInt32}},
		{"negatives and duplicates", []int32{-1, -1, 0, 5, 5, -300, math.MinInt32, math.MinInt32}},
		{"already sorted", []int32{1, 2, 3, 4, 5, 6, 7, 8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Frame{ID: 42, Index: 3, Values: tt.values}
			out, err := Unmarshal(Marshal(in))
			require.NoError(t, err)
			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, in.Index, out.Index)
			assert.Equal(t, tt.values, out.Values)
		})
	}
}

// TestMarshalRoundTripProperty checks encode-then-decode is the identity for
// any int32 sequence.
func TestMarshalRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOf(rapid.Int32()).Draw(t, "values")
		id := rapid.Uint64().Draw(t, "id")
		index := rapid.IntRange(0, math.MaxInt32).Draw(t, "index")

		out, err := Unmarshal(Marshal(Frame{ID: id, Index: index, Values: values}))
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if out.ID != id || out.Index != index {
			t.Fatalf("header mismatch: got (%d,%d) want (%d,%d)", out.ID, out.Index, id, index)
		}
		if len(out.Values) != len(values) {
			t.Fatalf("length mismatch: got %d want %d", len(out.Values), len(values))
		}
		for i := range values {
			if out.Values[i] != values[i] {
				t.Fatalf("value %d: got %d want %d", i, out.Values[i], values[i])
			}
		}
	})
}

// TestCodecReusesConnection exchanges several request/response pairs over one
// connection to verify that finishing a frame never tears down the transport.
func TestCodecReusesConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Echo server: reverses each chunk and sends it back with the same ID.
	done := make(chan error, 1)
	go func() {
		codec := NewCodec(server, 0)
		for {
			f, err := codec.Receive()
			if errors.Is(err, io.EOF) {
				done <- nil
				return
			}
			if err != nil {
				done <- err
				return
			}
			for i, j := 0, len(f.Values)-1; i < j; i, j = i+1, j-1 {
				f.Values[i], f.Values[j] = f.Values[j], f.Values[i]
			}
			if err := codec.Send(f); err != nil {
				done <- err
				return
			}
		}
	}()

	codec := NewCodec(client, 0)
	for i := 0; i < 5; i++ {
		req := Frame{ID: uint64(i + 1), Index: i, Values: []int32{int32(i), -1, math.MaxInt32}}
		require.NoError(t, codec.Send(req))

		resp, err := codec.Receive()
		require.NoError(t, err)
		assert.Equal(t, req.ID, resp.ID)
		assert.Equal(t, []int32{math.MaxInt32, -1, int32(i)}, resp.Values)
	}

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}

// TestReceiveCleanEOF verifies a stream closed on a frame boundary yields a
// bare io.EOF.
func TestReceiveCleanEOF(t *testing.T) {
	codec := NewCodec(&rwBuffer{r: bytes.NewReader(nil)}, 0)
	_, err := codec.Receive()
	assert.Equal(t, io.EOF, err)
}

// TestReceiveTruncated verifies partial frames are reported as unexpected EOF.
func TestReceiveTruncated(t *testing.T) {
	full := frameBytes(Marshal(Frame{ID: 1, Values: []int32{1, 2, 3}}))

	tests := []struct {
		name string
		data []byte
	}{
		{"partial header", full[:2]},
		{"partial body", full[:len(full)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewCodec(&rwBuffer{r: bytes.NewReader(tt.data)}, 0)
			_, err := codec.Receive()
			require.Error(t, err)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

// TestFrameTooLarge covers the size limit on both directions.
func TestFrameTooLarge(t *testing.T) {
	big := Frame{Values: make([]int32, 64)}

	var out bytes.Buffer
	err := NewCodec(&rwBuffer{w: &out}, 16).Send(big)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, out.Len(), "nothing should be written when the frame is rejected")

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, 1<<20)
	_, err = NewCodec(&rwBuffer{r: bytes.NewReader(header)}, 1024).Receive()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// TestUnmarshalMalformed feeds bodies that are not valid frames.
func TestUnmarshalMalformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"truncated varint", []byte{0x08, 0xff}},
		{"bad tag", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"values length past end", []byte{0x1a, 0x05, 0x02}},
		{"value overflows int32", []byte{0x1a, 0x05, 0x80, 0x80, 0x80, 0x80, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.body)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

// TestUnmarshalSkipsUnknownFields keeps the format extensible.
func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	body := Marshal(Frame{ID: 9, Index: 1, Values: []int32{-7, 7}})
	// field 15, varint 1
	body = append(body, 0x78, 0x01)

	f, err := Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), f.ID)
	assert.Equal(t, []int32{-7, 7}, f.Values)
}

func frameBytes(body []byte) []byte {
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	return buf
}

type rwBuffer struct {
	r io.Reader
	w io.Writer
}

func (b *rwBuffer) Read(p []byte) (int, error) {
	if b.r == nil {
		return 0, io.EOF
	}
	return b.r.Read(p)
}

func (b *rwBuffer) Write(p []byte) (int, error) {
	if b.w == nil {
		return len(p), nil
	}
	return b.w.Write(p)
}
