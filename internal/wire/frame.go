package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldID     protowire.Number = 1
	fieldIndex  protowire.Number = 2
	fieldValues protowire.Number = 3
)

var (
	// ErrMalformedFrame is returned when a frame body cannot be decoded.
	ErrMalformedFrame = errors.New("wire: malformed frame")

	// ErrFrameTooLarge is returned when a length prefix exceeds the codec limit.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Frame is one chunk crossing the network, either as a request to a worker or
// as the worker's sorted response.
type Frame struct {
	Values []int32 // Chunk payload in wire order
	ID     uint64  // Request ID, echoed unchanged in the response
	Index  int     // Position of the chunk within its job
}

// Marshal encodes the frame body (without the length prefix).
func Marshal(f Frame) []byte {
	packed := 0
	for _, v := range f.Values {
		packed += protowire.SizeVarint(protowire.EncodeZigZag(int64(v)))
	}

	size := protowire.SizeTag(fieldID) + protowire.SizeVarint(f.ID) +
		protowire.SizeTag(fieldIndex) + protowire.SizeVarint(uint64(f.Index))
	if len(f.Values) > 0 {
		size += protowire.SizeTag(fieldValues) + protowire.SizeBytes(packed)
	}

	b := make([]byte, 0, size)
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, f.ID)
	b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Index))
	if len(f.Values) > 0 {
		b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(packed))
		for _, v := range f.Values {
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
		}
	}
	return b
}

// Unmarshal decodes a frame body produced by Marshal. Unknown fields are
// skipped. Values is never nil, even for an empty chunk.
func Unmarshal(b []byte) (Frame, error) {
	f := Frame{Values: []int32{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: tag: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: id: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			f.ID = v
			b = b[n:]

		case num == fieldIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: index: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			if v > math.MaxInt32 {
				return Frame{}, fmt.Errorf("%w: index %d out of range", ErrMalformedFrame, v)
			}
			f.Index = int(v)
			b = b[n:]

		case num == fieldValues && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: values: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			values, err := appendPacked(f.Values, packed)
			if err != nil {
				return Frame{}, err
			}
			f.Values = values
			b = b[n:]

		case num == fieldValues && typ == protowire.VarintType:
			// Unpacked repeated encoding, accepted for compatibility.
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: value: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			x, err := toInt32(v)
			if err != nil {
				return Frame{}, err
			}
			f.Values = append(f.Values, x)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}

func appendPacked(dst []int32, packed []byte) ([]int32, error) {
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, fmt.Errorf("%w: packed value: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		x, err := toInt32(v)
		if err != nil {
			return nil, err
		}
		dst = append(dst, x)
		packed = packed[n:]
	}
	return dst, nil
}

func toInt32(zz uint64) (int32, error) {
	v := protowire.DecodeZigZag(zz)
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: value %d overflows int32", ErrMalformedFrame, v)
	}
	return int32(v), nil
}
