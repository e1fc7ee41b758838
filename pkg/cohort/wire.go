package cohort

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire frames are a 1-byte op tag followed by the payload. The tag catches
// members that drifted out of the SPMD collective order.
type wireOp byte

const (
	opBroadcast wireOp = iota + 1
	opScatter
	opReduce
	opBarrier
)

func frame(op wireOp, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(op)
	copy(buf[1:], payload)
	return buf
}

func unframe(op wireOp, msg []byte) ([]byte, error) {
	if len(msg) < 1 {
		return nil, fmt.Errorf("empty frame")
	}
	if wireOp(msg[0]) != op {
		return nil, fmt.Errorf("frame op %d, want %d: collective order diverged", msg[0], op)
	}
	return msg[1:], nil
}

func encodeFloat64s(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloat64s(buf []byte, out []float64) error {
	if len(buf) != 8*len(out) {
		return fmt.Errorf("float64 payload of %d bytes, want %d", len(buf), 8*len(out))
	}
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

func encodeInt32s(vals []int32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func decodeInt32s(buf []byte, out []int32) error {
	if len(buf) != 4*len(out) {
		return fmt.Errorf("int32 payload of %d bytes, want %d", len(buf), 4*len(out))
	}
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return nil
}

func encodeInt64s(vals []int64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return buf
}

func decodeInt64s(buf []byte, out []int64) error {
	if len(buf) != 8*len(out) {
		return fmt.Errorf("int64 payload of %d bytes, want %d", len(buf), 8*len(out))
	}
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}
