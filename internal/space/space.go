// Package space defines the distance spaces the graph and index search
// over. A space fixes the stored payload encoding and produces squared
// Euclidean distances (or values with the same ordering) between a query
// representation and a payload, and between two payloads during graph
// construction.
package space

import (
	"encoding/binary"
	"math"
)

// Space is the tagged distance-space variant. Payloads are raw bytes so a
// single graph implementation can hold float vectors, byte vectors, or PQ
// codes. The query representation depends on the variant: FloatL2 takes a
// little-endian float32 vector, IntL2 takes raw bytes, PQADC takes a
// uint32 index into per-query ADC tables.
type Space interface {
	// Dim returns the vector dimensionality.
	Dim() int

	// DataSize returns the payload size in bytes per stored element.
	DataSize() int

	// Distance computes the query-to-payload distance.
	Distance(q, payload []byte) float32

	// PairDistance computes the payload-to-payload distance used while
	// linking new nodes into the graph.
	PairDistance(a, b []byte) float32
}

// EncodeFloats appends the little-endian encoding of v to dst.
func EncodeFloats(dst []byte, v []float32) []byte {
	for _, x := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(x))
	}
	return dst
}

// DecodeFloats decodes a little-endian float32 payload into dst, which
// must have length len(b)/4.
func DecodeFloats(dst []float32, b []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

// FloatAt reads the i-th float32 of a little-endian payload.
func FloatAt(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}
