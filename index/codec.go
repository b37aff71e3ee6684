package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/viant/mtree/vector"
)

// Encode stores: dim(uint32), n(uint32), then for each item:
// idLen(uint32), id bytes, vec(float32[dim]).
func Encode(dim int, ids []string, vectors [][]float32) []byte {
	size := 8
	for _, id := range ids {
		size += 4 + len(id) + 4*dim
	}
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, uint32(dim))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ids)))
	for i, id := range ids {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(id)))
		out = append(out, id...)
		out = vector.AppendEmbedding(out, vectors[i])
	}
	return out
}

// Decode reverses Encode.
func Decode(data []byte) (ids []string, vectors [][]float32, err error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("%w: header of %d bytes", ErrCorrupt, len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[0:4]))
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	off := 8
	ids = make([]string, 0, min(n, len(data)/4))
	vectors = make([][]float32, 0, cap(ids))
	for i := range n {
		if off+4 > len(data) {
			return nil, nil, fmt.Errorf("%w: truncated item %d", ErrCorrupt, i)
		}
		idLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if idLen > len(data)-off || 4*dim > len(data)-off-idLen {
			return nil, nil, fmt.Errorf("%w: truncated item %d", ErrCorrupt, i)
		}
		ids = append(ids, string(data[off:off+idLen]))
		off += idLen
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors = append(vectors, vec)
	}
	if off != len(data) {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(data)-off)
	}
	return ids, vectors, nil
}
