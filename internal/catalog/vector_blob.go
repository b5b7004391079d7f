package catalog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/smancode/recall/pkg/types"
)

// encodeVector packs a float32 slice into a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector, checking that the
// blob length matches the row's recorded dimension.
func decodeVector(blob []byte, dimension int) ([]float32, error) {
	if len(blob) != dimension*4 {
		return nil, fmt.Errorf("%w: blob holds %d bytes, dimension %d needs %d",
			types.ErrStorageFault, len(blob), dimension, dimension*4)
	}
	v := make([]float32, dimension)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
