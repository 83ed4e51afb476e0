package vector

import (
	"encoding/binary"
	"math"
)

// vectorToBytes encodes a vector as little-endian float32 bytes, the layout
// FT.SEARCH expects for FLOAT32 vector fields.
func vectorToBytes(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return string(buf)
}
