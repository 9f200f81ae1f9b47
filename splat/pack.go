package splat

import (
	"encoding/binary"
	"math"
)

// RecordSize is the packed footprint of one splat.
const RecordSize = 32

// Packed record layout, little-endian:
//
//	offset  0: position, three float32
//	offset 12: scale, three float32
//	offset 24: RGBA, one byte each, alpha from opacity
//	offset 28: quaternion (w,x,y,z), one byte each, biased by 128
//
// The alpha byte at offset 27 is the one the sorter's visibility cull
// reads, so its position is load-bearing.

// Pack flattens a cloud into its 32-byte-per-splat wire form. The
// result is deterministic: identical clouds pack to identical bytes.
func Pack(c *Cloud) []byte {
	buf := make([]byte, c.Count*RecordSize)
	for i := 0; i < c.Count; i++ {
		rec := buf[i*RecordSize:]
		for j := 0; j < 3; j++ {
			binary.LittleEndian.PutUint32(rec[j*4:], math.Float32bits(c.Positions[i*3+j]))
			binary.LittleEndian.PutUint32(rec[12+j*4:], math.Float32bits(c.Scales[i*3+j]))
			rec[24+j] = quantizeUnit(c.Colors[i*3+j])
		}
		rec[27] = quantizeUnit(c.Opacities[i])
		for j := 0; j < 4; j++ {
			rec[28+j] = quantizeSigned(c.Rotations[i*4+j])
		}
	}
	return buf
}

// quantizeUnit maps [0,1] to a byte with round-half-away rounding.
func quantizeUnit(v float32) uint8 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint8(math.Round(float64(v) * 255))
}

// quantizeSigned maps [-1,1] to a byte biased at 128.
func quantizeSigned(v float32) uint8 {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	r := math.Round(float64(v)*128 + 128)
	if r > 255 {
		r = 255
	}
	return uint8(r)
}

// DequantizeSigned is the decoder-side inverse of quantizeSigned,
// used by the covariance generator to recover quaternion components.
func DequantizeSigned(b uint8) float32 {
	return (float32(b) - 128) / 128
}
