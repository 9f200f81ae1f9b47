package worker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

// TextureWidth is the fixed width of the covariance texture; each
// splat occupies two RGBA32Uint texels, so one row carries 1024 splats.
const TextureWidth = 1024 * 2

// TextureData is the GPU-ready covariance texture: four 32-bit words
// per texel. Splat i lives at texels (2i, 2i+1) on row i/1024.
//
//	texel 2i:   words 0-2 position float bit patterns, word 3 spare
//	texel 2i+1: words 0-2 half-float pairs of the 3x3 covariance
//	            upper triangle scaled by 4, word 3 RGBA bytes
type TextureData struct {
	Data   []uint32
	Width  uint32
	Height uint32
	Count  int
}

// buildTexture expands a packed splat buffer into the covariance
// texture. Texels past 2*count stay zero.
func buildTexture(buf []byte, count int) (*TextureData, error) {
	if count <= 0 {
		return nil, fmt.Errorf("worker: empty scene (count=%d)", count)
	}
	if len(buf) < count*splat.RecordSize {
		return nil, fmt.Errorf("worker: packed buffer %d bytes, want %d", len(buf), count*splat.RecordSize)
	}

	height := uint32((2*count + TextureWidth - 1) / TextureWidth)
	data := make([]uint32, TextureWidth*4*int(height))

	for i := 0; i < count; i++ {
		rec := buf[i*splat.RecordSize:]

		cen := data[(2*i)*4:]
		cen[0] = binary.LittleEndian.Uint32(rec[0:])
		cen[1] = binary.LittleEndian.Uint32(rec[4:])
		cen[2] = binary.LittleEndian.Uint32(rec[8:])

		sx := math.Float32frombits(binary.LittleEndian.Uint32(rec[12:]))
		sy := math.Float32frombits(binary.LittleEndian.Uint32(rec[16:]))
		sz := math.Float32frombits(binary.LittleEndian.Uint32(rec[20:]))

		w := splat.DequantizeSigned(rec[28])
		x := splat.DequantizeSigned(rec[29])
		y := splat.DequantizeSigned(rec[30])
		z := splat.DequantizeSigned(rec[31])

		var sigma [6]float32
		covariance3D(w, x, y, z, sx, sy, sz, &sigma)

		cov := data[(2*i+1)*4:]
		cov[0] = splat.PackHalf2x16(4*sigma[0], 4*sigma[1])
		cov[1] = splat.PackHalf2x16(4*sigma[2], 4*sigma[3])
		cov[2] = splat.PackHalf2x16(4*sigma[4], 4*sigma[5])
		cov[3] = uint32(rec[24]) | uint32(rec[25])<<8 | uint32(rec[26])<<16 | uint32(rec[27])<<24
	}

	return &TextureData{Data: data, Width: TextureWidth, Height: height, Count: count}, nil
}

// covariance3D fills sigma with the upper triangle
// (s00,s01,s02,s11,s12,s22) of M'M, where M is the quaternion's
// rotation matrix with row j scaled by the j-th axis radius.
func covariance3D(w, x, y, z, sx, sy, sz float32, sigma *[6]float32) {
	m00 := (1 - 2*(y*y+z*z)) * sx
	m01 := (2 * (x*y + w*z)) * sx
	m02 := (2 * (x*z - w*y)) * sx
	m10 := (2 * (x*y - w*z)) * sy
	m11 := (1 - 2*(x*x+z*z)) * sy
	m12 := (2 * (y*z + w*x)) * sy
	m20 := (2 * (x*z + w*y)) * sz
	m21 := (2 * (y*z - w*x)) * sz
	m22 := (1 - 2*(x*x+y*y)) * sz

	sigma[0] = m00*m00 + m10*m10 + m20*m20
	sigma[1] = m00*m01 + m10*m11 + m20*m21
	sigma[2] = m00*m02 + m10*m12 + m20*m22
	sigma[3] = m01*m01 + m11*m11 + m21*m21
	sigma[4] = m01*m02 + m11*m12 + m21*m22
	sigma[5] = m02*m02 + m12*m12 + m22*m22
}
