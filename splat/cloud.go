package splat

import (
	"fmt"
	"math"
)

// SH DC band normalization constant (1 / (2 sqrt(pi))).
const shC0 = 0.28209479

// Cloud is one scene's worth of normalized splats, stored as flat
// arrays the way the transport delivers them. Positions, Scales and
// Colors hold three components per splat, Rotations four (w,x,y,z
// unit quaternions), Opacities one. All activation functions have
// already been applied: scales are exponentiated axis radii, opacities
// and colors are clamped to [0,1].
type Cloud struct {
	Count     int
	Positions []float32
	Scales    []float32
	Rotations []float32
	Opacities []float32
	Colors    []float32

	Timestamp float64
	FrameID   string
}

// Validate checks array lengths against Count and rejects empty scenes.
func (c *Cloud) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("splat: empty scene (count=%d)", c.Count)
	}
	if len(c.Positions) != 3*c.Count {
		return fmt.Errorf("splat: positions length %d, want %d", len(c.Positions), 3*c.Count)
	}
	if len(c.Scales) != 3*c.Count {
		return fmt.Errorf("splat: scales length %d, want %d", len(c.Scales), 3*c.Count)
	}
	if len(c.Rotations) != 4*c.Count {
		return fmt.Errorf("splat: rotations length %d, want %d", len(c.Rotations), 4*c.Count)
	}
	if len(c.Opacities) != c.Count {
		return fmt.Errorf("splat: opacities length %d, want %d", len(c.Opacities), c.Count)
	}
	if len(c.Colors) != 3*c.Count {
		return fmt.Errorf("splat: colors length %d, want %d", len(c.Colors), 3*c.Count)
	}
	return nil
}

// Sigmoid maps an opacity logit to [0,1].
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// SHToRGB converts a spherical-harmonics DC coefficient to a clamped
// color channel.
func SHToRGB(dc float32) float32 {
	return clamp01(0.5 + shC0*dc)
}

// NormalizeQuaternion returns q scaled to unit length. Near-zero
// quaternions collapse to the identity rotation.
func NormalizeQuaternion(q [4]float32) [4]float32 {
	n := math.Sqrt(float64(q[0])*float64(q[0]) + float64(q[1])*float64(q[1]) +
		float64(q[2])*float64(q[2]) + float64(q[3])*float64(q[3]))
	if n < 1e-10 {
		return [4]float32{1, 0, 0, 0}
	}
	inv := float32(1.0 / n)
	return [4]float32{q[0] * inv, q[1] * inv, q[2] * inv, q[3] * inv}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
