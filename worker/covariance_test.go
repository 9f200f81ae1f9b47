package worker

import (
	"math"
	"math/rand"
	"testing"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

func cloudOf(n int) *splat.Cloud {
	c := &splat.Cloud{
		Count:     n,
		Positions: make([]float32, 3*n),
		Scales:    make([]float32, 3*n),
		Rotations: make([]float32, 4*n),
		Opacities: make([]float32, n),
		Colors:    make([]float32, 3*n),
	}
	for i := 0; i < n; i++ {
		c.Rotations[i*4] = 1
		c.Scales[i*3+0] = 1
		c.Scales[i*3+1] = 1
		c.Scales[i*3+2] = 1
		c.Opacities[i] = 1
	}
	return c
}

func randomUnitQuat(rng *rand.Rand) [4]float32 {
	return splat.NormalizeQuaternion([4]float32{
		float32(rng.NormFloat64()), float32(rng.NormFloat64()),
		float32(rng.NormFloat64()), float32(rng.NormFloat64()),
	})
}

// rotationOf expands a quaternion into the row-major 3x3 used by the
// covariance generator, in float64.
func rotationOf(w, x, y, z float64) [3][3]float64 {
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y + w*z), 2 * (x*z - w*y)},
		{2 * (x*y - w*z), 1 - 2*(x*x+z*z), 2 * (y*z + w*x)},
		{2 * (x*z + w*y), 2 * (y*z - w*x), 1 - 2*(x*x+y*y)},
	}
}

// referenceSigma computes the six covariance entries in float64 from
// an already-dequantized quaternion and scales.
func referenceSigma(q [4]float64, s [3]float64) [6]float64 {
	r := rotationOf(q[0], q[1], q[2], q[3])
	var m [3][3]float64
	for j := 0; j < 3; j++ {
		for k := 0; k < 3; k++ {
			m[j][k] = r[j][k] * s[j]
		}
	}
	dot := func(a, b int) float64 {
		return m[0][a]*m[0][b] + m[1][a]*m[1][b] + m[2][a]*m[2][b]
	}
	return [6]float64{dot(0, 0), dot(0, 1), dot(0, 2), dot(1, 1), dot(1, 2), dot(2, 2)}
}

func decodedSigma(tex *TextureData, i int) [6]float32 {
	cov := tex.Data[(2*i+1)*4:]
	return [6]float32{
		splat.Float16FromBits(uint16(cov[0])),
		splat.Float16FromBits(uint16(cov[0] >> 16)),
		splat.Float16FromBits(uint16(cov[1])),
		splat.Float16FromBits(uint16(cov[1] >> 16)),
		splat.Float16FromBits(uint16(cov[2])),
		splat.Float16FromBits(uint16(cov[2] >> 16)),
	}
}

func TestBuildTexture_Layout(t *testing.T) {
	c := cloudOf(1)
	c.Positions = []float32{1.25, -3.5, 7.0}
	c.Colors = []float32{1, 0, 0.5}
	c.Opacities = []float32{1}
	buf := splat.Pack(c)

	tex, err := buildTexture(buf, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tex.Width != TextureWidth || tex.Height != 1 {
		t.Fatalf("texture %dx%d, want %dx1", tex.Width, tex.Height, TextureWidth)
	}
	if len(tex.Data) != TextureWidth*4 {
		t.Fatalf("data length %d, want %d", len(tex.Data), TextureWidth*4)
	}

	// texel 0: position bit patterns, spare word zero
	for j, want := range []float32{1.25, -3.5, 7.0} {
		if got := math.Float32frombits(tex.Data[j]); got != want {
			t.Errorf("position[%d] = %v, want %v", j, got, want)
		}
	}
	if tex.Data[3] != 0 {
		t.Errorf("spare word = %#x, want 0", tex.Data[3])
	}

	// texel 1 word 3: RGBA bytes, little-endian
	rgba := tex.Data[4+3]
	if rgba != uint32(255)|uint32(0)<<8|uint32(128)<<16|uint32(255)<<24 {
		t.Errorf("rgba word = %#08x", rgba)
	}

	// identity rotation, unit scales: sigma = I, wire entries 4*I
	sig := decodedSigma(tex, 0)
	want := [6]float32{4, 0, 0, 4, 0, 4}
	for j := range sig {
		if math.Abs(float64(sig[j]-want[j])) > 1e-2 {
			t.Errorf("sigma[%d] = %v, want %v", j, sig[j], want[j])
		}
	}
}

func TestBuildTexture_Dimensions(t *testing.T) {
	cases := []struct {
		count      int
		wantHeight uint32
	}{
		{1, 1},
		{1024, 1},
		{1025, 2},
		{4096, 4},
	}
	for _, tc := range cases {
		buf := splat.Pack(cloudOf(tc.count))
		tex, err := buildTexture(buf, tc.count)
		if err != nil {
			t.Fatalf("count %d: %v", tc.count, err)
		}
		if tex.Height != tc.wantHeight {
			t.Errorf("count %d: height %d, want %d", tc.count, tex.Height, tc.wantHeight)
		}
		// texels past 2*count stay zero
		tail := tex.Data[2*tc.count*4:]
		for j, w := range tail {
			if w != 0 {
				t.Fatalf("count %d: tail word %d = %#x, want 0", tc.count, j, w)
			}
		}
	}
}

func TestBuildTexture_RejectsBadInput(t *testing.T) {
	if _, err := buildTexture(nil, 0); err == nil {
		t.Error("empty scene accepted")
	}
	if _, err := buildTexture(make([]byte, 31), 1); err == nil {
		t.Error("short buffer accepted")
	}
}

func TestCovariance_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n = 500
	c := cloudOf(n)
	for i := 0; i < n; i++ {
		q := randomUnitQuat(rng)
		copy(c.Rotations[i*4:], q[:])
		for j := 0; j < 3; j++ {
			c.Scales[i*3+j] = rng.Float32()*1.5 + 0.05
		}
	}
	buf := splat.Pack(c)
	tex, err := buildTexture(buf, n)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		rec := buf[i*32:]
		q := [4]float64{
			float64(splat.DequantizeSigned(rec[28])),
			float64(splat.DequantizeSigned(rec[29])),
			float64(splat.DequantizeSigned(rec[30])),
			float64(splat.DequantizeSigned(rec[31])),
		}
		s := [3]float64{
			float64(c.Scales[i*3]), float64(c.Scales[i*3+1]), float64(c.Scales[i*3+2]),
		}
		ref := referenceSigma(q, s)

		maxEntry := 0.0
		for _, v := range ref {
			if a := math.Abs(v); a > maxEntry {
				maxEntry = a
			}
		}
		got := decodedSigma(tex, i)
		for j := range ref {
			err := math.Abs(float64(got[j])/4 - ref[j])
			tol := math.Ldexp(1, -10)*math.Max(math.Abs(ref[j]), maxEntry) + 1e-5
			if err > tol {
				t.Fatalf("splat %d sigma[%d]: got %v, want %v (err %v > tol %v)",
					i, j, float64(got[j])/4, ref[j], err, tol)
			}
		}
	}
}

func TestQuaternionQuantization_RotationError(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	for i := 0; i < 1000; i++ {
		q := randomUnitQuat(rng)
		var enc [4]uint8
		buf := splat.Pack(&splat.Cloud{
			Count:     1,
			Positions: make([]float32, 3),
			Scales:    []float32{1, 1, 1},
			Rotations: q[:],
			Opacities: []float32{1},
			Colors:    make([]float32, 3),
		})
		copy(enc[:], buf[28:32])

		orig := rotationOf(float64(q[0]), float64(q[1]), float64(q[2]), float64(q[3]))
		dec := rotationOf(
			float64(splat.DequantizeSigned(enc[0])),
			float64(splat.DequantizeSigned(enc[1])),
			float64(splat.DequantizeSigned(enc[2])),
			float64(splat.DequantizeSigned(enc[3])),
		)
		var frob float64
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				d := orig[j][k] - dec[j][k]
				frob += d * d
			}
		}
		if math.Sqrt(frob) >= 0.02 {
			t.Fatalf("quaternion %v: rotation error %v >= 0.02", q, math.Sqrt(frob))
		}
	}
}
