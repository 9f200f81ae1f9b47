package splat

import (
	"math"
	"math/rand"
	"testing"
)

func TestFloat16Bits_Exact(t *testing.T) {
	cases := []struct {
		in   float32
		want uint16
	}{
		{0, 0x0000},
		{1, 0x3c00},
		{-1, 0xbc00},
		{2, 0x4000},
		{0.5, 0x3800},
		{65504, 0x7bff}, // largest finite half
		{float32(math.Inf(1)), 0x7c00},
		{float32(math.Inf(-1)), 0xfc00},
	}
	for _, c := range cases {
		if got := Float16Bits(c.in); got != c.want {
			t.Errorf("Float16Bits(%v) = %#04x, want %#04x", c.in, got, c.want)
		}
	}
}

func TestFloat16Bits_Truncates(t *testing.T) {
	// 1 + 2^-11 is exactly between two halves; truncation keeps 1.0.
	in := float32(1.0) + float32(math.Ldexp(1, -11))
	if got := Float16Bits(in); got != 0x3c00 {
		t.Errorf("truncation: got %#04x, want 0x3c00", got)
	}
	// Just below the next representable half also truncates down.
	in = float32(1.0) + float32(math.Ldexp(1, -10)) - float32(math.Ldexp(1, -13))
	if got := Float16Bits(in); got != 0x3c00 {
		t.Errorf("truncation below step: got %#04x, want 0x3c00", got)
	}
}

func TestFloat16Bits_SubnormalFlush(t *testing.T) {
	// Smallest normal half is 2^-14 (biased f32 exponent 113).
	if got := Float16Bits(float32(math.Ldexp(1, -14))); got != 0x0400 {
		t.Errorf("smallest normal: got %#04x, want 0x0400", got)
	}
	// Anything below flushes to signed zero.
	if got := Float16Bits(float32(math.Ldexp(1, -15))); got != 0 {
		t.Errorf("subnormal flush: got %#04x, want 0", got)
	}
	if got := Float16Bits(float32(-math.Ldexp(1, -20))); got != 0x8000 {
		t.Errorf("negative subnormal flush: got %#04x, want 0x8000", got)
	}
}

func TestFloat16Bits_Overflow(t *testing.T) {
	if got := Float16Bits(100000); got != 0x7c00 {
		t.Errorf("overflow: got %#04x, want 0x7c00", got)
	}
	if got := Float16Bits(-100000); got != 0xfc00 {
		t.Errorf("negative overflow: got %#04x, want 0xfc00", got)
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		v := float32(math.Ldexp(float64(rng.Float32()+0.5), rng.Intn(20)-10))
		got := Float16FromBits(Float16Bits(v))
		rel := math.Abs(float64(got-v)) / math.Abs(float64(v))
		if rel >= 1.0/1024 {
			t.Fatalf("round-trip %v -> %v, relative error %v", v, got, rel)
		}
	}
}

func TestPackHalf2x16_Order(t *testing.T) {
	w := PackHalf2x16(1, 2)
	if w&0xffff != 0x3c00 || w>>16 != 0x4000 {
		t.Errorf("PackHalf2x16(1,2) = %#08x, want low=1.0 high=2.0", w)
	}
}
