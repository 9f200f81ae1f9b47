package worker

import (
	"math"
	"unsafe"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

const bucketCount = 65536

// depthSorter owns one scene's packed buffer and produces
// front-to-back index orderings for it. A 16-bit counting sort keeps
// the per-view cost linear in the splat count; the histogram is
// allocated once and reused across sorts.
type depthSorter struct {
	buf    []byte
	floats []float32
	count  int

	cutoff   uint8
	lastView [3]float32
	hasLast  bool

	counts  []uint32
	starts  []uint32
	visible []uint32
	depths  []int32
}

func newDepthSorter(buf []byte, count int) *depthSorter {
	return &depthSorter{
		buf:     buf,
		floats:  unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(buf))), len(buf)/4),
		count:   count,
		cutoff:  1,
		counts:  make([]uint32, bucketCount),
		starts:  make([]uint32, bucketCount),
		visible: make([]uint32, 0, count),
		depths:  make([]int32, 0, count),
	}
}

// setCutoff updates the visibility threshold and invalidates the
// throttle so the next sort always runs.
func (s *depthSorter) setCutoff(a uint8) {
	if a < 1 {
		a = 1
	}
	s.cutoff = a
	s.hasLast = false
}

// sort produces a dense, front-to-back ordering of the visible splat
// indices for the given column-major viewProj. ok is false when the
// view direction moved too little since the previous accepted sort.
func (s *depthSorter) sort(viewProj [16]float32) (indices []uint32, ok bool) {
	vx, vy, vz := viewProj[2], viewProj[6], viewProj[10]
	if s.hasLast {
		dot := vx*s.lastView[0] + vy*s.lastView[1] + vz*s.lastView[2]
		if math.Abs(float64(dot)-1) < 0.01 {
			return nil, false
		}
	}
	s.lastView = [3]float32{vx, vy, vz}
	s.hasLast = true

	// Visibility cull on the alpha byte, depth for the survivors.
	s.visible = s.visible[:0]
	s.depths = s.depths[:0]
	minDepth := int32(math.MaxInt32)
	maxDepth := int32(math.MinInt32)
	for i := 0; i < s.count; i++ {
		if s.buf[i*splat.RecordSize+27] < s.cutoff {
			continue
		}
		f := i * splat.RecordSize / 4
		d := int32(math.Floor(float64(4096 * (vx*s.floats[f] + vy*s.floats[f+1] + vz*s.floats[f+2]))))
		s.visible = append(s.visible, uint32(i))
		s.depths = append(s.depths, d)
		if d < minDepth {
			minDepth = d
		}
		if d > maxDepth {
			maxDepth = d
		}
	}

	m := len(s.visible)
	if m == 0 {
		return []uint32{}, true
	}

	// Quantize depths into 16-bit buckets; a flat scene collapses to
	// bucket zero.
	clear(s.counts)
	inv := 0.0
	if maxDepth > minDepth {
		inv = float64(bucketCount-1) / float64(maxDepth-minDepth)
	}
	for i := 0; i < m; i++ {
		b := uint32(float64(s.depths[i]-minDepth) * inv)
		s.depths[i] = int32(b)
		s.counts[b]++
	}

	var total uint32
	for b := 0; b < bucketCount; b++ {
		s.starts[b] = total
		total += s.counts[b]
	}

	out := make([]uint32, m)
	for i := 0; i < m; i++ {
		b := s.depths[i]
		out[s.starts[b]] = s.visible[i]
		s.starts[b]++
	}
	return out, true
}
