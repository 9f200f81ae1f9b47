package loader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

// writePLY builds a binary little-endian PLY in memory. Each vertex
// is a row of float32 values matching props.
func writePLY(t *testing.T, props []string, rows [][]float32) *bufio.Reader {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("ply\n")
	buf.WriteString("format binary_little_endian 1.0\n")
	buf.WriteString("comment generated by test\n")
	buf.WriteString("element vertex " + strconv.Itoa(len(rows)) + "\n")
	for _, p := range props {
		buf.WriteString("property float " + p + "\n")
	}
	buf.WriteString("end_header\n")
	for _, row := range rows {
		require.Len(t, row, len(props))
		for _, v := range row {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf.Write(b[:])
		}
	}
	return bufio.NewReader(&buf)
}

var gsProps = []string{
	"x", "y", "z", "nx", "ny", "nz",
	"f_dc_0", "f_dc_1", "f_dc_2",
	"opacity",
	"scale_0", "scale_1", "scale_2",
	"rot_0", "rot_1", "rot_2", "rot_3",
}

func TestReadPLY_AppliesActivations(t *testing.T) {
	// raw training values: positions pass through, normals skipped,
	// SH DC to RGB, sigmoid opacity, exp scales, normalized rotation
	rows := [][]float32{{
		1, 2, 3, 9, 9, 9,
		0, 1.7724539, -10, // dc: 0.5, ~1.0, clamped 0
		0, // sigmoid -> 0.5
		0, -0.6931472, 0.6931472, // exp -> 1, 0.5, 2
		2, 0, 0, 0, // normalizes to identity
	}}
	c, err := ReadPLY(writePLY(t, gsProps, rows))
	require.NoError(t, err)
	require.Equal(t, 1, c.Count)

	assert.Equal(t, []float32{1, 2, 3}, c.Positions)
	assert.InDelta(t, 0.5, c.Colors[0], 1e-6)
	assert.InDelta(t, 1.0, c.Colors[1], 1e-3)
	assert.InDelta(t, 0.0, c.Colors[2], 1e-6)
	assert.InDelta(t, 0.5, c.Opacities[0], 1e-6)
	assert.InDelta(t, 1.0, c.Scales[0], 1e-6)
	assert.InDelta(t, 0.5, c.Scales[1], 1e-6)
	assert.InDelta(t, 2.0, c.Scales[2], 1e-6)
	assert.Equal(t, []float32{1, 0, 0, 0}, c.Rotations)
}

func TestReadPLY_ZeroQuaternionGuard(t *testing.T) {
	rows := [][]float32{{
		0, 0, 0, 0, 0, 0,
		0, 0, 0,
		0,
		0, 0, 0,
		0, 0, 0, 0,
	}}
	c, err := ReadPLY(writePLY(t, gsProps, rows))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, c.Rotations)
}

func TestReadPLY_MissingProperty(t *testing.T) {
	props := []string{"x", "y", "z"}
	_, err := ReadPLY(writePLY(t, props, [][]float32{{1, 2, 3}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing property")
}

func TestReadPLY_RejectsNonPLY(t *testing.T) {
	_, err := ReadPLY(bufio.NewReader(bytes.NewBufferString("not a ply\n")))
	require.Error(t, err)
}

func TestReadPLY_RejectsASCIIFormat(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat ascii 1.0\n")
	_, err := ReadPLY(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestReadPLY_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\n")
	buf.WriteString("element vertex 2\n")
	for _, p := range gsProps {
		buf.WriteString("property float " + p + "\n")
	}
	buf.WriteString("end_header\n")
	// only one vertex's worth of bytes
	buf.Write(make([]byte, len(gsProps)*4))
	_, err := ReadPLY(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestReadPLY_FeedsPacker(t *testing.T) {
	rows := [][]float32{
		{0, 0, 1, 0, 0, 0, 1, 0, 0, 4, 0, 0, 0, 1, 0, 0, 0},
		{0, 0, 2, 0, 0, 0, 0, 1, 0, 4, 0, 0, 0, 1, 0, 0, 0},
	}
	c, err := ReadPLY(writePLY(t, gsProps, rows))
	require.NoError(t, err)
	buf := splat.Pack(c)
	assert.Len(t, buf, 2*splat.RecordSize)
	// sigmoid(4) ~ 0.982 -> alpha byte 250
	assert.Equal(t, uint8(250), buf[27])
}
