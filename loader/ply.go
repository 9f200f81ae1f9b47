// Package loader turns on-disk scene files into normalized splat
// clouds. Both entry points yield clouds under the activation contract
// the recording tool uses: SH DC to RGB, sigmoid opacity,
// exponentiated scales, normalized quaternions. The PLY reader applies
// these activations itself; MCAP messages are decoded as stored, since
// the recording tool has already applied them.
package loader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

// plyHeader describes the vertex element of a binary little-endian
// PLY file: property names in declaration order, all float32.
type plyHeader struct {
	count int
	props []string
}

// LoadPLY reads a 3D Gaussian Splatting PLY file (the raw training
// output: log scales, logit opacities, unnormalized quaternions, SH
// DC coefficients) and activates it into a normalized cloud.
func LoadPLY(path string) (*splat.Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPLY(bufio.NewReaderSize(f, 1<<20))
}

func ReadPLY(r *bufio.Reader) (*splat.Cloud, error) {
	hdr, err := parsePLYHeader(r)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(hdr.props))
	for i, name := range hdr.props {
		idx[name] = i
	}
	required := []string{
		"x", "y", "z",
		"f_dc_0", "f_dc_1", "f_dc_2",
		"opacity",
		"scale_0", "scale_1", "scale_2",
		"rot_0", "rot_1", "rot_2", "rot_3",
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("loader: ply missing property %q", name)
		}
	}

	n := hdr.count
	stride := len(hdr.props) * 4
	c := &splat.Cloud{
		Count:     n,
		Positions: make([]float32, 3*n),
		Scales:    make([]float32, 3*n),
		Rotations: make([]float32, 4*n),
		Opacities: make([]float32, n),
		Colors:    make([]float32, 3*n),
	}

	row := make([]byte, stride)
	field := func(name string) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(row[idx[name]*4:]))
	}
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("loader: ply vertex %d: %w", i, err)
		}

		c.Positions[i*3+0] = field("x")
		c.Positions[i*3+1] = field("y")
		c.Positions[i*3+2] = field("z")

		c.Colors[i*3+0] = splat.SHToRGB(field("f_dc_0"))
		c.Colors[i*3+1] = splat.SHToRGB(field("f_dc_1"))
		c.Colors[i*3+2] = splat.SHToRGB(field("f_dc_2"))

		c.Opacities[i] = splat.Sigmoid(field("opacity"))

		c.Scales[i*3+0] = expf(field("scale_0"))
		c.Scales[i*3+1] = expf(field("scale_1"))
		c.Scales[i*3+2] = expf(field("scale_2"))

		q := splat.NormalizeQuaternion([4]float32{
			field("rot_0"), field("rot_1"), field("rot_2"), field("rot_3"),
		})
		copy(c.Rotations[i*4:], q[:])
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parsePLYHeader(r *bufio.Reader) (*plyHeader, error) {
	line, err := readHeaderLine(r)
	if err != nil || line != "ply" {
		return nil, fmt.Errorf("loader: not a ply file")
	}

	hdr := &plyHeader{}
	inVertex := false
	for {
		line, err := readHeaderLine(r)
		if err != nil {
			return nil, fmt.Errorf("loader: ply header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 || fields[1] != "binary_little_endian" {
				return nil, fmt.Errorf("loader: unsupported ply format %q", line)
			}
		case "comment":
		case "element":
			inVertex = len(fields) == 3 && fields[1] == "vertex"
			if inVertex {
				n, err := strconv.Atoi(fields[2])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("loader: bad vertex count %q", fields[2])
				}
				hdr.count = n
			}
		case "property":
			if !inVertex {
				continue
			}
			if len(fields) != 3 || fields[1] != "float" {
				return nil, fmt.Errorf("loader: unsupported ply property %q", line)
			}
			hdr.props = append(hdr.props, fields[2])
		case "end_header":
			if hdr.count == 0 || len(hdr.props) == 0 {
				return nil, fmt.Errorf("loader: ply has no vertex data")
			}
			return hdr, nil
		default:
			return nil, fmt.Errorf("loader: unexpected ply header line %q", line)
		}
	}
}

func readHeaderLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func expf(x float32) float32 {
	return float32(math.Exp(float64(x)))
}
