package loader

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/foxglove/mcap/go/mcap"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

// SplatSchemaName identifies GaussianSplatMsg channels in a recording.
const SplatSchemaName = "gs_debug_viewer/GaussianSplatMsg"

// gaussianSplatMsg is the JSON wire form written by the recording
// tool: a count plus five base64-encoded little-endian float32 arrays.
type gaussianSplatMsg struct {
	Timestamp    float64 `json:"timestamp"`
	FrameID      string  `json:"frame_id"`
	Count        int     `json:"count"`
	PositionsB64 string  `json:"positions_b64"`
	ScalesB64    string  `json:"scales_b64"`
	RotationsB64 string  `json:"rotations_b64"`
	OpacitiesB64 string  `json:"opacities_b64"`
	ColorsB64    string  `json:"colors_b64"`
}

// LoadMCAP reads the last GaussianSplatMsg on the given topic of an
// MCAP recording. An empty topic matches any channel whose schema is
// SplatSchemaName. The arrays arrive already activated.
func LoadMCAP(path, topic string) (*splat.Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMCAP(f, topic)
}

func ReadMCAP(r io.Reader, topic string) (*splat.Cloud, error) {
	reader, err := mcap.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("loader: open mcap: %w", err)
	}
	defer reader.Close()

	it, err := reader.Messages(mcap.UsingIndex(false))
	if err != nil {
		return nil, fmt.Errorf("loader: read mcap: %w", err)
	}

	var last []byte
	var lastTopic string
	for {
		schema, channel, message, err := it.Next(nil)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("loader: mcap message: %w", err)
		}
		if schema == nil || schema.Name != SplatSchemaName {
			continue
		}
		if topic != "" && channel.Topic != topic {
			continue
		}
		last = append(last[:0], message.Data...)
		lastTopic = channel.Topic
	}
	if last == nil {
		if topic != "" {
			return nil, fmt.Errorf("loader: no %s message on topic %q", SplatSchemaName, topic)
		}
		return nil, fmt.Errorf("loader: no %s message in recording", SplatSchemaName)
	}

	cloud, err := DecodeSplatMessage(last)
	if err != nil {
		return nil, fmt.Errorf("loader: topic %q: %w", lastTopic, err)
	}
	return cloud, nil
}

// DecodeSplatMessage parses one GaussianSplatMsg payload.
func DecodeSplatMessage(data []byte) (*splat.Cloud, error) {
	var msg gaussianSplatMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	c := &splat.Cloud{
		Count:     msg.Count,
		Timestamp: msg.Timestamp,
		FrameID:   msg.FrameID,
	}
	var err error
	if c.Positions, err = decodeFloats(msg.PositionsB64, 3*msg.Count, "positions"); err != nil {
		return nil, err
	}
	if c.Scales, err = decodeFloats(msg.ScalesB64, 3*msg.Count, "scales"); err != nil {
		return nil, err
	}
	if c.Rotations, err = decodeFloats(msg.RotationsB64, 4*msg.Count, "rotations"); err != nil {
		return nil, err
	}
	if c.Opacities, err = decodeFloats(msg.OpacitiesB64, msg.Count, "opacities"); err != nil {
		return nil, err
	}
	if c.Colors, err = decodeFloats(msg.ColorsB64, 3*msg.Count, "colors"); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeFloats(b64 string, want int, field string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	if len(raw) != want*4 {
		return nil, fmt.Errorf("decode %s: %d bytes, want %d", field, len(raw), want*4)
	}
	out := make([]float32, want)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
