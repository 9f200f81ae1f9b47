package core

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type TextVertex struct {
	Pos   [2]float32
	UV    [2]float32
	Color [4]float32
}

type GlyphInfo struct {
	UVMin [2]float32
	UVMax [2]float32
	Size  [2]float32
	Off   [2]float32
	Adv   float32
}

// TextRenderer rasterizes ASCII glyphs into an alpha atlas once and
// builds textured quads for overlay strings. With an empty font path
// it falls back to the built-in 7x13 bitmap face.
type TextRenderer struct {
	AtlasImage *image.Alpha
	Glyphs     map[rune]GlyphInfo
	Face       font.Face
}

func NewTextRenderer(fontPath string, fontSize float64) (*TextRenderer, error) {
	var face font.Face
	if fontPath == "" {
		face = basicfont.Face7x13
	} else {
		fontBytes, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("read font file: %w", err)
		}
		f, err := opentype.Parse(fontBytes)
		if err != nil {
			return nil, fmt.Errorf("parse font: %w", err)
		}
		face, err = opentype.NewFace(f, &opentype.FaceOptions{
			Size:    fontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("create face: %w", err)
		}
	}

	const atlasSize = 512
	atlas := image.NewAlpha(image.Rect(0, 0, atlasSize, atlasSize))
	glyphs := make(map[rune]GlyphInfo)

	x, y := 2, 2
	rowHeight := 0
	for r := rune(32); r < 127; r++ {
		bounds, mask, maskp, adv, ok := face.Glyph(fixed.Point26_6{}, r)
		if !ok {
			continue
		}
		w := bounds.Dx()
		h := bounds.Dy()

		if x+w >= atlasSize {
			x = 2
			y += rowHeight + 4
			rowHeight = 0
		}
		if y+h >= atlasSize {
			break
		}

		draw.Draw(atlas, image.Rect(x, y, x+w, y+h), mask, maskp, draw.Src)

		glyphs[r] = GlyphInfo{
			UVMin: [2]float32{float32(x) / atlasSize, float32(y) / atlasSize},
			UVMax: [2]float32{float32(x+w) / atlasSize, float32(y+h) / atlasSize},
			Size:  [2]float32{float32(w), float32(h)},
			Off:   [2]float32{float32(bounds.Min.X), float32(bounds.Min.Y)},
			Adv:   float32(adv) / 64.0,
		}

		x += w + 4
		if h > rowHeight {
			rowHeight = h
		}
	}

	return &TextRenderer{
		AtlasImage: atlas,
		Glyphs:     glyphs,
		Face:       face,
	}, nil
}

// BuildVertices lays out one string at a pixel position (top-left
// anchored) and returns clip-space quads, two triangles per glyph.
func (tr *TextRenderer) BuildVertices(text string, px, py float32, color [4]float32, screenW, screenH int) []TextVertex {
	vertices := make([]TextVertex, 0, len(text)*6)
	sw := float32(screenW)
	sh := float32(screenH)
	ascent := float32(tr.Face.Metrics().Ascent.Ceil())

	penX := px
	penY := py + ascent
	for _, r := range text {
		g, ok := tr.Glyphs[r]
		if !ok {
			penX += tr.Glyphs[' '].Adv
			continue
		}

		x0 := penX + g.Off[0]
		y0 := penY + g.Off[1]
		x1 := x0 + g.Size[0]
		y1 := y0 + g.Size[1]

		// pixel space -> clip space, Y down
		cx0 := x0/sw*2 - 1
		cx1 := x1/sw*2 - 1
		cy0 := 1 - y0/sh*2
		cy1 := 1 - y1/sh*2

		v00 := TextVertex{Pos: [2]float32{cx0, cy0}, UV: [2]float32{g.UVMin[0], g.UVMin[1]}, Color: color}
		v10 := TextVertex{Pos: [2]float32{cx1, cy0}, UV: [2]float32{g.UVMax[0], g.UVMin[1]}, Color: color}
		v01 := TextVertex{Pos: [2]float32{cx0, cy1}, UV: [2]float32{g.UVMin[0], g.UVMax[1]}, Color: color}
		v11 := TextVertex{Pos: [2]float32{cx1, cy1}, UV: [2]float32{g.UVMax[0], g.UVMax[1]}, Color: color}
		vertices = append(vertices, v00, v10, v11, v00, v11, v01)

		penX += g.Adv
	}
	return vertices
}
