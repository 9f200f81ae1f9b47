package shaders

import (
	_ "embed"
)

//go:embed splat.wgsl
var SplatWGSL string

//go:embed overlay.wgsl
var OverlayWGSL string
