package gpu

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/core"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/shaders"
)

// OverlayPipeline draws the status line ("N splats [webgpu]" or an
// error) as textured quads over the splats.
type OverlayPipeline struct {
	device *wgpu.Device
	queue  *wgpu.Queue

	pipeline  *wgpu.RenderPipeline
	atlas     *wgpu.Texture
	atlasView *wgpu.TextureView
	sampler   *wgpu.Sampler
	bindGroup *wgpu.BindGroup

	vertexBuf   *wgpu.Buffer
	vertexCount uint32
}

func NewOverlayPipeline(device *wgpu.Device, queue *wgpu.Queue, format wgpu.TextureFormat, tr *core.TextRenderer) (*OverlayPipeline, error) {
	w := uint32(tr.AtlasImage.Bounds().Dx())
	h := uint32(tr.AtlasImage.Bounds().Dy())
	atlas, err := device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Overlay Atlas",
		Size:          wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay atlas: %w", err)
	}
	err = queue.WriteTexture(atlas.AsImageCopy(), tr.AtlasImage.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  w,
		RowsPerImage: h,
	}, &wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1})
	if err != nil {
		return nil, fmt.Errorf("overlay atlas upload: %w", err)
	}
	atlasView, err := atlas.CreateView(nil)
	if err != nil {
		return nil, fmt.Errorf("overlay atlas view: %w", err)
	}

	sampler, err := device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay sampler: %w", err)
	}

	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Overlay Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.OverlayWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("overlay shader: %w", err)
	}
	defer module.Release()

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Overlay Pipeline",
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: uint64(unsafe.Sizeof(core.TextVertex{})),
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: format,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorSrcAlpha,
						DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						Operation: wgpu.BlendOperationAdd,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOne,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
				},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("overlay pipeline: %w", err)
	}

	bindGroup, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Overlay Bind Group",
		Layout: pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: atlasView},
			{Binding: 1, Sampler: sampler},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("overlay bind group: %w", err)
	}

	return &OverlayPipeline{
		device:    device,
		queue:     queue,
		pipeline:  pipeline,
		atlas:     atlas,
		atlasView: atlasView,
		sampler:   sampler,
		bindGroup: bindGroup,
	}, nil
}

// SetVertices replaces the overlay geometry, growing the vertex
// buffer when needed.
func (p *OverlayPipeline) SetVertices(vertices []core.TextVertex) {
	p.vertexCount = uint32(len(vertices))
	if len(vertices) == 0 {
		return
	}
	size := uint64(len(vertices)) * uint64(unsafe.Sizeof(core.TextVertex{}))
	if p.vertexBuf == nil || p.vertexBuf.GetSize() < size {
		if p.vertexBuf != nil {
			p.vertexBuf.Release()
		}
		p.vertexBuf, _ = p.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Overlay VB",
			Size:  size,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
	}
	p.queue.WriteBuffer(p.vertexBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), size))
}

// Draw records the overlay quads into an open render pass.
func (p *OverlayPipeline) Draw(pass *wgpu.RenderPassEncoder) {
	if p.vertexBuf == nil || p.vertexCount == 0 {
		return
	}
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.SetVertexBuffer(0, p.vertexBuf, 0, wgpu.WholeSize)
	pass.Draw(p.vertexCount, 1, 0, 0)
}

// Release frees the overlay's GPU resources.
func (p *OverlayPipeline) Release() {
	if p.vertexBuf != nil {
		p.vertexBuf.Release()
	}
	p.bindGroup.Release()
	p.sampler.Release()
	p.atlasView.Release()
	p.atlas.Release()
	p.pipeline.Release()
}
