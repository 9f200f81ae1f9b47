// Package gpu owns the WebGPU resources of the viewer: the instanced
// splat pipeline and the status-text overlay.
package gpu

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/shaders"
)

// splatUniforms mirrors the Uniforms block in splat.wgsl.
type splatUniforms struct {
	Projection [16]float32
	View       [16]float32
	Focal      [2]float32
	Viewport   [2]float32
}

// SplatPipeline draws one quad per visible splat: a shared 4-vertex
// quad with corners at +-2 sigma, a per-instance u32 splat index, and
// the covariance texture fetched in the vertex stage. Blending is
// premultiplied "under" composition (src scaled by one minus dst
// alpha, dst kept), so instances must arrive front to back over a
// zero-cleared target.
type SplatPipeline struct {
	device *wgpu.Device
	queue  *wgpu.Queue

	pipeline   *wgpu.RenderPipeline
	quadBuf    *wgpu.Buffer
	uniformBuf *wgpu.Buffer

	texture     *wgpu.Texture
	textureView *wgpu.TextureView
	bindGroup   *wgpu.BindGroup

	indexBuf      *wgpu.Buffer
	instanceCount uint32
}

func NewSplatPipeline(device *wgpu.Device, queue *wgpu.Queue, format wgpu.TextureFormat) (*SplatPipeline, error) {
	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Splat Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.SplatWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("splat shader: %w", err)
	}
	defer module.Release()

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Splat Pipeline",
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: 8,
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					},
				},
				{
					ArrayStride: 4,
					StepMode:    wgpu.VertexStepModeInstance,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatUint32, Offset: 0, ShaderLocation: 1},
					},
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: format,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOneMinusDstAlpha,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOneMinusDstAlpha,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
				},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleStrip,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: nil,
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("splat pipeline: %w", err)
	}

	quad := []float32{-2, -2, 2, -2, -2, 2, 2, 2}
	quadBuf, err := device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "Splat Quad",
		Contents: wgpu.ToBytes(quad),
		Usage:    wgpu.BufferUsageVertex,
	})
	if err != nil {
		return nil, fmt.Errorf("quad buffer: %w", err)
	}

	uniformBuf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Splat Uniforms",
		Size:  uint64(unsafe.Sizeof(splatUniforms{})),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("uniform buffer: %w", err)
	}

	return &SplatPipeline{
		device:     device,
		queue:      queue,
		pipeline:   pipeline,
		quadBuf:    quadBuf,
		uniformBuf: uniformBuf,
	}, nil
}

// SetTexture replaces the covariance texture for a new scene. The
// texture is integer-sampled (RGBA32Uint) and written exactly once.
func (p *SplatPipeline) SetTexture(data []uint32, width, height uint32) error {
	tex, err := p.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Covariance Texture",
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		Format:        wgpu.TextureFormatRGBA32Uint,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return fmt.Errorf("covariance texture: %w", err)
	}

	err = p.queue.WriteTexture(tex.AsImageCopy(), wgpu.ToBytes(data), &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  width * 16,
		RowsPerImage: height,
	}, &wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1})
	if err != nil {
		tex.Release()
		return fmt.Errorf("covariance upload: %w", err)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return fmt.Errorf("covariance view: %w", err)
	}

	bindGroup, err := p.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Splat Bind Group",
		Layout: p.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.uniformBuf, Size: wgpu.WholeSize},
			{Binding: 1, TextureView: view},
		},
	})
	if err != nil {
		view.Release()
		tex.Release()
		return fmt.Errorf("splat bind group: %w", err)
	}

	p.dropScene()
	p.texture = tex
	p.textureView = view
	p.bindGroup = bindGroup
	return nil
}

// SetIndices replaces the per-instance draw order with a fresh sort
// result. The slice is consumed here; an empty sort clears the draw.
func (p *SplatPipeline) SetIndices(indices []uint32) error {
	if p.indexBuf != nil {
		p.indexBuf.Release()
		p.indexBuf = nil
	}
	p.instanceCount = uint32(len(indices))
	if len(indices) == 0 {
		return nil
	}
	buf, err := p.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "Splat Order",
		Contents: wgpu.ToBytes(indices),
		Usage:    wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		p.instanceCount = 0
		return fmt.Errorf("index buffer: %w", err)
	}
	p.indexBuf = buf
	return nil
}

// UpdateUniforms pushes the frame's camera state.
func (p *SplatPipeline) UpdateUniforms(projection, view mgl32.Mat4, focal float32, width, height uint32) {
	u := splatUniforms{
		Projection: [16]float32(projection),
		View:       [16]float32(view),
		Focal:      [2]float32{focal, focal},
		Viewport:   [2]float32{float32(width), float32(height)},
	}
	p.queue.WriteBuffer(p.uniformBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&u)), unsafe.Sizeof(u)))
}

// InstanceCount is the number of splats the next Draw will emit.
func (p *SplatPipeline) InstanceCount() uint32 {
	return p.instanceCount
}

// Draw records the instanced splat draw into an open render pass.
// Nothing is drawn until both a texture and a sort result arrived.
func (p *SplatPipeline) Draw(pass *wgpu.RenderPassEncoder) {
	if p.bindGroup == nil || p.indexBuf == nil || p.instanceCount == 0 {
		return
	}
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.SetVertexBuffer(0, p.quadBuf, 0, wgpu.WholeSize)
	pass.SetVertexBuffer(1, p.indexBuf, 0, wgpu.WholeSize)
	pass.Draw(4, p.instanceCount, 0, 0)
}

func (p *SplatPipeline) dropScene() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.textureView != nil {
		p.textureView.Release()
		p.textureView = nil
	}
	if p.texture != nil {
		p.texture.Release()
		p.texture = nil
	}
}

// Release frees all GPU resources owned by the pipeline.
func (p *SplatPipeline) Release() {
	p.dropScene()
	if p.indexBuf != nil {
		p.indexBuf.Release()
		p.indexBuf = nil
	}
	p.uniformBuf.Release()
	p.quadBuf.Release()
	p.pipeline.Release()
}
