// Package app hosts the viewer: WebGPU bring-up, the scene worker,
// and the per-frame update/render loop.
package app

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/google/uuid"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/core"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/gpu"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/worker"
)

type App struct {
	Window *glfw.Window
	Camera *core.OrbitCamera
	Log    core.Logger

	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	config   *wgpu.SurfaceConfiguration

	splats  *gpu.SplatPipeline
	overlay *gpu.OverlayPipeline
	text    *core.TextRenderer
	worker  *worker.Worker

	sceneID      uuid.UUID
	totalCount   int
	visibleCount uint32
	alphaCutoff  uint8

	status      string
	statusDirty bool

	FontPath string
}

func NewApp(window *glfw.Window, log core.Logger) *App {
	return &App{
		Window:      window,
		Camera:      core.NewOrbitCamera(),
		Log:         log,
		alphaCutoff: 1,
		status:      "no scene",
		statusDirty: true,
	}
}

// Init brings up the GPU and starts the scene worker. Device and
// pipeline failures here are fatal: without a device or a compiled
// shader there is nothing to fall back to. A font that fails to load
// only logs a warning and leaves the status overlay off.
func (a *App) Init() error {
	a.instance = wgpu.CreateInstance(nil)

	a.surface = a.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("no compatible GPU adapter: %w", err)
	}
	a.adapter = adapter

	a.device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	a.queue = a.device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.surface.GetCapabilities(adapter)
	format := caps.Formats[0]

	// "Under" blending composes against destination alpha, so the
	// surface must carry an alpha channel in premultiplied mode when
	// the compositor offers it.
	alphaMode := caps.AlphaModes[0]
	for _, m := range caps.AlphaModes {
		if m == wgpu.CompositeAlphaModePremultiplied {
			alphaMode = m
			break
		}
	}

	a.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   alphaMode,
	}
	a.surface.Configure(adapter, a.device, a.config)

	a.splats, err = gpu.NewSplatPipeline(a.device, a.queue, format)
	if err != nil {
		return err
	}

	a.text, err = core.NewTextRenderer(a.FontPath, 16)
	if err != nil {
		a.Log.Warnf("app: text renderer unavailable: %v", err)
	} else {
		a.overlay, err = gpu.NewOverlayPipeline(a.device, a.queue, format, a.text)
		if err != nil {
			return err
		}
	}

	a.worker = worker.New(a.Log)
	a.worker.Start()

	a.Log.Infof("app: initialized %dx%d, format %v, alpha mode %v", width, height, format, alphaMode)
	return nil
}

// LoadCloud packs a normalized cloud and hands it to the worker. The
// packed buffer is moved; the caller keeps the cloud.
func (a *App) LoadCloud(c *splat.Cloud) error {
	if err := c.Validate(); err != nil {
		return err
	}
	a.sceneID = uuid.New()
	a.totalCount = c.Count
	a.visibleCount = 0
	a.setStatus("loading...")
	a.worker.Load(a.sceneID, splat.Pack(c), c.Count)
	a.Log.Infof("app: loading scene %s (%d splats)", a.sceneID, c.Count)
	return nil
}

// SetAlphaCutoff updates the visibility threshold, forcing a resort.
func (a *App) SetAlphaCutoff(v uint8) {
	if v < 1 {
		v = 1
	}
	if v == a.alphaCutoff {
		return
	}
	a.alphaCutoff = v
	a.worker.SetAlpha(v)
	a.Log.Debugf("app: alpha cutoff %d", v)
}

// AdjustAlphaCutoff nudges the cutoff by delta, clamped to [1,255].
func (a *App) AdjustAlphaCutoff(delta int) {
	v := int(a.alphaCutoff) + delta
	if v < 1 {
		v = 1
	}
	if v > 255 {
		v = 255
	}
	a.SetAlphaCutoff(uint8(v))
}

// AlphaCutoff is the current visibility threshold.
func (a *App) AlphaCutoff() uint8 {
	return a.alphaCutoff
}

func (a *App) Resize(width, height int) {
	if width == 0 || height == 0 {
		return
	}
	a.config.Width = uint32(width)
	a.config.Height = uint32(height)
	a.surface.Configure(a.adapter, a.device, a.config)
	a.statusDirty = true
}

// Update drains worker responses in arrival order and requests a sort
// for the current view. Responses from unloaded scenes are dropped.
func (a *App) Update() {
	for {
		select {
		case msg, ok := <-a.worker.Responses():
			if !ok {
				return
			}
			a.apply(msg)
		default:
			a.requestSort()
			return
		}
	}
}

func (a *App) apply(msg worker.Response) {
	switch m := msg.(type) {
	case worker.Texture:
		if m.SceneID != a.sceneID {
			return
		}
		if err := a.splats.SetTexture(m.Data, m.Width, m.Height); err != nil {
			a.setStatus(fmt.Sprintf("error: %v", err))
			a.Log.Errorf("app: %v", err)
			return
		}
		a.setStatus(fmt.Sprintf("%d splats [webgpu]", a.totalCount))
	case worker.Indices:
		// Stale sorts are still consistent with a recent view; apply
		// them as long as the scene matches.
		if m.SceneID != a.sceneID {
			return
		}
		if err := a.splats.SetIndices(m.Indices); err != nil {
			a.Log.Errorf("app: %v", err)
			return
		}
		if m.VisibleCount != a.visibleCount {
			a.visibleCount = m.VisibleCount
			a.Log.Debugf("app: %d/%d splats visible", m.VisibleCount, m.TotalCount)
		}
	case worker.LoadFailed:
		if m.SceneID != a.sceneID {
			return
		}
		a.setStatus(fmt.Sprintf("error: %v", m.Err))
		a.Log.Errorf("app: scene load failed: %v", m.Err)
	}
}

func (a *App) requestSort() {
	if a.totalCount == 0 {
		return
	}
	a.worker.TrySort(a.Camera.ViewProj(a.config.Width, a.config.Height))
}

func (a *App) setStatus(s string) {
	if s == a.status {
		return
	}
	a.status = s
	a.statusDirty = true
}

// Status is the user-visible one-liner: splat count and backend, or
// the most recent error.
func (a *App) Status() string {
	return a.status
}

func (a *App) Render() {
	nextTexture, err := a.surface.GetCurrentTexture()
	if err != nil {
		a.Log.Errorf("app: GetCurrentTexture: %v", err)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Log.Errorf("app: CreateView: %v", err)
		return
	}
	defer view.Release()

	encoder, err := a.device.CreateCommandEncoder(nil)
	if err != nil {
		a.Log.Errorf("app: CreateCommandEncoder: %v", err)
		return
	}

	a.splats.UpdateUniforms(
		a.Camera.ProjectionMatrix(a.config.Width, a.config.Height),
		a.Camera.ViewMatrix(),
		a.Camera.Focal(a.config.Height),
		a.config.Width, a.config.Height,
	)

	if a.statusDirty && a.overlay != nil {
		a.overlay.SetVertices(a.text.BuildVertices(
			a.status, 10, 10, [4]float32{1, 1, 1, 1},
			int(a.config.Width), int(a.config.Height)))
		a.statusDirty = false
	}

	// Color and alpha both clear to zero: under blending accumulates
	// coverage in destination alpha.
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	a.splats.Draw(pass)
	if a.overlay != nil {
		a.overlay.Draw(pass)
	}
	if err := pass.End(); err != nil {
		a.Log.Errorf("app: render pass: %v", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		a.Log.Errorf("app: encoder finish: %v", err)
		return
	}
	a.queue.Submit(cmd)
	a.surface.Present()
}

// Close tears the viewer down: worker first, then GPU resources.
func (a *App) Close() {
	if a.worker != nil {
		a.worker.Close()
		for range a.worker.Responses() {
			// drain until the worker goroutine exits
		}
	}
	if a.overlay != nil {
		a.overlay.Release()
	}
	if a.splats != nil {
		a.splats.Release()
	}
	if a.device != nil {
		a.device.Release()
	}
}
