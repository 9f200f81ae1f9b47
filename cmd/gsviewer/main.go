package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/app"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/core"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/loader"
	"github.com/masahiro-kubota/lichtblick-gs-viewer/splat"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	mcapPath := flag.String("mcap", "", "MCAP recording with GaussianSplatMsg messages")
	topic := flag.String("topic", "", "topic to read from the recording (default: any splat topic)")
	plyPath := flag.String("ply", "", "3DGS PLY file (raw training output)")
	alpha := flag.Int("alpha", 1, "alpha cutoff in [1,255]")
	fontPath := flag.String("font", "", "TTF font for the overlay (default: built-in bitmap font)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := core.NewDefaultLogger(*debug)

	cloud, err := loadScene(*mcapPath, *plyPath, *topic)
	if err != nil {
		log.Errorf("%v", err)
		flag.Usage()
		os.Exit(1)
	}

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	window, err := glfw.CreateWindow(1280, 720, "Gaussian Splats", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window, log)
	application.FontPath = *fontPath
	if err := application.Init(); err != nil {
		log.Errorf("init: %v", err)
		os.Exit(1)
	}
	defer application.Close()

	if *alpha != 1 {
		application.SetAlphaCutoff(uint8(clampInt(*alpha, 1, 255)))
	}
	if err := application.LoadCloud(cloud); err != nil {
		log.Errorf("load: %v", err)
		os.Exit(1)
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	var lastX, lastY float64
	var dragging bool
	window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button == glfw.MouseButtonLeft {
			dragging = action == glfw.Press
			lastX, lastY = w.GetCursorPos()
		}
	})
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if dragging {
			application.Camera.Orbit(
				float32(xpos-lastX)*0.005,
				float32(ypos-lastY)*0.005,
			)
		}
		lastX, lastY = xpos, ypos
	})
	window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		application.Camera.Dolly(float32(-yoff) * 0.1)
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press && action != glfw.Repeat {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyLeftBracket:
			application.AdjustAlphaCutoff(-5)
		case glfw.KeyRightBracket:
			application.AdjustAlphaCutoff(5)
		}
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		application.Render()
	}
}

func loadScene(mcapPath, plyPath, topic string) (*splat.Cloud, error) {
	switch {
	case mcapPath != "" && plyPath != "":
		return nil, fmt.Errorf("pass either -mcap or -ply, not both")
	case mcapPath != "":
		return loader.LoadMCAP(mcapPath, topic)
	case plyPath != "":
		return loader.LoadPLY(plyPath)
	}
	return nil, fmt.Errorf("a scene is required: pass -mcap or -ply")
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
