// Package worker runs the per-scene background thread of the splat
// pipeline: it adopts the packed splat buffer, expands it into the
// covariance texture once per scene, and answers view updates with
// front-to-back index orderings. All communication is message passing
// with transfer of ownership; no memory is shared with the render side.
package worker

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/masahiro-kubota/lichtblick-gs-viewer/core"
)

// Request is a message from the render side to the worker. Requests
// are processed strictly in order of arrival.
type Request interface{ isRequest() }

// Load hands a packed splat buffer to the worker. The buffer is owned
// by the worker afterwards. SceneID tags all responses produced for
// this scene.
type Load struct {
	SceneID uuid.UUID
	Buffer  []byte
	Count   int
}

// SetAlpha updates the visibility cutoff (clamped to [1,255]) and
// forces the next sort to run regardless of view similarity.
type SetAlpha struct {
	Cutoff uint8
}

// Sort asks for a fresh depth ordering under the given column-major
// view-projection matrix. A sort too similar to the previous accepted
// one is skipped silently.
type Sort struct {
	ViewProj [16]float32
}

func (Load) isRequest()     {}
func (SetAlpha) isRequest() {}
func (Sort) isRequest()     {}

// Response is a message from the worker back to the render side.
type Response interface{ isResponse() }

// Texture carries the covariance texture for a freshly loaded scene.
// It always precedes the scene's first Indices response.
type Texture struct {
	SceneID uuid.UUID
	*TextureData
}

// Indices carries one sort's output: visibility-ordered splat indices,
// front first. Ownership of the slice transfers to the receiver.
type Indices struct {
	SceneID      uuid.UUID
	Indices      []uint32
	VisibleCount uint32
	TotalCount   uint32
}

// LoadFailed reports that covariance generation rejected a scene. Any
// previously loaded scene remains bound.
type LoadFailed struct {
	SceneID uuid.UUID
	Err     error
}

func (Texture) isResponse()    {}
func (Indices) isResponse()    {}
func (LoadFailed) isResponse() {}

// Worker is one scene-owning sort thread. Start it once, feed it
// requests, and drain Responses from the render loop.
type Worker struct {
	requests  chan Request
	responses chan Response
	log       core.Logger

	sceneID uuid.UUID
	sorter  *depthSorter
	cutoff  uint8
}

func New(log core.Logger) *Worker {
	return &Worker{
		requests:  make(chan Request, 16),
		responses: make(chan Response, 8),
		log:       log,
		cutoff:    1,
	}
}

// Start spawns the worker goroutine. The goroutine exits when Close
// is called and all queued requests have been handled.
func (w *Worker) Start() {
	go w.run()
}

// Responses is the channel the render side drains each frame.
func (w *Worker) Responses() <-chan Response {
	return w.responses
}

// Load enqueues a scene. Blocks only if the request queue is full.
func (w *Worker) Load(id uuid.UUID, buf []byte, count int) {
	w.requests <- Load{SceneID: id, Buffer: buf, Count: count}
}

// SetAlpha enqueues a cutoff change.
func (w *Worker) SetAlpha(cutoff uint8) {
	w.requests <- SetAlpha{Cutoff: cutoff}
}

// TrySort enqueues a sort request unless the queue is full, in which
// case the request is dropped; the caller will ask again next frame.
func (w *Worker) TrySort(viewProj [16]float32) bool {
	select {
	case w.requests <- Sort{ViewProj: viewProj}:
		return true
	default:
		return false
	}
}

// Close shuts the worker down after the queued requests drain.
func (w *Worker) Close() {
	close(w.requests)
}

func (w *Worker) run() {
	for req := range w.requests {
		w.handle(req)
	}
	close(w.responses)
}

// handle dispatches one request, absorbing panics so a bad sort does
// not take the worker down; a panic during load surfaces as a
// LoadFailed response instead.
func (w *Worker) handle(req Request) {
	defer func() {
		if r := recover(); r != nil {
			if load, ok := req.(Load); ok {
				w.responses <- LoadFailed{SceneID: load.SceneID, Err: fmt.Errorf("worker: load panic: %v", r)}
				return
			}
			w.log.Errorf("worker: recovered from panic: %v", r)
		}
	}()

	switch m := req.(type) {
	case Load:
		tex, err := buildTexture(m.Buffer, m.Count)
		if err != nil {
			w.responses <- LoadFailed{SceneID: m.SceneID, Err: err}
			return
		}
		w.sceneID = m.SceneID
		w.sorter = newDepthSorter(m.Buffer, m.Count)
		w.sorter.setCutoff(w.cutoff)
		w.responses <- Texture{SceneID: m.SceneID, TextureData: tex}
		w.log.Debugf("worker: loaded scene %s (%d splats, %dx%d texture)",
			m.SceneID, m.Count, tex.Width, tex.Height)

	case SetAlpha:
		w.cutoff = m.Cutoff
		if w.cutoff < 1 {
			w.cutoff = 1
		}
		if w.sorter != nil {
			w.sorter.setCutoff(w.cutoff)
		}

	case Sort:
		if w.sorter == nil {
			return
		}
		indices, ok := w.sorter.sort(m.ViewProj)
		if !ok {
			return
		}
		w.responses <- Indices{
			SceneID:      w.sceneID,
			Indices:      indices,
			VisibleCount: uint32(len(indices)),
			TotalCount:   uint32(w.sorter.count),
		}
	}
}
