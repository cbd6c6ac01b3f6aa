// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package engine ties the driver, render graph, streaming
// caches and frame pacing together. An Engine owns the GPU
// queue; everything that touches driver object lifetimes
// runs on the goroutine that calls its methods.
package engine

import (
	"errors"
	"log/slog"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/rgraph"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/texcache"
)

// Engine is the top-level object. Create one with New and
// release it with Close.
type Engine struct {
	cfg Config
	log *slog.Logger

	gpu       driver.GPU
	swapchain driver.Swapchain
	rm        *ResourceManager
	targets   *Targets
	pipelines *PipelineRegistry
	textures  *texcache.Cache

	frames   [frameOverlap]*frame
	frameNum uint32

	// graph is rebuilt every frame; kept to reuse its
	// allocations.
	graph rgraph.Graph

	// Drawable size requested by the window system; a
	// mismatch with the swapchain extent schedules a
	// recreate on the next frame.
	wantWidth, wantHeight int
	resizePending         bool
}

// New bootstraps the engine from a configuration.
// Construction is transactional: any failure rolls back the
// already-created objects in reverse order.
func New(cfg Config, log *slog.Logger) (e *Engine, err error) {
	cfg.sanitize()
	if log == nil {
		log = slog.Default()
	}
	e = &Engine{cfg: cfg, log: log, wantWidth: cfg.Width, wantHeight: cfg.Height}

	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		e = nil
	}()

	if e.gpu, err = driver.Open(cfg.Driver); err != nil {
		return
	}

	pres, ok := e.gpu.(driver.Presenter)
	if !ok {
		err = driver.ErrCannotPresent
		return
	}
	if e.swapchain, err = pres.NewSwapchain(cfg.Width, cfg.Height, frameOverlap+1); err != nil {
		return
	}
	undo = append(undo, e.swapchain.Destroy)

	if e.rm, err = newResourceManager(e.gpu, log); err != nil {
		return
	}
	undo = append(undo, e.rm.free)

	if e.targets, err = newTargets(e.rm, cfg.Width, cfg.Height, cfg.RenderScale); err != nil {
		return
	}
	undo = append(undo, e.targets.free)

	for i := range e.frames {
		if e.frames[i], err = newFrame(e.gpu); err != nil {
			return
		}
		f := e.frames[i]
		undo = append(undo, f.free)
	}

	e.pipelines = newPipelineRegistry(e.gpu, log)
	undo = append(undo, e.pipelines.free)

	// From here on, resource destruction rides the frame
	// ring's deletion queues.
	e.rm.deferFree = e.deferDestroy

	if !e.gpu.Features().DescUpdateAfterBind {
		log.Warn("engine: device lacks update-after-bind; streamed descriptor patching may stall")
	}

	e.textures = texcache.New(e.rm, texcache.Options{
		MaxLoadsPerPump:    cfg.TextureMaxLoadsPerPump,
		MaxBytesPerPump:    cfg.TextureMaxBytesPerPump,
		CPUSourceBudget:    cfg.TextureCPUSourceBudget,
		KeepSourceBytes:    cfg.TextureKeepSourceBytes,
		MaxUploadDimension: cfg.TextureMaxUploadDimension,
		GPUBudget:          cfg.TextureGPUBudgetBytes,
		FmtSupported:       e.gpu.FmtSupported,
		Log:                log,
	})

	log.Info("engine: up",
		"driver", cfg.Driver, "extent", [2]int{cfg.Width, cfg.Height},
		"renderScale", cfg.RenderScale)
	return e, nil
}

// Close drains the GPU and destroys everything the engine
// owns.
func (e *Engine) Close() {
	if e.gpu == nil {
		return
	}
	if err := e.gpu.WaitIdle(); err != nil {
		e.log.Warn("engine: wait idle on close", "err", err)
	}
	e.textures.Close()
	e.pipelines.free()
	for _, f := range e.frames {
		f.flushDeletions()
		f.free()
	}
	e.targets.free()
	e.rm.free()
	e.swapchain.Destroy()
	e.gpu = nil
}

// GPU exposes the device for collaborators that record
// their own passes.
func (e *Engine) GPU() driver.GPU { return e.gpu }

// Resources returns the resource manager.
func (e *Engine) Resources() *ResourceManager { return e.rm }

// Targets returns the per-frame render targets.
func (e *Engine) Targets() *Targets { return e.targets }

// Pipelines returns the pipeline registry.
func (e *Engine) Pipelines() *PipelineRegistry { return e.pipelines }

// Textures returns the streaming texture cache.
func (e *Engine) Textures() *texcache.Cache { return e.textures }

// FrameNum returns the number of frames begun so far.
func (e *Engine) FrameNum() uint32 { return e.frameNum }

// deferDestroy queues fn so it runs only after every frame
// submitted so far has retired. The previous slot's fence is
// the one that clears last among them: fences signal in
// submission order.
func (e *Engine) deferDestroy(fn func()) {
	e.frame(e.frameNum + frameOverlap - 1).Defer(fn)
}

// RequestResize records a new drawable extent; the
// swapchain is recreated at the start of the next frame.
func (e *Engine) RequestResize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	e.wantWidth, e.wantHeight = width, height
	e.resizePending = true
}

// SetRenderScale adjusts the render-extent multiplier and
// rebuilds the internal targets.
func (e *Engine) SetRenderScale(s float64) error {
	s = clampScale(s)
	if s == e.cfg.RenderScale {
		return nil
	}
	e.cfg.RenderScale = s
	if err := e.gpu.WaitIdle(); err != nil {
		return err
	}
	return e.targets.resize(e.rm, e.wantWidth, e.wantHeight, s)
}

var errClosed = errors.New("engine: closed")
