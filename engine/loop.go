// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/rgraph"
)

// acquireTimeout bounds the wait for a swapchain image.
const acquireTimeout = time.Second

// FrameInfo is handed to the per-frame build callback.
type FrameInfo struct {
	// Graph is empty except for the upload pass; register
	// the frame's passes on it.
	Graph *rgraph.Graph
	// Swapchain is the imported backbuffer handle. The
	// engine appends the present chain; do not write it
	// from the callback.
	Swapchain rgraph.ImageHandle
	// Frame is the current frame number.
	Frame uint32
}

// FrameBuildFunc registers the frame's passes and returns
// the handle of the final color image to present, plus an
// optional overlay hook that draws directly onto the
// swapchain image after the blit.
type FrameBuildFunc func(fi *FrameInfo) (final rgraph.ImageHandle, overlay func(*rgraph.Graph), err error)

// frameAlloc backs the graph's transient resources with
// allocations that die when the frame's fence clears.
type frameAlloc struct {
	rm *ResourceManager
	f  *frame
}

func (a frameAlloc) NewTransientImage(desc rgraph.ImageDesc) (driver.ImageView, error) {
	img, err := a.rm.CreateImage(desc.Width, desc.Height, desc.Format, desc.Usage, 1)
	if err != nil {
		return nil, err
	}
	a.f.Defer(img.Free)
	return img.View, nil
}

func (a frameAlloc) NewTransientBuffer(desc rgraph.BufferDesc) (driver.Buffer, error) {
	buf, err := a.rm.gpu.NewBuffer(desc.Size, driver.TDevice, desc.Usage)
	if err != nil {
		return nil, err
	}
	a.f.Defer(buf.Destroy)
	return buf, nil
}

// RenderFrame runs one iteration of the frame loop: service
// pending resizes, acquire a backbuffer, pump the streaming
// caches, build and compile the frame graph, submit it, and
// present. A skipped frame (swapchain out of date) returns
// nil without advancing the frame number.
func (e *Engine) RenderFrame(build FrameBuildFunc) error {
	if e.gpu == nil {
		return errClosed
	}

	if e.resizePending {
		if err := e.recreateSwapchain(); err != nil {
			return err
		}
	}

	f := e.frame(e.frameNum)

	idx, err := e.swapchain.Next(acquireTimeout, f.acquire)
	switch {
	case errors.Is(err, driver.ErrSwapchain):
		e.resizePending = true
		return nil
	case errors.Is(err, driver.ErrSuboptimal):
		// Still presentable; recreate next frame.
		e.resizePending = true
	case err != nil:
		return fmt.Errorf("engine: acquire: %w", err)
	}

	if err := e.beginFrame(f); err != nil {
		return err
	}

	// Reload and streaming work happens after the fence
	// wait: anything they defer on f outlives the previous
	// use of every frame slot.
	e.pipelines.PumpReloads(f)
	e.textures.Pump(e.frameNum)

	g := &e.graph
	g.Reset()
	g.EnableTimings(f.qp)
	e.rm.RegisterUploadPass(g, f)

	swap := g.ImportImage("swapchain", e.swapchain.Views()[idx],
		rgraph.ImageState{Sync: driver.SNone, Access: driver.ANone, Layout: driver.LUndefined})

	final, overlay, err := build(&FrameInfo{Graph: g, Swapchain: swap, Frame: e.frameNum})
	if err != nil {
		e.recoverFrame(f)
		return err
	}
	g.AddPresentChain(final, swap, overlay)

	if err := g.Compile(frameAlloc{rm: e.rm, f: f}); err != nil {
		e.recoverFrame(f)
		return fmt.Errorf("engine: compile: %w", err)
	}
	if err := g.Execute(f.cb); err != nil {
		e.recoverFrame(f)
		return fmt.Errorf("engine: execute: %w", err)
	}
	f.spans = append(f.spans[:0], g.TimingSpans()...)

	if err := e.endFrame(f); err != nil {
		e.recoverFrame(f)
		return err
	}
	if err := e.swapchain.Present(idx, f.render); err != nil {
		if errors.Is(err, driver.ErrSwapchain) || errors.Is(err, driver.ErrSuboptimal) {
			e.resizePending = true
		} else {
			return fmt.Errorf("engine: present: %w", err)
		}
	}
	e.frameNum++
	return nil
}

// recoverFrame abandons a frame that failed after
// beginFrame. The slot's fence was already reset, so an
// empty submission re-signals it; the recorded commands are
// discarded by the next beginFrame's Reset. Without this the
// slot's next fence wait would time out and wedge the loop.
func (e *Engine) recoverFrame(f *frame) {
	if err := f.cb.End(); err != nil {
		e.log.Warn("engine: frame recovery: end", "err", err)
	}
	if err := e.gpu.Submit(nil, nil, nil, f.fence); err != nil {
		e.log.Warn("engine: frame recovery: submit", "err", err)
	}
}

// recreateSwapchain drains the queue, recreates the
// swapchain at the wanted extent and resizes the internal
// targets to match.
func (e *Engine) recreateSwapchain() error {
	if err := e.gpu.WaitIdle(); err != nil {
		return err
	}
	if err := e.swapchain.Recreate(e.wantWidth, e.wantHeight); err != nil {
		return fmt.Errorf("engine: swapchain recreate: %w", err)
	}
	if err := e.targets.resize(e.rm, e.wantWidth, e.wantHeight, e.cfg.RenderScale); err != nil {
		return err
	}
	e.resizePending = false
	e.log.Debug("engine: swapchain recreated",
		"extent", [2]int{e.wantWidth, e.wantHeight})
	return nil
}
