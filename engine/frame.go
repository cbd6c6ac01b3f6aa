// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"fmt"
	"time"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/rgraph"
)

// frameOverlap is the number of frames that may be in
// flight at once.
const frameOverlap = 2

// fenceTimeout bounds the wait for a frame slot's previous
// use; exceeding it means the device is lost or wedged.
const fenceTimeout = time.Second

// timestampQueries is sized for the deepest expected pass
// chain, two queries per pass.
const timestampQueries = 64

// frame is one slot of the in-flight ring. It owns the
// command buffer, pacing primitives, the transient
// descriptor allocator and the deletion queue of work that
// must wait for the slot's fence.
type frame struct {
	cb      driver.CmdBuffer
	fence   driver.Fence
	acquire driver.Semaphore
	render  driver.Semaphore
	desc    *DescAlloc
	qp      driver.QueryPool

	// Timing spans of the previous use of this slot,
	// resolvable once the fence has cleared.
	spans []rgraph.TimingSpan

	deletions []func()
}

func newFrame(gpu driver.GPU) (f *frame, err error) {
	f = &frame{}
	defer func() {
		if err != nil {
			f.free()
		}
	}()
	if f.cb, err = gpu.NewCmdBuffer(); err != nil {
		return nil, err
	}
	// Created signaled so the first beginFrame does not
	// block.
	if f.fence, err = gpu.NewFence(true); err != nil {
		return nil, err
	}
	if f.acquire, err = gpu.NewSemaphore(); err != nil {
		return nil, err
	}
	if f.render, err = gpu.NewSemaphore(); err != nil {
		return nil, err
	}
	if f.qp, err = gpu.NewQueryPool(timestampQueries); err != nil {
		return nil, err
	}
	f.desc = newDescAlloc(gpu)
	return f, nil
}

func (f *frame) free() {
	if f.desc != nil {
		f.desc.Destroy()
	}
	for _, d := range []driver.Destroyer{f.qp, f.render, f.acquire, f.fence, f.cb} {
		if d != nil {
			d.Destroy()
		}
	}
	*f = frame{}
}

// Defer schedules fn to run the next time this slot's fence
// clears. Use it to destroy resources the recorded frame
// still references.
func (f *frame) Defer(fn func()) { f.deletions = append(f.deletions, fn) }

// flushDeletions runs the queued deletions in FIFO order.
func (f *frame) flushDeletions() {
	for _, fn := range f.deletions {
		fn()
	}
	f.deletions = f.deletions[:0]
}

// frame returns the slot for the given frame number.
func (e *Engine) frame(n uint32) *frame { return e.frames[n%frameOverlap] }

// beginFrame makes the slot reusable: wait out its previous
// submission, flush deferred deletions, recycle descriptor
// pools and reset the command buffer.
func (e *Engine) beginFrame(f *frame) error {
	if err := f.fence.Wait(fenceTimeout); err != nil {
		return fmt.Errorf("engine: frame fence: %w", err)
	}
	if err := f.fence.Reset(); err != nil {
		return err
	}
	f.flushDeletions()
	f.desc.Reset()
	if err := f.cb.Reset(); err != nil {
		return err
	}
	return f.cb.Begin()
}

// endFrame submits the slot's command buffer: one wait on
// the acquire semaphore at color output, one signal of the
// render semaphore covering all graphics work, plus the
// slot fence.
func (e *Engine) endFrame(f *frame) error {
	if err := f.cb.End(); err != nil {
		return err
	}
	return e.gpu.Submit(
		[]driver.CmdBuffer{f.cb},
		[]driver.SemSync{{Sem: f.acquire, Sync: driver.SColorOutput}},
		[]driver.SemSync{{Sem: f.render, Sync: driver.SDraw | driver.SColorOutput | driver.SDSOutput}},
		f.fence,
	)
}

// PassTimings resolves the GPU timings of the frame slot's
// previous use. ok is false while the queries are still in
// flight.
func (e *Engine) PassTimings() ([]rgraph.PassTiming, bool, error) {
	f := e.frame(e.frameNum)
	if len(f.spans) == 0 {
		return nil, false, nil
	}
	return rgraph.ResolveTimings(f.qp, f.spans)
}
