// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver/rec"
)

type testAlloc struct {
	gpu    driver.GPU
	images int
	bufs   int
}

func (a *testAlloc) NewTransientImage(desc ImageDesc) (driver.ImageView, error) {
	img, err := a.gpu.NewImage(desc.Format, driver.Dim3D{Width: desc.Width, Height: desc.Height, Depth: 1}, 1, 1, 1, desc.Usage)
	if err != nil {
		return nil, err
	}
	a.images++
	return img.NewView(driver.IView2D, 0, 1, 0, 1)
}

func (a *testAlloc) NewTransientBuffer(desc BufferDesc) (driver.Buffer, error) {
	a.bufs++
	return a.gpu.NewBuffer(desc.Size, driver.TDevice, desc.Usage)
}

func newGPU(t *testing.T) driver.GPU {
	t.Helper()
	gpu, err := driver.Open("rec")
	require.NoError(t, err)
	return gpu
}

func record(t *testing.T, g *Graph, gpu driver.GPU, alloc Allocator) *rec.CmdBuf {
	t.Helper()
	cb, err := gpu.NewCmdBuffer()
	require.NoError(t, err)
	require.NoError(t, g.Compile(alloc))
	require.NoError(t, cb.Begin())
	require.NoError(t, g.Execute(cb))
	require.NoError(t, cb.End())
	return cb.(*rec.CmdBuf)
}

// transitionsFor extracts the transitions that target view.
func transitionsFor(cmds []rec.Cmd, view driver.ImageView) (out []driver.Transition) {
	for _, c := range cmds {
		if tr, ok := c.(rec.CmdTransition); ok {
			for _, t := range tr.T {
				if t.IView == view {
					out = append(out, t)
				}
			}
		}
	}
	return
}

func TestWriteThenReadEmitsOneTransition(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	a := g.CreateImage(ImageDesc{
		Name: "a", Format: driver.RGBA16f, Width: 640, Height: 480,
		Usage: driver.URenderTarget | driver.UShaderSample,
	})
	out := g.CreateImage(ImageDesc{
		Name: "out", Format: driver.RGBA8un, Width: 640, Height: 480,
		Usage: driver.URenderTarget,
	})

	var execOrder []string
	g.AddPass("write", Graphics,
		func(b *Builder) { b.WriteColor(a, driver.LClear, driver.ClearValue{}) },
		func(driver.CmdBuffer, *Resources) { execOrder = append(execOrder, "write") })
	g.AddPass("read", Graphics,
		func(b *Builder) {
			b.Read(a, SampledFragment)
			b.WriteColor(out, driver.LClear, driver.ClearValue{})
		},
		func(driver.CmdBuffer, *Resources) { execOrder = append(execOrder, "read") })

	cb := record(t, &g, gpu, alloc)
	require.Equal(t, []string{"write", "read"}, execOrder)

	st, err := g.ImageState(a)
	require.NoError(t, err)
	tr := transitionsFor(cb.Cmds(), g.images[a].view)
	require.Len(t, tr, 2, "one transition into the write, one between write and read")

	require.Equal(t, driver.LUndefined, tr[0].LayoutBefore)
	require.Equal(t, driver.LColorTarget, tr[0].LayoutAfter)

	require.Equal(t, driver.LColorTarget, tr[1].LayoutBefore)
	require.Equal(t, driver.LShaderRead, tr[1].LayoutAfter)
	require.Equal(t, driver.SColorOutput, tr[1].SyncBefore)
	require.Equal(t, driver.AColorWrite|driver.AColorRead, tr[1].AccessBefore)
	require.Equal(t, driver.SFragmentShading, tr[1].SyncAfter)
	require.Equal(t, driver.AShaderRead, tr[1].AccessAfter)

	require.Equal(t, driver.LShaderRead, st.Layout)
}

func TestReadAfterReadFolds(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	a := g.CreateImage(ImageDesc{Name: "a", Format: driver.RGBA8un, Width: 16, Height: 16, Usage: driver.UGeneric})
	o1 := g.CreateImage(ImageDesc{Name: "o1", Format: driver.RGBA8un, Width: 16, Height: 16, Usage: driver.URenderTarget})
	o2 := g.CreateImage(ImageDesc{Name: "o2", Format: driver.RGBA8un, Width: 16, Height: 16, Usage: driver.URenderTarget})

	g.AddPass("w", Graphics, func(b *Builder) { b.WriteColor(a, driver.LClear, driver.ClearValue{}) }, nil)
	g.AddPass("r1", Graphics, func(b *Builder) {
		b.Read(a, SampledFragment)
		b.WriteColor(o1, driver.LClear, driver.ClearValue{})
	}, nil)
	g.AddPass("r2", Graphics, func(b *Builder) {
		b.Read(a, SampledFragment)
		b.WriteColor(o2, driver.LClear, driver.ClearValue{})
	}, nil)

	cb := record(t, &g, gpu, alloc)
	tr := transitionsFor(cb.Cmds(), g.images[a].view)
	// The second read finds the image already in LShaderRead
	// and emits nothing.
	require.Len(t, tr, 2)
}

func TestWriteAfterWriteBarrier(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	a := g.CreateImage(ImageDesc{Name: "a", Format: driver.RGBA8un, Width: 16, Height: 16, Usage: driver.URenderTarget})
	g.AddPass("w1", Graphics, func(b *Builder) { b.WriteColor(a, driver.LClear, driver.ClearValue{}) }, nil)
	g.AddPass("w2", Graphics, func(b *Builder) { b.WriteColor(a, driver.LLoad, driver.ClearValue{}) }, nil)

	cb := record(t, &g, gpu, alloc)
	var barriers []driver.Barrier
	for _, c := range cb.Cmds() {
		if b, ok := c.(rec.CmdBarrier); ok {
			barriers = append(barriers, b.Global...)
		}
	}
	// Same layout both times, but the hazard still needs a
	// barrier between the writers.
	require.Len(t, barriers, 1)
	require.Equal(t, driver.SColorOutput, barriers[0].SyncBefore)
	require.Equal(t, driver.SColorOutput, barriers[0].SyncAfter)
}

func TestStableRegistrationOrder(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	var order []string
	mk := func(name string) {
		h := g.CreateImage(ImageDesc{Name: name, Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})
		g.AddPass(name, Graphics,
			func(b *Builder) { b.WriteColor(h, driver.LClear, driver.ClearValue{}) },
			func(driver.CmdBuffer, *Resources) { order = append(order, name) })
	}
	mk("p0")
	mk("p1")
	mk("p2")

	record(t, &g, gpu, alloc)
	require.Equal(t, []string{"p0", "p1", "p2"}, order)
}

func TestDisabledPassBreaksChain(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	x := g.CreateImage(ImageDesc{Name: "x", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.UGeneric})
	y := g.CreateImage(ImageDesc{Name: "y", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.UGeneric})
	o := g.CreateImage(ImageDesc{Name: "o", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})

	g.AddPass("a", Graphics, func(b *Builder) { b.WriteColor(x, driver.LClear, driver.ClearValue{}) }, nil)
	bi := g.AddPass("b", Graphics, func(b *Builder) {
		b.Read(x, SampledFragment)
		b.WriteColor(y, driver.LClear, driver.ClearValue{})
	}, nil)
	g.AddPass("c", Graphics, func(b *Builder) {
		b.Read(y, SampledFragment)
		b.WriteColor(o, driver.LClear, driver.ClearValue{})
	}, nil)

	g.SetPassEnabled(bi, false)
	err := g.Compile(alloc)
	require.ErrorIs(t, err, ErrNoProducer)
}

func TestUnusedTransientNotAllocated(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	used := g.CreateImage(ImageDesc{Name: "used", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})
	g.CreateImage(ImageDesc{Name: "unused", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})
	g.CreateBuffer(BufferDesc{Name: "unused", Size: 256, Usage: driver.UGeneric})

	g.AddPass("p", Graphics, func(b *Builder) { b.WriteColor(used, driver.LClear, driver.ClearValue{}) }, nil)

	record(t, &g, gpu, alloc)
	require.Equal(t, 1, alloc.images)
	require.Equal(t, 0, alloc.bufs)
}

func TestBufferUploadThenVertexRead(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	vb, err := gpu.NewBuffer(1024, driver.TDevice, driver.UVertexData|driver.UCopyDst)
	require.NoError(t, err)
	h := g.ImportBuffer("mesh", vb, BufferState{})
	o := g.CreateImage(ImageDesc{Name: "o", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})

	g.AddPass("upload", Transfer, func(b *Builder) { b.WriteBuffer(h, BufTransferDst, 0, "mesh") }, nil)
	g.AddPass("draw", Graphics, func(b *Builder) {
		b.ReadBuffer(h, VertexRead, 0, "mesh")
		b.WriteColor(o, driver.LClear, driver.ClearValue{})
	}, nil)

	cb := record(t, &g, gpu, alloc)
	var bb []driver.BufBarrier
	for _, c := range cb.Cmds() {
		if b, ok := c.(rec.CmdBarrier); ok {
			bb = append(bb, b.Buf...)
		}
	}
	require.Len(t, bb, 1)
	require.Equal(t, vb, bb[0].Buf)
	require.Equal(t, driver.SCopy, bb[0].SyncBefore)
	require.Equal(t, driver.ACopyWrite, bb[0].AccessBefore)
	require.Equal(t, driver.SVertexInput, bb[0].SyncAfter)
	require.Equal(t, driver.AVertexBufRead, bb[0].AccessAfter)
}

func TestPresentChain(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	sc, err := gpu.(driver.Presenter).NewSwapchain(800, 600, 2)
	require.NoError(t, err)
	defer sc.Destroy()

	final := g.CreateImage(ImageDesc{
		Name: "hdr", Format: driver.RGBA16f, Width: 640, Height: 480,
		Usage: driver.URenderTarget | driver.UCopySrc,
	})
	swap := g.ImportImage("swapchain", sc.Views()[0], ImageState{Layout: driver.LUndefined})

	g.AddPass("scene", Graphics, func(b *Builder) { b.WriteColor(final, driver.LClear, driver.ClearValue{}) }, nil)

	extraRan := false
	g.AddPresentChain(final, swap, func(g *Graph) {
		g.AddPass("overlay", Graphics,
			func(b *Builder) { b.WriteColor(swap, driver.LLoad, driver.ClearValue{}) },
			func(driver.CmdBuffer, *Resources) { extraRan = true })
	})

	cb := record(t, &g, gpu, alloc)
	require.True(t, extraRan)

	st, err := g.ImageState(swap)
	require.NoError(t, err)
	require.Equal(t, driver.LPresent, st.Layout)

	// The blit lands between the TransferDst transition and
	// the overlay's LColorTarget transition; the chain ends
	// in LPresent.
	tr := transitionsFor(cb.Cmds(), sc.Views()[0])
	require.NotEmpty(t, tr)
	require.Equal(t, driver.LCopyDst, tr[0].LayoutAfter)
	require.Equal(t, driver.LPresent, tr[len(tr)-1].LayoutAfter)

	var blits int
	for _, c := range cb.Cmds() {
		if b, ok := c.(rec.CmdBlit); ok {
			blits++
			// 640x480 into 800x600: no letterboxing.
			require.Equal(t, 800, b.Param.ToSize.Width)
			require.Equal(t, 600, b.Param.ToSize.Height)
		}
	}
	require.Equal(t, 1, blits)
}

func TestLetterbox(t *testing.T) {
	// Wide source into taller destination pads top/bottom.
	x, y, w, h := letterbox(1600, 900, 800, 600)
	require.Equal(t, 800, w)
	require.Equal(t, 450, h)
	require.Equal(t, 0, x)
	require.Equal(t, 75, y)

	// Tall source pads left/right.
	x, _, w, h = letterbox(600, 600, 800, 600)
	require.Equal(t, 600, w)
	require.Equal(t, 600, h)
	require.Equal(t, 100, x)
}

func TestTimings(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph

	o := g.CreateImage(ImageDesc{Name: "o", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})
	g.AddPass("p0", Graphics, func(b *Builder) { b.WriteColor(o, driver.LClear, driver.ClearValue{}) }, nil)
	g.AddPass("p1", Graphics, func(b *Builder) { b.WriteColor(o, driver.LLoad, driver.ClearValue{}) }, nil)

	qp, err := gpu.NewQueryPool(16)
	require.NoError(t, err)
	g.EnableTimings(qp)

	cb := record(t, &g, gpu, alloc)
	spans := g.TimingSpans()
	require.Len(t, spans, 2)

	// Not resolved until the commands execute.
	_, ok, err := ResolveTimings(qp, spans)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, gpu.Submit([]driver.CmdBuffer{cb}, nil, nil, nil))
	timings, ok, err := ResolveTimings(qp, spans)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "p0", timings[0].Name)
	require.Equal(t, "p1", timings[1].Name)
}

func TestCompileTwiceFails(t *testing.T) {
	gpu := newGPU(t)
	alloc := &testAlloc{gpu: gpu}
	var g Graph
	o := g.CreateImage(ImageDesc{Name: "o", Format: driver.RGBA8un, Width: 8, Height: 8, Usage: driver.URenderTarget})
	g.AddPass("p", Graphics, func(b *Builder) { b.WriteColor(o, driver.LClear, driver.ClearValue{}) }, nil)
	require.NoError(t, g.Compile(alloc))
	require.ErrorIs(t, g.Compile(alloc), ErrCompiled)

	g.Reset()
	require.Equal(t, 0, g.NumPasses())
}
