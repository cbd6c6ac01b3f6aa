// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver/rec"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/rgraph"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/texcache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 640, 480
	e, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// clearFrame is the smallest useful frame: one transient
// color target cleared by a graphics pass.
func clearFrame(fi *FrameInfo) (rgraph.ImageHandle, func(*rgraph.Graph), error) {
	h := fi.Graph.CreateImage(rgraph.ImageDesc{
		Name:   "color",
		Format: driver.RGBA16f,
		Width:  640,
		Height: 480,
		Usage:  driver.URenderTarget | driver.UCopySrc,
	})
	fi.Graph.AddPass("clear", rgraph.Graphics,
		func(b *rgraph.Builder) {
			b.WriteColor(h, driver.LClear, driver.ClearValue{})
		},
		nil)
	return h, nil, nil
}

func TestRenderFrameAdvances(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.RenderFrame(clearFrame))
	}
	require.EqualValues(t, 3, e.FrameNum())

	timings, ok, err := e.PassTimings()
	require.NoError(t, err)
	require.True(t, ok)
	names := make([]string, len(timings))
	for i, pt := range timings {
		names[i] = pt.Name
	}
	require.Contains(t, names, "clear")
	require.Contains(t, names, "present-blit")
}

func TestRenderFrameErrorKeepsLoopUsable(t *testing.T) {
	e := testEngine(t)

	// A pass that reads an image nothing produces fails at
	// compile time, after the frame's fence was reset.
	bad := func(fi *FrameInfo) (rgraph.ImageHandle, func(*rgraph.Graph), error) {
		h := fi.Graph.CreateImage(rgraph.ImageDesc{
			Name:   "orphan",
			Format: driver.RGBA16f,
			Width:  640,
			Height: 480,
			Usage:  driver.URenderTarget | driver.UShaderSample,
		})
		fi.Graph.AddPass("reader", rgraph.Graphics,
			func(b *rgraph.Builder) {
				b.Read(h, rgraph.SampledFragment)
			},
			nil)
		return h, nil, nil
	}
	err := e.RenderFrame(bad)
	require.ErrorIs(t, err, rgraph.ErrNoProducer)
	require.Zero(t, e.FrameNum())

	// The abandoned slot must not wedge subsequent frames;
	// render enough of them to cycle through every slot.
	for i := 0; i < frameOverlap+1; i++ {
		require.NoError(t, e.RenderFrame(clearFrame))
	}
	require.EqualValues(t, frameOverlap+1, e.FrameNum())

	// A build-callback error takes the same recovery path.
	err = e.RenderFrame(func(fi *FrameInfo) (rgraph.ImageHandle, func(*rgraph.Graph), error) {
		return 0, nil, os.ErrInvalid
	})
	require.ErrorIs(t, err, os.ErrInvalid)
	require.NoError(t, e.RenderFrame(clearFrame))
}

func TestDeferredDeletionLifetime(t *testing.T) {
	e := testEngine(t)
	freed := false
	build := func(fi *FrameInfo) (rgraph.ImageHandle, func(*rgraph.Graph), error) {
		if fi.Frame == 0 {
			e.frame(fi.Frame).Defer(func() { freed = true })
		}
		return clearFrame(fi)
	}

	require.NoError(t, e.RenderFrame(build))
	require.False(t, freed, "freed while frame 0 could still be in flight")
	require.NoError(t, e.RenderFrame(build))
	require.False(t, freed, "freed before frame 0's slot was reused")
	// Frame 2 reuses slot 0; its deletions flush first.
	require.NoError(t, e.RenderFrame(build))
	require.True(t, freed)
}

func TestUploadsDrainIntoFrame(t *testing.T) {
	e := testEngine(t)
	rm := e.Resources()

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	buf, err := rm.UploadBuffer(data, driver.UVertexData|driver.UShaderRead, driver.TDevice)
	require.NoError(t, err)
	defer buf.Destroy()

	mesh, err := rm.UploadMesh([]uint32{0, 1, 2}, make([]byte, 96))
	require.NoError(t, err)
	defer mesh.Free()
	require.Equal(t, 3, mesh.IndexCount)

	rm.mu.Lock()
	pending := len(rm.pendBuf)
	rm.mu.Unlock()
	require.Equal(t, 3, pending)

	require.NoError(t, e.RenderFrame(clearFrame))

	rm.mu.Lock()
	pending = len(rm.pendBuf)
	rm.mu.Unlock()
	require.Zero(t, pending, "upload pass must snapshot the whole queue")

	// The staging ranges are released once the consuming
	// slot is reused.
	for i := 0; i < 2; i++ {
		require.NoError(t, e.RenderFrame(clearFrame))
	}
	rm.arenaMu.Lock()
	free := rm.arena.bm.Rem() == rm.arena.bm.Len()
	rm.arenaMu.Unlock()
	require.True(t, free, "staging arena still holds released ranges")
}

func TestUploadFillsMipChain(t *testing.T) {
	e := testEngine(t)
	rm := e.Resources()

	pix := make([]byte, 16*16*4)
	img, err := rm.CreateImageFrom(pix, 16, 16, driver.RGBA8un, driver.UShaderSample, 0)
	require.NoError(t, err)
	require.Equal(t, 5, img.Levels)

	pend, bufs := rm.snapshot()
	require.Len(t, pend, 1)
	defer func() {
		for _, u := range pend {
			u.release()
		}
		img.Free()
	}()

	cb, err := e.GPU().NewCmdBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	require.NoError(t, cb.Begin())
	recordUploads(cb, pend, bufs)
	require.NoError(t, cb.End())

	// One staged copy into level 0, then one downscaling
	// blit per remaining level.
	var copies int
	var blits []driver.ImageBlit
	var final []driver.Transition
	for _, cmd := range cb.(*rec.CmdBuf).Cmds() {
		switch c := cmd.(type) {
		case rec.CmdCopyBufToImg:
			copies++
		case rec.CmdBlit:
			blits = append(blits, c.Param)
		case rec.CmdTransition:
			final = c.T
		}
	}
	require.Equal(t, 1, copies)
	require.Len(t, blits, 4)
	w := 16
	for i, b := range blits {
		require.Equal(t, i, b.FromLevel)
		require.Equal(t, i+1, b.ToLevel)
		require.Equal(t, w, b.FromSize.Width)
		require.Equal(t, w/2, b.ToSize.Width)
		require.Equal(t, driver.FLinear, b.Filter)
		w /= 2
	}
	// The closing transition moves every level to LShaderRead.
	require.Len(t, final, 5)
	for _, tr := range final {
		require.Equal(t, driver.LShaderRead, tr.LayoutAfter)
	}
}

func TestTargetsGBufferLayout(t *testing.T) {
	e := testEngine(t)
	tg := e.Targets()

	require.Equal(t, driver.RGBA16f, tg.HDR.Format)
	require.Equal(t, driver.D32f, tg.Depth.Format)
	require.Equal(t, driver.RGBA32f, tg.GBufferPosition.Format)
	require.Equal(t, driver.RGBA16f, tg.GBufferNormal.Format)
	require.Equal(t, driver.RGBA8un, tg.GBufferAlbedo.Format)
	require.Equal(t, driver.RGBA16f, tg.GBufferExtra.Format)
	require.Equal(t, driver.R32ui, tg.ID.Format)

	var g rgraph.Graph
	hs := tg.ImportInto(&g)
	handles := []rgraph.ImageHandle{
		hs.HDR, hs.Depth,
		hs.GBufferPosition, hs.GBufferNormal, hs.GBufferAlbedo, hs.GBufferExtra,
		hs.ID,
	}
	seen := make(map[rgraph.ImageHandle]bool)
	for _, h := range handles {
		require.False(t, seen[h], "attachments must import as distinct resources")
		seen[h] = true
	}
}

func TestDiscardWaitsForInFlightFrames(t *testing.T) {
	e := testEngine(t)
	rm := e.Resources()

	tex, err := rm.Upload(&texcache.Upload{
		Data: []byte{0, 0, 0, 255}, Format: driver.RGBA8un,
		Width: 1, Height: 1, Levels: 1,
	})
	require.NoError(t, err)
	img := tex.View.Image()

	require.NoError(t, e.RenderFrame(clearFrame))
	rm.Discard(tex)
	require.False(t, rec.Destroyed(img), "discarded while the last frame was in flight")

	require.NoError(t, e.RenderFrame(clearFrame))
	require.False(t, rec.Destroyed(img), "freed before the submitting slot retired")
	require.NoError(t, e.RenderFrame(clearFrame))
	require.True(t, rec.Destroyed(img))
}

func TestStagingArenaOversized(t *testing.T) {
	e := testEngine(t)
	rm := e.Resources()

	// Larger than the arena: staged through a one-shot
	// buffer instead.
	big := make([]byte, stagingArenaSize+stagingBlock)
	buf, staged, release, err := rm.stage(big)
	require.NoError(t, err)
	require.NotSame(t, rm.arena.buf, buf)
	require.Zero(t, staged)
	release()
}

func TestDescAllocGrowth(t *testing.T) {
	e := testEngine(t)
	a := newDescAlloc(e.GPU())
	defer a.Destroy()

	layout := NewLayout([]driver.Descriptor{
		{Type: driver.DConstant, Stages: driver.SVertex | driver.SFragment, Nr: 0, Len: 1},
	})

	seen := make(map[DescSet]bool)
	for i := 0; i < descPoolInitial*3; i++ {
		s, err := a.Alloc(layout)
		require.NoError(t, err)
		require.True(t, s.IsValid())
		require.False(t, seen[s], "duplicate set before reset")
		seen[s] = true
	}
	r := a.rings[layout]
	require.GreaterOrEqual(t, len(r.heaps), 2, "allocator did not grow")

	a.Reset()
	s, err := a.Alloc(layout)
	require.NoError(t, err)
	require.True(t, seen[s], "reset must recycle existing storage")
}

func TestTargetsFollowRenderScale(t *testing.T) {
	e := testEngine(t)

	w, h := e.Targets().RenderExtent()
	require.Equal(t, [2]int{640, 480}, [2]int{w, h})

	require.NoError(t, e.SetRenderScale(0.5))
	w, h = e.Targets().RenderExtent()
	require.Equal(t, [2]int{320, 240}, [2]int{w, h})

	// Out-of-range scales clamp.
	require.NoError(t, e.SetRenderScale(100))
	require.Equal(t, 4.0, e.Targets().Scale())
	w, h = e.Targets().RenderExtent()
	require.Equal(t, [2]int{2560, 1920}, [2]int{w, h})
}

func TestResizeRecreatesSwapchain(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.RenderFrame(clearFrame))

	e.RequestResize(800, 600)
	require.NoError(t, e.RenderFrame(clearFrame))

	sw, sh := e.swapchain.Extent()
	require.Equal(t, [2]int{800, 600}, [2]int{sw, sh})
	w, h := e.Targets().WindowExtent()
	require.Equal(t, [2]int{800, 600}, [2]int{w, h})
}

func TestPipelineReload(t *testing.T) {
	e := testEngine(t)
	dir := t.TempDir()
	vs := filepath.Join(dir, "fullscreen.vert.spv")
	fs := filepath.Join(dir, "tonemap.frag.spv")
	require.NoError(t, os.WriteFile(vs, []byte{1, 2, 3, 4}, 0o644))
	require.NoError(t, os.WriteFile(fs, []byte{5, 6, 7, 8}, 0o644))

	desc := PipelineDesc{
		Name:  "tonemap",
		Paths: []string{vs, fs},
		Build: func(codes []driver.ShaderCode) (any, error) {
			return &driver.GraphState{
				VertFunc:  driver.ShaderFunc{Code: codes[0], Name: "main"},
				FragFunc:  driver.ShaderFunc{Code: codes[1], Name: "main"},
				ColorFmts: []driver.PixelFmt{driver.RGBA16f},
			}, nil
		},
	}
	r := e.Pipelines()
	require.NoError(t, r.Register(desc))

	pl0, gen0, ok := r.Get("tonemap")
	require.True(t, ok)
	require.NotNil(t, pl0)
	require.Zero(t, gen0)

	f, err := newFrame(e.GPU())
	require.NoError(t, err)
	defer f.free()

	// No dirty marks: pump is a no-op.
	r.PumpReloads(f)
	_, gen1, _ := r.Get("tonemap")
	require.Equal(t, gen0, gen1)

	require.NoError(t, os.WriteFile(fs, []byte{9, 9, 9, 9}, 0o644))
	r.markDirty(fs)
	r.PumpReloads(f)
	pl2, gen2, ok := r.Get("tonemap")
	require.True(t, ok)
	require.Equal(t, gen0+1, gen2)
	require.NotSame(t, pl0, pl2)
	f.flushDeletions()
}

func TestPipelineReloadKeepsOldOnFailure(t *testing.T) {
	e := testEngine(t)
	dir := t.TempDir()
	cs := filepath.Join(dir, "cull.comp.spv")
	require.NoError(t, os.WriteFile(cs, []byte{1}, 0o644))

	r := e.Pipelines()
	require.NoError(t, r.Register(PipelineDesc{
		Name:  "cull",
		Paths: []string{cs},
		Build: func(codes []driver.ShaderCode) (any, error) {
			return &driver.CompState{Func: driver.ShaderFunc{Code: codes[0], Name: "main"}}, nil
		},
	}))
	pl0, gen0, _ := r.Get("cull")

	f, err := newFrame(e.GPU())
	require.NoError(t, err)
	defer f.free()

	require.NoError(t, os.Remove(cs))
	r.markDirty(cs)
	r.PumpReloads(f)

	pl1, gen1, ok := r.Get("cull")
	require.True(t, ok)
	require.Equal(t, gen0, gen1)
	require.Same(t, pl0, pl1)
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 1920, 1080
	cfg.RenderScale = 0.75
	cfg.TextureGPUBudgetBytes = 512 << 20
	require.NoError(t, cfg.Save(path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestConfigSanitize(t *testing.T) {
	cfg := Config{Width: -5, RenderScale: 99, Mode: "sideways"}
	cfg.sanitize()
	def := DefaultConfig()
	require.Equal(t, def.Width, cfg.Width)
	require.Equal(t, def.Height, cfg.Height)
	require.Equal(t, Windowed, cfg.Mode)
	require.Equal(t, 4.0, cfg.RenderScale)
	require.Equal(t, def.TextureMaxLoadsPerPump, cfg.TextureMaxLoadsPerPump)
}
