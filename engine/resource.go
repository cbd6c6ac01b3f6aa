// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/rgraph"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/texcache"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/internal/bitvec"
)

// Image is a GPU image with its default view.
type Image struct {
	Img    driver.Image
	View   driver.ImageView
	Format driver.PixelFmt
	Width  int
	Height int
	Levels int
	Layers int
	// Size approximates the VRAM cost.
	Size int64
}

// Free destroys the view and the image. The caller must
// ensure no in-flight frame references them, typically by
// deferring the call on the frame's deletion queue.
func (m *Image) Free() {
	if m.View != nil {
		m.View.Destroy()
	}
	if m.Img != nil {
		m.Img.Destroy()
	}
	*m = Image{}
}

// MipLevel locates one pre-encoded mip level inside an
// upload payload.
type MipLevel struct {
	Offset int64
	Length int64
	Width  int
	Height int
}

// MeshBuffers holds the GPU geometry of one mesh. The
// vertex buffer carries a device address for vertex pulling.
type MeshBuffers struct {
	Index      driver.Buffer
	Vertex     driver.Buffer
	IndexCount int
}

// Free destroys both buffers.
func (m *MeshBuffers) Free() {
	if m.Index != nil {
		m.Index.Destroy()
	}
	if m.Vertex != nil {
		m.Vertex.Destroy()
	}
	*m = MeshBuffers{}
}

// FullMips selects a complete mip chain for the extent.
func FullMips(w, h int) int { return bits.Len(uint(max(w, h))) }

const immediateTimeout = 10 * time.Second

type imgUpload struct {
	staging driver.Buffer
	release func()
	img     *Image
	copies  []driver.BufImgCopy

	// mipViews are per-level views driving the blit chain
	// that fills levels past the staged ones. Owned by the
	// upload; released with the staging range.
	mipViews []driver.ImageView
}

type bufUpload struct {
	staging driver.Buffer
	release func()
	dst     driver.Buffer
	off     int64
	size    int64
}

// ResourceManager creates GPU resources and batches their
// uploads. Workers may enqueue uploads concurrently; the
// main thread snapshots them into a single transfer pass
// per frame via RegisterUploadPass.
type ResourceManager struct {
	gpu driver.GPU
	log *slog.Logger

	mu      sync.Mutex
	pendImg []imgUpload
	pendBuf []bufUpload

	arenaMu sync.Mutex
	arena   *stagingArena

	// deferFree, when set, queues destruction until every
	// in-flight frame has retired. The engine installs it
	// once the frame ring exists.
	deferFree func(func())

	immMu    sync.Mutex
	immCB    driver.CmdBuffer
	immFence driver.Fence
}

func newResourceManager(gpu driver.GPU, log *slog.Logger) (*ResourceManager, error) {
	rm := &ResourceManager{gpu: gpu, log: log}
	var err error
	if rm.immCB, err = gpu.NewCmdBuffer(); err != nil {
		return nil, err
	}
	if rm.immFence, err = gpu.NewFence(false); err != nil {
		rm.immCB.Destroy()
		return nil, err
	}
	if rm.arena, err = newStagingArena(gpu, stagingArenaSize); err != nil {
		rm.immFence.Destroy()
		rm.immCB.Destroy()
		return nil, err
	}
	return rm, nil
}

func (rm *ResourceManager) free() {
	rm.mu.Lock()
	for _, u := range rm.pendImg {
		u.release()
	}
	for _, u := range rm.pendBuf {
		u.release()
	}
	rm.pendImg, rm.pendBuf = nil, nil
	rm.mu.Unlock()
	rm.arena.free()
	rm.immFence.Destroy()
	rm.immCB.Destroy()
}

// CreateBuffer allocates a buffer. Visible tiers come back
// mapped; write through Bytes and call Flush.
func (rm *ResourceManager) CreateBuffer(size int64, tier driver.Tier, usg driver.Usage) (driver.Buffer, error) {
	return rm.gpu.NewBuffer(size, tier, usg)
}

// DestroyBuffer destroys immediately. The caller guarantees
// no in-flight frame references the buffer.
func (rm *ResourceManager) DestroyBuffer(buf driver.Buffer) { buf.Destroy() }

// CreateImage allocates a device-local 2D image and its
// default view. levels <= 0 selects the full mip chain.
func (rm *ResourceManager) CreateImage(w, h int, pf driver.PixelFmt, usg driver.Usage, levels int) (*Image, error) {
	return rm.createImage(w, h, pf, usg, levels, 1, driver.IView2D)
}

func (rm *ResourceManager) createImage(w, h int, pf driver.PixelFmt, usg driver.Usage, levels, layers int, vt driver.ViewType) (*Image, error) {
	if levels <= 0 {
		levels = FullMips(w, h)
	}
	img, err := rm.gpu.NewImage(pf, driver.Dim3D{Width: w, Height: h, Depth: 1}, layers, levels, 1, usg)
	if err != nil {
		return nil, fmt.Errorf("engine: image %dx%d %v: %w", w, h, pf, err)
	}
	view, err := img.NewView(vt, 0, layers, 0, levels)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	var size int64
	for l := 0; l < levels; l++ {
		size += pf.ByteCount(max(1, w>>l), max(1, h>>l)) * int64(layers)
	}
	return &Image{
		Img: img, View: view, Format: pf,
		Width: w, Height: h, Levels: levels, Layers: layers,
		Size: size,
	}, nil
}

// CreateImageFrom allocates an image and enqueues a
// deferred upload of the tightly packed source pixels into
// level 0. Images with more than one level get the rest of
// the chain filled by downscaling blits in the same upload
// pass.
func (rm *ResourceManager) CreateImageFrom(pix []byte, w, h int, pf driver.PixelFmt, usg driver.Usage, levels int) (*Image, error) {
	if levels <= 0 {
		levels = FullMips(w, h)
	}
	if levels > 1 {
		// Each level is the blit source of the next.
		usg |= driver.UCopySrc
	}
	img, err := rm.CreateImage(w, h, pf, usg|driver.UCopyDst, levels)
	if err != nil {
		return nil, err
	}
	buf, off, release, err := rm.stage(pix)
	if err != nil {
		img.Free()
		return nil, err
	}
	u := imgUpload{
		staging: buf,
		release: release,
		img:     img,
		copies: []driver.BufImgCopy{{
			Buf: buf, BufOff: off,
			Img:  img.Img,
			Size: driver.Dim3D{Width: w, Height: h, Depth: 1},
			Layers: 1,
		}},
	}
	if img.Levels > 1 {
		if u.mipViews, err = levelViews(img); err != nil {
			release()
			img.Free()
			return nil, err
		}
		views := u.mipViews
		u.release = func() {
			for _, v := range views {
				v.Destroy()
			}
			release()
		}
	}
	rm.enqueueImg(u)
	return img, nil
}

// levelViews creates one single-level view per mip of the
// image, for per-level layout transitions.
func levelViews(img *Image) ([]driver.ImageView, error) {
	views := make([]driver.ImageView, img.Levels)
	for l := 0; l < img.Levels; l++ {
		v, err := img.Img.NewView(driver.IView2D, 0, 1, l, 1)
		if err != nil {
			for _, pv := range views[:l] {
				pv.Destroy()
			}
			return nil, err
		}
		views[l] = v
	}
	return views, nil
}

// CreateImageCompressed allocates a block-compressed image
// and enqueues the upload of its pre-encoded mip levels.
func (rm *ResourceManager) CreateImageCompressed(data []byte, pf driver.PixelFmt, levels []MipLevel, usg driver.Usage) (*Image, error) {
	if len(levels) == 0 {
		return nil, errors.New("engine: compressed image without levels")
	}
	img, err := rm.CreateImage(levels[0].Width, levels[0].Height, pf, usg|driver.UCopyDst, len(levels))
	if err != nil {
		return nil, err
	}
	buf, off, release, err := rm.stage(data)
	if err != nil {
		img.Free()
		return nil, err
	}
	copies := make([]driver.BufImgCopy, len(levels))
	for i, l := range levels {
		copies[i] = driver.BufImgCopy{
			Buf: buf, BufOff: off + l.Offset,
			Img: img.Img, Level: i, Layers: 1,
			Size: driver.Dim3D{Width: l.Width, Height: l.Height, Depth: 1},
		}
	}
	rm.enqueueImg(imgUpload{staging: buf, release: release, img: img, copies: copies})
	return img, nil
}

// CreateImageCompressedLayered is the layered and cubemap
// variant: regions address (level, layer) pairs within
// data. cube derives a cube view when layers is a multiple
// of 6.
func (rm *ResourceManager) CreateImageCompressedLayered(data []byte, pf driver.PixelFmt, w, h, levels, layers int, regions []driver.BufImgCopy, usg driver.Usage, cube bool) (*Image, error) {
	vt := driver.IView2DArray
	if cube && layers%6 == 0 {
		vt = driver.IViewCube
	}
	img, err := rm.createImage(w, h, pf, usg|driver.UCopyDst, levels, layers, vt)
	if err != nil {
		return nil, err
	}
	buf, off, release, err := rm.stage(data)
	if err != nil {
		img.Free()
		return nil, err
	}
	copies := make([]driver.BufImgCopy, len(regions))
	for i, r := range regions {
		r.Buf = buf
		r.BufOff += off
		r.Img = img.Img
		copies[i] = r
	}
	rm.enqueueImg(imgUpload{staging: buf, release: release, img: img, copies: copies})
	return img, nil
}

// UploadMesh allocates the index and vertex buffers of a
// mesh and stages both uploads through a single staging
// range. The vertex buffer is addressable for vertex
// pulling and acceleration-structure builds.
func (rm *ResourceManager) UploadMesh(indices []uint32, vertices []byte) (MeshBuffers, error) {
	isize := int64(len(indices) * 4)
	vsize := int64(len(vertices))
	ib, err := rm.gpu.NewBuffer(isize, driver.TDevice, driver.UIndexData|driver.UCopyDst|driver.UShaderRead)
	if err != nil {
		return MeshBuffers{}, err
	}
	vb, err := rm.gpu.NewBuffer(vsize, driver.TDevice,
		driver.UVertexData|driver.UShaderRead|driver.UBufferAddr|driver.UCopyDst)
	if err != nil {
		ib.Destroy()
		return MeshBuffers{}, err
	}

	src := make([]byte, isize+vsize)
	for i, x := range indices {
		src[i*4] = byte(x)
		src[i*4+1] = byte(x >> 8)
		src[i*4+2] = byte(x >> 16)
		src[i*4+3] = byte(x >> 24)
	}
	copy(src[isize:], vertices)
	buf, off, release, err := rm.stage(src)
	if err != nil {
		vb.Destroy()
		ib.Destroy()
		return MeshBuffers{}, err
	}
	// The second entry owns the staging release.
	rm.mu.Lock()
	rm.pendBuf = append(rm.pendBuf,
		bufUpload{staging: buf, release: func() {}, dst: ib, off: off, size: isize},
		bufUpload{staging: buf, release: release, dst: vb, off: off + isize, size: vsize},
	)
	rm.mu.Unlock()
	return MeshBuffers{Index: ib, Vertex: vb, IndexCount: len(indices)}, nil
}

// UploadBuffer allocates a buffer and enqueues a deferred
// upload. Visible tiers are written directly and flushed.
func (rm *ResourceManager) UploadBuffer(data []byte, usg driver.Usage, tier driver.Tier) (driver.Buffer, error) {
	if tier.Visible() {
		buf, err := rm.gpu.NewBuffer(int64(len(data)), tier, usg)
		if err != nil {
			return nil, err
		}
		copy(buf.Bytes(), data)
		if err := buf.Flush(0, int64(len(data))); err != nil {
			buf.Destroy()
			return nil, err
		}
		return buf, nil
	}
	dst, err := rm.gpu.NewBuffer(int64(len(data)), tier, usg|driver.UCopyDst)
	if err != nil {
		return nil, err
	}
	buf, off, release, err := rm.stage(data)
	if err != nil {
		dst.Destroy()
		return nil, err
	}
	rm.mu.Lock()
	rm.pendBuf = append(rm.pendBuf, bufUpload{
		staging: buf, release: release, dst: dst, off: off, size: int64(len(data)),
	})
	rm.mu.Unlock()
	return dst, nil
}

func (rm *ResourceManager) enqueueImg(u imgUpload) {
	rm.mu.Lock()
	rm.pendImg = append(rm.pendImg, u)
	rm.mu.Unlock()
}

// ImmediateSubmit records through the dedicated command
// buffer, submits synchronously and waits.
func (rm *ResourceManager) ImmediateSubmit(record func(driver.CmdBuffer)) error {
	rm.immMu.Lock()
	defer rm.immMu.Unlock()
	if err := rm.immCB.Begin(); err != nil {
		return err
	}
	record(rm.immCB)
	if err := rm.immCB.End(); err != nil {
		return err
	}
	if err := rm.gpu.Submit([]driver.CmdBuffer{rm.immCB}, nil, nil, rm.immFence); err != nil {
		return err
	}
	if err := rm.immFence.Wait(immediateTimeout); err != nil {
		return fmt.Errorf("engine: immediate submit: %w", err)
	}
	return rm.immFence.Reset()
}

// FlushUploads submits all pending uploads synchronously.
// Prefer RegisterUploadPass during frames; this is for
// bootstrap and tests.
func (rm *ResourceManager) FlushUploads() error {
	img, buf := rm.snapshot()
	if len(img) == 0 && len(buf) == 0 {
		return nil
	}
	err := rm.ImmediateSubmit(func(cb driver.CmdBuffer) {
		recordUploads(cb, img, buf)
	})
	for _, u := range img {
		u.release()
	}
	for _, u := range buf {
		u.release()
	}
	return err
}

// snapshot takes exclusive ownership of the pending queues.
func (rm *ResourceManager) snapshot() ([]imgUpload, []bufUpload) {
	rm.mu.Lock()
	img, buf := rm.pendImg, rm.pendBuf
	rm.pendImg, rm.pendBuf = nil, nil
	rm.mu.Unlock()
	return img, buf
}

// RegisterUploadPass snapshots the pending uploads and
// registers one transfer pass that performs every staging
// copy. The staging ranges are released through the frame's
// deletion queue, after the frame's fence clears.
func (rm *ResourceManager) RegisterUploadPass(g *rgraph.Graph, f *frame) {
	img, buf := rm.snapshot()
	if len(img) == 0 && len(buf) == 0 {
		return
	}
	g.AddPass("upload", rgraph.Transfer, nil,
		func(cb driver.CmdBuffer, _ *rgraph.Resources) {
			recordUploads(cb, img, buf)
		})
	for _, u := range img {
		f.Defer(u.release)
	}
	for _, u := range buf {
		f.Defer(u.release)
	}
}

// recordUploads records the staged copies: buffer copies
// first, then image uploads bracketed by layout
// transitions into LShaderRead.
func recordUploads(cb driver.CmdBuffer, img []imgUpload, buf []bufUpload) {
	for _, u := range buf {
		cb.CopyBuffer(&driver.BufferCopy{
			From: u.staging, FromOff: u.off,
			To: u.dst, Size: u.size,
		})
	}
	if len(buf) > 0 {
		cb.Barrier([]driver.Barrier{{
			SyncBefore:   driver.SCopy,
			SyncAfter:    driver.SVertexInput | driver.SVertexShading | driver.SComputeShading,
			AccessBefore: driver.ACopyWrite,
			AccessAfter:  driver.AAnyRead,
		}}, nil)
	}
	for _, u := range img {
		cb.Transition([]driver.Transition{{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SNone,
				SyncAfter:    driver.SCopy,
				AccessBefore: driver.ANone,
				AccessAfter:  driver.ACopyWrite,
			},
			LayoutBefore: driver.LUndefined,
			LayoutAfter:  driver.LCopyDst,
			IView:        u.img.View,
		}})
		for i := range u.copies {
			cb.CopyBufToImg(&u.copies[i])
		}
		if len(u.mipViews) > 1 {
			recordMipChain(cb, &u)
			continue
		}
		cb.Transition([]driver.Transition{{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SCopy,
				SyncAfter:    driver.SFragmentShading | driver.SComputeShading,
				AccessBefore: driver.ACopyWrite,
				AccessAfter:  driver.AShaderRead,
			},
			LayoutBefore: driver.LCopyDst,
			LayoutAfter:  driver.LShaderRead,
			IView:        u.img.View,
		}})
	}
}

// recordMipChain fills levels 1..n-1 by downscaling blits.
// Each level becomes the copy source of the next; on exit
// every level is in LShaderRead.
func recordMipChain(cb driver.CmdBuffer, u *imgUpload) {
	n := len(u.mipViews)
	w, h := u.img.Width, u.img.Height
	for l := 1; l < n; l++ {
		cb.Transition([]driver.Transition{{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SCopy,
				SyncAfter:    driver.SCopy,
				AccessBefore: driver.ACopyWrite,
				AccessAfter:  driver.ACopyRead,
			},
			LayoutBefore: driver.LCopyDst,
			LayoutAfter:  driver.LCopySrc,
			IView:        u.mipViews[l-1],
		}})
		nw, nh := max(1, w/2), max(1, h/2)
		cb.Blit(&driver.ImageBlit{
			From: u.img.Img, FromLevel: l - 1,
			FromSize: driver.Dim3D{Width: w, Height: h, Depth: 1},
			To:       u.img.Img, ToLevel: l,
			ToSize: driver.Dim3D{Width: nw, Height: nh, Depth: 1},
			Filter: driver.FLinear,
		})
		w, h = nw, nh
	}
	// Levels 0..n-2 sit in LCopySrc, the last in LCopyDst.
	ts := make([]driver.Transition, n)
	for l := range ts {
		before := driver.LCopySrc
		access := driver.ACopyRead
		if l == n-1 {
			before = driver.LCopyDst
			access = driver.ACopyWrite
		}
		ts[l] = driver.Transition{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SCopy,
				SyncAfter:    driver.SFragmentShading | driver.SComputeShading,
				AccessBefore: access,
				AccessAfter:  driver.AShaderRead,
			},
			LayoutBefore: before,
			LayoutAfter:  driver.LShaderRead,
			IView:        u.mipViews[l],
		}
	}
	cb.Transition(ts)
}

// Upload implements texcache.Uploader: decoded payloads
// become deferred image uploads consumed by the next
// frame's upload pass.
func (rm *ResourceManager) Upload(u *texcache.Upload) (texcache.Texture, error) {
	var (
		img *Image
		err error
	)
	if len(u.Mips) > 0 {
		levels := make([]MipLevel, len(u.Mips))
		for i, m := range u.Mips {
			levels[i] = MipLevel{Offset: m.Offset, Length: m.Length, Width: m.Width, Height: m.Height}
		}
		img, err = rm.CreateImageCompressed(u.Data, u.Format, levels, driver.UShaderSample)
	} else {
		img, err = rm.CreateImageFrom(u.Data, u.Width, u.Height, u.Format, driver.UShaderSample, u.Levels)
	}
	if err != nil {
		return texcache.Texture{}, err
	}
	return texcache.Texture{View: img.View, Size: img.Size}, nil
}

// DeferFree runs fn once every in-flight frame has retired.
// Outside a frame loop it runs immediately.
func (rm *ResourceManager) DeferFree(fn func()) {
	if rm.deferFree != nil {
		rm.deferFree(fn)
		return
	}
	fn()
}

// Discard implements texcache.Uploader. Destruction waits
// for the in-flight frames that may still sample the
// texture.
func (rm *ResourceManager) Discard(t texcache.Texture) {
	if t.View == nil {
		return
	}
	view := t.View
	rm.DeferFree(func() {
		img := view.Image()
		view.Destroy()
		img.Destroy()
	})
}

// Staging arena: a block-granular allocator over one
// host-visible buffer. Ranges too large for the arena fall
// back to one-shot buffers.
const (
	stagingBlock     = 64 << 10
	stagingArenaSize = 32 << 20
)

type stagingArena struct {
	gpu driver.GPU
	buf driver.Buffer
	bm  bitvec.V[uint32]
}

func newStagingArena(gpu driver.GPU, size int) (*stagingArena, error) {
	// One uint32 of the bitmap covers 32 blocks.
	const span = stagingBlock * 32
	size = (size + span - 1) &^ (span - 1)
	buf, err := gpu.NewBuffer(int64(size), driver.TUpload, driver.UCopySrc)
	if err != nil {
		return nil, err
	}
	a := &stagingArena{gpu: gpu, buf: buf}
	a.bm.Grow(size / span)
	return a, nil
}

func (a *stagingArena) free() {
	if a.buf != nil {
		a.buf.Destroy()
	}
	*a = stagingArena{}
}

// reserve claims a contiguous block range of at least n
// bytes.
func (a *stagingArena) reserve(n int) (off int64, ok bool) {
	nb := (n + stagingBlock - 1) / stagingBlock
	idx, ok := a.bm.SearchRange(nb)
	if !ok {
		return 0, false
	}
	for i := 0; i < nb; i++ {
		a.bm.Set(idx + i)
	}
	return int64(idx) * stagingBlock, true
}

func (a *stagingArena) release(off int64, n int) {
	ib := int(off) / stagingBlock
	nb := (n + stagingBlock - 1) / stagingBlock
	for i := 0; i < nb; i++ {
		a.bm.Unset(ib + i)
	}
}

// stage copies data into staging memory and returns the
// backing buffer, the offset, and a release callback. The
// release must be deferred until the consuming frame's
// fence clears.
func (rm *ResourceManager) stage(data []byte) (driver.Buffer, int64, func(), error) {
	n := len(data)
	rm.arenaMu.Lock()
	if off, ok := rm.arena.reserve(n); ok {
		buf := rm.arena.buf
		rm.arenaMu.Unlock()
		copy(buf.Bytes()[off:], data)
		if err := buf.Flush(off, int64(n)); err != nil {
			rm.arenaMu.Lock()
			rm.arena.release(off, n)
			rm.arenaMu.Unlock()
			return nil, 0, nil, err
		}
		release := func() {
			rm.arenaMu.Lock()
			rm.arena.release(off, n)
			rm.arenaMu.Unlock()
		}
		return buf, off, release, nil
	}
	rm.arenaMu.Unlock()

	// One-shot staging for oversized payloads.
	buf, err := rm.gpu.NewBuffer(int64(n), driver.TUpload, driver.UCopySrc)
	if err != nil {
		return nil, 0, nil, err
	}
	copy(buf.Bytes(), data)
	if err := buf.Flush(0, int64(n)); err != nil {
		buf.Destroy()
		return nil, 0, nil, err
	}
	return buf, 0, buf.Destroy, nil
}
