// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package texcache

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver/rec"
)

type fakeUploader struct {
	gpu      driver.GPU
	uploads  []Upload
	discards []Texture
	fail     bool
}

func (u *fakeUploader) Upload(up *Upload) (Texture, error) {
	if u.fail {
		return Texture{}, os.ErrInvalid
	}
	img, err := u.gpu.NewImage(up.Format,
		driver.Dim3D{Width: up.Width, Height: up.Height, Depth: 1},
		1, up.Levels, 1, driver.UShaderSample|driver.UCopyDst)
	if err != nil {
		return Texture{}, err
	}
	view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	if err != nil {
		return Texture{}, err
	}
	u.uploads = append(u.uploads, *up)
	return Texture{View: view}, nil
}

func (u *fakeUploader) Discard(t Texture) { u.discards = append(u.discards, t) }

func newCache(t *testing.T, opts Options) (*Cache, *fakeUploader) {
	t.Helper()
	gpu, err := driver.Open("rec")
	require.NoError(t, err)
	up := &fakeUploader{gpu: gpu}
	c := New(up, opts)
	t.Cleanup(c.Close)
	return c, up
}

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (c *Cache) readyLen() int {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	return len(c.ready)
}

func waitReady(t *testing.T, c *Cache, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.readyLen() >= n },
		5*time.Second, time.Millisecond)
}

func fallbackView(t *testing.T, gpu driver.GPU) driver.ImageView {
	t.Helper()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 1, Height: 1, Depth: 1},
		1, 1, 1, driver.UShaderSample)
	require.NoError(t, err)
	v, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	require.NoError(t, err)
	return v
}

func newHeap(t *testing.T, gpu driver.GPU) *rec.DescHeap {
	t.Helper()
	h, err := gpu.NewDescHeap([]driver.Descriptor{{
		Type:   driver.DTexture,
		Stages: driver.SFragment,
		Flags:  driver.DUpdateAfterBind,
		Nr:     0,
		Len:    1,
	}})
	require.NoError(t, err)
	require.NoError(t, h.New(1))
	return h.(*rec.DescHeap)
}

func TestRequestDedup(t *testing.T) {
	c, _ := newCache(t, Options{})

	a := c.Request(Key{Kind: FilePath, Path: "tex/wall.png", SRGB: true}, nil)
	b := c.Request(Key{Kind: FilePath, Path: "tex/wall.png", SRGB: true}, nil)
	require.Equal(t, a, b)

	// The UNORM request is a distinct texture.
	u := c.Request(Key{Kind: FilePath, Path: "tex/wall.png"}, nil)
	require.NotEqual(t, a, u)

	pay := []byte{1, 2, 3, 4, 5}
	ba := c.Request(Key{Kind: Bytes, Bytes: pay}, nil)
	bb := c.Request(Key{Kind: Bytes, Bytes: pay}, nil)
	require.Equal(t, ba, bb)
	bs := c.Request(Key{Kind: Bytes, Bytes: pay, SRGB: true}, nil)
	require.NotEqual(t, ba, bs)
}

func TestLoadPatchAndSourceDrop(t *testing.T) {
	c, up := newCache(t, Options{})
	heap := newHeap(t, up.gpu)
	fb := fallbackView(t, up.gpu)

	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 4, 4, color.RGBA{R: 255, A: 255}), SRGB: true, Mipmap: true}, nil)
	c.WatchBinding(h, Binding{Heap: heap, Copy: 0, Nr: 0}, fb)
	require.Positive(t, c.CPUSourceBytes())

	c.MarkUsed(h, 1)
	c.Pump(1)
	require.Equal(t, Loading, c.State(h))
	waitReady(t, c, 1)
	c.Pump(2)

	require.Equal(t, Resident, c.State(h))
	require.NotNil(t, c.View(h))
	require.Equal(t, c.View(h), heap.ViewAt(0, 0, 0))
	require.Equal(t, driver.RGBA8sRGB, up.uploads[0].Format)
	// Source payload dropped after upload by default.
	require.Zero(t, c.CPUSourceBytes())

	// Watching after residency patches immediately.
	heap2 := newHeap(t, up.gpu)
	c.WatchBinding(h, Binding{Heap: heap2, Copy: 0, Nr: 0}, fb)
	require.Equal(t, c.View(h), heap2.ViewAt(0, 0, 0))
}

func TestPumpByteBudget(t *testing.T) {
	// Each 64x64 mipmapped RGBA upload costs ~21.8 KB; the
	// budget admits exactly one per pump.
	c, up := newCache(t, Options{MaxBytesPerPump: 25000})

	a := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 64, 64, color.RGBA{R: 255, A: 255}), Mipmap: true}, nil)
	b := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 64, 64, color.RGBA{G: 255, A: 255}), Mipmap: true}, nil)
	c.MarkUsed(a, 1)
	c.MarkUsed(b, 1)

	c.Pump(1)
	waitReady(t, c, 2)

	c.Pump(2)
	require.Len(t, up.uploads, 1)
	states := []State{c.State(a), c.State(b)}
	require.Contains(t, states, Resident)
	require.Contains(t, states, Loading)

	// The pushed-back result lands on the next pump.
	c.MarkUsed(a, 3)
	c.MarkUsed(b, 3)
	c.Pump(3)
	require.Len(t, up.uploads, 2)
	require.Equal(t, Resident, c.State(a))
	require.Equal(t, Resident, c.State(b))
}

func TestVisibilityGate(t *testing.T) {
	c, _ := newCache(t, Options{})
	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 4, 4, color.RGBA{A: 255})}, nil)

	// Never marked used: stays Unloaded.
	c.Pump(5)
	require.Equal(t, Unloaded, c.State(h))

	c.MarkUsed(h, 5)
	c.Pump(6)
	require.Equal(t, Loading, c.State(h))
}

func TestPinHonored(t *testing.T) {
	c, up := newCache(t, Options{})
	heap := newHeap(t, up.gpu)
	fb := fallbackView(t, up.gpu)

	a := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 8, 8, color.RGBA{R: 255, A: 255})}, nil)
	b := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 8, 8, color.RGBA{B: 255, A: 255})}, nil)
	c.WatchBinding(b, Binding{Heap: heap, Copy: 0, Nr: 0}, fb)
	c.MarkUsed(a, 1)
	c.MarkUsed(b, 1)
	c.Pump(1)
	waitReady(t, c, 2)
	c.Pump(2)
	require.Equal(t, Resident, c.State(a))
	require.Equal(t, Resident, c.State(b))

	c.Pin(a)
	require.True(t, c.Pinned(a))
	c.EvictToBudget(0, 3)

	require.Equal(t, Resident, c.State(a), "pinned entries survive eviction")
	require.Equal(t, Evicted, c.State(b))
	require.Equal(t, fb, heap.ViewAt(0, 0, 0), "evicted watcher falls back")
	require.Len(t, up.discards, 1)
}

func TestGenerationInvalidatesInFlight(t *testing.T) {
	c, up := newCache(t, Options{})
	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 4, 4, color.RGBA{A: 255})}, nil)
	gen := c.Generation(h)

	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)

	// Unload while the decoded result sits in the ready
	// queue: the bumped generation keeps it from uploading.
	c.Unload(h, false)
	require.Greater(t, c.Generation(h), gen)
	c.Pump(2)
	require.Empty(t, up.uploads)
	require.Equal(t, Evicted, c.State(h))
}

func TestUnloadAndReload(t *testing.T) {
	c, up := newCache(t, Options{KeepSourceBytes: true})
	heap := newHeap(t, up.gpu)
	fb := fallbackView(t, up.gpu)

	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 4, 4, color.RGBA{R: 9, A: 255})}, nil)
	c.WatchBinding(h, Binding{Heap: heap, Copy: 0, Nr: 0}, fb)
	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)
	require.Equal(t, Resident, c.State(h))

	require.True(t, c.Unload(h, false))
	require.Equal(t, Evicted, c.State(h))
	require.Equal(t, fb, heap.ViewAt(0, 0, 0))
	require.Len(t, up.discards, 1)
	require.Zero(t, c.ResidentBytes())

	// Reload after the cooldown.
	c.MarkUsed(h, 10)
	c.Pump(10)
	require.Equal(t, Loading, c.State(h))
	waitReady(t, c, 1)
	c.Pump(11)
	require.Equal(t, Resident, c.State(h))
	require.Equal(t, c.View(h), heap.ViewAt(0, 0, 0))
}

func TestFailedDecodeCooldown(t *testing.T) {
	c, _ := newCache(t, Options{})
	h := c.Request(Key{Kind: Bytes, Bytes: []byte("not an image")}, nil)
	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(1)
	require.Equal(t, Evicted, c.State(h))

	// Within the cooldown the entry is not retried.
	c.MarkUsed(h, 2)
	c.Pump(2)
	require.Equal(t, Evicted, c.State(h))

	c.MarkUsed(h, 3)
	c.Pump(3)
	require.Equal(t, Loading, c.State(h))
}

func TestGPUBudgetEviction(t *testing.T) {
	// Budget fits one 8x8 RGBA texture (256 bytes each).
	c, up := newCache(t, Options{GPUBudget: 300})
	heap := newHeap(t, up.gpu)
	fb := fallbackView(t, up.gpu)

	a := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 8, 8, color.RGBA{R: 1, A: 255})}, nil)
	c.MarkUsed(a, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)
	require.Equal(t, Resident, c.State(a))
	c.WatchBinding(a, Binding{Heap: heap, Copy: 0, Nr: 0}, fb)

	b := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 8, 8, color.RGBA{G: 1, A: 255})}, nil)
	c.MarkUsed(b, 3)
	c.Pump(3)
	waitReady(t, c, 1)
	// Admitting b exceeds the budget; a was not used this
	// frame, so it is reclaimed.
	c.Pump(4)
	require.Equal(t, Evicted, c.State(a))
	require.Equal(t, Resident, c.State(b))
	require.Equal(t, fb, heap.ViewAt(0, 0, 0))
}

func TestUnwatchSet(t *testing.T) {
	c, up := newCache(t, Options{})
	heap := newHeap(t, up.gpu)
	fb := fallbackView(t, up.gpu)

	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 4, 4, color.RGBA{A: 255})}, nil)
	c.WatchBinding(h, Binding{Heap: heap, Copy: 0, Nr: 0}, fb)
	c.UnwatchSet(heap, 0)

	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)
	require.Equal(t, Resident, c.State(h))
	// The unwatched slot was never patched.
	require.Nil(t, heap.ViewAt(0, 0, 0))
}

// ktx2File builds a one-level BC7 container for the sibling
// preference test.
func ktx2File(w, h int) []byte {
	le := binary.LittleEndian
	blocks := ((w + 3) / 4) * ((h + 3) / 4)
	payload := make([]byte, blocks*16)
	dataStart := (80 + 24 + 7) &^ 7

	b := make([]byte, 80)
	copy(b, []byte{0xab, 'K', 'T', 'X', ' ', '2', '0', 0xbb, 0x0d, 0x0a, 0x1a, 0x0a})
	le.PutUint32(b[12:], 145) // BC7 UNORM
	le.PutUint32(b[16:], 1)
	le.PutUint32(b[20:], uint32(w))
	le.PutUint32(b[24:], uint32(h))
	le.PutUint32(b[36:], 1)
	le.PutUint32(b[40:], 1)

	e := make([]byte, 24)
	le.PutUint64(e, uint64(dataStart))
	le.PutUint64(e[8:], uint64(len(payload)))
	le.PutUint64(e[16:], uint64(len(payload)))
	b = append(b, e...)
	for len(b) < dataStart {
		b = append(b, 0)
	}
	return append(b, payload...)
}

func TestKTX2SiblingPreferred(t *testing.T) {
	dir := t.TempDir()
	raster := filepath.Join(dir, "albedo.png")
	require.NoError(t, os.WriteFile(raster, pngBytes(t, 8, 8, color.RGBA{R: 200, A: 255}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "albedo.ktx2"), ktx2File(8, 8), 0o644))

	c, up := newCache(t, Options{})
	h := c.Request(Key{Kind: FilePath, Path: raster, SRGB: true}, nil)
	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)

	require.Equal(t, Resident, c.State(h))
	require.Len(t, up.uploads, 1)
	require.NotEmpty(t, up.uploads[0].Mips, "sibling container supplies pre-encoded levels")
	// UNORM payload nudged to sRGB per the request.
	require.Equal(t, driver.BC7sRGB, up.uploads[0].Format)
}

func TestUnsupportedFormatFallsBack(t *testing.T) {
	dir := t.TempDir()
	raster := filepath.Join(dir, "albedo.png")
	require.NoError(t, os.WriteFile(raster, pngBytes(t, 8, 8, color.RGBA{R: 200, A: 255}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "albedo.ktx2"), ktx2File(8, 8), 0o644))

	// The device rejects BC7: the sibling container is
	// skipped and the raster source decodes instead.
	c, up := newCache(t, Options{
		FmtSupported: func(pf driver.PixelFmt) bool {
			return pf != driver.BC7un && pf != driver.BC7sRGB
		},
	})
	h := c.Request(Key{Kind: FilePath, Path: raster, SRGB: true}, nil)
	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)

	require.Equal(t, Resident, c.State(h))
	require.Len(t, up.uploads, 1)
	require.Empty(t, up.uploads[0].Mips)
	require.Equal(t, driver.RGBA8sRGB, up.uploads[0].Format)
}

func TestDownscaleAboveLimit(t *testing.T) {
	c, up := newCache(t, Options{MaxUploadDimension: 16})
	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 64, 32, color.RGBA{B: 7, A: 255})}, nil)
	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)

	require.Equal(t, Resident, c.State(h))
	require.Equal(t, 16, up.uploads[0].Width)
	require.Equal(t, 8, up.uploads[0].Height)
}

func TestChannelRepack(t *testing.T) {
	c, up := newCache(t, Options{})
	h := c.Request(Key{Kind: Bytes, Bytes: pngBytes(t, 4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255}), Channels: ChRG}, nil)
	c.MarkUsed(h, 1)
	c.Pump(1)
	waitReady(t, c, 1)
	c.Pump(2)

	require.Equal(t, Resident, c.State(h))
	u := up.uploads[0]
	require.Equal(t, driver.RG8un, u.Format)
	require.Len(t, u.Data, 4*4*2)
	require.Equal(t, byte(10), u.Data[0])
	require.Equal(t, byte(20), u.Data[1])
}
