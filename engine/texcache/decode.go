// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package texcache

import (
	"bytes"
	"image"
	"math"
	"math/bits"
	"os"
	"strings"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/transform"

	// Raster decoders for the fallback path.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/ktx2"
)

type decodeReq struct {
	handle Handle
	gen    uint32
	key    Key
	path   string
	bytes  []byte
}

type decoded struct {
	handle Handle
	gen    uint32

	width  int
	height int
	pix    []byte // tightly packed RGBA

	// Pre-encoded path. data backs the level regions.
	ktx    bool
	format driver.PixelFmt
	levels []MipCopy
	data   []byte
}

func (c *Cache) enqueueDecode(h Handle, e *entry) {
	s := State(e.state.Load())
	if s != Unloaded && s != Evicted {
		return
	}
	e.setState(Loading)
	rq := decodeReq{handle: h, gen: e.gen.Load(), key: e.key, path: e.path, bytes: e.bytes}
	c.qMu.Lock()
	c.queue = append(c.queue, rq)
	c.qMu.Unlock()
	c.qCond.Signal()
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		c.qMu.Lock()
		for c.running.Load() && len(c.queue) == 0 {
			c.qCond.Wait()
		}
		if !c.running.Load() {
			c.qMu.Unlock()
			return
		}
		rq := c.queue[0]
		c.queue = c.queue[1:]
		c.qMu.Unlock()

		res := c.decode(&rq)
		c.readyMu.Lock()
		c.ready = append(c.ready, res)
		c.readyMu.Unlock()
	}
}

// siblingKTX2 maps a raster path to its pre-encoded
// counterpart.
func siblingKTX2(path string) string {
	if strings.EqualFold(ext(path), ".ktx2") {
		return path
	}
	e := ext(path)
	return path[:len(path)-len(e)] + ".ktx2"
}

func ext(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/' && path[i] != '\\'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func (c *Cache) decode(rq *decodeReq) decoded {
	res := decoded{handle: rq.handle, gen: rq.gen}

	// Prefer a GPU-ready .ktx2 sibling for file sources.
	if rq.key.Kind == FilePath {
		if kp := siblingKTX2(rq.path); kp != "" {
			if b, err := os.ReadFile(kp); err == nil && ktx2.IsKTX2(b) {
				if c.decodeKTX2(kp, b, rq.key.SRGB, &res) {
					return res
				}
			}
		}
	}

	// Raster fallback.
	var src []byte
	if rq.key.Kind == FilePath {
		b, err := os.ReadFile(rq.path)
		if err != nil {
			c.log.Debug("texcache: read failed", "path", rq.path, "err", err)
			return res
		}
		src = b
	} else {
		src = rq.bytes
	}
	if len(src) == 0 {
		return res
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		c.log.Debug("texcache: decode failed", "path", rq.path, "err", err)
		return res
	}
	rgba := clone.AsRGBA(img)

	// Progressive downscale: halve until within the upload
	// dimension cap.
	if d := c.opts.MaxUploadDimension; d > 0 {
		w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
		for w > d || h > d {
			w, h = max(1, w/2), max(1, h/2)
			rgba = transform.Resize(rgba, w, h, transform.NearestNeighbor)
		}
	}

	res.width = rgba.Bounds().Dx()
	res.height = rgba.Bounds().Dy()
	res.pix = rgba.Pix
	return res
}

// decodeKTX2 fills res from a parsed container. Returns
// false to fall back to the raster path.
func (c *Cache) decodeKTX2(path string, b []byte, srgb bool, res *decoded) bool {
	m, err := ktx2.Parse(b)
	if err != nil {
		c.log.Debug("texcache: ktx2 parse failed", "path", path, "err", err)
		return false
	}
	if m.NeedsTranscode() {
		// Supercompressed payloads are expected to be
		// pre-transcoded offline.
		c.log.Debug("texcache: ktx2 needs transcoding, falling back", "path", path)
		return false
	}
	if m.LayerCount != 1 || m.FaceCount != 1 || !m.Format.IsCompressed() {
		return false
	}
	format := m.Format
	if srgb {
		format = srgbVariant(format)
	} else {
		format = unormVariant(format)
	}
	if fs := c.opts.FmtSupported; fs != nil && !fs(format) {
		c.log.Debug("texcache: format unsupported, falling back",
			"path", path, "fmt", format)
		return false
	}
	res.ktx = true
	res.format = m.Format
	res.width = m.Width
	res.height = m.Height
	res.data = m.Data
	res.levels = make([]MipCopy, len(m.Levels))
	for i, l := range m.Levels {
		res.levels[i] = MipCopy{Offset: l.Offset, Length: l.Length, Width: l.Width, Height: l.Height}
	}
	return true
}

// srgbVariant and unormVariant nudge a container's format
// to the requested transfer function so payloads authored
// either way sample consistently.
func srgbVariant(f driver.PixelFmt) driver.PixelFmt {
	switch f {
	case driver.BC7un:
		return driver.BC7sRGB
	case driver.RGBA8un:
		return driver.RGBA8sRGB
	case driver.BGRA8un:
		return driver.BGRA8sRGB
	}
	return f
}

func unormVariant(f driver.PixelFmt) driver.PixelFmt {
	switch f {
	case driver.BC7sRGB:
		return driver.BC7un
	case driver.RGBA8sRGB:
		return driver.RGBA8un
	case driver.BGRA8sRGB:
		return driver.BGRA8un
	}
	return f
}

func chooseFormat(hint ChannelsHint, srgb bool) driver.PixelFmt {
	switch hint {
	case ChR:
		return driver.R8un
	case ChRG:
		return driver.RG8un
	}
	if srgb {
		return driver.RGBA8sRGB
	}
	return driver.RGBA8un
}

// mipFactor approximates the VRAM cost of a mip chain
// relative to the base level.
func mipFactor(levels int) float64 {
	if levels <= 1 {
		return 1
	}
	return 4.0 / 3.0 * (1 - math.Pow(0.25, float64(levels)))
}

func fullMipLevels(w, h int) int {
	return bits.Len(uint(max(w, h)))
}

// drainReady admits decoded results under the byte budget
// and returns the admitted total. Results that would exceed
// the budget are pushed back for the next pump.
func (c *Cache) drainReady(now uint32, budget int64) int64 {
	c.readyMu.Lock()
	local := c.ready
	c.ready = nil
	c.readyMu.Unlock()
	if len(local) == 0 {
		return 0
	}

	var admitted int64
	for i := 0; i < len(local); i++ {
		res := &local[i]
		if int(res.handle) >= len(c.entries) {
			continue
		}
		e := c.entries[res.handle]

		// Stale results from cancelled or unloaded requests.
		if res.gen != e.gen.Load() || State(e.state.Load()) != Loading {
			continue
		}

		if !res.ktx && (len(res.pix) == 0 || res.width <= 0 || res.height <= 0) {
			c.downgrade(e, now)
			continue
		}

		var (
			format   driver.PixelFmt
			levels   int
			expected int64
		)
		if res.ktx {
			format = res.format
			if e.key.SRGB {
				format = srgbVariant(format)
			} else {
				format = unormVariant(format)
			}
			levels = len(res.levels)
			for _, l := range res.levels {
				expected += l.Length
			}
		} else {
			format = chooseFormat(e.key.Channels, e.key.SRGB)
			levels = 1
			if e.key.Mipmap {
				if e.key.MipClamp > 0 {
					levels = e.key.MipClamp
				} else {
					levels = fullMipLevels(res.width, res.height)
				}
			}
			expected = int64(float64(format.ByteCount(res.width, res.height)) * mipFactor(levels))
		}
		if fs := c.opts.FmtSupported; fs != nil && !fs(format) {
			c.log.Warn("texcache: no usable format", "handle", res.handle, "fmt", format)
			c.downgrade(e, now)
			continue
		}

		// Per-pump byte budget: push the remainder back for
		// the next pump.
		if admitted+expected > budget {
			c.readyMu.Lock()
			c.ready = append(local[i:], c.ready...)
			c.readyMu.Unlock()
			break
		}

		// GPU residency budget with LRU reclamation.
		if g := c.opts.GPUBudget; g > 0 {
			if c.residentBytes+expected > g {
				c.tryMakeSpace(c.residentBytes+expected-g, now)
			}
			if c.residentBytes+expected > g {
				c.downgrade(e, now)
				continue
			}
		}

		up := Upload{Format: format, Width: res.width, Height: res.height, Levels: levels}
		if res.ktx {
			up.Data = res.data
			up.Mips = res.levels
		} else {
			up.Data = repack(res.pix, res.width, res.height, e.key.Channels)
		}
		tex, err := c.up.Upload(&up)
		if err != nil {
			c.log.Warn("texcache: upload failed", "handle", res.handle, "err", err)
			c.downgrade(e, now)
			continue
		}
		if tex.Size == 0 {
			tex.Size = expected
		}
		e.tex = tex
		e.size = tex.Size
		c.residentBytes += e.size
		e.setState(Resident)
		e.nextAttempt = 0
		if !c.opts.KeepSourceBytes && e.key.Kind == Bytes {
			c.dropSource(e)
		}
		// The data is in place before sampling because the
		// frame's upload pass runs ahead of every consumer.
		c.patchReady(e)
		admitted += expected
		c.log.Debug("texcache: resident",
			"handle", res.handle, "fmt", format, "levels", levels,
			"w", res.width, "h", res.height, "bytes", e.size)
	}
	return admitted
}

// downgrade marks a failed or rejected load Evicted with a
// reload cooldown so it does not churn every frame.
func (c *Cache) downgrade(e *entry, now uint32) {
	e.setState(Evicted)
	e.lastEvicted = now
	e.nextAttempt = max(e.nextAttempt, now+reloadCooldownFrames)
}

// repack narrows RGBA pixels to the hinted channel count.
func repack(pix []byte, w, h int, hint ChannelsHint) []byte {
	switch hint {
	case ChR:
		out := make([]byte, w*h)
		for i := range out {
			out[i] = pix[i*4]
		}
		return out
	case ChRG:
		out := make([]byte, w*h*2)
		for i := 0; i < w*h; i++ {
			out[i*2] = pix[i*4]
			out[i*2+1] = pix[i*4+1]
		}
		return out
	}
	return pix
}
