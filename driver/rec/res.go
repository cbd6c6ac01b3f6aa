// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rec

import (
	"errors"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

var addrGen uint64

// NewBuffer creates a new buffer.
// Every tier is backed by host memory.
func (g *GPU) NewBuffer(size int64, tier driver.Tier, usg driver.Usage) (driver.Buffer, error) {
	if size < 1 {
		return nil, errors.New("rec: invalid buffer size")
	}
	g.mu.Lock()
	addrGen += 0x10000
	addr := addrGen
	g.mu.Unlock()
	b := &buffer{
		data: make([]byte, size),
		tier: tier,
		usg:  usg,
	}
	if usg&driver.UBufferAddr != 0 {
		b.addr = addr
	}
	return b, nil
}

type buffer struct {
	data      []byte
	tier      driver.Tier
	usg       driver.Usage
	addr      uint64
	flushes   int
	destroyed bool
}

func (b *buffer) Tier() driver.Tier { return b.tier }

func (b *buffer) Bytes() []byte {
	if !b.tier.Visible() {
		return nil
	}
	return b.data
}

func (b *buffer) Flush(off, size int64) error {
	if off < 0 || off+size > int64(len(b.data)) {
		return errors.New("rec: flush range out of bounds")
	}
	b.flushes++
	return nil
}

func (b *buffer) Addr() uint64 { return b.addr }

func (b *buffer) Cap() int64 { return int64(len(b.data)) }

func (b *buffer) Destroy() { b.destroyed = true }

// NewImage creates a new image.
func (g *GPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	switch {
	case pf == driver.FInvalid:
	case size.Width < 1 || size.Height < 1 || size.Depth < 1:
	case layers < 1 || levels < 1 || samples < 1:
	default:
		return &image{pf: pf, size: size, layers: layers, levels: levels, usg: usg}, nil
	}
	return nil, errors.New("rec: invalid image parameters")
}

type image struct {
	pf        driver.PixelFmt
	size      driver.Dim3D
	layers    int
	levels    int
	usg       driver.Usage
	uploaded  int64
	views     int
	destroyed bool
}

// Destroyed returns whether Destroy has been called on
// the image.
func Destroyed(img driver.Image) bool { return img.(*image).destroyed }

func (t *image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	switch {
	case layer < 0 || layer+layers > t.layers:
	case level < 0 || level+levels > t.levels:
	case typ == driver.IViewCube && layers != 6:
	default:
		t.views++
		return &imageView{img: t, typ: typ}, nil
	}
	return nil, errors.New("rec: invalid view parameters")
}

func (t *image) Format() driver.PixelFmt { return t.pf }

func (t *image) Size() driver.Dim3D { return t.size }

func (t *image) Destroy() { t.destroyed = true }

type imageView struct {
	img       *image
	typ       driver.ViewType
	destroyed bool
}

func (v *imageView) Image() driver.Image { return v.img }

func (v *imageView) Destroy() { v.destroyed = true }

// NewSampler creates a new sampler.
func (g *GPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	return &sampler{spln: *spln}, nil
}

type sampler struct {
	spln      driver.Sampling
	destroyed bool
}

func (s *sampler) Destroy() { s.destroyed = true }

// NewDescHeap creates a new descriptor heap.
func (g *GPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	if len(ds) == 0 {
		return nil, errors.New("rec: empty descriptor heap")
	}
	h := &DescHeap{ds: append([]driver.Descriptor(nil), ds...)}
	return h, nil
}

// DescHeap implements driver.DescHeap.
// Written descriptors are retained per heap copy so tests
// can observe patching.
type DescHeap struct {
	ds        []driver.Descriptor
	cpys      []heapCopy
	destroyed bool
}

type heapCopy struct {
	views    map[int][]driver.ImageView
	samplers map[int][]driver.Sampler
	buffers  map[int][]driver.Buffer
}

func (h *DescHeap) desc(nr int) *driver.Descriptor {
	for i := range h.ds {
		if h.ds[i].Nr == nr {
			return &h.ds[i]
		}
	}
	return nil
}

func (h *DescHeap) New(n int) error {
	if n < 0 {
		return errors.New("rec: invalid heap copy count")
	}
	if n == len(h.cpys) {
		return nil
	}
	h.cpys = make([]heapCopy, n)
	for i := range h.cpys {
		h.cpys[i] = heapCopy{
			views:    make(map[int][]driver.ImageView),
			samplers: make(map[int][]driver.Sampler),
			buffers:  make(map[int][]driver.Buffer),
		}
	}
	return nil
}

func (h *DescHeap) SetBuffer(cpy, nr, start int, buf []driver.Buffer, off, size []int64) {
	d := h.desc(nr)
	s := h.cpys[cpy].buffers[nr]
	if s == nil {
		s = make([]driver.Buffer, d.Len)
	}
	copy(s[start:], buf)
	h.cpys[cpy].buffers[nr] = s
}

func (h *DescHeap) SetImage(cpy, nr, start int, iv []driver.ImageView) {
	d := h.desc(nr)
	s := h.cpys[cpy].views[nr]
	if s == nil {
		s = make([]driver.ImageView, d.Len)
	}
	copy(s[start:], iv)
	h.cpys[cpy].views[nr] = s
}

func (h *DescHeap) SetSampler(cpy, nr, start int, splr []driver.Sampler) {
	d := h.desc(nr)
	s := h.cpys[cpy].samplers[nr]
	if s == nil {
		s = make([]driver.Sampler, d.Len)
	}
	copy(s[start:], splr)
	h.cpys[cpy].samplers[nr] = s
}

// ViewAt returns the image view written at element index of
// descriptor nr in the given heap copy, or nil.
func (h *DescHeap) ViewAt(cpy, nr, index int) driver.ImageView {
	if cpy < 0 || cpy >= len(h.cpys) {
		return nil
	}
	s := h.cpys[cpy].views[nr]
	if index < 0 || index >= len(s) {
		return nil
	}
	return s[index]
}

func (h *DescHeap) Count() int { return len(h.cpys) }

func (h *DescHeap) Destroy() { h.destroyed = true }

// NewDescTable creates a new descriptor table.
func (g *GPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	return &descTable{dh: append([]driver.DescHeap(nil), dh...)}, nil
}

type descTable struct {
	dh        []driver.DescHeap
	destroyed bool
}

func (t *descTable) Destroy() { t.destroyed = true }
