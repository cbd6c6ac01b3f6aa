// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package ktx2 reads the KTX2 texture container.
// It handles GPU-ready payloads only: files whose levels are
// stored uncompressed in a block-compressed or raw pixel
// format. Supercompressed files (BasisLZ, Zstd) are detected
// and reported as needing transcoding, which is expected to
// happen offline.
package ktx2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

var (
	ErrBadMagic    = errors.New("ktx2: bad magic")
	ErrTruncated   = errors.New("ktx2: truncated file")
	ErrBadHeader   = errors.New("ktx2: invalid dimensions or levels")
	ErrNoTranscode = errors.New("ktx2: payload needs transcoding")
	ErrFormat      = errors.New("ktx2: unsupported pixel format")
)

var magic = [12]byte{0xab, 'K', 'T', 'X', ' ', '2', '0', 0xbb, 0x0d, 0x0a, 0x1a, 0x0a}

const headerSize = 80

// Vulkan format identifiers, as stored in the vkFormat
// header field.
const (
	vkFormatUndefined  = 0
	vkFormatRG8un      = 16
	vkFormatRGBA8un    = 37
	vkFormatRGBA8sRGB  = 43
	vkFormatBGRA8un    = 44
	vkFormatBGRA8sRGB  = 50
	vkFormatRG16f      = 83
	vkFormatRGBA16f    = 97
	vkFormatR32f       = 100
	vkFormatRG32f      = 103
	vkFormatRGBA32f    = 109
	vkFormatBC5un      = 141
	vkFormatBC6Huf     = 143
	vkFormatBC6Hsf     = 144
	vkFormatBC7un      = 145
	vkFormatBC7sRGB    = 146
	vkFormatR8un       = 9
	vkFormatR16f       = 76
)

// formatOf maps a vkFormat identifier to the driver format.
// BC6H unsigned and signed payloads share a driver format.
func formatOf(vk uint32) (driver.PixelFmt, bool) {
	switch vk {
	case vkFormatR8un:
		return driver.R8un, true
	case vkFormatRG8un:
		return driver.RG8un, true
	case vkFormatRGBA8un:
		return driver.RGBA8un, true
	case vkFormatRGBA8sRGB:
		return driver.RGBA8sRGB, true
	case vkFormatBGRA8un:
		return driver.BGRA8un, true
	case vkFormatBGRA8sRGB:
		return driver.BGRA8sRGB, true
	case vkFormatR16f:
		return driver.R16f, true
	case vkFormatRG16f:
		return driver.RG16f, true
	case vkFormatRGBA16f:
		return driver.RGBA16f, true
	case vkFormatR32f:
		return driver.R32f, true
	case vkFormatRG32f:
		return driver.RG32f, true
	case vkFormatRGBA32f:
		return driver.RGBA32f, true
	case vkFormatBC5un:
		return driver.BC5un, true
	case vkFormatBC6Huf, vkFormatBC6Hsf:
		return driver.BC6Hsf, true
	case vkFormatBC7un:
		return driver.BC7un, true
	case vkFormatBC7sRGB:
		return driver.BC7sRGB, true
	}
	return driver.FInvalid, false
}

// Level locates one mip level's payload within the file data.
// The payload holds every layer and face of the level,
// tightly packed in layer-major order.
type Level struct {
	Offset int64
	Length int64
	Width  int
	Height int
}

// Image is a parsed KTX2 container.
// Data aliases the input buffer; Levels index into it.
type Image struct {
	Format     driver.PixelFmt
	Width      int
	Height     int
	LayerCount int
	FaceCount  int

	// Scheme is the supercompression scheme identifier.
	// Nonzero means the level payloads are not GPU-ready;
	// Levels is empty in that case.
	Scheme uint32

	Levels []Level
	KV     map[string][]byte
	Data   []byte
}

// NeedsTranscode reports whether the payload must be
// transcoded before upload.
func (m *Image) NeedsTranscode() bool { return m.Scheme != 0 }

// ImageOffset returns the byte offset of a single (layer,
// face) image within the given level.
func (m *Image) ImageOffset(level, layer, face int) int64 {
	l := m.Levels[level]
	n := int64(m.LayerCount * m.FaceCount)
	return l.Offset + int64(layer*m.FaceCount+face)*(l.Length/n)
}

// IsKTX2 reports whether b starts with the KTX2 magic.
func IsKTX2(b []byte) bool {
	return len(b) >= len(magic) && [12]byte(b[:12]) == magic
}

func align8(x uint64) uint64 { return (x + 7) &^ 7 }

// Parse reads a KTX2 container from b.
// Supercompressed files parse successfully but carry no
// Levels; check NeedsTranscode before using the payload.
func Parse(b []byte) (*Image, error) {
	if len(b) < headerSize {
		return nil, ErrTruncated
	}
	if !IsKTX2(b) {
		return nil, ErrBadMagic
	}
	le := binary.LittleEndian
	vkFormat := le.Uint32(b[12:])
	width := le.Uint32(b[20:])
	height := le.Uint32(b[24:])
	depth := le.Uint32(b[28:])
	layers := le.Uint32(b[32:])
	faces := le.Uint32(b[36:])
	levels := le.Uint32(b[40:])
	scheme := le.Uint32(b[44:])
	dfdOff := uint64(le.Uint32(b[48:]))
	dfdLen := uint64(le.Uint32(b[52:]))
	kvdOff := uint64(le.Uint32(b[56:]))
	kvdLen := uint64(le.Uint32(b[60:]))
	sgdOff := le.Uint64(b[64:])
	sgdLen := le.Uint64(b[72:])

	if width == 0 || height == 0 || levels == 0 || depth > 1 {
		return nil, ErrBadHeader
	}
	if faces != 1 && faces != 6 {
		return nil, ErrBadHeader
	}

	m := &Image{
		Width:      int(width),
		Height:     int(height),
		LayerCount: int(max(1, layers)),
		FaceCount:  int(faces),
		Scheme:     scheme,
		Data:       b,
	}

	// Level index follows the fixed-size header.
	const entrySize = 24
	idxEnd := uint64(headerSize) + uint64(levels)*entrySize
	if idxEnd > uint64(len(b)) {
		return nil, ErrTruncated
	}
	type entry struct{ off, length, uncomp uint64 }
	idx := make([]entry, levels)
	for i := range idx {
		o := headerSize + i*entrySize
		idx[i] = entry{le.Uint64(b[o:]), le.Uint64(b[o+8:]), le.Uint64(b[o+16:])}
	}

	if kvdLen > 0 {
		if kvdOff+kvdLen > uint64(len(b)) {
			return nil, ErrTruncated
		}
		m.KV = parseKV(b[kvdOff : kvdOff+kvdLen])
	}

	if scheme != 0 {
		return m, nil
	}

	pf, ok := formatOf(vkFormat)
	if !ok {
		if vkFormat == vkFormatUndefined {
			// vkFormat 0 with no supercompression still means
			// a Basis payload that must be transcoded.
			m.Scheme = 1
			return m, nil
		}
		return nil, fmt.Errorf("%w: vkFormat %d", ErrFormat, vkFormat)
	}
	m.Format = pf

	// Level payloads start past the index and the optional
	// DFD/KVD/SGD blocks, 8-byte aligned. Some writers store
	// index offsets relative to that point.
	dataStart := align8(idxEnd)
	for _, end := range []uint64{dfdOff + dfdLen, kvdOff + kvdLen, sgdOff + sgdLen} {
		if end > dataStart {
			dataStart = align8(end)
		}
	}
	if dataStart > uint64(len(b)) {
		return nil, ErrTruncated
	}
	relative := true
	for _, e := range idx {
		if e.off < dataStart {
			continue
		}
		relative = false
		break
	}

	// The index orders entries smallest level first; mip 0 is
	// the largest payload.
	order := make([]int, levels)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return idx[order[a]].length > idx[order[b]].length })

	subimages := int64(m.LayerCount * m.FaceCount)
	m.Levels = make([]Level, levels)
	for mip := range m.Levels {
		e := idx[order[mip]]
		w := max(1, int(width)>>mip)
		h := max(1, int(height)>>mip)
		off := e.off
		if relative {
			off += dataStart
		}
		if off+e.length > uint64(len(b)) {
			return nil, fmt.Errorf("%w: level %d out of bounds", ErrTruncated, mip)
		}
		if want := pf.ByteCount(w, h) * subimages; int64(e.length) < want {
			return nil, fmt.Errorf("ktx2: level %d holds %d bytes, format needs %d", mip, e.length, want)
		}
		m.Levels[mip] = Level{
			Offset: int64(off),
			Length: int64(e.length),
			Width:  w,
			Height: h,
		}
	}
	return m, nil
}

// parseKV decodes the key/value data block: a sequence of
// length-prefixed entries holding a NUL-terminated key
// followed by the value bytes, each entry padded to 4 bytes.
func parseKV(b []byte) map[string][]byte {
	kv := make(map[string][]byte)
	le := binary.LittleEndian
	for len(b) >= 4 {
		n := int(le.Uint32(b))
		b = b[4:]
		if n <= 0 || n > len(b) {
			break
		}
		entry := b[:n]
		for i, c := range entry {
			if c == 0 {
				kv[string(entry[:i])] = entry[i+1:]
				break
			}
		}
		pad := (4 - n&3) & 3
		if n+pad > len(b) {
			break
		}
		b = b[n+pad:]
	}
	return kv
}

// SH9Key is the key/value entry holding a precomputed
// irradiance basis: 9 RGB spherical harmonics coefficients
// as 27 little-endian float32 values.
const SH9Key = "QE.irradianceSH9"

// SH9 extracts the irradiance basis from the key/value data.
func (m *Image) SH9() (sh [9][3]float32, ok bool) {
	v, found := m.KV[SH9Key]
	if !found || len(v) < 9*3*4 {
		return sh, false
	}
	le := binary.LittleEndian
	for i := 0; i < 9; i++ {
		for c := 0; c < 3; c++ {
			sh[i][c] = math.Float32frombits(le.Uint32(v[(i*3+c)*4:]))
		}
	}
	return sh, true
}
