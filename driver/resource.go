// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package driver

// Tier selects the memory placement of a buffer.
type Tier int

// Memory tiers.
const (
	// Device-local memory, not host visible.
	TDevice Tier = iota
	// Host-visible, device-local if possible.
	// Mapped at creation; writes require an explicit
	// Flush on non-coherent memory.
	TUpload
	// Host-visible memory for staging uploads.
	// Mapped at creation.
	TStaging
	// Host-visible, host-cached memory for readbacks.
	// Mapped at creation.
	TReadback
)

// Visible returns whether buffers of this tier are
// mapped for CPU access.
func (t Tier) Visible() bool { return t != TDevice }

// Usage is a mask indicating valid uses for a resource.
type Usage int

// Usage flags for Buffer and Image.
const (
	// The resource can be read in shaders.
	UShaderRead Usage = 1 << iota
	// The resource can be written in shaders.
	UShaderWrite
	// The resource can provide constant data for shaders.
	// Valid only for Buffer.
	UShaderConst
	// The resource can be sampled in shaders.
	// Valid only for Image.
	UShaderSample
	// The resource can provide vertex data for draw calls.
	// Valid only for Buffer.
	UVertexData
	// The resource can provide index data for draw calls.
	// Valid only for Buffer.
	UIndexData
	// The resource can provide indirect draw/dispatch
	// arguments. Valid only for Buffer.
	UIndirectData
	// The resource can be used as render target.
	// Valid only for Image.
	URenderTarget
	// The resource can be a source of copy and blit
	// commands.
	UCopySrc
	// The resource can be a destination of copy and
	// blit commands.
	UCopyDst
	// The resource has a queryable device address.
	// Valid only for Buffer.
	UBufferAddr
	// The resource can be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is the interface that defines a GPU buffer.
// The size of the buffer is fixed. When a larger buffer
// is necessary, a new one must be created and the data
// must be copied explicitly.
type Buffer interface {
	Destroyer

	// Tier returns the memory tier of the buffer.
	Tier() Tier

	// Bytes returns a slice of length Cap referring to the
	// underlying data. If the buffer is not host visible,
	// it returns nil instead.
	// The slice is valid for the lifetime of the buffer.
	Bytes() []byte

	// Flush makes CPU writes in the range [off, off+size)
	// visible to the device. It must be called after every
	// CPU write, regardless of coherency.
	Flush(off, size int64) error

	// Addr returns the device address of the buffer.
	// It is zero unless the buffer was created with
	// UBufferAddr.
	Addr() uint64

	// Cap returns the capacity of the buffer in bytes,
	// which may be greater than the size requested during
	// buffer creation.
	// This value is immutable.
	Cap() int64
}

// PixelFmt describes the format of a pixel.
type PixelFmt int

// Pixel formats.
const (
	FInvalid PixelFmt = iota
	// Color, 8-bit channels.
	RGBA8un
	RGBA8sRGB
	BGRA8un
	BGRA8sRGB
	RG8un
	R8un
	// Color, 16-bit channels.
	RGBA16f
	RG16f
	R16f
	// Color, 32-bit channels.
	RGBA32f
	RG32f
	R32f
	R32ui
	// Depth/Stencil.
	D16un
	D32f
	D24unS8ui
	D32fS8ui
	// Block-compressed.
	BC5un
	BC6Hsf
	BC7un
	BC7sRGB
)

// IsCompressed returns whether f is a block-compressed
// format.
func (f PixelFmt) IsCompressed() bool {
	switch f {
	case BC5un, BC6Hsf, BC7un, BC7sRGB:
		return true
	}
	return false
}

// IsDS returns whether f has depth or stencil aspects.
func (f PixelFmt) IsDS() bool {
	switch f {
	case D16un, D32f, D24unS8ui, D32fS8ui:
		return true
	}
	return false
}

// BlockDim returns the texel dimensions of one format
// block. It is 1x1 for uncompressed formats.
func (f PixelFmt) BlockDim() (w, h int) {
	if f.IsCompressed() {
		return 4, 4
	}
	return 1, 1
}

// BlockSize returns the size in bytes of one format block
// (one texel for uncompressed formats).
func (f PixelFmt) BlockSize() int {
	switch f {
	case R8un:
		return 1
	case RG8un, R16f, D16un:
		return 2
	case RGBA8un, RGBA8sRGB, BGRA8un, BGRA8sRGB, RG16f, R32f, R32ui, D32f, D24unS8ui:
		return 4
	case RGBA16f, RG32f, D32fS8ui:
		return 8
	case RGBA32f, BC5un, BC6Hsf, BC7un, BC7sRGB:
		return 16
	}
	return 0
}

// ByteCount returns the number of bytes needed to store a
// w by h texel extent of format f, rounding the extent up
// to whole blocks.
func (f PixelFmt) ByteCount(w, h int) int64 {
	bw, bh := f.BlockDim()
	nw := (w + bw - 1) / bw
	nh := (h + bh - 1) / bh
	return int64(nw) * int64(nh) * int64(f.BlockSize())
}

// Dim3D is a three-dimensional size.
type Dim3D struct {
	Width, Height, Depth int
}

// Off3D is a three-dimensional offset.
type Off3D struct {
	X, Y, Z int
}

// Image is the interface that defines a GPU image.
// Direct access to image memory is not provided, so copying
// data from the CPU to an image resource requires the use
// of a staging buffer.
type Image interface {
	Destroyer

	// NewView creates a new image view.
	// Image views represent a typed view of image storage.
	// Its type must be valid according to the image from
	// which it is created and the parameters given when
	// calling this method.
	// All views created from a given image must be
	// destroyed before the image itself is destroyed.
	NewView(typ ViewType, layer, layers, level, levels int) (ImageView, error)

	// Format returns the pixel format of the image.
	Format() PixelFmt

	// Size returns the extent of the image's base level.
	Size() Dim3D
}

// ViewType is the type of a resource view.
type ViewType int

// View types.
const (
	IView2D ViewType = iota
	IView3D
	IViewCube
	IView2DArray
	IViewCubeArray
)

// ImageView is the interface that defines a typed view of
// an Image resource.
type ImageView interface {
	Destroyer

	// Image returns the image that the view was created
	// from.
	Image() Image
}

// Filter is the type of sampler filters.
type Filter int

// Filters.
const (
	FNearest Filter = iota
	FLinear
	// FNoMipmap forces mip level 0 to be used.
	// It is only valid as the mip filter of a sampler.
	FNoMipmap
)

// AddrMode is the type of sampler address modes.
type AddrMode int

// Address modes.
const (
	AWrap AddrMode = iota
	AMirror
	AClamp
)

// Sampler is the interface that defines an image sampler.
type Sampler interface {
	Destroyer
}

// Sampling describes image sampler state.
type Sampling struct {
	Min      Filter
	Mag      Filter
	Mipmap   Filter
	AddrU    AddrMode
	AddrV    AddrMode
	AddrW    AddrMode
	MaxAniso int
	Cmp      CmpFunc
	MinLOD   float32
	MaxLOD   float32
}
