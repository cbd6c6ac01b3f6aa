// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package rgraph implements a frame-scoped render graph.
//
// Passes are registered declaratively with build and execute
// closures. During compilation the graph runs the build
// closures to collect per-resource usage, infers dependencies
// from write→read ordering, topologically orders the passes,
// allocates transient resources, and synthesizes the layout
// transitions and memory barriers each pass requires. During
// execution it records the passes into a command buffer in
// order, injecting the planned barriers and delimiting
// dynamic rendering scopes for graphics passes.
//
// A graph and its handles are valid for a single frame.
package rgraph

import (
	"errors"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// PassType selects the synchronization template of a pass.
type PassType int

// Pass types.
const (
	Graphics PassType = iota
	Compute
	Transfer
)

// ImageHandle identifies an image resource within the
// current frame's graph.
type ImageHandle int

// BufferHandle identifies a buffer resource within the
// current frame's graph.
type BufferHandle int

// Nil handle values.
const (
	NilImage  ImageHandle  = -1
	NilBuffer BufferHandle = -1
)

// ImageUsage describes how a pass accesses an image.
type ImageUsage int

// Image usages.
const (
	// Sampled in a fragment shader.
	SampledFragment ImageUsage = iota
	// Sampled in a compute shader.
	SampledCompute
	// Written as a color attachment.
	ColorAttachment
	// Written as the depth attachment.
	DepthAttachment
	// Depth tested without writes.
	DepthReadOnly
	// Read as a storage image.
	StorageRead
	// Written (and possibly read) as a storage image.
	StorageWrite
	// Source of a transfer command.
	TransferSrc
	// Destination of a transfer command.
	TransferDst
	// Presented to a swapchain.
	Present
)

// BufferUsage describes how a pass accesses a buffer.
type BufferUsage int

// Buffer usages.
const (
	IndexRead BufferUsage = iota
	VertexRead
	UniformRead
	BufStorageRead
	BufStorageReadWrite
	IndirectArgs
	BufTransferSrc
	BufTransferDst
)

// ImageState is the synchronization state of an image at a
// point in the frame.
type ImageState struct {
	Sync   driver.Sync
	Access driver.Access
	Layout driver.Layout
}

// BufferState is the synchronization state of a buffer at a
// point in the frame.
type BufferState struct {
	Sync   driver.Sync
	Access driver.Access
}

// imageStateOf translates an image usage into the state the
// accessing pass requires.
func imageStateOf(u ImageUsage) ImageState {
	switch u {
	case SampledFragment:
		return ImageState{driver.SFragmentShading, driver.AShaderRead, driver.LShaderRead}
	case SampledCompute:
		return ImageState{driver.SComputeShading, driver.AShaderRead, driver.LShaderRead}
	case ColorAttachment:
		return ImageState{driver.SColorOutput, driver.AColorWrite | driver.AColorRead, driver.LColorTarget}
	case DepthAttachment:
		return ImageState{driver.SDSOutput, driver.ADSWrite | driver.ADSRead, driver.LDSTarget}
	case DepthReadOnly:
		return ImageState{driver.SDSOutput, driver.ADSRead, driver.LDSRead}
	case StorageRead:
		return ImageState{driver.SComputeShading, driver.AShaderRead, driver.LCommon}
	case StorageWrite:
		return ImageState{driver.SComputeShading, driver.AShaderWrite | driver.AShaderRead, driver.LCommon}
	case TransferSrc:
		return ImageState{driver.SCopy, driver.ACopyRead, driver.LCopySrc}
	case TransferDst:
		return ImageState{driver.SCopy, driver.ACopyWrite, driver.LCopyDst}
	case Present:
		return ImageState{driver.SAll, driver.AAnyRead, driver.LPresent}
	}
	panic("rgraph: unknown image usage")
}

// writesImage returns whether the usage writes the image.
func writesImage(u ImageUsage) bool {
	switch u {
	case ColorAttachment, DepthAttachment, StorageWrite, TransferDst:
		return true
	}
	return false
}

// bufferStateOf translates a buffer usage into the state the
// accessing pass requires.
func bufferStateOf(u BufferUsage) BufferState {
	const anyShading = driver.SVertexShading | driver.SFragmentShading | driver.SComputeShading
	switch u {
	case IndexRead:
		return BufferState{driver.SVertexInput, driver.AIndexBufRead}
	case VertexRead:
		return BufferState{driver.SVertexInput, driver.AVertexBufRead}
	case UniformRead:
		return BufferState{anyShading, driver.AConstRead}
	case BufStorageRead:
		return BufferState{anyShading, driver.AShaderRead}
	case BufStorageReadWrite:
		return BufferState{driver.SComputeShading, driver.AShaderRead | driver.AShaderWrite}
	case IndirectArgs:
		return BufferState{driver.SIndirect, driver.AIndirectRead}
	case BufTransferSrc:
		return BufferState{driver.SCopy, driver.ACopyRead}
	case BufTransferDst:
		return BufferState{driver.SCopy, driver.ACopyWrite}
	}
	panic("rgraph: unknown buffer usage")
}

// writesBuffer returns whether the usage writes the buffer.
func writesBuffer(u BufferUsage) bool {
	switch u {
	case BufStorageReadWrite, BufTransferDst:
		return true
	}
	return false
}

// ImageDesc describes a transient image.
type ImageDesc struct {
	Name   string
	Format driver.PixelFmt
	Width  int
	Height int
	Usage  driver.Usage
}

// BufferDesc describes a transient buffer.
type BufferDesc struct {
	Name  string
	Size  int64
	Usage driver.Usage
}

// Allocator creates the backing resources of transient
// graph entries. Implementations own the returned objects
// and must keep them alive until the frame that consumed
// them completes.
type Allocator interface {
	// NewTransientImage creates an image matching desc and
	// returns its default view.
	NewTransientImage(desc ImageDesc) (driver.ImageView, error)

	// NewTransientBuffer creates a buffer matching desc.
	NewTransientBuffer(desc BufferDesc) (driver.Buffer, error)
}

// Graph errors.
var (
	ErrCompiled    = errors.New("rgraph: graph already compiled")
	ErrNotCompiled = errors.New("rgraph: graph not compiled")
	ErrCycle       = errors.New("rgraph: dependency cycle")
	ErrNoProducer  = errors.New("rgraph: resource read without a producer")
	ErrBadHandle   = errors.New("rgraph: invalid resource handle")
)

type imageRes struct {
	name     string
	desc     ImageDesc
	imported bool
	view     driver.ImageView
	state    ImageState
	used     bool
	// Dependency bookkeeping during compile.
	lastWriter  int
	lastReaders []int
}

type bufferRes struct {
	name     string
	desc     BufferDesc
	imported bool
	buf      driver.Buffer
	state    BufferState
	used     bool
	// Dependency bookkeeping during compile.
	lastWriter  int
	lastReaders []int
}

// Graph is a frame-scoped render graph.
// The zero Graph is empty and ready for registration.
type Graph struct {
	passes   []*pass
	images   []*imageRes
	buffers  []*bufferRes
	order    []int
	compiled bool
	qp       driver.QueryPool
	spans    []TimingSpan
}

// Reset returns the graph to the empty state, retaining
// allocations for reuse by the next frame.
func (g *Graph) Reset() {
	g.passes = g.passes[:0]
	g.images = g.images[:0]
	g.buffers = g.buffers[:0]
	g.order = g.order[:0]
	g.spans = g.spans[:0]
	g.compiled = false
	g.qp = nil
}

// ImportImage registers an externally owned image.
// state must describe the image's synchronization state on
// entry to the frame. The graph only tracks synchronization;
// it never destroys imported resources.
func (g *Graph) ImportImage(name string, view driver.ImageView, state ImageState) ImageHandle {
	g.images = append(g.images, &imageRes{
		name:       name,
		imported:   true,
		view:       view,
		state:      state,
		lastWriter: -1,
	})
	return ImageHandle(len(g.images) - 1)
}

// ImportBuffer registers an externally owned buffer.
func (g *Graph) ImportBuffer(name string, buf driver.Buffer, state BufferState) BufferHandle {
	g.buffers = append(g.buffers, &bufferRes{
		name:       name,
		imported:   true,
		buf:        buf,
		state:      state,
		lastWriter: -1,
	})
	return BufferHandle(len(g.buffers) - 1)
}

// CreateImage registers a transient image.
// The backing resource is allocated at compile time, and
// only if some pass actually uses the handle.
func (g *Graph) CreateImage(desc ImageDesc) ImageHandle {
	g.images = append(g.images, &imageRes{
		name:       desc.Name,
		desc:       desc,
		state:      ImageState{Layout: driver.LUndefined},
		lastWriter: -1,
	})
	return ImageHandle(len(g.images) - 1)
}

// CreateBuffer registers a transient buffer.
func (g *Graph) CreateBuffer(desc BufferDesc) BufferHandle {
	g.buffers = append(g.buffers, &bufferRes{
		name:       desc.Name,
		desc:       desc,
		lastWriter: -1,
	})
	return BufferHandle(len(g.buffers) - 1)
}

// ImageState returns the tracked synchronization state of
// the image. After execution, it reports the state that the
// image was left in, which callers use to seed the next
// frame's import.
func (g *Graph) ImageState(h ImageHandle) (ImageState, error) {
	if h < 0 || int(h) >= len(g.images) {
		return ImageState{}, ErrBadHandle
	}
	return g.images[h].state, nil
}

// NumPasses returns the number of registered passes.
func (g *Graph) NumPasses() int { return len(g.passes) }

// PassIndex returns the index of the first pass with the
// given name, or -1.
func (g *Graph) PassIndex(name string) int {
	for i, p := range g.passes {
		if p.name == name {
			return i
		}
	}
	return -1
}

// SetPassEnabled enables or disables a registered pass.
// A disabled pass does not build, execute, or produce its
// declared writes; compilation fails if this leaves a read
// transient resource without a producer.
// It must be called before Compile.
func (g *Graph) SetPassEnabled(index int, enabled bool) {
	g.passes[index].enabled = enabled
}
