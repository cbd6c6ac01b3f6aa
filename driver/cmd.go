// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package driver

// CmdBuffer is the interface that defines a command buffer.
// Commands are recorded into command buffers and later
// submitted to the GPU for execution. The usage is as
// follows: call Begin to prepare the command buffer for
// recording, record any number of commands, then call End
// and, if it succeeds, GPU.Submit.
//
// Draw commands must be recorded inside a rendering scope
// delimited by BeginRendering/EndRendering. Dispatch, copy,
// blit and fill commands must be recorded outside of any
// rendering scope. Synchronization between commands is
// explicit, via Barrier and Transition.
type CmdBuffer interface {
	Destroyer

	// Begin prepares the command buffer for recording.
	// This method must be called before any command
	// is recorded in the command buffer. It needs to
	// be called again if the command buffer is
	// executed or reset.
	Begin() error

	// BeginRendering begins a dynamic rendering scope with
	// the given attachments.
	// Rendering scopes must not be nested.
	BeginRendering(info *RenderingInfo)

	// EndRendering ends the current rendering scope.
	EndRendering()

	// SetPipeline sets the pipeline.
	// There is a separate binding point for each
	// type of pipeline.
	SetPipeline(pl Pipeline)

	// SetViewport sets the bounds of the viewport.
	SetViewport(vp Viewport)

	// SetScissor sets the scissor rectangle.
	SetScissor(sciss Scissor)

	// SetVertexBuf sets one or more vertex buffers.
	// off must be aligned to the size of the data
	// format as specified in the vertex input of
	// the bound graphics pipeline.
	SetVertexBuf(start int, buf []Buffer, off []int64)

	// SetIndexBuf sets the index buffer.
	// off must be aligned to 4 bytes.
	SetIndexBuf(format IndexFmt, buf Buffer, off int64)

	// SetDescTableGraph sets a descriptor table
	// range for graphics pipelines.
	SetDescTableGraph(table DescTable, start int, heapCopy []int)

	// SetDescTableComp sets a descriptor table
	// range for compute pipelines.
	SetDescTableComp(table DescTable, start int, heapCopy []int)

	// Draw draws primitives.
	// It must only be called inside a rendering scope.
	Draw(vertCount, instCount, baseVert, baseInst int)

	// DrawIndexed draws indexed primitives.
	// It must only be called inside a rendering scope.
	DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)

	// Dispatch dispatches compute thread groups.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// CopyBuffer copies data between buffers.
	CopyBuffer(param *BufferCopy)

	// CopyImage copies data between images.
	CopyImage(param *ImageCopy)

	// CopyBufToImg copies data from a buffer to
	// an image.
	CopyBufToImg(param *BufImgCopy)

	// CopyImgToBuf copies data from an image to
	// a buffer.
	CopyImgToBuf(param *BufImgCopy)

	// Blit copies a region of one image into a region of
	// another, scaling and converting formats as needed.
	// The source must be in the LCopySrc layout and the
	// destination in LCopyDst.
	Blit(param *ImageBlit)

	// Fill fills a buffer range with copies of
	// a byte value.
	// off and size must be aligned to 4 bytes.
	Fill(buf Buffer, off int64, value byte, size int64)

	// Barrier inserts a number of global and buffer-ranged
	// barriers in the command buffer as a single batch.
	Barrier(b []Barrier, bb []BufBarrier)

	// Transition inserts a number of image layout
	// transitions in the command buffer as a single batch.
	Transition(t []Transition)

	// WriteTimestamp writes the current device timestamp of
	// the given synchronization scope into query index of
	// the pool.
	WriteTimestamp(qp QueryPool, index int, sync Sync)

	// ResetQueries returns queries [first, first+n) of the
	// pool to the unavailable state.
	// It must be recorded before the queries are written.
	ResetQueries(qp QueryPool, first, n int)

	// End ends command recording and prepares the
	// command buffer for execution.
	// New recordings are not allowed until the
	// command buffer is executed or reset.
	// Upon failure, the command buffer is reset.
	End() error

	// Reset discards all recorded commands from the
	// command buffer.
	Reset() error
}

// LoadOp is the type of an attachment's load operation.
type LoadOp int

// Load operations.
const (
	LDontCare LoadOp = iota
	LClear
	LLoad
)

// StoreOp is the type of an attachment's store operation.
type StoreOp int

// Store operations.
const (
	SDontCare StoreOp = iota
	SStore
)

// ClearValue defines clear values for color or depth/stencil
// aspects of a render target.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// RenderAtt describes a single attachment of a rendering
// scope. The view's image must have been created with
// URenderTarget usage and transitioned to the matching
// attachment layout beforehand.
type RenderAtt struct {
	View  ImageView
	Load  LoadOp
	Store StoreOp
	Clear ClearValue
}

// RenderingInfo describes the attachments and render area
// of a dynamic rendering scope.
type RenderingInfo struct {
	Color  []RenderAtt
	Depth  *RenderAtt
	Width  int
	Height int
	Layers int
}

// BufferCopy describes the parameters of a copy command
// that copies data from one buffer to another.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// ImageCopy describes the parameters of a copy command
// that copies data from one image to another.
type ImageCopy struct {
	From      Image
	FromOff   Off3D
	FromLayer int
	FromLevel int
	To        Image
	ToOff     Off3D
	ToLayer   int
	ToLevel   int
	Size      Dim3D
	Layers    int
}

// BufImgCopy describes the parameters of a copy command
// that copies data between a buffer and an image.
// Stride is given in texels; a zero stride means tightly
// packed rows.
type BufImgCopy struct {
	Buf    Buffer
	BufOff int64
	// Stride specifies the addressing of image data
	// in the buffer. Stride[0] refers to the row
	// length and Stride[1] refers to the image height.
	Stride [2]int64
	Img    Image
	ImgOff Off3D
	Layer  int
	Layers int
	Level  int
	Size   Dim3D
	// DepthCopy selects either the depth or stencil
	// aspects to copy. It is only used if Img has a
	// combined depth/stencil format.
	DepthCopy bool
}

// ImageBlit describes the parameters of a blit command.
// The source and destination rectangles may differ in size;
// the blit scales with the given filter.
type ImageBlit struct {
	From      Image
	FromOff   Off3D
	FromSize  Dim3D
	FromLayer int
	FromLevel int
	To        Image
	ToOff     Off3D
	ToSize    Dim3D
	ToLayer   int
	ToLevel   int
	Filter    Filter
}

// IndexFmt describes the format of index buffer data.
type IndexFmt int

// Index formats.
const (
	Index16 IndexFmt = 2
	Index32 IndexFmt = 4
)

// Viewport defines the bounds of a viewport.
type Viewport struct {
	X, Y, Width, Height, Znear, Zfar float32
}

// Scissor defines a scissor rectangle.
type Scissor struct {
	X, Y, Width, Height int
}
