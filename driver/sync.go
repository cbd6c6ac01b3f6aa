// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package driver

// Sync is the type of a synchronization scope.
type Sync int

// Synchronization scopes.
const (
	SIndirect Sync = 1 << iota
	SVertexInput
	SVertexShading
	SFragmentShading
	SEarlyFragTest
	SLateFragTest
	SComputeShading
	SColorOutput
	SDraw
	SResolve
	SCopy
	SAll
	SNone Sync = 0

	// SDSOutput is the scope of depth/stencil attachment
	// reads and writes.
	SDSOutput = SEarlyFragTest | SLateFragTest
)

// Access is the type of a memory access scope.
type Access int

// Memory access scopes.
const (
	AIndirectRead Access = 1 << iota
	AVertexBufRead
	AIndexBufRead
	AConstRead
	AColorRead
	AColorWrite
	ADSRead
	ADSWrite
	ACopyRead
	ACopyWrite
	AShaderRead
	AShaderWrite
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// Layout is the type of an image layout.
type Layout int

// Image layouts.
const (
	LUndefined Layout = iota
	LCommon
	LColorTarget
	LDSTarget
	LDSRead
	LCopySrc
	LCopyDst
	LShaderRead
	LPresent
)

// Barrier represents a synchronization barrier.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// BufBarrier represents a synchronization barrier limited
// to a range of a specific buffer.
type BufBarrier struct {
	Barrier

	Buf  Buffer
	Off  int64
	Size int64
}

// Transition represents a layout transition on a
// specific image subresource.
// A transition with LayoutBefore == LUndefined discards
// the previous contents of the subresource.
type Transition struct {
	Barrier

	LayoutBefore Layout
	LayoutAfter  Layout
	IView        ImageView
}
