// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package driver

import "time"

// GPU is the main interface to an underlying driver
// implementation.
// It is used to create other types and to execute commands.
// A GPU is obtained from a call to Driver.Open.
// The GPU owns exactly one graphics-capable queue; all
// rendering and transfer work executes on that queue in
// submission order.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Submit submits a batch of command buffers to the
	// graphics queue.
	// The batch waits on each of the wait semaphores at the
	// given synchronization scope before executing, signals
	// each of the signal semaphores when done, and signals
	// fence (if non-nil) when all commands complete.
	// Command buffers in cb cannot be used for recording
	// until the fence that observes the batch signals.
	Submit(cb []CmdBuffer, wait, signal []SemSync, fence Fence) error

	// NewCmdBuffer creates a new command buffer.
	NewCmdBuffer() (CmdBuffer, error)

	// NewFence creates a new fence.
	// If signaled is true, the fence is created in the
	// signaled state.
	NewFence(signaled bool) (Fence, error)

	// NewSemaphore creates a new binary semaphore.
	NewSemaphore() (Semaphore, error)

	// NewQueryPool creates a pool of n timestamp queries.
	NewQueryPool(n int) (QueryPool, error)

	// NewShaderCode creates a new shader code.
	NewShaderCode(data []byte) (ShaderCode, error)

	// NewDescHeap creates a new descriptor heap.
	NewDescHeap(ds []Descriptor) (DescHeap, error)

	// NewDescTable creates a new descriptor table.
	NewDescTable(dh []DescHeap) (DescTable, error)

	// NewPipeline creates a new pipeline.
	// The state parameter must be a pointer to a GraphState or
	// a pointer to a CompState.
	NewPipeline(state any) (Pipeline, error)

	// NewBuffer creates a new buffer in the given memory tier.
	NewBuffer(size int64, tier Tier, usg Usage) (Buffer, error)

	// NewImage creates a new image.
	NewImage(pf PixelFmt, size Dim3D, layers, levels, samples int, usg Usage) (Image, error)

	// NewSampler creates a new Sampler.
	NewSampler(spln *Sampling) (Sampler, error)

	// FmtSupported returns whether images of the given
	// format can be created and sampled on this device.
	FmtSupported(pf PixelFmt) bool

	// Features returns the optional capabilities supported
	// by the device. Immutable for the lifetime of the GPU.
	Features() Features

	// Limits returns the implementation limits.
	// They are immutable for the lifetime of the GPU.
	Limits() Limits

	// WaitIdle blocks until the graphics queue drains.
	WaitIdle() error
}

// SemSync pairs a semaphore with the synchronization scope
// at which a submission waits on or signals it.
type SemSync struct {
	Sem  Semaphore
	Sync Sync
}

// Fence is the interface that defines a CPU-visible
// synchronization primitive signaled by queue submissions.
type Fence interface {
	Destroyer

	// Wait blocks until the fence signals.
	// It returns ErrTimeout if the fence does not signal
	// within the given duration.
	Wait(timeout time.Duration) error

	// Reset returns the fence to the unsignaled state.
	Reset() error
}

// Semaphore is the interface that defines a GPU-side
// binary synchronization primitive.
type Semaphore interface {
	Destroyer
}

// QueryPool is the interface that defines a pool of
// timestamp queries.
// Timestamps are written by CmdBuffer.WriteTimestamp and
// read back with Results, typically one frame later.
type QueryPool interface {
	Destroyer

	// Count returns the number of queries in the pool.
	Count() int

	// Results copies the results of queries [first, first+len(ts))
	// into ts, in ticks. It does not block; queries whose
	// commands have not executed yet report ok == false.
	Results(first int, ts []uint64) (ok bool, err error)

	// Period returns the duration of one timestamp tick.
	Period() time.Duration
}

// Features describes optional device capabilities.
type Features struct {
	// RayQuery indicates support for ray queries
	// in shaders.
	RayQuery bool
	// AccelStruct indicates support for acceleration
	// structure builds.
	AccelStruct bool
	// DescUpdateAfterBind indicates support for updating
	// descriptors of heaps that are bound to pending
	// command buffers.
	DescUpdateAfterBind bool
	// BufferAddr indicates support for buffer device
	// addresses.
	BufferAddr bool
}

// Limits describes implementation limits.
// These may vary across drivers and devices.
type Limits struct {
	// Maximum width and height of 2D images.
	MaxImage2D int
	// Maximum width and height of cube images.
	MaxImageCube int
	// Maximum number of layers in an image.
	MaxLayers int

	// Maximum number of descriptor heaps in a
	// descriptor table.
	MaxDescHeaps int
	// Maximum number of sampled texture descriptors
	// in a single heap.
	MaxDTexture int
	// Maximum range of constant descriptors.
	MaxDConstantRange int64

	// Maximum number of color render targets in a
	// rendering scope.
	MaxColorTargets int
	// Maximum width/height of a rendering scope.
	MaxRenderSize [2]int

	// Maximum dispatch count.
	MaxDispatch [3]int
}
