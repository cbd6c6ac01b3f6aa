// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rgraph

import "github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"

// BuildFunc declares the resource usage of a pass.
type BuildFunc func(*Builder)

// ExecFunc records the commands of a pass.
// Graphics passes run inside a rendering scope that the
// graph has already begun; they must not call
// BeginRendering/EndRendering themselves.
type ExecFunc func(driver.CmdBuffer, *Resources)

type imageAccess struct {
	h     ImageHandle
	usage ImageUsage
	// Attachment-only fields.
	load  driver.LoadOp
	clear driver.ClearValue
}

type bufferAccess struct {
	h     BufferHandle
	usage BufferUsage
	size  int64
	name  string
}

type pass struct {
	name    string
	typ     PassType
	build   BuildFunc
	exec    ExecFunc
	enabled bool

	imgAcc []imageAccess
	bufAcc []bufferAccess
	colors []int // indices into imgAcc
	depth  int   // index into imgAcc, or -1

	// Planned synchronization, filled by Compile.
	transitions []driver.Transition
	barriers    []driver.Barrier
	bufBarriers []driver.BufBarrier
	rendering   driver.RenderingInfo
}

// AddPass registers a pass and returns its index.
// Pass indices are stable across SetPassEnabled calls and
// are the unit of timing attribution.
func (g *Graph) AddPass(name string, typ PassType, build BuildFunc, exec ExecFunc) int {
	g.passes = append(g.passes, &pass{
		name:    name,
		typ:     typ,
		build:   build,
		exec:    exec,
		enabled: true,
		depth:   -1,
	})
	return len(g.passes) - 1
}

// Builder collects the resource declarations of one pass.
// It is only valid inside the pass's build closure.
type Builder struct {
	g *Graph
	p *pass
}

// Read declares that the pass reads the image with the
// given usage.
func (b *Builder) Read(h ImageHandle, usage ImageUsage) {
	b.p.imgAcc = append(b.p.imgAcc, imageAccess{h: h, usage: usage})
}

// WriteColor declares the image as a color attachment of
// the pass. Attachment order follows declaration order.
// clear is only used when load is LClear.
func (b *Builder) WriteColor(h ImageHandle, load driver.LoadOp, clear driver.ClearValue) {
	b.p.imgAcc = append(b.p.imgAcc, imageAccess{h: h, usage: ColorAttachment, load: load, clear: clear})
	b.p.colors = append(b.p.colors, len(b.p.imgAcc)-1)
}

// WriteDepth declares the image as the depth attachment of
// the pass.
func (b *Builder) WriteDepth(h ImageHandle, load driver.LoadOp, clear driver.ClearValue) {
	b.p.imgAcc = append(b.p.imgAcc, imageAccess{h: h, usage: DepthAttachment, load: load, clear: clear})
	b.p.depth = len(b.p.imgAcc) - 1
}

// Write declares a non-attachment image write: a storage
// image write or a transfer destination.
func (b *Builder) Write(h ImageHandle, usage ImageUsage) {
	b.p.imgAcc = append(b.p.imgAcc, imageAccess{h: h, usage: usage})
}

// ReadBuffer declares that the pass reads the buffer with
// the given usage. size limits the barrier range; zero
// means the whole buffer. name is used in diagnostics.
func (b *Builder) ReadBuffer(h BufferHandle, usage BufferUsage, size int64, name string) {
	b.p.bufAcc = append(b.p.bufAcc, bufferAccess{h: h, usage: usage, size: size, name: name})
}

// WriteBuffer declares that the pass writes the buffer with
// the given usage.
func (b *Builder) WriteBuffer(h BufferHandle, usage BufferUsage, size int64, name string) {
	b.p.bufAcc = append(b.p.bufAcc, bufferAccess{h: h, usage: usage, size: size, name: name})
}

// Resources resolves graph handles to driver objects during
// pass execution.
type Resources struct {
	g *Graph
}

// Image returns the view backing the handle.
func (r *Resources) Image(h ImageHandle) driver.ImageView {
	return r.g.images[h].view
}

// Buffer returns the buffer backing the handle.
func (r *Resources) Buffer(h BufferHandle) driver.Buffer {
	return r.g.buffers[h].buf
}
