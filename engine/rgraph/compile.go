// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rgraph

import (
	"fmt"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// writeAccess masks the access scopes that imply a write.
const writeAccess = driver.AColorWrite | driver.ADSWrite | driver.ACopyWrite |
	driver.AShaderWrite | driver.AAnyWrite

// Compile resolves the graph: it runs the build closures of
// every enabled pass, infers pass dependencies, orders the
// passes topologically (ties broken by registration order),
// allocates the transient resources that are actually used,
// and plans the barriers and layout transitions each pass
// requires.
// After a successful compile the graph must be executed
// exactly once.
func (g *Graph) Compile(alloc Allocator) error {
	if g.compiled {
		return ErrCompiled
	}

	// Collect declarations.
	for _, p := range g.passes {
		p.imgAcc = p.imgAcc[:0]
		p.bufAcc = p.bufAcc[:0]
		p.colors = p.colors[:0]
		p.depth = -1
		p.transitions = p.transitions[:0]
		p.barriers = p.barriers[:0]
		p.bufBarriers = p.bufBarriers[:0]
		if !p.enabled || p.build == nil {
			continue
		}
		b := Builder{g: g, p: p}
		p.build(&b)
	}

	// Infer write→read, write→write and read→write edges in
	// registration order.
	adj := make([][]int, len(g.passes))
	indeg := make([]int, len(g.passes))
	edge := func(from, to int) {
		if from == to {
			return
		}
		for _, e := range adj[from] {
			if e == to {
				return
			}
		}
		adj[from] = append(adj[from], to)
		indeg[to]++
	}
	for _, r := range g.images {
		r.used = false
		r.lastWriter = -1
		r.lastReaders = r.lastReaders[:0]
	}
	for _, r := range g.buffers {
		r.used = false
		r.lastWriter = -1
		r.lastReaders = r.lastReaders[:0]
	}
	for i, p := range g.passes {
		if !p.enabled {
			continue
		}
		for _, a := range p.imgAcc {
			if a.h < 0 || int(a.h) >= len(g.images) {
				return ErrBadHandle
			}
			r := g.images[a.h]
			r.used = true
			if writesImage(a.usage) {
				if r.lastWriter >= 0 {
					edge(r.lastWriter, i)
				}
				for _, rd := range r.lastReaders {
					edge(rd, i)
				}
				r.lastReaders = r.lastReaders[:0]
				r.lastWriter = i
			} else {
				switch {
				case r.lastWriter >= 0:
					edge(r.lastWriter, i)
				case !r.imported:
					return fmt.Errorf("%w: image %q in pass %q", ErrNoProducer, r.name, p.name)
				}
				r.lastReaders = append(r.lastReaders, i)
			}
		}
		for _, a := range p.bufAcc {
			if a.h < 0 || int(a.h) >= len(g.buffers) {
				return ErrBadHandle
			}
			r := g.buffers[a.h]
			r.used = true
			if writesBuffer(a.usage) {
				if r.lastWriter >= 0 {
					edge(r.lastWriter, i)
				}
				for _, rd := range r.lastReaders {
					edge(rd, i)
				}
				r.lastReaders = r.lastReaders[:0]
				r.lastWriter = i
			} else {
				switch {
				case r.lastWriter >= 0:
					edge(r.lastWriter, i)
				case !r.imported:
					return fmt.Errorf("%w: buffer %q in pass %q", ErrNoProducer, r.name, p.name)
				}
				r.lastReaders = append(r.lastReaders, i)
			}
		}
	}

	// Stable topological order over the enabled passes.
	g.order = g.order[:0]
	done := make([]bool, len(g.passes))
	remaining := 0
	for i, p := range g.passes {
		if p.enabled {
			remaining++
		} else {
			done[i] = true
		}
	}
	for remaining > 0 {
		next := -1
		for i := range g.passes {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return ErrCycle
		}
		done[next] = true
		remaining--
		g.order = append(g.order, next)
		for _, e := range adj[next] {
			indeg[e]--
		}
	}

	// Allocate the transient resources that some pass uses.
	for _, r := range g.images {
		if r.imported || !r.used {
			continue
		}
		view, err := alloc.NewTransientImage(r.desc)
		if err != nil {
			return fmt.Errorf("rgraph: transient image %q: %w", r.name, err)
		}
		r.view = view
		r.state = ImageState{Layout: driver.LUndefined}
	}
	for _, r := range g.buffers {
		if r.imported || !r.used {
			continue
		}
		buf, err := alloc.NewTransientBuffer(r.desc)
		if err != nil {
			return fmt.Errorf("rgraph: transient buffer %q: %w", r.name, err)
		}
		r.buf = buf
		r.state = BufferState{}
	}

	// Plan per-pass synchronization and attachments in
	// execution order.
	for _, i := range g.order {
		g.planPass(g.passes[i])
	}

	g.compiled = true
	return nil
}

// planPass computes the barriers, transitions and rendering
// info of a single pass from the tracked resource states.
// A barrier is emitted when the required state differs from
// the current one or when the previous access was a write;
// identical read states fold into no barrier at all.
func (g *Graph) planPass(p *pass) {
	for _, a := range p.imgAcc {
		r := g.images[a.h]
		req := imageStateOf(a.usage)
		cur := r.state
		if cur == req && cur.Access&writeAccess == 0 {
			continue
		}
		if cur.Layout != req.Layout {
			p.transitions = append(p.transitions, driver.Transition{
				Barrier: driver.Barrier{
					SyncBefore:   cur.Sync,
					SyncAfter:    req.Sync,
					AccessBefore: cur.Access,
					AccessAfter:  req.Access,
				},
				LayoutBefore: cur.Layout,
				LayoutAfter:  req.Layout,
				IView:        r.view,
			})
		} else {
			p.barriers = append(p.barriers, driver.Barrier{
				SyncBefore:   cur.Sync,
				SyncAfter:    req.Sync,
				AccessBefore: cur.Access,
				AccessAfter:  req.Access,
			})
		}
		r.state = req
	}
	for _, a := range p.bufAcc {
		r := g.buffers[a.h]
		req := bufferStateOf(a.usage)
		cur := r.state
		if cur == req && cur.Access&writeAccess == 0 {
			continue
		}
		if cur.Sync != 0 || cur.Access != 0 {
			size := a.size
			if size == 0 {
				size = r.buf.Cap()
			}
			p.bufBarriers = append(p.bufBarriers, driver.BufBarrier{
				Barrier: driver.Barrier{
					SyncBefore:   cur.Sync,
					SyncAfter:    req.Sync,
					AccessBefore: cur.Access,
					AccessAfter:  req.Access,
				},
				Buf:  r.buf,
				Size: size,
			})
		}
		r.state = req
	}

	if p.typ != Graphics {
		return
	}

	// Attachments and render area. The render area is the
	// intersection of the attachment extents.
	w, h := 0, 0
	clamp := func(iw, ih int) {
		if w == 0 || iw < w {
			w = iw
		}
		if h == 0 || ih < h {
			h = ih
		}
	}
	att := func(ai int) driver.RenderAtt {
		a := p.imgAcc[ai]
		r := g.images[a.h]
		iw, ih := g.imageExtent(r)
		clamp(iw, ih)
		return driver.RenderAtt{
			View:  r.view,
			Load:  a.load,
			Store: driver.SStore,
			Clear: a.clear,
		}
	}
	p.rendering = driver.RenderingInfo{Layers: 1}
	p.rendering.Color = p.rendering.Color[:0]
	for _, ci := range p.colors {
		p.rendering.Color = append(p.rendering.Color, att(ci))
	}
	if p.depth >= 0 {
		d := att(p.depth)
		p.rendering.Depth = &d
	}
	p.rendering.Width = w
	p.rendering.Height = h
}

func (g *Graph) imageExtent(r *imageRes) (int, int) {
	if r.imported {
		size := r.view.Image().Size()
		return size.Width, size.Height
	}
	return r.desc.Width, r.desc.Height
}
