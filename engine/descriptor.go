// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"log/slog"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// Layout describes a descriptor set shape. Layouts are
// created once and live for the process; the per-frame
// allocator grows heap storage for them on demand.
type Layout struct {
	ds              []driver.Descriptor
	updateAfterBind bool
}

// NewLayout registers a descriptor layout.
func NewLayout(ds []driver.Descriptor) *Layout {
	l := &Layout{ds: append([]driver.Descriptor(nil), ds...)}
	for i := range l.ds {
		if l.ds[i].Flags&driver.DUpdateAfterBind != 0 {
			l.updateAfterBind = true
			break
		}
	}
	return l
}

// UpdateAfterBind reports whether any descriptor in the
// layout may be written while bound.
func (l *Layout) UpdateAfterBind() bool { return l.updateAfterBind }

// DescSet is one allocated copy of a layout: a heap and the
// copy index within it.
type DescSet struct {
	Heap driver.DescHeap
	Copy int
}

// IsValid reports whether the set refers to heap storage.
func (s DescSet) IsValid() bool { return s.Heap != nil }

const (
	descPoolInitial = 16
	descPoolCeiling = 4096
)

// descRing is the growable storage of one layout: a list of
// heaps whose copy counts grow geometrically.
type descRing struct {
	heaps []driver.DescHeap
	caps  []int
	// cur indexes the heap currently being carved; next is
	// the first unallocated copy within it.
	cur  int
	next int
}

// DescAlloc allocates transient descriptor sets. Sets are
// never freed individually; Reset recycles all storage at
// once when the owning frame slot is reused.
type DescAlloc struct {
	gpu   driver.GPU
	rings map[*Layout]*descRing
}

func newDescAlloc(gpu driver.GPU) *DescAlloc {
	return &DescAlloc{gpu: gpu, rings: make(map[*Layout]*descRing)}
}

// Alloc carves one set of the given layout, growing heap
// storage when the ready heap is exhausted.
func (a *DescAlloc) Alloc(l *Layout) (DescSet, error) {
	r := a.rings[l]
	if r == nil {
		r = &descRing{}
		a.rings[l] = r
	}
	for r.cur < len(r.heaps) && r.next >= r.caps[r.cur] {
		r.cur++
		r.next = 0
	}
	if r.cur == len(r.heaps) {
		n := descPoolInitial
		if len(r.caps) > 0 {
			n = min(descPoolCeiling, r.caps[len(r.caps)-1]*2)
		}
		h, err := a.gpu.NewDescHeap(l.ds)
		if err != nil {
			return DescSet{}, err
		}
		if err := h.New(n); err != nil {
			h.Destroy()
			return DescSet{}, err
		}
		r.heaps = append(r.heaps, h)
		r.caps = append(r.caps, n)
	}
	s := DescSet{Heap: r.heaps[r.cur], Copy: r.next}
	r.next++
	return s, nil
}

// Reset recycles every heap without freeing storage.
func (a *DescAlloc) Reset() {
	for _, r := range a.rings {
		r.cur = 0
		r.next = 0
	}
}

// Destroy frees all heap storage.
func (a *DescAlloc) Destroy() {
	for l, r := range a.rings {
		for _, h := range r.heaps {
			h.Destroy()
		}
		delete(a.rings, l)
	}
}

// logStorage reports the allocator's footprint, used when
// diagnosing descriptor growth.
func (a *DescAlloc) logStorage(log *slog.Logger) {
	for l, r := range a.rings {
		total := 0
		for _, c := range r.caps {
			total += c
		}
		log.Debug("descalloc: ring", "layout", l, "heaps", len(r.heaps), "copies", total)
	}
}
