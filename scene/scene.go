// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package scene keeps the instance table of a world. World
// positions are double precision; render-local transforms
// are derived against a floating origin that the camera
// drags along, so the values reaching the GPU stay small.
package scene

import (
	"errors"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/linear"
)

// ID identifies one instance in the table.
type ID uint32

// NoID is the zero, never-allocated identifier.
const NoID ID = 0

// Placement selects how an instance was positioned.
type Placement int

const (
	// PlaceWorld anchors the instance at a double-precision
	// world position; its render-local translation follows
	// the origin automatically.
	PlaceWorld Placement = iota
	// PlaceLocal anchors the instance with a render-local
	// matrix. Origin shifts adjust its translation by the
	// shift delta.
	PlaceLocal
)

// Instance is one renderable placement of a mesh.
type Instance struct {
	Name  string
	Mesh  int
	place Placement

	// World-anchored state.
	world linear.WPoint
	rot   linear.Q
	scale linear.V3

	// Local-anchored state.
	local linear.M4
}

// World holds the instance table and the floating origin.
// Not safe for concurrent use; the frame loop owns it.
type World struct {
	origin    linear.WPoint
	instances map[ID]*Instance
	nextID    ID
}

// New returns an empty world with the origin at zero.
func New() *World {
	return &World{instances: make(map[ID]*Instance), nextID: 1}
}

// Origin returns the current world-space origin.
func (w *World) Origin() linear.WPoint { return w.origin }

// AddWorld adds an instance anchored at a world position.
func (w *World) AddWorld(name string, mesh int, pos linear.WPoint, rot linear.Q, scale linear.V3) ID {
	id := w.nextID
	w.nextID++
	w.instances[id] = &Instance{
		Name: name, Mesh: mesh, place: PlaceWorld,
		world: pos, rot: rot, scale: scale,
	}
	return id
}

// AddLocal adds an instance anchored with a render-local
// matrix relative to the current origin.
func (w *World) AddLocal(name string, mesh int, m *linear.M4) ID {
	id := w.nextID
	w.nextID++
	w.instances[id] = &Instance{Name: name, Mesh: mesh, place: PlaceLocal, local: *m}
	return id
}

// Remove drops an instance.
func (w *World) Remove(id ID) { delete(w.instances, id) }

// Len returns the number of instances.
func (w *World) Len() int { return len(w.instances) }

// Get returns an instance by ID.
func (w *World) Get(id ID) (*Instance, bool) {
	in, ok := w.instances[id]
	return in, ok
}

// Find returns the first instance with the given name.
func (w *World) Find(name string) (ID, bool) {
	for id, in := range w.instances {
		if in.Name == name {
			return id, true
		}
	}
	return NoID, false
}

var errNoInstance = errors.New("scene: no such instance")

// WorldPos returns the authoritative world position of an
// instance. Local-anchored instances report their matrix
// translation widened against the origin.
func (w *World) WorldPos(id ID) (linear.WPoint, error) {
	in, ok := w.instances[id]
	if !ok {
		return linear.WPoint{}, errNoInstance
	}
	if in.place == PlaceWorld {
		return in.world, nil
	}
	t := linear.V3{in.local[3][0], in.local[3][1], in.local[3][2]}
	return linear.World(t, w.origin), nil
}

// SetWorldPos moves a world-anchored instance.
func (w *World) SetWorldPos(id ID, pos linear.WPoint) error {
	in, ok := w.instances[id]
	if !ok {
		return errNoInstance
	}
	if in.place != PlaceWorld {
		return errors.New("scene: instance is local-anchored")
	}
	in.world = pos
	return nil
}

// LocalMatrix derives the render-local transform of an
// instance relative to the current origin.
func (w *World) LocalMatrix(id ID) (linear.M4, error) {
	in, ok := w.instances[id]
	if !ok {
		return linear.M4{}, errNoInstance
	}
	if in.place == PlaceLocal {
		return in.local, nil
	}
	t := in.world.Local(w.origin)
	var m linear.M4
	m.TRS(&t, &in.rot, &in.scale)
	return m, nil
}

// ShiftOrigin moves the floating origin. World-anchored
// instances need no adjustment; their locals are rederived
// from the authoritative world position on the next
// LocalMatrix call. Local-anchored instances hold
// persistent local-space state, so their translations are
// adjusted by the shift delta here, before any of this
// frame's transforms are read.
func (w *World) ShiftOrigin(o linear.WPoint) {
	delta := o.Sub(w.origin)
	w.origin = o
	d := linear.V3{float32(delta[0]), float32(delta[1]), float32(delta[2])}
	for _, in := range w.instances {
		if in.place != PlaceLocal {
			continue
		}
		in.local[3][0] -= d[0]
		in.local[3][1] -= d[1]
		in.local[3][2] -= d[2]
	}
}
