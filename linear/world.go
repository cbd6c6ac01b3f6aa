// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package linear

// WPoint is a world-space position in double precision.
// It is the authoritative spatial coordinate for any
// entity; render-local positions are derived from it
// every frame relative to a world origin.
type WPoint [3]float64

// Add returns p + d.
func (p WPoint) Add(d WPoint) WPoint {
	return WPoint{p[0] + d[0], p[1] + d[1], p[2] + d[2]}
}

// Sub returns p - d.
func (p WPoint) Sub(d WPoint) WPoint {
	return WPoint{p[0] - d[0], p[1] - d[1], p[2] - d[2]}
}

// Local returns the render-local position of p relative
// to the world origin o, narrowed to float32.
func (p WPoint) Local(o WPoint) V3 {
	d := p.Sub(o)
	return V3{float32(d[0]), float32(d[1]), float32(d[2])}
}

// World widens the render-local position v back into
// world space relative to the origin o.
func World(v V3, o WPoint) WPoint {
	return WPoint{float64(v[0]) + o[0], float64(v[1]) + o[1], float64(v[2]) + o[2]}
}

// LocalW is like Local but keeps double precision.
// Persistent local-space state that must survive origin
// shifts without drift is adjusted with LocalW deltas.
func (p WPoint) LocalW(o WPoint) WPoint { return p.Sub(o) }
