// Copyright 2025 QuaternionEngine Authors. All rights reserved.

// Package linear implements math for 3D graphics.
// Render-local quantities use float32; authoritative world
// positions use float64 (see WPoint).
package linear

import "github.com/chewxy/math32"

// V3 is a 3-component vector of float32.
type V3 [3]float32

// Add sets v to contain l + r.
func (v *V3) Add(l, r *V3) {
	for i := range v {
		v[i] = l[i] + r[i]
	}
}

// Sub sets v to contain l - r.
func (v *V3) Sub(l, r *V3) {
	for i := range v {
		v[i] = l[i] - r[i]
	}
}

// Scale sets v to contain s ⋅ u.
func (v *V3) Scale(s float32, u *V3) {
	for i := range v {
		v[i] = s * u[i]
	}
}

// Dot returns v ⋅ u.
func (v *V3) Dot(u *V3) (d float32) {
	for i := range v {
		d += v[i] * u[i]
	}
	return
}

// Len returns the length of v.
func (v *V3) Len() float32 { return math32.Sqrt(v.Dot(v)) }

// Norm sets v to contain u normalized.
func (v *V3) Norm(u *V3) { v.Scale(1/u.Len(), u) }

// Cross sets v to contain l × r.
func (v *V3) Cross(l, r *V3) {
	*v = V3{
		l[1]*r[2] - l[2]*r[1],
		l[2]*r[0] - l[0]*r[2],
		l[0]*r[1] - l[1]*r[0],
	}
}

// Mul sets v to contain m ⋅ u.
func (v *V3) Mul(m *M3, u *V3) {
	var w V3
	for i := range m {
		for j := range w {
			w[j] += m[i][j] * u[i]
		}
	}
	*v = w
}

// V4 is a 4-component vector of float32.
type V4 [4]float32

// Add sets v to contain l + r.
func (v *V4) Add(l, r *V4) {
	for i := range v {
		v[i] = l[i] + r[i]
	}
}

// Sub sets v to contain l - r.
func (v *V4) Sub(l, r *V4) {
	for i := range v {
		v[i] = l[i] - r[i]
	}
}

// Scale sets v to contain s ⋅ u.
func (v *V4) Scale(s float32, u *V4) {
	for i := range v {
		v[i] = s * u[i]
	}
}

// Dot returns v ⋅ u.
func (v *V4) Dot(u *V4) (d float32) {
	for i := range v {
		d += v[i] * u[i]
	}
	return
}

// Len returns the length of v.
func (v *V4) Len() float32 { return math32.Sqrt(v.Dot(v)) }

// Norm sets v to contain u normalized.
func (v *V4) Norm(u *V4) { v.Scale(1/u.Len(), u) }

// Mul sets v to contain m ⋅ u.
func (v *V4) Mul(m *M4, u *V4) {
	var w V4
	for i := range m {
		for j := range w {
			w[j] += m[i][j] * u[i]
		}
	}
	*v = w
}
