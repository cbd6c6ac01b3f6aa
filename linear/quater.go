// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package linear

import "github.com/chewxy/math32"

// Q is a quaternion of float32.
type Q struct {
	V V3
	R float32
}

// Rotate makes q a rotation of angle radians about the
// given unit axis.
func (q *Q) Rotate(angle float32, axis *V3) {
	s, c := math32.Sincos(angle / 2)
	q.V.Scale(s, axis)
	q.R = c
}

// Mul sets q to contain l ⋅ r.
func (q *Q) Mul(l, r *Q) {
	var v, w V3
	v.Scale(r.R, &l.V)
	w.Scale(l.R, &r.V)
	v.Add(&v, &w)
	w.Cross(&l.V, &r.V)
	d := l.V.Dot(&r.V)
	q.V.Add(&v, &w)
	q.R = l.R*r.R - d
}

// Norm sets q to contain p normalized.
func (q *Q) Norm(p *Q) {
	s := 1 / math32.Sqrt(p.V.Dot(&p.V)+p.R*p.R)
	q.V.Scale(s, &p.V)
	q.R = s * p.R
}
