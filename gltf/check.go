// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package gltf

import (
	"errors"
)

func newErr(reason string) error {
	return errors.New("gltf: " + reason)
}

// Check validates the cross-references the engine relies on
// before it walks the document.
func (f *GLTF) Check() error {
	if s := f.Scene; s != nil && (*s < 0 || *s >= int64(len(f.Scenes))) {
		return newErr("invalid GLTF.Scene index")
	}
	for i := range f.Accessors {
		if err := f.Accessors[i].Check(f); err != nil {
			return err
		}
	}
	for i := range f.BufferViews {
		v := &f.BufferViews[i]
		if v.Buffer < 0 || v.Buffer >= int64(len(f.Buffers)) {
			return newErr("invalid BufferView.Buffer index")
		}
		if v.ByteOffset < 0 || v.ByteLength < 1 {
			return newErr("invalid BufferView range")
		}
		if v.ByteOffset+v.ByteLength > f.Buffers[v.Buffer].ByteLength {
			return newErr("BufferView range exceeds buffer")
		}
	}
	for i := range f.Meshes {
		for j := range f.Meshes[i].Primitives {
			p := &f.Meshes[i].Primitives[j]
			if _, ok := p.Attributes[POSITION]; !ok {
				return newErr("mesh primitive without POSITION")
			}
			for _, a := range p.Attributes {
				if a < 0 || a >= int64(len(f.Accessors)) {
					return newErr("invalid Primitive attribute accessor")
				}
			}
			if x := p.Indices; x != nil && (*x < 0 || *x >= int64(len(f.Accessors))) {
				return newErr("invalid Primitive.Indices accessor")
			}
			if m := p.Material; m != nil && (*m < 0 || *m >= int64(len(f.Materials))) {
				return newErr("invalid Primitive.Material index")
			}
		}
	}
	for i := range f.Nodes {
		for _, c := range f.Nodes[i].Children {
			if c < 0 || c >= int64(len(f.Nodes)) {
				return newErr("invalid Node.Children index")
			}
		}
		if m := f.Nodes[i].Mesh; m != nil && (*m < 0 || *m >= int64(len(f.Meshes))) {
			return newErr("invalid Node.Mesh index")
		}
	}
	for i := range f.Textures {
		if s := f.Textures[i].Source; s != nil && (*s < 0 || *s >= int64(len(f.Images))) {
			return newErr("invalid Texture.Source index")
		}
		if s := f.Textures[i].Sampler; s != nil && (*s < 0 || *s >= int64(len(f.Samplers))) {
			return newErr("invalid Texture.Sampler index")
		}
	}
	return nil
}

// Check validates one accessor.
func (a *Accessor) Check(gltf *GLTF) error {
	if a.BufferView != nil {
		idx := *a.BufferView
		if idx < 0 || idx >= int64(len(gltf.BufferViews)) {
			return newErr("invalid Accessor.BufferView index")
		}
	}
	if a.ByteOffset < 0 {
		return newErr("invalid Accessor.ByteOffset value")
	}
	if ComponentSize(a.ComponentType) == 0 {
		return newErr("invalid Accessor.ComponentType value")
	}
	if a.Count < 1 {
		return newErr("invalid Accessor.Count value")
	}
	if ComponentCount(a.Type) == 0 {
		return newErr("invalid Accessor.Type value")
	}
	return nil
}
