// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package gltf

import (
	"encoding/binary"
	"io"
)

// GLB container layout: a 12-byte header followed by
// length-prefixed chunks. The first chunk is the JSON
// document; an optional second chunk carries the binary
// buffer.
const (
	glbMagic    = 0x46546c67
	glbVersion  = 2
	glbTypeJSON = 0x4e4f534a
	glbTypeBIN  = 0x004e4942
)

// IsGLB reports whether r starts a binary glTF (version 2).
// It consumes the 12-byte header.
func IsGLB(r io.Reader) bool {
	var h [3]uint32
	if err := binary.Read(r, binary.LittleEndian, h[:]); err != nil {
		return false
	}
	return h[0] == glbMagic && h[1] == glbVersion
}

// SeekJSON positions r at the start of the JSON chunk and
// returns its length. r must refer to an unread GLB blob.
func SeekJSON(r io.Reader) (int, error) {
	if !IsGLB(r) {
		return 0, newErr("not a GLB blob")
	}
	var c [2]uint32
	if err := binary.Read(r, binary.LittleEndian, c[:]); err != nil {
		return 0, err
	}
	if c[0] == 0 || c[1] != glbTypeJSON {
		return 0, newErr("invalid GLB chunk")
	}
	return int(c[0]), nil
}

// SplitGLB decodes a GLB blob into the glTF document and
// the binary chunk's payload. The binary chunk is optional;
// bin is nil when absent.
func SplitGLB(r io.Reader) (doc *GLTF, bin []byte, err error) {
	n, err := SeekJSON(r)
	if err != nil {
		return nil, nil, err
	}
	doc, err = Decode(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, nil, err
	}
	var c [2]uint32
	switch err = binary.Read(r, binary.LittleEndian, c[:]); err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		return doc, nil, nil
	default:
		return nil, nil, err
	}
	if c[1] != glbTypeBIN {
		return nil, nil, newErr("invalid GLB chunk")
	}
	bin = make([]byte, c[0])
	if _, err = io.ReadFull(r, bin); err != nil {
		return nil, nil, err
	}
	return doc, bin, nil
}
