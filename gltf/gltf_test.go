// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package gltf

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// triangleDoc is a single-primitive document with one
// interleaved buffer: 3 positions (vec3 f32) followed by 3
// u16 indices plus padding.
func triangleDoc(t *testing.T, uri string) []byte {
	t.Helper()
	buffer := map[string]any{"byteLength": 44}
	if uri != "" {
		buffer["uri"] = uri
	}
	doc := map[string]any{
		"asset":   map[string]any{"version": "2.0"},
		"buffers": []map[string]any{buffer},
		"bufferViews": []map[string]any{
			{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			{"buffer": 0, "byteOffset": 36, "byteLength": 6},
		},
		"accessors": []map[string]any{
			{"bufferView": 0, "componentType": FLOAT, "count": 3, "type": VEC3},
			{"bufferView": 1, "componentType": UNSIGNED_SHORT, "count": 3, "type": SCALAR},
		},
		"meshes": []map[string]any{
			{"primitives": []map[string]any{
				{"attributes": map[string]any{POSITION: 0}, "indices": 1},
			}},
		},
		"nodes":  []map[string]any{{"mesh": 0, "name": "tri"}},
		"scenes": []map[string]any{{"nodes": []int{0}}},
		"scene":  0,
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func triangleBin() []byte {
	buf := make([]byte, 44)
	pos := []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}
	for i, f := range pos {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	for i, x := range []uint16{0, 1, 2} {
		binary.LittleEndian.PutUint16(buf[36+i*2:], x)
	}
	return buf
}

func TestDecodeAndCheck(t *testing.T) {
	js := triangleDoc(t, "tri.bin")
	doc, err := Decode(bytes.NewReader(js))
	require.NoError(t, err)
	require.NoError(t, doc.Check())
	require.Len(t, doc.Meshes, 1)
	require.Equal(t, "tri", doc.Nodes[0].Name)
	require.Equal(t, 12, doc.Accessors[0].ElemSize())
	require.Equal(t, 2, doc.Accessors[1].ElemSize())
}

func TestCheckRejectsBadReferences(t *testing.T) {
	js := triangleDoc(t, "tri.bin")
	doc, err := Decode(bytes.NewReader(js))
	require.NoError(t, err)

	bad := *doc
	bad.BufferViews = append([]BufferView(nil), doc.BufferViews...)
	bad.BufferViews[1].ByteLength = 100
	require.ErrorContains(t, bad.Check(), "exceeds buffer")

	bad = *doc
	bad.Meshes = []Mesh{{Primitives: []Primitive{{Attributes: map[string]int64{NORMAL: 0}}}}}
	require.ErrorContains(t, bad.Check(), "POSITION")
}

func TestBufferResolve(t *testing.T) {
	bin := triangleBin()

	// File URI.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tri.bin"), bin, 0o644))
	b := Buffer{URI: "tri.bin", ByteLength: int64(len(bin))}
	got, err := b.Resolve(dir, nil)
	require.NoError(t, err)
	require.Equal(t, bin, got)

	// Data URI.
	b = Buffer{
		URI:        "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(bin),
		ByteLength: int64(len(bin)),
	}
	got, err = b.Resolve("", nil)
	require.NoError(t, err)
	require.Equal(t, bin, got)

	// GLB chunk.
	b = Buffer{ByteLength: int64(len(bin))}
	got, err = b.Resolve("", bin)
	require.NoError(t, err)
	require.Equal(t, bin, got)

	// Non-base64 data URIs are not supported.
	b = Buffer{URI: "data:application/octet-stream,plain", ByteLength: 1}
	_, err = b.Resolve("", nil)
	require.Error(t, err)
}

// buildGLB assembles a GLB blob from a JSON document and an
// optional binary chunk.
func buildGLB(t *testing.T, js, bin []byte) []byte {
	t.Helper()
	pad := func(b []byte, fill byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, fill)
		}
		return b
	}
	js = pad(js, ' ')
	var out bytes.Buffer
	total := 12 + 8 + len(js)
	if bin != nil {
		bin = pad(bin, 0)
		total += 8 + len(bin)
	}
	w := func(v uint32) {
		require.NoError(t, binary.Write(&out, binary.LittleEndian, v))
	}
	w(glbMagic)
	w(glbVersion)
	w(uint32(total))
	w(uint32(len(js)))
	w(glbTypeJSON)
	out.Write(js)
	if bin != nil {
		w(uint32(len(bin)))
		w(glbTypeBIN)
		out.Write(bin)
	}
	return out.Bytes()
}

func TestSplitGLB(t *testing.T) {
	js := triangleDoc(t, "")
	bin := triangleBin()
	blob := buildGLB(t, js, bin)

	doc, gotBin, err := SplitGLB(bytes.NewReader(blob))
	require.NoError(t, err)
	require.NoError(t, doc.Check())
	require.Len(t, gotBin, len(bin))
	require.Equal(t, bin, gotBin[:len(bin)])

	payload, err := doc.Buffers[0].Resolve("", gotBin)
	require.NoError(t, err)
	require.Len(t, payload, 44)
}

func TestSplitGLBWithoutBin(t *testing.T) {
	blob := buildGLB(t, triangleDoc(t, "tri.bin"), nil)
	doc, bin, err := SplitGLB(bytes.NewReader(blob))
	require.NoError(t, err)
	require.Nil(t, bin)
	require.Len(t, doc.Buffers, 1)
}

func TestIsGLB(t *testing.T) {
	require.False(t, IsGLB(strings.NewReader(`{"asset":{"version":"2.0"}}`)))
	blob := buildGLB(t, triangleDoc(t, "tri.bin"), nil)
	require.True(t, IsGLB(bytes.NewReader(blob)))
}
