// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package asset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/texcache"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/gltf"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/linear"
)

// Vertex layout of uploaded meshes: position, normal and UV
// interleaved.
const VertexStride = 32

// ErrCancelled aborts a load at a worker checkpoint.
var ErrCancelled = errors.New("asset: load cancelled")

// ErrNotFound means the locator could not resolve a name.
var ErrNotFound = errors.New("asset: not found")

// LoadCallbacks let a worker report progress and observe
// cancellation at checkpoints inside the loader.
type LoadCallbacks struct {
	OnProgress func(float32)
	Cancelled  func() bool
}

func (cb *LoadCallbacks) progress(v float32) {
	if cb != nil && cb.OnProgress != nil {
		cb.OnProgress(v)
	}
}

func (cb *LoadCallbacks) cancelled() bool {
	return cb != nil && cb.Cancelled != nil && cb.Cancelled()
}

// MeshData is the CPU-side geometry of one glTF primitive.
type MeshData struct {
	Name     string
	Vertices []byte
	Indices  []uint32
	// Material indexes SceneData.Materials; -1 for none.
	Material int
}

// MaterialData references textures by glTF texture index
// (-1 for absent) plus the scalar factors.
type MaterialData struct {
	Name              string
	BaseColor         int
	MetallicRoughness int
	Normal            int
	Emissive          int
	BaseColorFactor   [4]float32
	MetallicFactor    float32
	RoughnessFactor   float32
	EmissiveFactor    [3]float32
}

// NodeData is one flattened scene node with its absolute
// transform within the asset.
type NodeData struct {
	Name  string
	Mesh  int
	Local linear.M4
}

// SceneData is a fully parsed glTF asset, ready for the
// main thread to upload.
type SceneData struct {
	Name      string
	Meshes    []MeshData
	Materials []MaterialData
	Nodes     []NodeData
	// SRGB flags per glTF texture index, derived from
	// material slots.
	SRGB []bool
}

// GPUScene is a committed scene: its geometry on the GPU
// and the texture handles streaming in.
type GPUScene struct {
	Name     string
	Data     *SceneData
	Meshes   []engine.MeshBuffers
	Textures []texcache.Handle
}

// Fallbacks are the built-in substitute textures created at
// init: a magenta/black checkerboard for missing content,
// plus constant pixels for material slots.
type Fallbacks struct {
	Checker    *engine.Image
	White      *engine.Image
	Black      *engine.Image
	FlatNormal *engine.Image
}

func (f *Fallbacks) free() {
	for _, img := range []*engine.Image{f.Checker, f.White, f.Black, f.FlatNormal} {
		if img != nil {
			img.Free()
		}
	}
}

// Manager loads glTF content and owns the fallback assets
// and the registry of committed scenes.
type Manager struct {
	loc      *Locator
	rm       *engine.ResourceManager
	textures *texcache.Cache
	log      *slog.Logger

	fallbacks Fallbacks
	scenes    map[string]*GPUScene
}

// NewManager creates the manager and its fallback textures.
// The fallback uploads are deferred like any other; they
// reach the GPU with the next frame's upload pass.
func NewManager(rm *engine.ResourceManager, textures *texcache.Cache, loc *Locator, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		loc: loc, rm: rm, textures: textures, log: log,
		scenes: make(map[string]*GPUScene),
	}
	var err error
	if m.fallbacks.Checker, err = m.createPixels(checkerPixels(16), 16, 16); err != nil {
		return nil, err
	}
	if m.fallbacks.White, err = m.createPixels([]byte{255, 255, 255, 255}, 1, 1); err != nil {
		m.Free()
		return nil, err
	}
	if m.fallbacks.Black, err = m.createPixels([]byte{0, 0, 0, 255}, 1, 1); err != nil {
		m.Free()
		return nil, err
	}
	if m.fallbacks.FlatNormal, err = m.createPixels([]byte{128, 128, 255, 255}, 1, 1); err != nil {
		m.Free()
		return nil, err
	}
	return m, nil
}

func (m *Manager) createPixels(pix []byte, w, h int) (*engine.Image, error) {
	return m.rm.CreateImageFrom(pix, w, h, driver.RGBA8un, driver.UShaderSample, 1)
}

func checkerPixels(n int) []byte {
	pix := make([]byte, n*n*4)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			i := (y*n + x) * 4
			if (x/4+y/4)%2 == 0 {
				pix[i], pix[i+2] = 255, 255 // magenta
			}
			pix[i+3] = 255
		}
	}
	return pix
}

// Fallbacks returns the built-in substitute textures.
func (m *Manager) Fallbacks() *Fallbacks { return &m.fallbacks }

// Scene returns a committed scene by name.
func (m *Manager) Scene(name string) (*GPUScene, bool) {
	s, ok := m.scenes[name]
	return s, ok
}

// Free destroys the fallback textures and every committed
// scene's geometry. The caller must drain the GPU first.
func (m *Manager) Free() {
	for name, s := range m.scenes {
		for i := range s.Meshes {
			s.Meshes[i].Free()
		}
		delete(m.scenes, name)
	}
	m.fallbacks.free()
}

// resolve turns a content name into an absolute path.
func (m *Manager) resolve(nameOrPath string) (string, error) {
	p := m.loc.AssetPath(nameOrPath)
	if p == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, nameOrPath)
	}
	return p, nil
}

// openDoc reads and parses a glTF or GLB file, returning
// the document, the GLB binary chunk (nil for text glTF)
// and the document's directory.
func openDoc(path string) (*gltf.GLTF, []byte, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", err
	}
	dir := filepath.Dir(path)
	var (
		doc *gltf.GLTF
		bin []byte
	)
	if strings.EqualFold(filepath.Ext(path), ".glb") {
		doc, bin, err = gltf.SplitGLB(bytes.NewReader(b))
	} else {
		doc, err = gltf.Decode(bytes.NewReader(b))
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("asset: %s: %w", path, err)
	}
	if err := doc.Check(); err != nil {
		return nil, nil, "", fmt.Errorf("asset: %s: %w", path, err)
	}
	return doc, bin, dir, nil
}

// srgbFlags derives per-texture color-space flags: base
// color and emissive slots are sRGB, data slots are not.
func srgbFlags(doc *gltf.GLTF) []bool {
	srgb := make([]bool, len(doc.Textures))
	for i := range doc.Materials {
		mat := &doc.Materials[i]
		if pbr := mat.PBRMetallicRoughness; pbr != nil {
			if t := pbr.BaseColorTexture; t != nil && int(t.Index) < len(srgb) {
				srgb[t.Index] = true
			}
		}
		if t := mat.EmissiveTexture; t != nil && int(t.Index) < len(srgb) {
			srgb[t.Index] = true
		}
	}
	return srgb
}

// PrefetchTextures parses only the texture table of an
// asset and requests every texture from the streaming
// cache. The returned slice is indexed by glTF texture
// index; entries that could not be keyed hold
// InvalidHandle. Main thread only.
func (m *Manager) PrefetchTextures(nameOrPath string) ([]texcache.Handle, error) {
	path, err := m.resolve(nameOrPath)
	if err != nil {
		return nil, err
	}
	doc, bin, dir, err := openDoc(path)
	if err != nil {
		return nil, err
	}
	return m.requestTextures(doc, bin, dir), nil
}

func (m *Manager) requestTextures(doc *gltf.GLTF, bin []byte, dir string) []texcache.Handle {
	srgb := srgbFlags(doc)
	handles := make([]texcache.Handle, len(doc.Textures))
	for i := range handles {
		handles[i] = texcache.InvalidHandle
	}
	for i := range doc.Textures {
		src := doc.Textures[i].Source
		if src == nil {
			continue
		}
		img := &doc.Images[*src]
		key := texcache.Key{SRGB: srgb[i], Mipmap: true}
		switch {
		case img.URI != "" && !strings.HasPrefix(img.URI, "data:"):
			key.Kind = texcache.FilePath
			key.Path = filepath.Join(dir, img.URI)
		case img.BufferView != nil:
			view := &doc.BufferViews[*img.BufferView]
			payload, err := doc.Buffers[view.Buffer].Resolve(dir, bin)
			if err != nil {
				m.log.Warn("asset: image buffer", "image", img.Name, "err", err)
				continue
			}
			key.Kind = texcache.Bytes
			key.Path = img.Name
			key.Bytes = payload[view.ByteOffset : view.ByteOffset+view.ByteLength]
		default:
			continue
		}
		handles[i] = m.textures.Request(key, nil)
	}
	return handles
}

// LoadScene parses a glTF asset into CPU-side scene data.
// Safe to call from a worker: it touches only files and
// memory, never the GPU.
func (m *Manager) LoadScene(nameOrPath string, cb *LoadCallbacks) (*SceneData, error) {
	path, err := m.resolve(nameOrPath)
	if err != nil {
		return nil, err
	}
	doc, bin, dir, err := openDoc(path)
	if err != nil {
		return nil, err
	}
	cb.progress(0.1)
	if cb.cancelled() {
		return nil, ErrCancelled
	}

	bufs := make([][]byte, len(doc.Buffers))
	for i := range doc.Buffers {
		if bufs[i], err = doc.Buffers[i].Resolve(dir, bin); err != nil {
			return nil, fmt.Errorf("asset: buffer %d: %w", i, err)
		}
	}

	out := &SceneData{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		SRGB: srgbFlags(doc),
	}
	out.Materials = buildMaterials(doc)

	// meshMap[i] is the index of gltf mesh i's first
	// primitive in out.Meshes.
	meshMap := make([]int, len(doc.Meshes))
	nprim := 0
	for i := range doc.Meshes {
		nprim += len(doc.Meshes[i].Primitives)
	}
	done := 0
	for i := range doc.Meshes {
		meshMap[i] = len(out.Meshes)
		for j := range doc.Meshes[i].Primitives {
			md, err := buildPrimitive(doc, bufs, i, j)
			if err != nil {
				return nil, err
			}
			out.Meshes = append(out.Meshes, md)
			done++
			cb.progress(0.1 + 0.8*float32(done)/float32(max(1, nprim)))
			if cb.cancelled() {
				return nil, ErrCancelled
			}
		}
	}

	out.Nodes = flattenNodes(doc, meshMap)
	cb.progress(1)
	return out, nil
}

func buildMaterials(doc *gltf.GLTF) []MaterialData {
	mats := make([]MaterialData, len(doc.Materials))
	for i := range doc.Materials {
		src := &doc.Materials[i]
		md := MaterialData{
			Name: src.Name, BaseColor: -1, MetallicRoughness: -1, Normal: -1, Emissive: -1,
			BaseColorFactor: [4]float32{1, 1, 1, 1},
			MetallicFactor:  1, RoughnessFactor: 1,
		}
		if pbr := src.PBRMetallicRoughness; pbr != nil {
			if pbr.BaseColorFactor != nil {
				md.BaseColorFactor = *pbr.BaseColorFactor
			}
			if pbr.MetallicFactor != nil {
				md.MetallicFactor = *pbr.MetallicFactor
			}
			if pbr.RoughnessFactor != nil {
				md.RoughnessFactor = *pbr.RoughnessFactor
			}
			if t := pbr.BaseColorTexture; t != nil {
				md.BaseColor = int(t.Index)
			}
			if t := pbr.MetallicRoughnessTexture; t != nil {
				md.MetallicRoughness = int(t.Index)
			}
		}
		if t := src.NormalTexture; t != nil {
			md.Normal = int(t.Index)
		}
		if t := src.EmissiveTexture; t != nil {
			md.Emissive = int(t.Index)
		}
		if f := src.EmissiveFactor; f != nil {
			md.EmissiveFactor = *f
		}
		mats[i] = md
	}
	return mats
}

// accessorBytes returns the raw element range of accessor i
// plus the stride between consecutive elements.
func accessorBytes(doc *gltf.GLTF, bufs [][]byte, i int64) ([]byte, int, error) {
	acc := &doc.Accessors[i]
	if acc.BufferView == nil {
		return nil, 0, fmt.Errorf("asset: accessor %d without buffer view", i)
	}
	view := &doc.BufferViews[*acc.BufferView]
	data := bufs[view.Buffer]
	elem := acc.ElemSize()
	stride := int(view.ByteStride)
	if stride == 0 {
		stride = elem
	}
	base := view.ByteOffset + acc.ByteOffset
	end := base + int64(stride)*(acc.Count-1) + int64(elem)
	if base < 0 || end > int64(len(data)) {
		return nil, 0, fmt.Errorf("asset: accessor %d out of range", i)
	}
	return data[base:end], stride, nil
}

func buildPrimitive(doc *gltf.GLTF, bufs [][]byte, mesh, prim int) (MeshData, error) {
	src := &doc.Meshes[mesh]
	p := &src.Primitives[prim]
	if p.Mode != nil && *p.Mode != gltf.TRIANGLES {
		return MeshData{}, fmt.Errorf("asset: mesh %q: unsupported primitive mode %d", src.Name, *p.Mode)
	}

	name := src.Name
	if len(src.Primitives) > 1 {
		name = fmt.Sprintf("%s#%d", name, prim)
	}
	md := MeshData{Name: name, Material: -1}
	if p.Material != nil {
		md.Material = int(*p.Material)
	}

	posAcc := &doc.Accessors[p.Attributes[gltf.POSITION]]
	if posAcc.ComponentType != gltf.FLOAT || posAcc.Type != gltf.VEC3 {
		return MeshData{}, fmt.Errorf("asset: mesh %q: POSITION must be float vec3", src.Name)
	}
	pos, posStride, err := accessorBytes(doc, bufs, p.Attributes[gltf.POSITION])
	if err != nil {
		return MeshData{}, err
	}
	n := int(posAcc.Count)

	var (
		nrm       []byte
		nrmStride int
		uv        []byte
		uvStride  int
	)
	if i, ok := p.Attributes[gltf.NORMAL]; ok {
		if nrm, nrmStride, err = accessorBytes(doc, bufs, i); err != nil {
			return MeshData{}, err
		}
	}
	if i, ok := p.Attributes[gltf.TEXCOORD_0]; ok {
		if uv, uvStride, err = accessorBytes(doc, bufs, i); err != nil {
			return MeshData{}, err
		}
	}

	md.Vertices = make([]byte, n*VertexStride)
	for v := 0; v < n; v++ {
		dst := md.Vertices[v*VertexStride:]
		copy(dst[0:12], pos[v*posStride:v*posStride+12])
		if nrm != nil {
			copy(dst[12:24], nrm[v*nrmStride:v*nrmStride+12])
		} else {
			binary.LittleEndian.PutUint32(dst[16:], math.Float32bits(1)) // +Y
		}
		if uv != nil {
			copy(dst[24:32], uv[v*uvStride:v*uvStride+8])
		}
	}

	if p.Indices != nil {
		idxAcc := &doc.Accessors[*p.Indices]
		raw, stride, err := accessorBytes(doc, bufs, *p.Indices)
		if err != nil {
			return MeshData{}, err
		}
		md.Indices = make([]uint32, idxAcc.Count)
		for k := range md.Indices {
			off := k * stride
			switch idxAcc.ComponentType {
			case gltf.UNSIGNED_BYTE:
				md.Indices[k] = uint32(raw[off])
			case gltf.UNSIGNED_SHORT:
				md.Indices[k] = uint32(binary.LittleEndian.Uint16(raw[off:]))
			case gltf.UNSIGNED_INT:
				md.Indices[k] = binary.LittleEndian.Uint32(raw[off:])
			default:
				return MeshData{}, fmt.Errorf("asset: mesh %q: bad index type", src.Name)
			}
		}
	} else {
		md.Indices = make([]uint32, n)
		for k := range md.Indices {
			md.Indices[k] = uint32(k)
		}
	}
	return md, nil
}

// nodeLocal composes a node's transform.
func nodeLocal(n *gltf.Node) linear.M4 {
	var m linear.M4
	if x := n.Matrix; x != nil {
		for c := 0; c < 4; c++ {
			for r := 0; r < 4; r++ {
				m[c][r] = x[c*4+r]
			}
		}
		return m
	}
	t := linear.V3{}
	if n.Translation != nil {
		t = *n.Translation
	}
	q := linear.Q{R: 1}
	if r := n.Rotation; r != nil {
		q = linear.Q{V: linear.V3{r[0], r[1], r[2]}, R: r[3]}
	}
	s := linear.V3{1, 1, 1}
	if n.Scale != nil {
		s = *n.Scale
	}
	m.TRS(&t, &q, &s)
	return m
}

// flattenNodes walks the default scene and emits every
// mesh-bearing node with its absolute transform.
func flattenNodes(doc *gltf.GLTF, meshMap []int) []NodeData {
	var roots []int64
	switch {
	case doc.Scene != nil:
		roots = doc.Scenes[*doc.Scene].Nodes
	case len(doc.Scenes) > 0:
		roots = doc.Scenes[0].Nodes
	default:
		for i := range doc.Nodes {
			roots = append(roots, int64(i))
		}
	}

	var out []NodeData
	var walk func(i int64, parent *linear.M4)
	walk = func(i int64, parent *linear.M4) {
		n := &doc.Nodes[i]
		local := nodeLocal(n)
		var abs linear.M4
		abs.Mul(parent, &local)
		if n.Mesh != nil {
			nd := NodeData{Name: n.Name, Mesh: meshMap[*n.Mesh], Local: abs}
			out = append(out, nd)
		}
		for _, c := range n.Children {
			walk(c, &abs)
		}
	}
	var ident linear.M4
	ident.I()
	for _, r := range roots {
		walk(r, &ident)
	}
	return out
}

// Commit uploads a loaded scene's geometry and registers it
// under name, replacing any previous scene with that name.
// Main thread only.
func (m *Manager) Commit(name string, data *SceneData, handles []texcache.Handle) (*GPUScene, error) {
	s := &GPUScene{Name: name, Data: data, Textures: handles}
	for i := range data.Meshes {
		md := &data.Meshes[i]
		mb, err := m.rm.UploadMesh(md.Indices, md.Vertices)
		if err != nil {
			for j := range s.Meshes {
				s.Meshes[j].Free()
			}
			return nil, fmt.Errorf("asset: upload %s: %w", md.Name, err)
		}
		s.Meshes = append(s.Meshes, mb)
	}
	if old, ok := m.scenes[name]; ok {
		// In-flight frames may still draw the old geometry.
		meshes := old.Meshes
		m.rm.DeferFree(func() {
			for i := range meshes {
				meshes[i].Free()
			}
		})
	}
	m.scenes[name] = s
	return s, nil
}
