// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"math"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/rgraph"
)

// Targets holds the internal render targets of the deferred
// path. Their extent is the window extent multiplied by the
// render scale; the present blit maps it onto the swapchain.
type Targets struct {
	// HDR accumulates lighting in linear space.
	HDR *Image
	// Depth is the scene depth buffer.
	Depth *Image

	// The G-buffer attachments of the geometry pass.
	// Position is view-space position, Normal packs the
	// surface basis, Albedo holds linear base color, Extra
	// carries roughness/metallic/emissive data.
	GBufferPosition *Image
	GBufferNormal   *Image
	GBufferAlbedo   *Image
	GBufferExtra    *Image

	// ID carries per-pixel instance identifiers for picking.
	ID *Image

	windowWidth  int
	windowHeight int
	renderWidth  int
	renderHeight int
	scale        float64
}

// TargetHandles are the targets imported into one frame's
// graph.
type TargetHandles struct {
	HDR             rgraph.ImageHandle
	Depth           rgraph.ImageHandle
	GBufferPosition rgraph.ImageHandle
	GBufferNormal   rgraph.ImageHandle
	GBufferAlbedo   rgraph.ImageHandle
	GBufferExtra    rgraph.ImageHandle
	ID              rgraph.ImageHandle
}

func newTargets(rm *ResourceManager, w, h int, scale float64) (*Targets, error) {
	t := &Targets{}
	if err := t.resize(rm, w, h, scale); err != nil {
		return nil, err
	}
	return t, nil
}

// resize recreates every target for the given window extent
// and render scale. The caller must drain the GPU first.
func (t *Targets) resize(rm *ResourceManager, w, h int, scale float64) error {
	rw := max(1, int(math.Round(float64(w)*scale)))
	rh := max(1, int(math.Round(float64(h)*scale)))
	if t.HDR != nil && rw == t.renderWidth && rh == t.renderHeight {
		t.windowWidth, t.windowHeight, t.scale = w, h, scale
		return nil
	}

	var next Targets
	var err error
	create := func(pf driver.PixelFmt, usg driver.Usage) *Image {
		if err != nil {
			return nil
		}
		var img *Image
		img, err = rm.CreateImage(rw, rh, pf, usg, 1)
		return img
	}
	const sampled = driver.URenderTarget | driver.UShaderSample
	next.HDR = create(driver.RGBA16f, sampled|driver.UCopySrc)
	next.Depth = create(driver.D32f, sampled)
	next.GBufferPosition = create(driver.RGBA32f, sampled)
	next.GBufferNormal = create(driver.RGBA16f, sampled)
	next.GBufferAlbedo = create(driver.RGBA8un, sampled)
	next.GBufferExtra = create(driver.RGBA16f, sampled)
	next.ID = create(driver.R32ui, sampled|driver.UCopySrc)
	if err != nil {
		next.free()
		return err
	}

	t.free()
	*t = next
	t.windowWidth, t.windowHeight = w, h
	t.renderWidth, t.renderHeight = rw, rh
	t.scale = scale
	return nil
}

func (t *Targets) all() []*Image {
	return []*Image{
		t.HDR, t.Depth,
		t.GBufferPosition, t.GBufferNormal, t.GBufferAlbedo, t.GBufferExtra,
		t.ID,
	}
}

func (t *Targets) free() {
	for _, img := range t.all() {
		if img != nil {
			img.Free()
		}
	}
	*t = Targets{}
}

// ImportInto imports every target into the frame's graph in
// the undefined layout and returns the handles. The first
// pass writing each target must clear or overwrite it.
func (t *Targets) ImportInto(g *rgraph.Graph) TargetHandles {
	imp := func(name string, img *Image) rgraph.ImageHandle {
		return g.ImportImage(name, img.View, rgraph.ImageState{
			Sync:   driver.SNone,
			Access: driver.ANone,
			Layout: driver.LUndefined,
		})
	}
	return TargetHandles{
		HDR:             imp("hdr", t.HDR),
		Depth:           imp("depth", t.Depth),
		GBufferPosition: imp("gbuffer-position", t.GBufferPosition),
		GBufferNormal:   imp("gbuffer-normal", t.GBufferNormal),
		GBufferAlbedo:   imp("gbuffer-albedo", t.GBufferAlbedo),
		GBufferExtra:    imp("gbuffer-extra", t.GBufferExtra),
		ID:              imp("id", t.ID),
	}
}

// RenderExtent is the extent the scene is rendered at.
func (t *Targets) RenderExtent() (int, int) { return t.renderWidth, t.renderHeight }

// WindowExtent is the drawable extent of the window.
func (t *Targets) WindowExtent() (int, int) { return t.windowWidth, t.windowHeight }

// Scale returns the current render-extent multiplier.
func (t *Targets) Scale() float64 { return t.scale }
