// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rgraph

import (
	"github.com/chewxy/math32"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// letterbox fits a source extent into a destination extent,
// preserving aspect ratio and centering the result.
func letterbox(sw, sh, dw, dh int) (x, y, w, h int) {
	scale := math32.Min(float32(dw)/float32(sw), float32(dh)/float32(sh))
	w = int(float32(sw) * scale)
	h = int(float32(sh) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x = (dw - w) / 2
	y = (dh - h) / 2
	return
}

// AddPresentChain appends the passes that move the final
// color image onto the swapchain image:
//
//  1. a transfer pass that blits final into the swapchain's
//     letterboxed rect, preserving aspect ratio;
//  2. the passes registered by extra (if non-nil), typically
//     an overlay writing the swapchain as a color attachment;
//  3. a final pass that leaves the swapchain image in the
//     LPresent layout.
//
// It must be called at most once per frame, after every
// other pass has been registered.
func (g *Graph) AddPresentChain(final, swap ImageHandle, extra func(*Graph)) {
	g.AddPass("present-blit", Transfer,
		func(b *Builder) {
			b.Read(final, TransferSrc)
			b.Write(swap, TransferDst)
		},
		func(cb driver.CmdBuffer, res *Resources) {
			src := res.Image(final).Image()
			dst := res.Image(swap).Image()
			ss, ds := src.Size(), dst.Size()
			x, y, w, h := letterbox(ss.Width, ss.Height, ds.Width, ds.Height)
			cb.Blit(&driver.ImageBlit{
				From:     src,
				FromSize: driver.Dim3D{Width: ss.Width, Height: ss.Height, Depth: 1},
				To:       dst,
				ToOff:    driver.Off3D{X: x, Y: y},
				ToSize:   driver.Dim3D{Width: w, Height: h, Depth: 1},
				Filter:   driver.FLinear,
			})
		})
	if extra != nil {
		extra(g)
	}
	g.AddPass("present-out", Transfer,
		func(b *Builder) {
			b.Read(swap, Present)
		},
		nil)
}
