// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rec

import (
	"errors"
	"time"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// NewSwapchain creates a new swapchain.
func (g *GPU) NewSwapchain(width, height, imageCount int) (driver.Swapchain, error) {
	if width < 1 || height < 1 || imageCount < 1 {
		return nil, errors.New("rec: invalid swapchain parameters")
	}
	s := &swapchain{gpu: g, count: imageCount}
	if err := s.Recreate(width, height); err != nil {
		return nil, err
	}
	return s, nil
}

type swapchain struct {
	gpu       *GPU
	count     int
	width     int
	height    int
	imgs      []*image
	views     []driver.ImageView
	next      int
	presented int
	destroyed bool
}

func (s *swapchain) Views() []driver.ImageView { return s.views }

func (s *swapchain) Next(timeout time.Duration, sem driver.Semaphore) (int, error) {
	i := s.next
	s.next = (s.next + 1) % s.count
	return i, nil
}

func (s *swapchain) Present(index int, sem driver.Semaphore) error {
	if index < 0 || index >= s.count {
		return errors.New("rec: invalid backbuffer index")
	}
	s.presented++
	return nil
}

func (s *swapchain) Recreate(width, height int) error {
	if width < 1 || height < 1 {
		return errors.New("rec: invalid swapchain extent")
	}
	for _, v := range s.views {
		v.Destroy()
	}
	for _, t := range s.imgs {
		t.Destroy()
	}
	s.width, s.height = width, height
	s.imgs = make([]*image, s.count)
	s.views = make([]driver.ImageView, s.count)
	for i := range s.imgs {
		img, err := s.gpu.NewImage(s.Format(), driver.Dim3D{Width: width, Height: height, Depth: 1}, 1, 1, 1, s.Usage())
		if err != nil {
			return err
		}
		s.imgs[i] = img.(*image)
		v, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
		if err != nil {
			return err
		}
		s.views[i] = v
	}
	s.next = 0
	return nil
}

func (s *swapchain) Format() driver.PixelFmt { return driver.BGRA8un }

func (s *swapchain) Usage() driver.Usage {
	return driver.URenderTarget | driver.UCopyDst | driver.UCopySrc
}

func (s *swapchain) Extent() (int, int) { return s.width, s.height }

func (s *swapchain) Destroy() {
	for _, v := range s.views {
		v.Destroy()
	}
	for _, t := range s.imgs {
		t.Destroy()
	}
	s.destroyed = true
}
