// Copyright 2025 QuaternionEngine Authors. All rights reserved.

package driver

import (
	"errors"
	"time"
)

// ErrCannotPresent means that the driver and/or device do not
// support presentation.
var ErrCannotPresent = errors.New("driver: presentation not supported")

// ErrSwapchain means that changes to the window or compositor
// made the swapchain unusable. The swapchain must be recreated
// before further use.
var ErrSwapchain = errors.New("driver: swapchain out of date")

// ErrSuboptimal means that the swapchain is still usable but
// no longer matches the surface exactly. Presentation may
// proceed; recreation should be scheduled.
var ErrSuboptimal = errors.New("driver: swapchain suboptimal")

// ErrNoBackbuffer means that all available backbuffers
// were acquired.
// Backbuffers are released during presentation.
var ErrNoBackbuffer = errors.New("driver: all backbuffers in use")

// Presenter is the interface that a GPU may implement
// to enable presentation on a display.
type Presenter interface {
	// NewSwapchain creates a new swapchain with at least
	// imageCount backbuffers at the given drawable extent.
	NewSwapchain(width, height, imageCount int) (Swapchain, error)
}

// Swapchain is the interface that defines a n-buffered
// swapchain for presentation.
// To present, one calls Next to obtain the index of an
// image view to target, transitions the view to a valid
// layout, records commands as needed, transitions the view
// to the LPresent layout, submits these commands signaling
// sem, and then calls Present to present the image view.
type Swapchain interface {
	Destroyer

	// Views returns the list of image views that
	// comprises the swapchain.
	// This value remains unchanged as long as the
	// swapchain's Destroy or Recreate methods are
	// not called.
	// Swapchain image views are in the LUndefined
	// layout when created/recreated.
	Views() []ImageView

	// Next returns the index of the next writable image
	// view. sem (if non-nil) is signaled when the image
	// is actually ready for writing; rendering commands
	// targeting the view must wait on it.
	// It returns ErrTimeout if no backbuffer becomes
	// available within the given duration, ErrSwapchain
	// if the swapchain must be recreated, or ErrSuboptimal
	// alongside a valid index.
	Next(timeout time.Duration, sem Semaphore) (int, error)

	// Present presents the image view identified by index
	// after waiting on sem.
	// Before calling this method, the given image view
	// must be transitioned to the LPresent layout and the
	// command buffer used to record this transition must
	// be submitted signaling sem.
	Present(index int, sem Semaphore) error

	// Recreate recreates the swapchain at the given
	// drawable extent.
	// It is meant to be called in response to an
	// ErrSwapchain or ErrSuboptimal error, or to a
	// change of the drawable extent.
	Recreate(width, height int) error

	// Format returns the image views' PixelFmt.
	Format() PixelFmt

	// Usage returns the image views' Usage.
	// URenderTarget and UCopyDst are guaranteed to be set.
	Usage() Usage

	// Extent returns the current swapchain extent, which
	// may differ from the requested drawable extent.
	Extent() (width, height int)
}
