// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package rec implements the driver interfaces on a pure-Go
// recording device.
// Submitted command buffers retain their recorded commands
// for inspection, and data-plane buffer operations (copies
// and fills) are executed against host memory, which makes
// the package suitable for headless runs and for tests that
// need to observe command streams without GPU access.
package rec

import (
	"errors"
	"sync"
	"time"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

const drvName = "rec"

type drv struct {
	mu  sync.Mutex
	gpu *GPU
}

var theDrv drv

func init() { driver.Register(&theDrv) }

// Open initializes the driver.
func (d *drv) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu == nil {
		d.gpu = &GPU{d: d}
	}
	return d.gpu, nil
}

// Name returns the name of the driver.
func (d *drv) Name() string { return drvName }

// Close deinitializes the driver.
func (d *drv) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gpu = nil
}

// GPU implements driver.GPU.
type GPU struct {
	d     *drv
	mu    sync.Mutex
	ticks uint64
}

var _ driver.GPU = (*GPU)(nil)
var _ driver.Presenter = (*GPU)(nil)

// Driver returns the Driver that owns the GPU.
func (g *GPU) Driver() driver.Driver { return g.d }

// Submit executes the batch synchronously.
// Recorded commands remain attached to their command
// buffers until the next Begin or Reset.
func (g *GPU) Submit(cb []driver.CmdBuffer, wait, signal []driver.SemSync, fence driver.Fence) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range cb {
		c, ok := c.(*CmdBuf)
		if !ok {
			return errors.New("rec: foreign command buffer")
		}
		if !c.ended {
			return errors.New("rec: command buffer not ended")
		}
		g.execute(c)
		c.executed = true
	}
	if fence != nil {
		fence.(*fence_).signal()
	}
	return nil
}

// execute runs the data-plane effects of a command buffer.
// Only buffer copies/fills move actual bytes; image data is
// tracked as byte counts.
func (g *GPU) execute(c *CmdBuf) {
	for _, cmd := range c.cmds {
		switch cmd := cmd.(type) {
		case CmdCopyBuffer:
			from := cmd.Param.From.(*buffer)
			to := cmd.Param.To.(*buffer)
			copy(to.data[cmd.Param.ToOff:cmd.Param.ToOff+cmd.Param.Size],
				from.data[cmd.Param.FromOff:cmd.Param.FromOff+cmd.Param.Size])
		case CmdFill:
			b := cmd.Buf.(*buffer)
			for i := cmd.Off; i < cmd.Off+cmd.Size; i++ {
				b.data[i] = cmd.Value
			}
		case CmdCopyBufToImg:
			img := cmd.Param.Img.(*image)
			img.uploaded += img.pf.ByteCount(cmd.Param.Size.Width, cmd.Param.Size.Height) * int64(max(1, cmd.Param.Layers))
		case CmdTimestamp:
			g.ticks++
			qp := cmd.Pool.(*queryPool)
			qp.ts[cmd.Index] = g.ticks
			qp.avail[cmd.Index] = true
		case CmdResetQueries:
			qp := cmd.Pool.(*queryPool)
			for i := cmd.First; i < cmd.First+cmd.N; i++ {
				qp.avail[i] = false
			}
		}
	}
}

// NewCmdBuffer creates a new command buffer.
func (g *GPU) NewCmdBuffer() (driver.CmdBuffer, error) { return &CmdBuf{}, nil }

// NewFence creates a new fence.
func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	f := &fence_{ch: make(chan struct{}, 1)}
	if signaled {
		f.signal()
	}
	return f, nil
}

// NewSemaphore creates a new binary semaphore.
func (g *GPU) NewSemaphore() (driver.Semaphore, error) { return &semaphore{}, nil }

// NewQueryPool creates a pool of n timestamp queries.
func (g *GPU) NewQueryPool(n int) (driver.QueryPool, error) {
	if n < 1 {
		return nil, errors.New("rec: invalid query count")
	}
	return &queryPool{ts: make([]uint64, n), avail: make([]bool, n)}, nil
}

// NewShaderCode creates a new shader code.
func (g *GPU) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	if len(data) == 0 {
		return nil, errors.New("rec: empty shader code")
	}
	return &shaderCode{data: append([]byte(nil), data...)}, nil
}

// NewPipeline creates a new pipeline.
func (g *GPU) NewPipeline(state any) (driver.Pipeline, error) {
	switch state.(type) {
	case *driver.GraphState, *driver.CompState:
		return &pipeline{state: state}, nil
	}
	return nil, errors.New("rec: invalid pipeline state")
}

// FmtSupported reports format support.
// Every format the driver package defines is supported.
func (g *GPU) FmtSupported(pf driver.PixelFmt) bool { return pf != driver.FInvalid }

// Features returns the optional capabilities of the device.
func (g *GPU) Features() driver.Features {
	return driver.Features{
		RayQuery:            false,
		AccelStruct:         false,
		DescUpdateAfterBind: true,
		BufferAddr:          true,
	}
}

// Limits returns the implementation limits.
func (g *GPU) Limits() driver.Limits {
	return driver.Limits{
		MaxImage2D:        16384,
		MaxImageCube:      16384,
		MaxLayers:         2048,
		MaxDescHeaps:      8,
		MaxDTexture:       16384,
		MaxDConstantRange: 65536,
		MaxColorTargets:   8,
		MaxRenderSize:     [2]int{16384, 16384},
		MaxDispatch:       [3]int{65535, 65535, 65535},
	}
}

// WaitIdle blocks until the queue drains.
// Submission is synchronous, so it returns immediately.
func (g *GPU) WaitIdle() error { return nil }

type fence_ struct {
	ch chan struct{}
}

func (f *fence_) signal() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

func (f *fence_) Wait(timeout time.Duration) error {
	select {
	case <-f.ch:
		f.signal()
		return nil
	case <-time.After(timeout):
		return driver.ErrTimeout
	}
}

func (f *fence_) Reset() error {
	select {
	case <-f.ch:
	default:
	}
	return nil
}

func (f *fence_) Destroy() {}

type semaphore struct{}

func (s *semaphore) Destroy() {}

type queryPool struct {
	ts    []uint64
	avail []bool
}

func (q *queryPool) Count() int { return len(q.ts) }

func (q *queryPool) Results(first int, ts []uint64) (bool, error) {
	if first < 0 || first+len(ts) > len(q.ts) {
		return false, errors.New("rec: query range out of bounds")
	}
	for i := range ts {
		if !q.avail[first+i] {
			return false, nil
		}
		ts[i] = q.ts[first+i]
	}
	return true, nil
}

func (q *queryPool) Period() time.Duration { return time.Nanosecond }

func (q *queryPool) Destroy() {}

type shaderCode struct {
	data []byte
}

func (s *shaderCode) Destroy() {}

type pipeline struct {
	state     any
	destroyed bool
}

func (p *pipeline) Destroy() { p.destroyed = true }
