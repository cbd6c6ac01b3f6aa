// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rec

import (
	"errors"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// Cmd is a recorded command.
// It is one of the Cmd* struct types below.
type Cmd any

// Recorded command variants.
type (
	CmdBarrier struct {
		Global []driver.Barrier
		Buf    []driver.BufBarrier
	}
	CmdTransition struct {
		T []driver.Transition
	}
	CmdBeginRendering struct {
		Info driver.RenderingInfo
	}
	CmdEndRendering struct{}
	CmdSetPipeline  struct {
		Pl driver.Pipeline
	}
	CmdSetViewport struct {
		Vp driver.Viewport
	}
	CmdSetScissor struct {
		Sciss driver.Scissor
	}
	CmdSetVertexBuf struct {
		Start int
		Buf   []driver.Buffer
		Off   []int64
	}
	CmdSetIndexBuf struct {
		Format driver.IndexFmt
		Buf    driver.Buffer
		Off    int64
	}
	CmdSetDescTable struct {
		Compute  bool
		Table    driver.DescTable
		Start    int
		HeapCopy []int
	}
	CmdDraw struct {
		VertCount, InstCount, BaseVert, BaseInst int
	}
	CmdDrawIndexed struct {
		IdxCount, InstCount, BaseIdx, VertOff, BaseInst int
	}
	CmdDispatch struct {
		X, Y, Z int
	}
	CmdCopyBuffer struct {
		Param driver.BufferCopy
	}
	CmdCopyImage struct {
		Param driver.ImageCopy
	}
	CmdCopyBufToImg struct {
		Param driver.BufImgCopy
	}
	CmdCopyImgToBuf struct {
		Param driver.BufImgCopy
	}
	CmdBlit struct {
		Param driver.ImageBlit
	}
	CmdFill struct {
		Buf   driver.Buffer
		Off   int64
		Value byte
		Size  int64
	}
	CmdTimestamp struct {
		Pool  driver.QueryPool
		Index int
		Sync  driver.Sync
	}
	CmdResetQueries struct {
		Pool  driver.QueryPool
		First int
		N     int
	}
)

// CmdBuf implements driver.CmdBuffer.
// All recorded commands are retained in order and can be
// inspected through Cmds after End.
type CmdBuf struct {
	cmds      []Cmd
	recording bool
	rendering bool
	ended     bool
	executed  bool
	destroyed bool
}

var _ driver.CmdBuffer = (*CmdBuf)(nil)

// Cmds returns the recorded commands in recording order.
// The slice is valid until the next Begin or Reset.
func (c *CmdBuf) Cmds() []Cmd { return c.cmds }

// Executed returns whether the command buffer has executed
// since it was last ended.
func (c *CmdBuf) Executed() bool { return c.executed }

func (c *CmdBuf) rec(cmd Cmd) {
	if !c.recording {
		panic("rec: command recorded outside Begin/End")
	}
	c.cmds = append(c.cmds, cmd)
}

func (c *CmdBuf) Begin() error {
	if c.recording {
		return errors.New("rec: Begin called twice")
	}
	c.cmds = c.cmds[:0]
	c.recording = true
	c.ended = false
	c.executed = false
	return nil
}

func (c *CmdBuf) BeginRendering(info *driver.RenderingInfo) {
	if c.rendering {
		panic("rec: nested rendering scope")
	}
	c.rendering = true
	n := driver.RenderingInfo{
		Color:  append([]driver.RenderAtt(nil), info.Color...),
		Width:  info.Width,
		Height: info.Height,
		Layers: info.Layers,
	}
	if info.Depth != nil {
		d := *info.Depth
		n.Depth = &d
	}
	c.rec(CmdBeginRendering{Info: n})
}

func (c *CmdBuf) EndRendering() {
	if !c.rendering {
		panic("rec: EndRendering outside rendering scope")
	}
	c.rendering = false
	c.rec(CmdEndRendering{})
}

func (c *CmdBuf) SetPipeline(pl driver.Pipeline) { c.rec(CmdSetPipeline{Pl: pl}) }

func (c *CmdBuf) SetViewport(vp driver.Viewport) { c.rec(CmdSetViewport{Vp: vp}) }

func (c *CmdBuf) SetScissor(sciss driver.Scissor) { c.rec(CmdSetScissor{Sciss: sciss}) }

func (c *CmdBuf) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	c.rec(CmdSetVertexBuf{Start: start, Buf: append([]driver.Buffer(nil), buf...), Off: append([]int64(nil), off...)})
}

func (c *CmdBuf) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	c.rec(CmdSetIndexBuf{Format: format, Buf: buf, Off: off})
}

func (c *CmdBuf) SetDescTableGraph(table driver.DescTable, start int, heapCopy []int) {
	c.rec(CmdSetDescTable{Table: table, Start: start, HeapCopy: append([]int(nil), heapCopy...)})
}

func (c *CmdBuf) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {
	c.rec(CmdSetDescTable{Compute: true, Table: table, Start: start, HeapCopy: append([]int(nil), heapCopy...)})
}

func (c *CmdBuf) Draw(vertCount, instCount, baseVert, baseInst int) {
	c.rec(CmdDraw{vertCount, instCount, baseVert, baseInst})
}

func (c *CmdBuf) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	c.rec(CmdDrawIndexed{idxCount, instCount, baseIdx, vertOff, baseInst})
}

func (c *CmdBuf) Dispatch(x, y, z int) { c.rec(CmdDispatch{x, y, z}) }

func (c *CmdBuf) CopyBuffer(param *driver.BufferCopy) { c.rec(CmdCopyBuffer{Param: *param}) }

func (c *CmdBuf) CopyImage(param *driver.ImageCopy) { c.rec(CmdCopyImage{Param: *param}) }

func (c *CmdBuf) CopyBufToImg(param *driver.BufImgCopy) { c.rec(CmdCopyBufToImg{Param: *param}) }

func (c *CmdBuf) CopyImgToBuf(param *driver.BufImgCopy) { c.rec(CmdCopyImgToBuf{Param: *param}) }

func (c *CmdBuf) Blit(param *driver.ImageBlit) { c.rec(CmdBlit{Param: *param}) }

func (c *CmdBuf) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	c.rec(CmdFill{Buf: buf, Off: off, Value: value, Size: size})
}

func (c *CmdBuf) Barrier(b []driver.Barrier, bb []driver.BufBarrier) {
	c.rec(CmdBarrier{
		Global: append([]driver.Barrier(nil), b...),
		Buf:    append([]driver.BufBarrier(nil), bb...),
	})
}

func (c *CmdBuf) Transition(t []driver.Transition) {
	c.rec(CmdTransition{T: append([]driver.Transition(nil), t...)})
}

func (c *CmdBuf) WriteTimestamp(qp driver.QueryPool, index int, sync driver.Sync) {
	c.rec(CmdTimestamp{Pool: qp, Index: index, Sync: sync})
}

func (c *CmdBuf) ResetQueries(qp driver.QueryPool, first, n int) {
	c.rec(CmdResetQueries{Pool: qp, First: first, N: n})
}

func (c *CmdBuf) End() error {
	if !c.recording {
		return errors.New("rec: End without Begin")
	}
	if c.rendering {
		c.reset()
		return errors.New("rec: unterminated rendering scope")
	}
	c.recording = false
	c.ended = true
	return nil
}

func (c *CmdBuf) Reset() error {
	c.reset()
	return nil
}

func (c *CmdBuf) reset() {
	c.cmds = c.cmds[:0]
	c.recording = false
	c.rendering = false
	c.ended = false
	c.executed = false
}

func (c *CmdBuf) Destroy() { c.destroyed = true }
