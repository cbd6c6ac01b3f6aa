// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package rgraph

import (
	"time"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// TimingSpan maps a pass to its pair of timestamp queries.
type TimingSpan struct {
	Name  string
	Start int
	End   int
}

// PassTiming is a resolved per-pass GPU duration.
type PassTiming struct {
	Name string
	Dur  time.Duration
}

// EnableTimings arranges for every executed pass to write a
// start and an end timestamp into qp. The pool must hold at
// least two queries per pass.
// Call TimingSpans after Execute to learn the query indices,
// and ResolveTimings once the frame's fence has cleared
// (typically one frame later).
func (g *Graph) EnableTimings(qp driver.QueryPool) { g.qp = qp }

// TimingSpans returns the query spans written by the last
// execution.
func (g *Graph) TimingSpans() []TimingSpan { return g.spans }

// ResolveTimings reads the spans' timestamps back from qp.
// ok is false if any query has not completed yet.
func ResolveTimings(qp driver.QueryPool, spans []TimingSpan) (t []PassTiming, ok bool, err error) {
	ts := make([]uint64, 2)
	for _, s := range spans {
		if ok, err = qp.Results(s.Start, ts[:1]); !ok || err != nil {
			return nil, false, err
		}
		start := ts[0]
		if ok, err = qp.Results(s.End, ts[1:]); !ok || err != nil {
			return nil, false, err
		}
		t = append(t, PassTiming{
			Name: s.Name,
			Dur:  time.Duration(ts[1]-start) * qp.Period(),
		})
	}
	return t, true, nil
}

// Execute records the compiled graph into cb in topological
// order. For each pass it emits the planned transitions and
// barriers, begins a dynamic rendering scope when the pass
// is a graphics pass, and invokes the execute closure.
// Imported resources' tracked states are left at their
// post-execution values; query them with ImageState.
func (g *Graph) Execute(cb driver.CmdBuffer) error {
	if !g.compiled {
		return ErrNotCompiled
	}
	g.spans = g.spans[:0]
	if g.qp != nil {
		cb.ResetQueries(g.qp, 0, min(g.qp.Count(), 2*len(g.order)))
	}
	res := Resources{g: g}
	for n, i := range g.order {
		p := g.passes[i]
		if len(p.transitions) > 0 {
			cb.Transition(p.transitions)
		}
		if len(p.barriers) > 0 || len(p.bufBarriers) > 0 {
			cb.Barrier(p.barriers, p.bufBarriers)
		}
		ts := -1
		if g.qp != nil && 2*n+1 < g.qp.Count() {
			ts = 2 * n
			cb.WriteTimestamp(g.qp, ts, driver.SAll)
		}
		if p.typ == Graphics {
			cb.BeginRendering(&p.rendering)
		}
		if p.exec != nil {
			p.exec(cb, &res)
		}
		if p.typ == Graphics {
			cb.EndRendering()
		}
		if ts >= 0 {
			cb.WriteTimestamp(g.qp, ts+1, driver.SAll)
			g.spans = append(g.spans, TimingSpan{Name: p.name, Start: ts, End: ts + 1})
		}
	}
	return nil
}
