// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// PipelineDesc declares how to (re)build one pipeline. The
// shader binaries are read from Paths and handed to Build,
// in order, as freshly created codes. Build returns the
// pipeline state to create, referencing those codes.
type PipelineDesc struct {
	Name  string
	Paths []string
	// Build receives one ShaderCode per path and returns a
	// *driver.GraphState or *driver.CompState.
	Build func(codes []driver.ShaderCode) (any, error)
}

type pipelineEntry struct {
	desc  PipelineDesc
	pl    driver.Pipeline
	codes []driver.ShaderCode
	gen   uint32
}

// PipelineRegistry owns every pipeline and rebuilds them
// when their shader files change on disk. Rebuilds happen
// only on PumpReloads, on the frame loop's goroutine; the
// watcher goroutine just marks paths dirty.
type PipelineRegistry struct {
	gpu driver.GPU
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*pipelineEntry
	byPath  map[string][]string
	dirty   map[string]bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newPipelineRegistry(gpu driver.GPU, log *slog.Logger) *PipelineRegistry {
	r := &PipelineRegistry{
		gpu:     gpu,
		log:     log,
		entries: make(map[string]*pipelineEntry),
		byPath:  make(map[string][]string),
		dirty:   make(map[string]bool),
		done:    make(chan struct{}),
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot reload is an amenity; run without it.
		log.Warn("pipeline: watcher unavailable", "err", err)
		return r
	}
	r.watcher = w
	go r.watch()
	return r
}

func (r *PipelineRegistry) watch() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.markDirty(ev.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("pipeline: watcher", "err", err)
		}
	}
}

func (r *PipelineRegistry) markDirty(path string) {
	path = filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.byPath[path] {
		r.dirty[name] = true
	}
}

// Register builds a pipeline and starts watching its shader
// files. Re-registering a name replaces the old pipeline
// immediately; the caller must not have it in flight.
func (r *PipelineRegistry) Register(desc PipelineDesc) error {
	pl, codes, err := r.build(desc)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[desc.Name]; ok {
		destroyEntry(old)
	}
	e := &pipelineEntry{desc: desc, pl: pl, codes: codes}
	r.entries[desc.Name] = e
	for _, p := range desc.Paths {
		p = filepath.Clean(p)
		r.byPath[p] = append(r.byPath[p], desc.Name)
		if r.watcher != nil {
			// Watch the directory: editors often replace the
			// file, which drops a per-file watch.
			if err := r.watcher.Add(filepath.Dir(p)); err != nil {
				r.log.Warn("pipeline: watch", "path", p, "err", err)
			}
		}
	}
	return nil
}

func (r *PipelineRegistry) build(desc PipelineDesc) (driver.Pipeline, []driver.ShaderCode, error) {
	codes := make([]driver.ShaderCode, 0, len(desc.Paths))
	fail := func(err error) (driver.Pipeline, []driver.ShaderCode, error) {
		for _, c := range codes {
			c.Destroy()
		}
		return nil, nil, fmt.Errorf("pipeline %s: %w", desc.Name, err)
	}
	for _, p := range desc.Paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return fail(err)
		}
		c, err := r.gpu.NewShaderCode(b)
		if err != nil {
			return fail(err)
		}
		codes = append(codes, c)
	}
	state, err := desc.Build(codes)
	if err != nil {
		return fail(err)
	}
	pl, err := r.gpu.NewPipeline(state)
	if err != nil {
		return fail(err)
	}
	return pl, codes, nil
}

// Get returns the current pipeline for a name, plus a
// generation that increments on every reload. Callers that
// cache derived state key it on the generation.
func (r *PipelineRegistry) Get(name string) (driver.Pipeline, uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, 0, false
	}
	return e.pl, e.gen, true
}

// PumpReloads rebuilds every pipeline marked dirty by the
// watcher. Old pipelines are destroyed through the frame's
// deletion queue since the previous frame may still be
// executing with them bound. A failed rebuild keeps the
// old pipeline.
func (r *PipelineRegistry) PumpReloads(f *frame) {
	r.mu.Lock()
	var names []string
	for name := range r.dirty {
		names = append(names, name)
	}
	clear(r.dirty)
	r.mu.Unlock()

	for _, name := range names {
		r.mu.Lock()
		e, ok := r.entries[name]
		r.mu.Unlock()
		if !ok {
			continue
		}
		pl, codes, err := r.build(e.desc)
		if err != nil {
			r.log.Warn("pipeline: reload failed", "name", name, "err", err)
			continue
		}
		r.mu.Lock()
		oldPl, oldCodes := e.pl, e.codes
		e.pl, e.codes = pl, codes
		e.gen++
		r.mu.Unlock()
		f.Defer(func() {
			oldPl.Destroy()
			for _, c := range oldCodes {
				c.Destroy()
			}
		})
		r.log.Info("pipeline: reloaded", "name", name)
	}
}

func destroyEntry(e *pipelineEntry) {
	e.pl.Destroy()
	for _, c := range e.codes {
		c.Destroy()
	}
}

func (r *PipelineRegistry) free() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		destroyEntry(e)
		delete(r.entries, name)
	}
}
