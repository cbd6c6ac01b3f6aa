// Copyright 2026 QuaternionEngine Authors. All rights reserved.

// Package texcache implements a streaming texture cache.
// Requests are deduplicated by key, decoded on background
// workers and uploaded under per-frame budgets. Descriptors
// registered through WatchBinding are patched in place when
// an image becomes resident, relying on update-after-bind
// heaps; eviction rewrites them to caller-provided fallback
// views.
package texcache

import (
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/driver"
)

// Handle identifies a cache entry. Handles are stable for
// the cache's lifetime, across eviction and reload.
type Handle uint32

// InvalidHandle is never returned by Request.
const InvalidHandle = Handle(math.MaxUint32)

// State is the lifecycle state of an entry.
type State uint8

const (
	Unloaded State = iota
	Loading
	Resident
	Evicted
)

// MipCopy locates one pre-encoded mip level within an
// upload payload.
type MipCopy struct {
	Offset int64
	Length int64
	Width  int
	Height int
}

// Upload is a decoded texture ready for GPU upload.
// Mips non-nil means Data holds pre-encoded levels in a
// block-compressed format; otherwise Data is tightly packed
// pixels and the uploader generates Levels mips.
type Upload struct {
	Data   []byte
	Format driver.PixelFmt
	Width  int
	Height int
	Levels int
	Mips   []MipCopy
}

// Texture is a GPU texture created by an Uploader.
type Texture struct {
	View driver.ImageView
	Size int64
}

// Uploader creates and destroys sampled GPU images on
// behalf of the cache. Upload may defer the actual copy to
// the frame's upload pass; the view must be bindable
// immediately. Discard must delay destruction until the GPU
// no longer uses the texture.
type Uploader interface {
	Upload(u *Upload) (Texture, error)
	Discard(t Texture)
}

// Binding locates one sampled-image descriptor: a heap
// copy's descriptor slot. The heap must have been created
// with DUpdateAfterBind on that descriptor.
type Binding struct {
	Heap driver.DescHeap
	Copy int
	Nr   int
}

type patch struct {
	bind     Binding
	fallback driver.ImageView
}

type entry struct {
	key     Key
	splr    driver.Sampler
	state   atomic.Uint32
	gen     atomic.Uint32
	pinned  bool
	tex     Texture
	size    int64
	lastUsed    uint32
	lastEvicted uint32
	nextAttempt uint32
	patches []patch

	path  string
	bytes []byte
}

func (e *entry) setState(s State) { e.state.Store(uint32(s)) }

// Options tunes cache behavior. The zero value of a field
// selects its default.
type Options struct {
	// MaxLoadsPerPump bounds decode enqueues per frame.
	MaxLoadsPerPump int
	// MaxBytesPerPump bounds admitted upload size per frame.
	MaxBytesPerPump int64
	// MaxUploadDimension downscales decoded images larger
	// than this on any axis. Negative disables clamping.
	MaxUploadDimension int
	// CPUSourceBudget soft-caps retained source payloads.
	CPUSourceBudget int64
	// KeepSourceBytes retains byte-source payloads after
	// upload so evicted entries can re-decode without I/O.
	KeepSourceBytes bool
	// GPUBudget enables LRU eviction before admission when
	// positive.
	GPUBudget int64
	// Workers sets the decode worker count; clamped to
	// [1, 4]. Zero derives it from GOMAXPROCS.
	Workers int
	// FmtSupported reports whether the device can sample
	// the format. Pre-encoded payloads in unsupported
	// formats fall back to their raster source; nil admits
	// everything.
	FmtSupported func(driver.PixelFmt) bool

	Log *slog.Logger
}

const (
	defaultMaxLoadsPerPump    = 3
	defaultMaxBytesPerPump    = 128 << 20
	defaultMaxUploadDimension = 4096
	defaultCPUSourceBudget    = 64 << 20

	reloadCooldownFrames = 2
)

func (o *Options) setDefaults() {
	if o.MaxLoadsPerPump <= 0 {
		o.MaxLoadsPerPump = defaultMaxLoadsPerPump
	}
	if o.MaxBytesPerPump <= 0 {
		o.MaxBytesPerPump = defaultMaxBytesPerPump
	}
	switch {
	case o.MaxUploadDimension < 0:
		o.MaxUploadDimension = 0
	case o.MaxUploadDimension == 0:
		o.MaxUploadDimension = defaultMaxUploadDimension
	}
	if o.CPUSourceBudget <= 0 {
		o.CPUSourceBudget = defaultCPUSourceBudget
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	o.Workers = min(4, max(1, o.Workers))
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

// Cache is a streaming texture cache.
// Request, WatchBinding, Pump and the other entry-mutating
// methods must be called from the main thread; State and
// Generation may be called from any goroutine.
type Cache struct {
	up   Uploader
	opts Options
	log  *slog.Logger

	entries []*entry
	lookup  map[uint64]Handle
	setTo   map[Binding][]Handle

	residentBytes  int64
	cpuSourceBytes int64

	qMu     sync.Mutex
	qCond   *sync.Cond
	queue   []decodeReq
	running atomic.Bool
	wg      sync.WaitGroup

	readyMu sync.Mutex
	ready   []decoded
}

// New creates the cache and starts its decode workers.
func New(up Uploader, opts Options) *Cache {
	opts.setDefaults()
	c := &Cache{
		up:     up,
		opts:   opts,
		log:    opts.Log,
		lookup: make(map[uint64]Handle),
		setTo:  make(map[Binding][]Handle),
	}
	c.qCond = sync.NewCond(&c.qMu)
	c.running.Store(true)
	c.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go c.worker()
	}
	return c
}

// Close stops the workers and destroys every resident
// image. Entries end up Evicted; the cache must not be used
// afterwards.
func (c *Cache) Close() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.qCond.Broadcast()
	c.wg.Wait()
	c.qMu.Lock()
	c.queue = nil
	c.qMu.Unlock()
	c.readyMu.Lock()
	c.ready = nil
	c.readyMu.Unlock()
	for _, e := range c.entries {
		if State(e.state.Load()) == Resident {
			c.up.Discard(e.tex)
			e.tex = Texture{}
		}
		e.setState(Evicted)
	}
	c.residentBytes = 0
}

// Request deduplicates by key hash and returns a stable
// handle. Re-requesting a byte-source entry whose payload
// was dropped restores the payload so it can reload.
func (c *Cache) Request(key Key, splr driver.Sampler) Handle {
	key.Hash = hashOf(&key)
	if h, ok := c.lookup[key.Hash]; ok {
		e := c.entries[h]
		if splr != nil {
			e.splr = splr
		}
		if key.Kind == Bytes && len(key.Bytes) > 0 && e.key.Kind == Bytes &&
			len(e.bytes) == 0 && State(e.state.Load()) != Resident {
			e.bytes = key.Bytes
			c.cpuSourceBytes += int64(len(e.bytes))
		}
		return h
	}

	h := Handle(len(c.entries))
	c.lookup[key.Hash] = h
	e := &entry{key: key, splr: splr}
	e.gen.Store(1)
	// The key keeps metadata only; large payloads live on
	// the entry.
	e.key.Path = ""
	e.key.Bytes = nil
	if key.Kind == FilePath {
		e.path = key.Path
	} else {
		e.bytes = key.Bytes
		c.cpuSourceBytes += int64(len(e.bytes))
	}
	c.entries = append(c.entries, e)
	c.log.Debug("texcache: request",
		"handle", h, "path", e.path, "srgb", key.SRGB, "hash", key.Hash)
	return h
}

// State returns the entry's lifecycle state.
func (c *Cache) State(h Handle) State {
	if int(h) >= len(c.entries) {
		return Unloaded
	}
	return State(c.entries[h].state.Load())
}

// Generation returns the entry's load generation. It bumps
// whenever in-flight work for the handle is invalidated.
func (c *Cache) Generation(h Handle) uint32 {
	if int(h) >= len(c.entries) {
		return 0
	}
	return c.entries[h].gen.Load()
}

// View returns the resident image view, or nil.
func (c *Cache) View(h Handle) driver.ImageView {
	if int(h) >= len(c.entries) {
		return nil
	}
	e := c.entries[h]
	if State(e.state.Load()) != Resident {
		return nil
	}
	return e.tex.View
}

// Sampler returns the sampler most recently supplied for
// the handle.
func (c *Cache) Sampler(h Handle) driver.Sampler {
	if int(h) >= len(c.entries) {
		return nil
	}
	return c.entries[h].splr
}

// ResidentBytes returns the approximate VRAM held by
// resident entries.
func (c *Cache) ResidentBytes() int64 { return c.residentBytes }

// CPUSourceBytes returns the source payload bytes currently
// retained for byte-backed entries.
func (c *Cache) CPUSourceBytes() int64 { return c.cpuSourceBytes }

// WatchBinding registers a descriptor slot to patch when
// the texture becomes resident, and to rewrite to fallback
// on eviction. An already-resident entry patches the slot
// immediately.
func (c *Cache) WatchBinding(h Handle, bind Binding, fallback driver.ImageView) {
	if int(h) >= len(c.entries) {
		return
	}
	e := c.entries[h]
	e.patches = append(e.patches, patch{bind: bind, fallback: fallback})
	set := Binding{Heap: bind.Heap, Copy: bind.Copy}
	c.setTo[set] = append(c.setTo[set], h)
	if State(e.state.Load()) == Resident && e.tex.View != nil {
		bind.Heap.SetImage(bind.Copy, bind.Nr, 0, []driver.ImageView{e.tex.View})
	}
}

// UnwatchSet removes every watch that targets the given
// heap copy. Call it before freeing the copy so eviction
// does not patch dead descriptors.
func (c *Cache) UnwatchSet(heap driver.DescHeap, cpy int) {
	set := Binding{Heap: heap, Copy: cpy}
	hs, ok := c.setTo[set]
	if !ok {
		return
	}
	for _, h := range hs {
		e := c.entries[h]
		e.patches = slices.DeleteFunc(e.patches, func(p patch) bool {
			return p.bind.Heap == heap && p.bind.Copy == cpy
		})
	}
	delete(c.setTo, set)
}

// MarkUsed records that the texture was referenced in the
// given frame; recently used entries are scheduled for load
// and protected from same-frame eviction.
func (c *Cache) MarkUsed(h Handle, frame uint32) {
	if int(h) < len(c.entries) {
		c.entries[h].lastUsed = frame
	}
}

// MarkSetUsed marks every handle watched by the heap copy.
func (c *Cache) MarkSetUsed(heap driver.DescHeap, cpy int, frame uint32) {
	for _, h := range c.setTo[Binding{Heap: heap, Copy: cpy}] {
		c.entries[h].lastUsed = frame
	}
}

// Pin excludes the texture from every eviction path.
func (c *Cache) Pin(h Handle) {
	if int(h) < len(c.entries) {
		c.entries[h].pinned = true
	}
}

// Unpin re-enables eviction for the texture.
func (c *Cache) Unpin(h Handle) {
	if int(h) < len(c.entries) {
		c.entries[h].pinned = false
	}
}

// Pinned reports whether the texture is pinned.
func (c *Cache) Pinned(h Handle) bool {
	return int(h) < len(c.entries) && c.entries[h].pinned
}

// Pump runs one frame of cache work on the main thread:
// drain decoded results under the byte budget, schedule new
// decodes for recently used entries, then trim retained
// source payloads.
func (c *Cache) Pump(now uint32) {
	admitted := c.drainReady(now, c.opts.MaxBytesPerPump)
	budgetRemaining := admitted < c.opts.MaxBytesPerPump

	started := 0
	for i, e := range c.entries {
		s := State(e.state.Load())
		if s != Unloaded && s != Evicted {
			continue
		}
		// Visibility gate: only entries referenced this
		// frame or the previous one start work.
		recentlyUsed := now == 0 || now-e.lastUsed <= 1
		cooldownPassed := now >= e.nextAttempt
		if recentlyUsed && cooldownPassed && budgetRemaining {
			c.enqueueDecode(Handle(i), e)
			if started++; started >= c.opts.MaxLoadsPerPump {
				break
			}
		}
	}

	if budgetRemaining {
		c.drainReady(now, c.opts.MaxBytesPerPump-admitted)
	}
	c.trimCPUSources()
}

// EvictToBudget destroys least-recently-used resident
// entries until residency fits the budget, skipping pinned
// entries and those used in the current frame.
func (c *Cache) EvictToBudget(budget int64, now uint32) {
	if c.residentBytes <= budget {
		return
	}
	for _, h := range c.lruResident(now) {
		if c.residentBytes <= budget {
			break
		}
		c.evict(h, now)
	}
}

// Unload immediately releases the texture: in-flight work
// is invalidated, watchers fall back, and GPU memory is
// queued for destruction. The handle stays valid and can be
// reloaded later.
func (c *Cache) Unload(h Handle, dropSource bool) bool {
	if int(h) >= len(c.entries) {
		return false
	}
	e := c.entries[h]
	e.gen.Add(1)

	c.qMu.Lock()
	c.queue = slices.DeleteFunc(c.queue, func(r decodeReq) bool { return r.handle == h })
	c.qMu.Unlock()
	c.readyMu.Lock()
	c.ready = slices.DeleteFunc(c.ready, func(r decoded) bool { return r.handle == h })
	c.readyMu.Unlock()

	now := c.frameOf(e)
	if State(e.state.Load()) == Resident {
		c.patchToFallback(e)
		c.log.Debug("texcache: unload", "handle", h, "path", e.path, "bytes", e.size)
		c.up.Discard(e.tex)
		e.tex = Texture{}
		c.residentBytes = max(0, c.residentBytes-e.size)
	}
	e.setState(Evicted)
	e.lastEvicted = now
	e.nextAttempt = max(e.nextAttempt, now+reloadCooldownFrames)
	if dropSource {
		c.dropSource(e)
	}
	return true
}

// frameOf approximates "now" for paths that lack a frame
// argument; the most recent use is the best bound we have.
func (c *Cache) frameOf(e *entry) uint32 { return e.lastUsed }

func (c *Cache) evict(h Handle, now uint32) {
	e := c.entries[h]
	if State(e.state.Load()) != Resident || e.pinned || e.lastUsed == now {
		return
	}
	c.patchToFallback(e)
	c.log.Debug("texcache: evict", "handle", h, "path", e.path, "bytes", e.size)
	c.up.Discard(e.tex)
	e.tex = Texture{}
	e.setState(Evicted)
	e.lastEvicted = now
	e.nextAttempt = max(e.nextAttempt, now+reloadCooldownFrames)
	c.residentBytes = max(0, c.residentBytes-e.size)
}

// lruResident returns evictable resident handles, least
// recently used first.
func (c *Cache) lruResident(now uint32) []Handle {
	var hs []Handle
	for i, e := range c.entries {
		if State(e.state.Load()) == Resident && !e.pinned && e.lastUsed != now {
			hs = append(hs, Handle(i))
		}
	}
	slices.SortStableFunc(hs, func(a, b Handle) int {
		return int(c.entries[a].lastUsed) - int(c.entries[b].lastUsed)
	})
	return hs
}

// tryMakeSpace frees at least need bytes by LRU eviction,
// never touching pinned entries or ones used this frame.
func (c *Cache) tryMakeSpace(need int64, now uint32) bool {
	if need <= 0 {
		return true
	}
	if c.residentBytes == 0 {
		return false
	}
	var freed int64
	for _, h := range c.lruResident(now) {
		if freed >= need {
			break
		}
		size := c.entries[h].size
		c.evict(h, now)
		freed += size
	}
	return freed >= need
}

func (c *Cache) patchReady(e *entry) {
	for _, p := range e.patches {
		p.bind.Heap.SetImage(p.bind.Copy, p.bind.Nr, 0, []driver.ImageView{e.tex.View})
	}
}

func (c *Cache) patchToFallback(e *entry) {
	for _, p := range e.patches {
		if p.fallback == nil {
			continue
		}
		p.bind.Heap.SetImage(p.bind.Copy, p.bind.Nr, 0, []driver.ImageView{p.fallback})
	}
}

func (c *Cache) dropSource(e *entry) {
	if len(e.bytes) == 0 || e.key.Kind != Bytes {
		return
	}
	c.cpuSourceBytes = max(0, c.cpuSourceBytes-int64(len(e.bytes)))
	e.bytes = nil
}

// trimCPUSources drops retained payloads of resident
// byte-backed entries, least recently used first, until the
// soft CPU budget holds.
func (c *Cache) trimCPUSources() {
	if c.cpuSourceBytes <= c.opts.CPUSourceBudget {
		return
	}
	var hs []Handle
	for i, e := range c.entries {
		if State(e.state.Load()) == Resident && len(e.bytes) > 0 && e.key.Kind == Bytes {
			hs = append(hs, Handle(i))
		}
	}
	slices.SortStableFunc(hs, func(a, b Handle) int {
		return int(c.entries[a].lastUsed) - int(c.entries[b].lastUsed)
	})
	for _, h := range hs {
		if c.cpuSourceBytes <= c.opts.CPUSourceBudget {
			break
		}
		c.dropSource(c.entries[h])
	}
}
