// Copyright 2026 QuaternionEngine Authors. All rights reserved.

package asset

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hydrogendeuteride/QuaternionEngine-sub002/engine/texcache"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/ktx2"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/linear"
	"github.com/hydrogendeuteride/QuaternionEngine-sub002/scene"
)

// JobID identifies an asynchronous load job. Zero is never
// a valid ID.
type JobID uint32

// JobState is the lifecycle of a job.
type JobState uint32

const (
	JobPending JobState = iota
	JobRunning
	JobCompleted
	JobFailed
	JobCancelled
)

type jobKind uint8

const (
	kindScene jobKind = iota
	kindEnvironment
)

type job struct {
	id   JobID
	kind jobKind

	sceneName string
	path      string

	// Placement for the commit. Either a render-local
	// matrix or a world TRS.
	local    linear.M4
	hasWorld bool
	world    linear.WPoint
	rot      linear.Q
	scl      linear.V3

	preload bool
	handles []texcache.Handle

	// Written by the worker, read by the main thread after
	// observing a terminal state.
	data *SceneData
	env  *Environment
	err  string

	state    atomic.Uint32
	progress atomic.Uint32 // float32 bits

	committed bool
}

func (j *job) setProgress(v float32) { j.progress.Store(math.Float32bits(v)) }
func (j *job) getProgress() float32  { return math.Float32frombits(j.progress.Load()) }

// Environment is a committed image-based-lighting source:
// the streamed radiance texture and its SH9 irradiance
// basis extracted from the container metadata.
type Environment struct {
	Path   string
	SH9    [9][3]float32
	Handle texcache.Handle
}

// Loader runs glTF and environment loads on a small worker
// pool. CPU work (file I/O, parsing, mesh building) happens
// on the workers; texture prefetch and scene commit stay on
// the main thread.
type Loader struct {
	man *Manager
	tex *texcache.Cache
	log *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	jobs  map[JobID]*job
	queue []JobID

	running atomic.Bool
	grp     errgroup.Group
	nextID  atomic.Uint32

	env *Environment
}

// NewLoader starts workers (clamped to [1, 4]) over the
// given manager.
func NewLoader(man *Manager, workers int, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{man: man, tex: man.textures, log: log, jobs: make(map[JobID]*job)}
	l.cond = sync.NewCond(&l.mu)
	l.running.Store(true)
	workers = min(4, max(1, workers))
	for i := 0; i < workers; i++ {
		l.grp.Go(l.workerLoop)
	}
	return l
}

// Close stops the workers and drops all jobs. Completed but
// uncommitted jobs are lost.
func (l *Loader) Close() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
	_ = l.grp.Wait()
	l.mu.Lock()
	l.jobs = make(map[JobID]*job)
	l.queue = nil
	l.mu.Unlock()
}

// LoadSceneAsync enqueues a glTF load placed with a
// render-local matrix. Texture prefetch happens here, on
// the caller's goroutine, so the handles are valid
// immediately. Main thread only.
func (l *Loader) LoadSceneAsync(sceneName, nameOrPath string, local *linear.M4, preloadTextures bool) JobID {
	j := &job{
		kind:      kindScene,
		sceneName: sceneName,
		path:      nameOrPath,
		preload:   preloadTextures,
	}
	if local != nil {
		j.local = *local
	} else {
		j.local.I()
	}
	return l.enqueue(j)
}

// LoadSceneAsyncWorld is the world-placed variant: the
// committed instance is anchored at a double-precision
// world position.
func (l *Loader) LoadSceneAsyncWorld(sceneName, nameOrPath string, pos linear.WPoint, rot linear.Q, scl linear.V3, preloadTextures bool) JobID {
	j := &job{
		kind:      kindScene,
		sceneName: sceneName,
		path:      nameOrPath,
		preload:   preloadTextures,
		hasWorld:  true,
		world:     pos,
		rot:       rot,
		scl:       scl,
	}
	return l.enqueue(j)
}

// LoadEnvironmentAsync enqueues an image-based-lighting
// load. The worker extracts the SH9 irradiance basis from
// the container; the radiance texture streams through the
// cache after commit.
func (l *Loader) LoadEnvironmentAsync(nameOrPath string) JobID {
	return l.enqueue(&job{kind: kindEnvironment, path: nameOrPath})
}

func (l *Loader) enqueue(j *job) JobID {
	if !l.running.Load() {
		return 0
	}
	j.id = JobID(l.nextID.Add(1))
	if j.kind == kindScene {
		handles, err := l.man.PrefetchTextures(j.path)
		if err != nil {
			l.log.Warn("asset: prefetch", "path", j.path, "err", err)
		}
		j.handles = handles
	}
	l.mu.Lock()
	l.jobs[j.id] = j
	l.queue = append(l.queue, j.id)
	l.mu.Unlock()
	l.cond.Signal()
	return j.id
}

// Cancel requests cancellation. Workers observe it at their
// next checkpoint; a job that already completed stays
// Completed.
func (l *Loader) Cancel(id JobID) {
	l.mu.Lock()
	j := l.jobs[id]
	l.mu.Unlock()
	if j == nil {
		return
	}
	s := JobState(j.state.Load())
	if s == JobPending || s == JobRunning {
		j.state.Store(uint32(JobCancelled))
	}
}

// Status returns a job's state, blended progress and error
// text. Preloading jobs mix loader progress (70%) with
// texture residency (30%) once any of their textures are
// resident; terminal states report 1.
func (l *Loader) Status(id JobID) (state JobState, progress float32, errText string, ok bool) {
	l.mu.Lock()
	j := l.jobs[id]
	l.mu.Unlock()
	if j == nil {
		return 0, 0, "", false
	}
	state = JobState(j.state.Load())
	progress = j.getProgress()
	if state == JobFailed {
		// Written before the terminal state store; safe to
		// read once the state is observed.
		errText = j.err
	}

	var texFraction float32
	if n := len(j.handles); j.preload && n > 0 {
		resident := 0
		for _, h := range j.handles {
			if h == texcache.InvalidHandle {
				continue
			}
			if l.tex.State(h) == texcache.Resident {
				resident++
			}
		}
		texFraction = float32(resident) / float32(n)
	}
	if texFraction > 0 {
		progress = 0.7*progress + 0.3*texFraction
	}
	if state == JobCompleted || state == JobFailed || state == JobCancelled {
		progress = 1
	}
	return state, progress, errText, true
}

// Environment returns the committed IBL data, if any.
func (l *Loader) Environment() (*Environment, bool) {
	return l.env, l.env != nil
}

// PumpMainThread commits every Completed, uncommitted job:
// scene geometry is uploaded and one instance is added to
// the world under the job's scene name; environment jobs
// become the active IBL source. Each job commits exactly
// once. Returns the number of commits. Main thread only.
func (l *Loader) PumpMainThread(world *scene.World, frame uint32) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	committed := 0
	for _, j := range l.jobs {
		if JobState(j.state.Load()) != JobCompleted || j.committed {
			continue
		}
		switch j.kind {
		case kindScene:
			if err := l.commitScene(j, world, frame); err != nil {
				l.log.Error("asset: commit", "scene", j.sceneName, "err", err)
				j.err = err.Error()
				j.state.Store(uint32(JobFailed))
				j.committed = true
				continue
			}
		case kindEnvironment:
			l.commitEnvironment(j)
		}
		j.committed = true
		committed++
	}
	return committed
}

func (l *Loader) commitScene(j *job, world *scene.World, frame uint32) error {
	gs, err := l.man.Commit(j.sceneName, j.data, j.handles)
	if err != nil {
		return err
	}
	if world != nil {
		if id, ok := world.Find(j.sceneName); ok {
			world.Remove(id)
		}
		if j.hasWorld {
			world.AddWorld(j.sceneName, 0, j.world, j.rot, j.scl)
		} else {
			world.AddLocal(j.sceneName, 0, &j.local)
		}
	}
	if j.preload && l.tex != nil {
		for _, h := range gs.Textures {
			if h != texcache.InvalidHandle {
				l.tex.MarkUsed(h, frame)
			}
		}
	}
	return nil
}

func (l *Loader) commitEnvironment(j *job) {
	env := j.env
	if l.tex != nil {
		env.Handle = l.tex.Request(texcache.Key{
			Kind: texcache.FilePath,
			Path: env.Path,
		}, nil)
	}
	l.env = env
}

func (l *Loader) workerLoop() error {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && l.running.Load() {
			l.cond.Wait()
		}
		if !l.running.Load() && len(l.queue) == 0 {
			l.mu.Unlock()
			return nil
		}
		id := l.queue[0]
		l.queue = l.queue[1:]
		j := l.jobs[id]
		l.mu.Unlock()
		if j == nil {
			continue
		}
		l.runJob(j)
	}
}

func (l *Loader) runJob(j *job) {
	if !j.state.CompareAndSwap(uint32(JobPending), uint32(JobRunning)) {
		// Cancelled before it started.
		return
	}
	j.setProgress(0.01)

	cb := &LoadCallbacks{
		OnProgress: j.setProgress,
		Cancelled: func() bool {
			return JobState(j.state.Load()) == JobCancelled
		},
	}

	var err error
	switch j.kind {
	case kindScene:
		j.data, err = l.man.LoadScene(j.path, cb)
	case kindEnvironment:
		j.env, err = l.loadEnvironment(j.path, cb)
	}
	switch {
	case errors.Is(err, ErrCancelled) || JobState(j.state.Load()) == JobCancelled:
		j.state.Store(uint32(JobCancelled))
	case err != nil:
		j.err = err.Error()
		j.setProgress(1)
		j.state.Store(uint32(JobFailed))
	default:
		j.setProgress(1)
		j.state.Store(uint32(JobCompleted))
	}
}

// loadEnvironment parses the KTX2 container and extracts
// the SH9 irradiance metadata. The pixel payload is left to
// the streaming cache.
func (l *Loader) loadEnvironment(nameOrPath string, cb *LoadCallbacks) (*Environment, error) {
	path, err := l.man.resolve(nameOrPath)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cb.progress(0.5)
	if cb.cancelled() {
		return nil, ErrCancelled
	}
	img, err := ktx2.Parse(b)
	if err != nil {
		return nil, err
	}
	env := &Environment{Path: path}
	if sh, ok := img.SH9(); ok {
		env.SH9 = sh
	}
	return env, nil
}
