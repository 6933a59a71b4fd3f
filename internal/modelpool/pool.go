// Package modelpool implements the keyed model cache shared by all
// connections on a server, spec §4.8. Grounded on the teacher's
// v3/mux/manager.go Manager, whose getOrCreateConnectionForEndpoint
// double-checked-locking shape is generalized here from "dial or reuse a
// multiplexed connection" to "load or reuse an inference model".
package modelpool

import (
	"context"
	"image"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/thejerf/suture/v4"

	"github.com/simonll4/worker-ai-core/internal/inference"
	"github.com/simonll4/worker-ai-core/internal/wire"
)

// Loader loads a model from a canonical path; swappable in tests.
type Loader func(path string) (inference.Model, error)

// Config tunes a Pool.
type Config struct {
	MaxCachedModels int
	IdleTimeout     time.Duration // spec §4.8 default 60s
	Loader          Loader
	Logger          zerolog.Logger
}

type entry struct {
	model inference.Model
	path  string
}

type loadFuture struct {
	done  chan struct{}
	model inference.Model
	err   error
}

// Pool is the keyed model cache: load/get/infer/unload/clear (spec §4.8).
type Pool struct {
	cfg Config

	mu      sync.Mutex
	cache   *lru.Cache[string, *entry]
	loading map[string]*loadFuture

	activeConns int
	isIdle      bool
	idleSince   time.Time

	supervisor *suture.Supervisor
}

// New constructs a Pool and starts its idle-evictor service under a fresh
// suture supervisor, stopped when ctx is cancelled. cfg.MaxCachedModels
// <= 0 defaults to 4.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.MaxCachedModels <= 0 {
		cfg.MaxCachedModels = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	p := &Pool{cfg: cfg, loading: make(map[string]*loadFuture)}
	cache, err := lru.NewWithEvict[string, *entry](cfg.MaxCachedModels, p.onEvict)
	if err != nil {
		return nil, eris.Wrap(err, "modelpool: create lru cache")
	}
	p.cache = cache

	p.supervisor = suture.NewSimple("modelpool-idle-evictor")
	p.supervisor.Add(newEvictor(p, time.Second))
	go p.supervisor.ServeBackground(ctx)

	return p, nil
}

func (p *Pool) onEvict(key string, e *entry) {
	if e == nil || e.model == nil {
		return
	}
	if err := e.model.Close(); err != nil {
		p.cfg.Logger.Warn().Err(err).Str("path", key).Msg("model close on evict failed")
	}
}

// Load returns a cached model for path, awaits an in-flight load for the
// same path, or spawns a new background load (spec §4.8 load semantics).
// Grounded on the teacher's Manager.getOrCreateConnectionForEndpoint: one
// critical section under the pool mutex checks the cache, then the
// in-flight loads, and otherwise registers a new load future before the
// expensive work starts outside the lock.
func (p *Pool) Load(ctx context.Context, path string) (inference.Model, error) {
	canonical := canonicalize(path)

	p.mu.Lock()
	if e, ok := p.cache.Get(canonical); ok {
		p.mu.Unlock()
		return e.model, nil
	}
	if fut, ok := p.loading[canonical]; ok {
		p.mu.Unlock()
		return awaitFuture(ctx, fut)
	}

	fut := &loadFuture{done: make(chan struct{})}
	p.loading[canonical] = fut
	p.mu.Unlock()

	var wg conc.WaitGroup
	wg.Go(func() {
		model, err := p.cfg.Loader(canonical)
		fut.model = model
		fut.err = err

		p.mu.Lock()
		delete(p.loading, canonical)
		if fut.err == nil {
			p.cache.Add(canonical, &entry{model: fut.model, path: canonical})
		}
		p.mu.Unlock()

		close(fut.done)
	})

	// The initiating caller races the load against ctx just like a second
	// caller awaiting someone else's in-flight load (spec §5: "model load is
	// cancellable"); a late-completing loader still populates the cache
	// above for whoever asks next.
	return awaitFuture(ctx, fut)
}

func awaitFuture(ctx context.Context, fut *loadFuture) (inference.Model, error) {
	select {
	case <-fut.done:
		if fut.err != nil {
			return nil, eris.Wrapf(fut.err, "modelpool: awaited load")
		}
		return fut.model, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached model for path without triggering a load.
func (p *Pool) Get(path string) (inference.Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache.Get(canonicalize(path))
	if !ok {
		return nil, false
	}
	return e.model, true
}

// Infer runs a detection pass against the loaded model for path (spec
// §4.8: "fails if not loaded").
func (p *Pool) Infer(ctx context.Context, path string, img *image.RGBA, params inference.PostprocessParams) ([]wire.Detection, wire.Latency, error) {
	model, ok := p.Get(path)
	if !ok {
		return nil, wire.Latency{}, eris.Errorf("modelpool: %s not loaded", canonicalize(path))
	}
	pipeline := inference.Pipeline{Model: model}
	return pipeline.Infer(ctx, img, params)
}

// Unload evicts and closes the model for path, if cached.
func (p *Pool) Unload(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(canonicalize(path))
}

// Clear evicts and closes every cached model (spec §4.8).
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}

// ConnectionOpened must be called when a new connection is accepted; it
// cancels any pending idle-eviction countdown (spec §4.8: "idle eviction:
// ... when the last active connection ends, start a countdown").
func (p *Pool) ConnectionOpened() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeConns++
	p.isIdle = false
}

// ConnectionClosed must be called when a connection ends. If it was the
// last active connection, it arms the idle-eviction countdown, checked by
// the evictor service's poll loop.
func (p *Pool) ConnectionClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeConns > 0 {
		p.activeConns--
	}
	if p.activeConns == 0 {
		p.isIdle = true
		p.idleSince = time.Now()
	}
}

// checkIdleExpiry clears the cache if the pool has had zero active
// connections for at least cfg.IdleTimeout (spec §4.8 default 60s).
func (p *Pool) checkIdleExpiry() {
	p.mu.Lock()
	expired := p.isIdle && time.Since(p.idleSince) >= p.cfg.IdleTimeout
	if expired {
		p.isIdle = false
	}
	p.mu.Unlock()

	if expired {
		p.Clear()
	}
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(abs)
}
