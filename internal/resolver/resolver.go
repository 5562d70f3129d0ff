// Package resolver implements the Include/Import Resolver (C10): a
// TTL-cached front end over the facade's resolve_include/resolve_import
// calls, proactively invalidated on filesystem changes via fsnotify so
// a cached "not found" doesn't outlive the file actually appearing.
//
// Filesystem watching is done through the teacher's own
// vfs.FSNotifyWatcher (internal/runtime/vfs/watch_fsnotify.go) rather
// than a second hand-rolled fsnotify loop; the TTL cache entry shape
// follows the same (value, timestamp) pattern used for the examples'
// LRU-with-TTL caches.
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/poppa/pike-lsp-sub007/internal/facade"
	"github.com/poppa/pike-lsp-sub007/internal/logging"
	"github.com/poppa/pike-lsp-sub007/internal/runtime/vfs"
)

const defaultTTL = 30 * time.Second

// Backend is the subset of *facade.Facade the resolver depends on.
type Backend interface {
	ResolveInclude(ctx context.Context, fromPath, spec string) (*facade.ResolvedInclude, error)
	ResolveImport(ctx context.Context, fromPath, moduleSpec string) (*facade.ResolvedInclude, error)
}

type cacheKey struct {
	from string
	spec string
	kind string // "include" or "import"
}

type cacheValue struct {
	result    *facade.ResolvedInclude
	expiresAt time.Time
}

// Resolver caches include/import resolutions for defaultTTL, and
// drops cached entries early when fsnotify reports a filesystem
// change under one of the watched roots.
type Resolver struct {
	backend Backend
	ttl     time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheValue

	watcher vfs.Watcher
	log     interface {
		Debug(string, ...any)
		Warning(string, ...any)
	}
	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a Resolver backed by backend. Filesystem watching is
// best-effort: if the watcher fails to start, the resolver still
// works, just without proactive invalidation (entries still expire
// via TTL).
func New(backend Backend) *Resolver {
	r := &Resolver{
		backend: backend,
		ttl:     defaultTTL,
		cache:   make(map[cacheKey]cacheValue),
		log:     logging.For(logging.LayerServer),
		done:    make(chan struct{}),
	}

	w, err := vfs.NewFSWatcher()
	if err != nil {
		r.log.Warning("resolver: fsnotify unavailable, falling back to TTL-only invalidation: {Error}", err)
		return r
	}
	r.watcher = w
	go r.watchLoop()
	return r
}

// WatchRoot adds root to the watch set so changes under it proactively
// invalidate the path-resolution cache. A no-op if the watcher failed
// to start.
func (r *Resolver) WatchRoot(root string) error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Add(root)
}

func (r *Resolver) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events():
			if !ok {
				return
			}
			r.invalidatePath(ev.Path)
		case err, ok := <-r.watcher.Errors():
			if !ok {
				return
			}
			r.log.Warning("resolver: watcher error: {Error}", err)
		case <-r.done:
			return
		}
	}
}

// invalidatePath drops every cached entry whose resolved path matches
// changed, plus every cached "not found", so a file that appears
// (create) or disappears (remove) is reflected on the very next lookup
// rather than waiting out the TTL.
func (r *Resolver) invalidatePath(changed string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.cache {
		if v.result == nil || !v.result.Found || v.result.AbsPath == changed {
			delete(r.cache, k)
		}
	}
}

// Close stops the background watch loop and releases the fsnotify
// handle, if one was created.
func (r *Resolver) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// ResolveInclude resolves a #include-style spec from fromPath,
// serving a cached answer if one is present and unexpired.
func (r *Resolver) ResolveInclude(ctx context.Context, fromPath, spec string) (*facade.ResolvedInclude, error) {
	return r.resolve(ctx, cacheKey{from: fromPath, spec: spec, kind: "include"},
		func() (*facade.ResolvedInclude, error) { return r.backend.ResolveInclude(ctx, fromPath, spec) })
}

// ResolveImport resolves a module-style import spec from fromPath,
// serving a cached answer if one is present and unexpired.
func (r *Resolver) ResolveImport(ctx context.Context, fromPath, spec string) (*facade.ResolvedInclude, error) {
	return r.resolve(ctx, cacheKey{from: fromPath, spec: spec, kind: "import"},
		func() (*facade.ResolvedInclude, error) { return r.backend.ResolveImport(ctx, fromPath, spec) })
}

func (r *Resolver) resolve(ctx context.Context, key cacheKey, fetch func() (*facade.ResolvedInclude, error)) (*facade.ResolvedInclude, error) {
	r.mu.Lock()
	if v, ok := r.cache[key]; ok && time.Now().Before(v.expiresAt) {
		r.mu.Unlock()
		return v.result, nil
	}
	r.mu.Unlock()

	result, err := fetch()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheValue{result: result, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	if result != nil && result.Found {
		return result, nil
	}
	return result, nil
}

// CacheLen reports how many resolutions are currently cached,
// exposed for tests asserting TTL/invalidation behavior.
func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
