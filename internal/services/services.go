// Package services assembles the Services value (per the "Services
// value pattern" design note): a single immutable struct of
// ready-to-use subsystem handles, replacing the teacher's pattern of
// nullable shared fields on one giant Server struct. A Services value
// is only ever handed to request handlers once the Supervisor has
// reached Running, so handler code never needs a nil check on any
// field within it.
package services

import (
	"context"

	"github.com/poppa/pike-lsp-sub007/internal/cache"
	"github.com/poppa/pike-lsp-sub007/internal/config"
	"github.com/poppa/pike-lsp-sub007/internal/docstore"
	"github.com/poppa/pike-lsp-sub007/internal/facade"
	"github.com/poppa/pike-lsp-sub007/internal/resolver"
	"github.com/poppa/pike-lsp-sub007/internal/rpc"
	"github.com/poppa/pike-lsp-sub007/internal/stdlibindex"
	"github.com/poppa/pike-lsp-sub007/internal/supervisor"
	"github.com/poppa/pike-lsp-sub007/internal/symbolindex"
)

// Services bundles every subsystem a request handler might need. Value
// (not pointer-to-interface) semantics are deliberate: assembling a
// new Services after a Supervisor restart is just constructing a new
// struct, never mutating fields shared with in-flight handlers.
type Services struct {
	Config      *config.Config
	Supervisor  *supervisor.Supervisor
	Cache       *cache.Cache
	Docs        *docstore.Store
	Facade      *facade.Facade
	StdlibIndex *stdlibindex.Index
	SymbolIndex *symbolindex.Index
	Resolver    *resolver.Resolver
}

// Builder assembles a fresh Services value every time the Supervisor
// it owns reaches Running and passes it to the OnReady callback. The
// caller stores the latest value; handlers look it up once per request
// rather than holding onto a Services value across requests, so a
// restart is picked up on the very next request.
type Builder struct {
	cfg  *config.Config
	sup  *supervisor.Supervisor
	docs *docstore.Store

	onReady func(Services)
}

// NewBuilder wires sup (already constructed, not yet started) to
// produce a Services value on every transition into Running.
func NewBuilder(cfg *config.Config, sup *supervisor.Supervisor) *Builder {
	b := &Builder{cfg: cfg, sup: sup, docs: docstore.New(docstore.DefaultSweep)}
	sup.OnStatusChange(func(st supervisor.State) {
		if st == supervisor.StateRunning && b.onReady != nil {
			b.onReady(b.build())
		}
	})
	return b
}

// OnReady registers fn to run every time a freshly restarted child
// reaches Running and a new Services value is available. Typically
// used by the dispatcher to swap in the new value atomically.
func (b *Builder) OnReady(fn func(Services)) { b.onReady = fn }

func (b *Builder) build() Services {
	c := cache.New(2048)
	f := facade.New(func() facade.Caller { return b.sup.Multiplexer() }, c)

	idx := symbolindex.New(func(ctx context.Context, path, text string) ([]symbolindex.Found, error) {
		syms := docstore.DefaultSweep(text)
		out := make([]symbolindex.Found, len(syms))
		for i, s := range syms {
			out[i] = symbolindex.Found{Name: s.Name, Line: s.Line, Col: s.Col, Kind: "function"}
		}
		return out, nil
	})

	r := resolver.New(f)
	for _, root := range b.cfg.IncludePaths() {
		_ = r.WatchRoot(root)
	}

	return Services{
		Config:      b.cfg,
		Supervisor:  b.sup,
		Cache:       c,
		Docs:        b.docs,
		Facade:      f,
		StdlibIndex: stdlibindex.New(f, 4096, 8<<20, 512),
		SymbolIndex: idx,
		Resolver:    r,
	}
}

// Compile-time check that *rpc.Multiplexer, which the facade's caller
// source returns, satisfies facade.Caller.
var _ facade.Caller = (*rpc.Multiplexer)(nil)
