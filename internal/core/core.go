// Package core wires the eleven components together into one running
// mediator process: it owns the Supervisor, the Services builder, the
// Dispatcher, and the stdio Transport, and is the single place that
// knows how they all fit together. cmd/pike-lsp is a thin cobra shell
// around it.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync/atomic"

	"github.com/poppa/pike-lsp-sub007/internal/config"
	"github.com/poppa/pike-lsp-sub007/internal/dispatcher"
	"github.com/poppa/pike-lsp-sub007/internal/docstore"
	"github.com/poppa/pike-lsp-sub007/internal/facade"
	"github.com/poppa/pike-lsp-sub007/internal/logging"
	"github.com/poppa/pike-lsp-sub007/internal/lspserver"
	"github.com/poppa/pike-lsp-sub007/internal/services"
	"github.com/poppa/pike-lsp-sub007/internal/supervisor"
	"github.com/poppa/pike-lsp-sub007/internal/validator"
)

// Version is the mediator's own release version, surfaced by
// `pike-lsp version` and unrelated to the child interpreter's version
// reported through the health command.
const Version = "0.1.0"

// Mediator assembles and runs one LSP session end to end.
type Mediator struct {
	cfg *config.Config
	log interface {
		Information(string, ...any)
		Error(string, ...any)
	}

	current atomic.Value // holds services.Services
	ready   atomic.Bool
}

// New constructs a Mediator from cfg. Call Run to start it.
func New(cfg *config.Config) *Mediator {
	return &Mediator{cfg: cfg, log: logging.For(logging.LayerServer)}
}

// Run starts the Pike child under supervision, assembles the LSP
// transport/dispatcher over in/out, and blocks until ctx is cancelled
// or the transport hits EOF (the client closed stdin).
func (m *Mediator) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	sup := supervisor.New(supervisor.DefaultSpawner(m.cfg.PikePath, m.cfg.IncludePaths(), m.cfg.ModulePaths()))
	builder := services.NewBuilder(m.cfg, sup)

	builder.OnReady(func(svc services.Services) {
		m.current.Store(svc)
		m.ready.Store(true)
		m.log.Information("core: services ready (child pid {PID})", sup.PID())
	})

	transport := lspserver.NewTransport(in, out)
	d := dispatcher.New(transport.Reply, 128)
	health := lspserver.NewHealthReporter()
	srv := lspserver.NewServer(transport, d, m.currentServices, health)

	v := validator.New(m.cfg.DiagnosticDelay, func(vctx context.Context, uri string, version int) {
		m.validateOne(vctx, srv, uri, version)
	})
	srv.SetScheduler(func(vctx context.Context, uri string, version int) {
		v.Schedule(vctx, uri, version)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.Run(runCtx)

	if err := sup.Start(runCtx); err != nil {
		return err
	}
	defer sup.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Serve(d, srv.ParamsFor) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (m *Mediator) currentServices() (services.Services, bool) {
	v := m.current.Load()
	if v == nil {
		return services.Services{}, false
	}
	return v.(services.Services), m.ready.Load()
}

// validateOne runs Analyze for uri/version and, on success, is the
// only code path that ever populates the document cache's Analysis
// (spec.md §4.6/§4.7): didOpen/didChange only ever touch Text/Version/
// Symbols. Each requested facet is read back out of the partial-failure
// partition individually, so a failure in one facet (e.g. diagnostics
// timing out) doesn't discard the facets that did succeed.
func (m *Mediator) validateOne(ctx context.Context, srv *lspserver.Server, uri string, version int) {
	svc, ready := m.currentServices()
	if !ready {
		return
	}
	entry, ok := svc.Docs.Get(uri)
	if !ok || entry.Version != version {
		return
	}

	result, err := svc.Facade.Analyze(ctx, uri, versionKey(version), entry.Text, []string{"parse", "introspect", "diagnostics"})
	if err != nil {
		m.log.Error("core: analyze failed for {URI}: {Error}", uri, err)
		return
	}

	analysis := docstore.Analysis{ContentHash: contentHash(entry.Text)}

	var diagFacet facade.DiagnosticsFacet
	if ok, err := result.Facet("diagnostics", &diagFacet); err != nil {
		m.log.Error("core: decode diagnostics facet for {URI}: {Error}", uri, err)
	} else if ok {
		analysis.Diagnostics = diagFacet.Diagnostics
	} else if msg, failed := result.Failure["diagnostics"]; failed {
		m.log.Error("core: diagnostics facet failed for {URI}: {Message}", uri, msg)
	}

	var parseFacet facade.ParseFacet
	if ok, err := result.Facet("parse", &parseFacet); err != nil {
		m.log.Error("core: decode parse facet for {URI}: {Error}", uri, err)
	} else if ok {
		analysis.SymbolPositions = symbolPositions(parseFacet.Symbols)
	} else if msg, failed := result.Failure["parse"]; failed {
		m.log.Error("core: parse facet failed for {URI}: {Message}", uri, msg)
	}

	var introspectFacet facade.IntrospectFacet
	if ok, err := result.Facet("introspect", &introspectFacet); err != nil {
		m.log.Error("core: decode introspect facet for {URI}: {Error}", uri, err)
	} else if ok {
		analysis.Dependencies = docstore.Dependencies{Includes: introspectFacet.Includes, Imports: introspectFacet.Imports}
		analysis.Inherits = introspectFacet.Inherits
	} else if msg, failed := result.Failure["introspect"]; failed {
		m.log.Error("core: introspect facet failed for {URI}: {Message}", uri, msg)
	}

	svc.Docs.ApplyAnalysis(uri, version, analysis)
	srv.PublishDiagnostics(uri, analysis.Diagnostics)
}

// symbolPositions groups a flat facet symbol list by name, the shape
// DocumentCacheEntry.symbol_positions (spec.md §3) needs for "find all
// positions of this name in this document" lookups.
func symbolPositions(symbols []facade.FacetSymbol) map[string][]docstore.Position {
	if len(symbols) == 0 {
		return nil
	}
	out := make(map[string][]docstore.Position, len(symbols))
	for _, s := range symbols {
		out[s.Name] = append(out[s.Name], docstore.Position{Line: s.Position.Line, Col: s.Position.Column})
	}
	return out
}

// contentHash fingerprints text for DocumentCacheEntry.content_hash
// (spec.md §3); validateOne records it in Analysis.ContentHash and
// nothing in the mediator compares it to skip work. Not a security
// use, so collision resistance beyond sha256's own is not a
// requirement.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func versionKey(v int) string {
	return "v" + itoa(v)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	pos := len(b)
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}
