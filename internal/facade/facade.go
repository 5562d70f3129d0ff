// Package facade implements the Unified Analysis Pipeline's typed
// operation layer (C4): one Go method per Pike-side RPC method,
// translating between idiomatic Go parameter/result types and the
// JSON wire shapes the child speaks, and folding successful Analyze
// results into the Compilation Cache (C5).
//
// Grounded on the teacher's giant method-per-feature switch in
// internal/tools/lsp/server.go, generalized here into one function per
// case instead of one case per inline block.
package facade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/poppa/pike-lsp-sub007/internal/cache"
	"github.com/poppa/pike-lsp-sub007/internal/perr"
	"github.com/poppa/pike-lsp-sub007/internal/rpc"
)

// Caller is the subset of *rpc.Multiplexer the facade depends on,
// satisfied by the Multiplexer the Supervisor currently owns.
type Caller interface {
	Call(ctx context.Context, method string, params any, opts ...rpc.CallOption) (*rpc.Result, error)
}

// MultiplexerSource returns the multiplexer for the currently running
// child, so the facade always calls through whichever instance the
// Supervisor owns after the most recent restart.
type MultiplexerSource func() Caller

// Facade exposes typed operations over the child RPC surface.
type Facade struct {
	current MultiplexerSource
	cache   *cache.Cache
}

// New constructs a Facade that resolves its Caller through current on
// every call (so a Supervisor restart transparently swaps the
// underlying Multiplexer) and caches Analyze results in c.
func New(current MultiplexerSource, c *cache.Cache) *Facade {
	return &Facade{current: current, cache: c}
}

func (f *Facade) call(ctx context.Context, method string, params any, result any, opts ...rpc.CallOption) error {
	caller := f.current()
	if caller == nil {
		return perr.New(perr.KindTransport, "no running child to handle %q", method)
	}
	res, err := caller.Call(ctx, method, params, opts...)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(res.Raw, result); err != nil {
		return perr.Wrap(perr.KindParse, err, "decode result of %q", method)
	}
	return nil
}

// Diagnostic mirrors the wire shape the child returns for one analysis
// finding (spec.md §3).
type Diagnostic struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

// AnalyzeResult partitions the requested `include` set into results
// that succeeded and facets that failed, per spec.md §4.2's
// partial-failure semantics: for an `analyze` call with facet set I,
// result.keys() ∪ failure.keys() = I and the two are disjoint. Callers
// decode the facet they asked for out of Result with ParseFacet,
// IntrospectFacet or DiagnosticsFacet rather than reading a flattened
// convenience field, so a facet that failed is never silently read as
// empty.
type AnalyzeResult struct {
	Result  map[string]json.RawMessage `json:"result"`
	Failure map[string]string          `json:"failure"`
}

// FacetSymbol mirrors spec.md §3's Symbol shape as carried by the
// "parse" facet's output.
type FacetSymbol struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Position struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"position"`
}

// ParseFacet is the decoded shape of AnalyzeResult.Result["parse"].
type ParseFacet struct {
	Symbols []FacetSymbol `json:"symbols"`
}

// IntrospectFacet is the decoded shape of
// AnalyzeResult.Result["introspect"]: the include/import specs found
// in the document plus the inherit chain, the dependency information
// spec.md §4.5 feeds into the Compilation Cache's dependency graph.
type IntrospectFacet struct {
	Includes []string `json:"includes"`
	Imports  []string `json:"imports"`
	Inherits []string `json:"inherits"`
}

// DiagnosticsFacet is the decoded shape of
// AnalyzeResult.Result["diagnostics"].
type DiagnosticsFacet struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Facet decodes the named entry of r.Result into out, reporting false
// without error if the facet is absent (either never requested or
// present instead in r.Failure).
func (r *AnalyzeResult) Facet(name string, out any) (bool, error) {
	raw, ok := r.Result[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, perr.Wrap(perr.KindParse, err, "decode %q facet", name)
	}
	return true, nil
}

// Analyze runs the requested facets of analysis over text, caching the
// outcome under (path, versionKey) so an identical re-request (same
// text, same facets) short-circuits the child entirely.
func (f *Facade) Analyze(ctx context.Context, absPath string, versionKey string, text string, include []string) (*AnalyzeResult, error) {
	key := cache.Key{AbsPath: absPath, VersionKey: versionKey}
	if f.cache != nil {
		if v, ok := f.cache.Get(key); ok {
			if cached, ok := v.(*AnalyzeResult); ok {
				return cached, nil
			}
		}
	}

	params := struct {
		Path    string   `json:"path"`
		Text    string   `json:"text"`
		Include []string `json:"include"`
	}{absPath, text, include}

	var result AnalyzeResult
	dedup := fmt.Sprintf("analyze:%s:%s", absPath, versionKey)
	if err := f.call(ctx, "analyze", params, &result, rpc.WithDedupKey(dedup)); err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.Put(key, &result)

		var introspect IntrospectFacet
		if ok, err := result.Facet("introspect", &introspect); err == nil && ok {
			deps := make([]string, 0, len(introspect.Includes)+len(introspect.Imports))
			deps = append(deps, introspect.Includes...)
			deps = append(deps, introspect.Imports...)
			f.cache.Graph().SetDependencies(absPath, deps)
		}
	}
	return &result, nil
}

// StdlibEntry is one resolved standard-library symbol.
type StdlibEntry struct {
	Symbol    string `json:"symbol"`
	Signature string `json:"signature"`
	Doc       string `json:"doc"`
	File      string `json:"file"`
	Line      int    `json:"line"`
}

// ResolveStdlib looks up symbol in the child's standard library index.
func (f *Facade) ResolveStdlib(ctx context.Context, symbol string) (*StdlibEntry, error) {
	var out StdlibEntry
	params := struct {
		Symbol string `json:"symbol"`
	}{symbol}
	if err := f.call(ctx, "resolve_stdlib", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolvedInclude is the outcome of resolving one #include/import
// spec relative to a requesting file.
type ResolvedInclude struct {
	AbsPath string `json:"abs_path"`
	Found   bool   `json:"found"`
}

// ResolveInclude asks the child to resolve spec as seen from fromPath.
func (f *Facade) ResolveInclude(ctx context.Context, fromPath, spec string) (*ResolvedInclude, error) {
	var out ResolvedInclude
	params := struct {
		From string `json:"from"`
		Spec string `json:"spec"`
	}{fromPath, spec}
	if err := f.call(ctx, "resolve_include", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompletionContext describes what kind of completion applies at a
// cursor position (member access, identifier, etc).
type CompletionContext struct {
	Kind      string   `json:"kind"`
	Receiver  string   `json:"receiver,omitempty"`
	Prefix    string    `json:"prefix"`
	Candidates []string `json:"candidates"`
}

// GetCompletionContext asks the child what completion applies at
// line/col in absPath.
func (f *Facade) GetCompletionContext(ctx context.Context, absPath string, line, col int) (*CompletionContext, error) {
	var out CompletionContext
	params := struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Col  int    `json:"col"`
	}{absPath, line, col}
	if err := f.call(ctx, "get_completion_context", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Occurrence is one use of a symbol found by FindOccurrences.
type Occurrence struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// FindOccurrences locates every occurrence of symbol reachable from
// absPath, per spec.md's "Find occurrences" operation.
func (f *Facade) FindOccurrences(ctx context.Context, absPath, symbol string) ([]Occurrence, error) {
	var out []Occurrence
	params := struct {
		Path   string `json:"path"`
		Symbol string `json:"symbol"`
	}{absPath, symbol}
	if err := f.call(ctx, "find_occurrences", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UninitializedWarning flags a variable read before any assignment.
type UninitializedWarning struct {
	Variable string `json:"variable"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
}

// AnalyzeUninitialized runs the child's uninitialized-variable check.
func (f *Facade) AnalyzeUninitialized(ctx context.Context, absPath, text string) ([]UninitializedWarning, error) {
	var out []UninitializedWarning
	params := struct {
		Path string `json:"path"`
		Text string `json:"text"`
	}{absPath, text}
	if err := f.call(ctx, "analyze_uninitialized", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InheritedMember is one member contributed by an ancestor class in a
// Pike inherit chain.
type InheritedMember struct {
	Name       string `json:"name"`
	From       string `json:"from"`
	Kind       string `json:"kind"`
	Signature  string `json:"signature,omitempty"`
}

// GetInherited walks the inherit chain rooted at absPath.
func (f *Facade) GetInherited(ctx context.Context, absPath string) ([]InheritedMember, error) {
	var out []InheritedMember
	params := struct {
		Path string `json:"path"`
	}{absPath}
	if err := f.call(ctx, "get_inherited", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractImports returns the raw include/import specs a file contains,
// without resolving them to paths.
func (f *Facade) ExtractImports(ctx context.Context, absPath, text string) ([]string, error) {
	var out []string
	params := struct {
		Path string `json:"path"`
		Text string `json:"text"`
	}{absPath, text}
	if err := f.call(ctx, "extract_imports", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveImport is ResolveInclude's counterpart for module-style
// imports (as opposed to #include file specs).
func (f *Facade) ResolveImport(ctx context.Context, fromPath, moduleSpec string) (*ResolvedInclude, error) {
	var out ResolvedInclude
	params := struct {
		From string `json:"from"`
		Spec string `json:"spec"`
	}{fromPath, moduleSpec}
	if err := f.call(ctx, "resolve_import", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CircularCheck reports whether absPath participates in a dependency
// cycle, and the cycle itself if so.
type CircularCheck struct {
	Circular bool     `json:"circular"`
	Cycle    []string `json:"cycle,omitempty"`
}

// CheckCircular asks the child to detect include/import cycles
// starting from absPath.
func (f *Facade) CheckCircular(ctx context.Context, absPath string) (*CircularCheck, error) {
	var out CircularCheck
	params := struct {
		Path string `json:"path"`
	}{absPath}
	if err := f.call(ctx, "check_circular", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaterfallSymbol is one symbol visible at absPath after resolving the
// full inherit/import waterfall (local, then inherited, then
// imported), in precedence order.
type WaterfallSymbol struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
	Kind   string `json:"kind"`
}

// GetWaterfallSymbols returns every symbol visible at absPath in
// shadowing precedence order.
func (f *Facade) GetWaterfallSymbols(ctx context.Context, absPath string) ([]WaterfallSymbol, error) {
	var out []WaterfallSymbol
	params := struct {
		Path string `json:"path"`
	}{absPath}
	if err := f.call(ctx, "get_waterfall_symbols", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
