// Package docstore implements the Document Lifecycle store (C6): the
// open-document table keyed by URI, with monotonic version
// replacement and an eagerly maintained per-document symbol-position
// index, grounded on the teacher's own docsVer/astCache maps in
// internal/tools/lsp/server.go.
package docstore

import (
	"sync"

	"github.com/poppa/pike-lsp-sub007/internal/facade"
)

// Symbol is one position-indexed identifier occurrence inside a
// document, swept out of the text on every version replacement.
type Symbol struct {
	Name string
	Line int
	Col  int
}

// Position is a 0-based (line, column) pair, matching Symbol's own
// coordinate space.
type Position struct {
	Line int
	Col  int
}

// Dependencies is the set of include/import specs an analysis found
// in a document, surfaced to C6 per spec.md §4.10 for later use by
// navigation and completion.
type Dependencies struct {
	Includes []string
	Imports  []string
}

// Analysis is the DocumentCacheEntry payload spec.md §3/§4.6
// describes: everything a successful `analyze` call contributes,
// populated only by the debounced validator (C7), never by
// didOpen/didChange. A document can be open (Text/Version/Symbols set)
// with Analysis still nil if no analysis has completed yet.
type Analysis struct {
	Version         int
	Diagnostics     []facade.Diagnostic
	SymbolPositions map[string][]Position
	Dependencies    Dependencies
	Inherits        []string
	ContentHash     string
}

// Entry is the stored state for one open document. Text/Version/
// Symbols are maintained synchronously by didOpen/didChange (the live
// editor buffer); Analysis is maintained exclusively by C7.
type Entry struct {
	URI      string
	Version  int
	Text     string
	Symbols  []Symbol
	Analysis *Analysis
}

// Store holds every currently open document. All access is through
// Store's methods; callers never get a pointer into internal state
// without holding the lock for the duration of use.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*Entry

	sweep func(text string) []Symbol
}

// New constructs an empty Store. sweep extracts the symbol-position
// index from document text; pass nil to disable indexing (tests that
// only care about version/text bookkeeping).
func New(sweep func(text string) []Symbol) *Store {
	if sweep == nil {
		sweep = func(string) []Symbol { return nil }
	}
	return &Store{docs: make(map[string]*Entry), sweep: sweep}
}

// Open inserts a newly opened document, replacing any prior entry for
// the same URI unconditionally (didOpen always wins).
func (s *Store) Open(uri string, version int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[uri] = &Entry{URI: uri, Version: version, Text: text, Symbols: s.sweep(text)}
}

// Change replaces the full text of uri if version is newer than the
// stored version (version-monotonic replacement per spec.md §4.6);
// stale or out-of-order notifications are dropped and reported via the
// return value.
func (s *Store) Change(uri string, version int, text string) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.docs[uri]
	if !ok {
		s.docs[uri] = &Entry{URI: uri, Version: version, Text: text, Symbols: s.sweep(text)}
		return true
	}
	if version <= cur.Version {
		return false
	}
	cur.Version = version
	cur.Text = text
	cur.Symbols = s.sweep(text)
	return true
}

// ApplyAnalysis stores the result of a successful `analyze` call as
// uri's Analysis, but only if version is still the latest known
// version for uri (spec.md §4.6's version-monotonicity invariant): a
// slower analysis for an older version that completes after a newer
// one is discarded rather than clobbering the newer result. This is
// the only method that ever sets Entry.Analysis; didOpen/didChange
// never touch it.
func (s *Store) ApplyAnalysis(uri string, version int, a Analysis) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.docs[uri]
	if !ok || version < cur.Version {
		return false
	}
	a.Version = version
	cur.Analysis = &a
	return true
}

// AnalysisAt returns the most recently applied Analysis for uri, or
// false if the document is not open or has never been analyzed.
func (s *Store) AnalysisAt(uri string) (Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[uri]
	if !ok || e.Analysis == nil {
		return Analysis{}, false
	}
	return *e.Analysis, true
}

// Close removes uri from the store.
func (s *Store) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uri)
}

// Get returns a copy of the entry for uri.
func (s *Store) Get(uri string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[uri]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Version returns the current version for uri, or 0 if not open.
func (s *Store) Version(uri string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.docs[uri]; ok {
		return e.Version
	}
	return 0
}

// URIs returns every currently open document URI.
func (s *Store) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		out = append(out, uri)
	}
	return out
}

// SymbolsAt returns the indexed symbols for uri, or nil if not open.
func (s *Store) SymbolsAt(uri string) []Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.docs[uri]; ok {
		return e.Symbols
	}
	return nil
}

// Len reports how many documents are currently open.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
