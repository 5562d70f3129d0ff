// Package symbolindex implements the Workspace Symbol Index (C9): a
// full workspace walk that extracts symbols per file via a pluggable
// Extractor,
// bounded-concurrency fan-out grounded on the teacher's own
// errgroup+semaphore pattern in internal/packagemanager/manager.go,
// feeding a nested name -> uri -> entry map used for workspace/symbol
// queries.
package symbolindex

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/poppa/pike-lsp-sub007/internal/logging"
	"github.com/poppa/pike-lsp-sub007/internal/runtime/vfs"
)

// skipDirs are never descended into during a workspace walk.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".svn":         {},
	"build":        {},
	"dist":         {},
	".pike-cache":  {},
}

// maxSearchResults bounds how many matches Search returns, regardless
// of how many symbols actually match.
const maxSearchResults = 256

// Found is one symbol discovered while sweeping a single file, before
// it is merged into the index under that file's URI.
type Found struct {
	Name string
	Line int
	Col  int
	Kind string
}

// Entry is one indexed symbol occurrence, as stored per (name, uri).
type Entry struct {
	Name string // original-case symbol name
	Line int
	Col  int
	Kind string
}

// Extractor pulls the symbols out of one file's text; normally backed
// by docstore.DefaultSweep or a facade call that asks the child.
type Extractor func(ctx context.Context, path, text string) ([]Found, error)

// Index is a concurrency-safe nested symbol table: name -> uri ->
// entry. Lookups are case-insensitive.
type Index struct {
	extract Extractor
	fsys    vfs.FileSystem
	log     interface {
		Information(string, ...any)
		Warning(string, ...any)
	}

	mu    sync.RWMutex
	table map[string]map[string]Entry // lowercased name -> uri -> entry
}

// New constructs an empty Index that uses extract to sweep symbols out
// of each file it indexes, reading files through vfs.OSFS.
func New(extract Extractor) *Index {
	return &Index{
		extract: extract,
		fsys:    vfs.NewOS(),
		log:     logging.For(logging.LayerServer),
		table:   make(map[string]map[string]Entry),
	}
}

// IndexWorkspace walks root concurrently (bounded by concurrency
// slots), extracting symbols from every *.pike file found and merging
// them into the index. Errors from individual files are logged and
// skipped rather than aborting the whole walk — one bad file should
// never blank out workspace symbols for the rest of the project.
func (idx *Index) IndexWorkspace(ctx context.Context, root string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 8
	}

	paths, err := discoverPikeFiles(idx.fsys, root)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for _, p := range paths {
		p := p
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			text, err := readFile(idx.fsys, p)
			if err != nil {
				idx.log.Warning("symbolindex: skipping unreadable file {Path}: {Error}", p, err)
				return nil
			}

			entries, err := idx.extract(gctx, p, text)
			if err != nil {
				idx.log.Warning("symbolindex: extract failed for {Path}: {Error}", p, err)
				return nil
			}
			idx.merge(p, entries)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	idx.log.Information("symbolindex: indexed {Count} file(s) under {Root}", len(paths), root)
	return nil
}

func (idx *Index) merge(uri string, found []Found) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, f := range found {
		key := strings.ToLower(f.Name)
		if key == "" {
			continue
		}
		if idx.table[key] == nil {
			idx.table[key] = make(map[string]Entry)
		}
		idx.table[key][uri] = Entry{Name: f.Name, Line: f.Line, Col: f.Col, Kind: f.Kind}
	}
}

// Update replaces the indexed entries for one open document, called on
// every didOpen/didChange (ahead of the debounced validation pass) so
// edits in the open buffer are reflected before the next full
// workspace walk.
func (idx *Index) Update(uri string, found []Found) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for name, byURI := range idx.table {
		delete(byURI, uri)
		if len(byURI) == 0 {
			delete(idx.table, name)
		}
	}
	for _, f := range found {
		key := strings.ToLower(f.Name)
		if idx.table[key] == nil {
			idx.table[key] = make(map[string]Entry)
		}
		idx.table[key][uri] = Entry{Name: f.Name, Line: f.Line, Col: f.Col, Kind: f.Kind}
	}
}

// Match describes one symbol hit from a workspace query.
type Match struct {
	Name string
	URI  string
	Entry
}

// Search returns up to maxSearchResults symbols whose name contains
// query, case-insensitively, sorted by name then URI for determinism.
func (idx *Index) Search(query string) []Match {
	q := strings.ToLower(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Match
	for name, byURI := range idx.table {
		if q != "" && !strings.Contains(name, q) {
			continue
		}
		for uri, e := range byURI {
			out = append(out, Match{Name: e.Name, URI: uri, Entry: e})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].URI < out[j].URI
	})

	if len(out) > maxSearchResults {
		out = out[:maxSearchResults]
	}
	return out
}

// discoverPikeFiles walks root through fsys (normally vfs.OSFS),
// skipping skipDirs, and collects every .pike/.pmod file found.
func discoverPikeFiles(fsys vfs.FileSystem, root string) ([]string, error) {
	var paths []string
	err := fsys.Walk(root, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && fullPath != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(fullPath, ".pike") || strings.HasSuffix(fullPath, ".pmod") {
			paths = append(paths, fullPath)
		}
		return nil
	})
	return paths, err
}

// readFile reads the whole of name through fsys.
func readFile(fsys vfs.FileSystem, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
