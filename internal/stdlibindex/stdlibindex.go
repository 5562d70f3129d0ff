// Package stdlibindex implements the standard-library lookup cache
// (C8): a lazily populated, dual-bound (entry count + byte budget) LRU
// over resolved stdlib symbols, backed by a small FIFO-capped negative
// cache so repeated lookups of a nonexistent symbol don't keep
// round-tripping to the child. Eviction policy follows the same
// container/list LRU shape as internal/cache, extended with a byte
// budget the way a response-size-aware cache would be.
package stdlibindex

import (
	"container/list"
	"context"
	"sync"

	"github.com/poppa/pike-lsp-sub007/internal/facade"
	"github.com/poppa/pike-lsp-sub007/internal/logging"
)

// Resolver is the subset of *facade.Facade the index depends on.
type Resolver interface {
	ResolveStdlib(ctx context.Context, symbol string) (*facade.StdlibEntry, error)
}

type posEntry struct {
	symbol string
	value  *facade.StdlibEntry
	size   int
}

// Index is a lazy, size-bounded cache in front of Resolver.
type Index struct {
	resolver Resolver

	maxEntries int
	maxBytes   int

	mu        sync.Mutex
	items     map[string]*list.Element
	evictList *list.List
	curBytes  int

	negCap   int
	negative map[string]struct{}
	negOrder []string

	log interface {
		Debug(string, ...any)
	}
}

// New constructs an Index bounded to maxEntries positive entries and
// maxBytes of estimated entry size, with a negative cache capped at
// negativeCap entries.
func New(resolver Resolver, maxEntries, maxBytes, negativeCap int) *Index {
	return &Index{
		resolver:   resolver,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		negCap:     negativeCap,
		negative:   make(map[string]struct{}),
		log:        logging.For(logging.LayerServer),
	}
}

// Resolve returns the cached entry for symbol, resolving through the
// child and populating the cache on a miss. A cached "not found"
// result short-circuits without calling the child again.
func (idx *Index) Resolve(ctx context.Context, symbol string) (*facade.StdlibEntry, bool, error) {
	idx.mu.Lock()
	if elem, ok := idx.items[symbol]; ok {
		idx.evictList.MoveToFront(elem)
		e := elem.Value.(*posEntry)
		idx.mu.Unlock()
		return e.value, true, nil
	}
	if _, negative := idx.negative[symbol]; negative {
		idx.mu.Unlock()
		return nil, false, nil
	}
	idx.mu.Unlock()

	entry, err := idx.resolver.ResolveStdlib(ctx, symbol)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || entry.Symbol == "" {
		idx.recordNegative(symbol)
		return nil, false, nil
	}

	idx.store(symbol, entry)
	return entry, true, nil
}

func (idx *Index) store(symbol string, value *facade.StdlibEntry) {
	size := estimateSize(value)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if elem, ok := idx.items[symbol]; ok {
		old := elem.Value.(*posEntry)
		idx.curBytes += size - old.size
		old.value, old.size = value, size
		idx.evictList.MoveToFront(elem)
	} else {
		elem := idx.evictList.PushFront(&posEntry{symbol: symbol, value: value, size: size})
		idx.items[symbol] = elem
		idx.curBytes += size
	}

	for (idx.maxEntries > 0 && idx.evictList.Len() > idx.maxEntries) ||
		(idx.maxBytes > 0 && idx.curBytes > idx.maxBytes) {
		if !idx.evictOldestLocked() {
			break
		}
	}
}

func (idx *Index) evictOldestLocked() bool {
	elem := idx.evictList.Back()
	if elem == nil {
		return false
	}
	e := elem.Value.(*posEntry)
	idx.evictList.Remove(elem)
	delete(idx.items, e.symbol)
	idx.curBytes -= e.size
	return true
}

func (idx *Index) recordNegative(symbol string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.negative[symbol]; ok {
		return
	}
	idx.negative[symbol] = struct{}{}
	idx.negOrder = append(idx.negOrder, symbol)
	if len(idx.negOrder) > idx.negCap {
		oldest := idx.negOrder[0]
		idx.negOrder = idx.negOrder[1:]
		delete(idx.negative, oldest)
	}
}

// estimateSize is a rough byte-budget proxy for a resolved entry: it
// doesn't need to be exact, only monotonic with response size, so the
// byte budget behaves sensibly under a mix of tiny and huge doc
// comments.
func estimateSize(e *facade.StdlibEntry) int {
	return len(e.Symbol) + len(e.Signature) + len(e.Doc) + len(e.File) + 16
}

// Len reports the number of positively cached entries.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.evictList.Len()
}
