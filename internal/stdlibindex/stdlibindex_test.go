package stdlibindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poppa/pike-lsp-sub007/internal/facade"
)

type fakeResolver struct {
	calls   map[string]int
	entries map[string]*facade.StdlibEntry
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{calls: make(map[string]int), entries: make(map[string]*facade.StdlibEntry)}
}

func (f *fakeResolver) ResolveStdlib(ctx context.Context, symbol string) (*facade.StdlibEntry, error) {
	f.calls[symbol]++
	return f.entries[symbol], nil
}

func TestResolveCachesPositiveHit(t *testing.T) {
	fr := newFakeResolver()
	fr.entries["sprintf"] = &facade.StdlibEntry{Symbol: "sprintf", Signature: "string sprintf(...)"}
	idx := New(fr, 10, 10_000, 10)

	_, found, err := idx.Resolve(context.Background(), "sprintf")
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = idx.Resolve(context.Background(), "sprintf")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, fr.calls["sprintf"], "second lookup should hit the cache, not the resolver")
}

func TestResolveCachesNegativeResult(t *testing.T) {
	fr := newFakeResolver() // no entries registered -> always nil
	idx := New(fr, 10, 10_000, 10)

	_, found, err := idx.Resolve(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = idx.Resolve(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 1, fr.calls["nonexistent"], "negative lookups must not repeat the round trip")
}

func TestEntryCountEvictsOldest(t *testing.T) {
	fr := newFakeResolver()
	fr.entries["a"] = &facade.StdlibEntry{Symbol: "a"}
	fr.entries["b"] = &facade.StdlibEntry{Symbol: "b"}
	fr.entries["c"] = &facade.StdlibEntry{Symbol: "c"}
	idx := New(fr, 2, 0, 10)

	ctx := context.Background()
	_, _, _ = idx.Resolve(ctx, "a")
	_, _, _ = idx.Resolve(ctx, "b")
	_, _, _ = idx.Resolve(ctx, "c")

	require.Equal(t, 2, idx.Len())
	_, _, _ = idx.Resolve(ctx, "a")
	require.Equal(t, 2, fr.calls["a"], "a should have been evicted and re-resolved")
}

func TestByteBudgetEvictsLargeEntries(t *testing.T) {
	fr := newFakeResolver()
	fr.entries["big"] = &facade.StdlibEntry{Symbol: "big", Doc: string(make([]byte, 1000))}
	fr.entries["small"] = &facade.StdlibEntry{Symbol: "small"}
	idx := New(fr, 0, 50, 10)

	ctx := context.Background()
	_, _, _ = idx.Resolve(ctx, "big")
	_, _, _ = idx.Resolve(ctx, "small")

	require.Equal(t, 1, idx.Len(), "byte budget should keep only the most recently used entry")
}

func TestParseFileLine(t *testing.T) {
	loc, ok := ParseFileLine("/usr/lib/pike/sprintf.pike:42")
	require.True(t, ok)
	require.Equal(t, "/usr/lib/pike/sprintf.pike", loc.File)
	require.Equal(t, 42, loc.Line)

	_, ok = ParseFileLine("/usr/lib/pike/sprintf.pike")
	require.False(t, ok)
}
