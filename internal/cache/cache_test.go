package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMissThenPutHit(t *testing.T) {
	c := New(10)
	k := Key{AbsPath: "/src/a.pike", VersionKey: "v1"}

	_, ok := c.Get(k)
	require.False(t, ok)

	c.Put(k, "compiled-a")
	v, ok := c.Get(k)
	require.True(t, ok)
	require.Equal(t, "compiled-a", v)

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 1, stats.Size)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	a := Key{AbsPath: "/src/a.pike", VersionKey: "v1"}
	b := Key{AbsPath: "/src/b.pike", VersionKey: "v1"}
	d := Key{AbsPath: "/src/d.pike", VersionKey: "v1"}

	c.Put(a, 1)
	c.Put(b, 2)
	_, _ = c.Get(a) // a is now more recently used than b
	c.Put(d, 3)     // forces eviction of b, the LRU entry

	_, aOK := c.Get(a)
	_, bOK := c.Get(b)
	_, dOK := c.Get(d)
	require.True(t, aOK)
	require.False(t, bOK)
	require.True(t, dOK)
	require.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestEvictionRemovesDependencyGraphEdges(t *testing.T) {
	c := New(1)
	a := Key{AbsPath: "/src/a.pike", VersionKey: "v1"}
	b := Key{AbsPath: "/src/b.pike", VersionKey: "v1"}

	c.Graph().SetDependencies(a.AbsPath, []string{"/src/util.pike"})
	c.Put(a, "a")
	require.Contains(t, c.Graph().Dependents("/src/util.pike"), a.AbsPath)

	c.Put(b, "b") // forces eviction of a, the only cached entry for AbsPath
	require.NotContains(t, c.Graph().Dependents("/src/util.pike"), a.AbsPath)
}

func TestEvictionKeepsGraphEdgeWhileSiblingVersionRemains(t *testing.T) {
	c := New(2)
	a1 := Key{AbsPath: "/src/a.pike", VersionKey: "v1"}
	a2 := Key{AbsPath: "/src/a.pike", VersionKey: "v2"}
	b := Key{AbsPath: "/src/b.pike", VersionKey: "v1"}

	c.Graph().SetDependencies(a1.AbsPath, []string{"/src/util.pike"})
	c.Put(a1, "a-old")
	c.Put(a2, "a-new")
	_, _ = c.Get(a2) // a2 most recently used
	c.Put(b, "b")    // forces eviction of a1 — a2 (same AbsPath) is still cached

	require.Contains(t, c.Graph().Dependents("/src/util.pike"), a1.AbsPath,
		"a second cached version-key for the same path should keep the graph edge alive")
}

func TestInvalidateDropsAllVersionsOfPath(t *testing.T) {
	c := New(10)
	k1 := Key{AbsPath: "/src/a.pike", VersionKey: "v1"}
	k2 := Key{AbsPath: "/src/a.pike", VersionKey: "v2"}

	c.Put(k1, "old")
	c.Put(k2, "new")
	c.Invalidate("/src/a.pike", false)

	_, ok1 := c.Get(k1)
	_, ok2 := c.Get(k2)
	require.False(t, ok1)
	require.False(t, ok2)
}

func TestInvalidateTransitiveFollowsDependents(t *testing.T) {
	c := New(10)
	c.Graph().SetDependencies("/src/main.pike", []string{"/src/util.pike"})
	c.Graph().SetDependencies("/src/util.pike", []string{"/src/base.pike"})

	c.Put(Key{AbsPath: "/src/main.pike", VersionKey: "v1"}, "main")
	c.Put(Key{AbsPath: "/src/util.pike", VersionKey: "v1"}, "util")
	c.Put(Key{AbsPath: "/src/base.pike", VersionKey: "v1"}, "base")

	c.Invalidate("/src/base.pike", true)

	for _, path := range []string{"/src/main.pike", "/src/util.pike", "/src/base.pike"} {
		_, ok := c.Get(Key{AbsPath: path, VersionKey: "v1"})
		require.False(t, ok, "%s should have been invalidated transitively", path)
	}
}

func TestDependencyGraphInvariantHolds(t *testing.T) {
	g := NewDependencyGraph()
	g.SetDependencies("/src/a.pike", []string{"/src/b.pike", "/src/c.pike"})

	require.Contains(t, g.Dependents("/src/b.pike"), "/src/a.pike")
	require.Contains(t, g.Dependents("/src/c.pike"), "/src/a.pike")

	g.SetDependencies("/src/a.pike", []string{"/src/b.pike"})
	require.Contains(t, g.Dependents("/src/b.pike"), "/src/a.pike")
	require.NotContains(t, g.Dependents("/src/c.pike"), "/src/a.pike")
}

func TestRemovePathClearsBothDirections(t *testing.T) {
	g := NewDependencyGraph()
	g.SetDependencies("/src/a.pike", []string{"/src/b.pike"})
	g.RemovePath("/src/a.pike")

	require.Empty(t, g.Dependencies("/src/a.pike"))
	require.Empty(t, g.Dependents("/src/b.pike"))
}
