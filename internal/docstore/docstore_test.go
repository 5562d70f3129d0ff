package docstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poppa/pike-lsp-sub007/internal/facade"
)

func TestOpenThenGet(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 1, "int x;")

	e, ok := s.Get("file:///a.pike")
	require.True(t, ok)
	require.Equal(t, 1, e.Version)
	require.Equal(t, "int x;", e.Text)
}

func TestChangeRejectsStaleVersion(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 3, "old")

	applied := s.Change("file:///a.pike", 2, "stale")
	require.False(t, applied)

	e, _ := s.Get("file:///a.pike")
	require.Equal(t, "old", e.Text)
	require.Equal(t, 3, e.Version)
}

func TestChangeAppliesNewerVersion(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 1, "old")

	applied := s.Change("file:///a.pike", 2, "new")
	require.True(t, applied)

	e, _ := s.Get("file:///a.pike")
	require.Equal(t, "new", e.Text)
	require.Equal(t, 2, e.Version)
}

func TestCloseRemovesDocument(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 1, "x")
	s.Close("file:///a.pike")

	_, ok := s.Get("file:///a.pike")
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestOpenAndChangeNeverTouchAnalysis(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 1, "old")
	require.True(t, s.ApplyAnalysis("file:///a.pike", 1, Analysis{Diagnostics: []facade.Diagnostic{{Message: "bad"}}}))

	s.Change("file:///a.pike", 2, "new")
	e, ok := s.Get("file:///a.pike")
	require.True(t, ok)
	require.NotNil(t, e.Analysis, "a newer didChange must not clear the previous analysis")
	require.Equal(t, 1, e.Analysis.Version, "stale analysis keeps the version it was computed for")
}

func TestApplyAnalysisRejectsStaleVersion(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 5, "text")

	applied := s.ApplyAnalysis("file:///a.pike", 4, Analysis{})
	require.False(t, applied, "an analysis for an older version must not clobber the current entry")

	_, ok := s.AnalysisAt("file:///a.pike")
	require.False(t, ok)
}

func TestApplyAnalysisThenAnalysisAt(t *testing.T) {
	s := New(nil)
	s.Open("file:///a.pike", 1, "text")

	applied := s.ApplyAnalysis("file:///a.pike", 1, Analysis{
		Diagnostics:  []facade.Diagnostic{{Line: 1, Message: "oops"}},
		Dependencies: Dependencies{Includes: []string{"util.h"}},
	})
	require.True(t, applied)

	a, ok := s.AnalysisAt("file:///a.pike")
	require.True(t, ok)
	require.Len(t, a.Diagnostics, 1)
	require.Equal(t, []string{"util.h"}, a.Dependencies.Includes)
}

func TestDefaultSweepFindsFunctionNames(t *testing.T) {
	text := "int add(int a, int b) {\n  return a + b;\n}\n\nvoid main() {\n  add(1, 2);\n}\n"
	syms := DefaultSweep(text)

	var names []string
	for _, sym := range syms {
		names = append(names, sym.Name)
	}
	require.Contains(t, names, "add")
	require.Contains(t, names, "main")
}

func TestOpenIndexesSymbolsEagerly(t *testing.T) {
	s := New(DefaultSweep)
	s.Open("file:///a.pike", 1, "void foo() {}\n")

	syms := s.SymbolsAt("file:///a.pike")
	require.Len(t, syms, 1)
	require.Equal(t, "foo", syms[0].Name)
}
