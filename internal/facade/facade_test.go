package facade

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poppa/pike-lsp-sub007/internal/cache"
	"github.com/poppa/pike-lsp-sub007/internal/perr"
	"github.com/poppa/pike-lsp-sub007/internal/rpc"
)

type fakeCaller struct {
	calls   int
	method  string
	respond func(method string) (json.RawMessage, error)
}

func (f *fakeCaller) Call(ctx context.Context, method string, params any, opts ...rpc.CallOption) (*rpc.Result, error) {
	f.calls++
	f.method = method
	raw, err := f.respond(method)
	if err != nil {
		return nil, err
	}
	return &rpc.Result{Raw: raw}, nil
}

func TestAnalyzeCachesSuccessfulResult(t *testing.T) {
	fc := &fakeCaller{respond: func(string) (json.RawMessage, error) {
		return json.RawMessage(`{"result":{"introspect":{"includes":[],"imports":["util.pike"],"inherits":[]}},"failure":{}}`), nil
	}}
	c := cache.New(10)
	f := New(func() Caller { return fc }, c)

	r1, err := f.Analyze(context.Background(), "/src/a.pike", "v1", "code", []string{"introspect"})
	require.NoError(t, err)
	var introspect IntrospectFacet
	ok, err := r1.Facet("introspect", &introspect)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"util.pike"}, introspect.Imports)
	require.Equal(t, 1, fc.calls)

	r2, err := f.Analyze(context.Background(), "/src/a.pike", "v1", "code", []string{"introspect"})
	require.NoError(t, err)
	require.Same(t, r1, r2)
	require.Equal(t, 1, fc.calls, "a cached analysis must not re-call the child")

	require.Contains(t, c.Graph().Dependents("util.pike"), "/src/a.pike")
}

func TestAnalyzeWithoutRunningChildReturnsTransportError(t *testing.T) {
	f := New(func() Caller { return nil }, nil)
	_, err := f.Analyze(context.Background(), "/src/a.pike", "v1", "code", nil)
	require.Error(t, err)
	require.True(t, perr.Is(err, perr.KindTransport))
}

func TestResolveStdlibDecodesResult(t *testing.T) {
	fc := &fakeCaller{respond: func(method string) (json.RawMessage, error) {
		require.Equal(t, "resolve_stdlib", method)
		return json.RawMessage(`{"symbol":"sprintf","signature":"string sprintf(string,mixed...)","doc":"format","file":"/usr/lib/pike/sprintf.pike","line":1}`), nil
	}}
	f := New(func() Caller { return fc }, nil)

	entry, err := f.ResolveStdlib(context.Background(), "sprintf")
	require.NoError(t, err)
	require.Equal(t, "sprintf", entry.Symbol)
	require.Equal(t, 1, entry.Line)
}

func TestParseCompatShimDelegatesToAnalyze(t *testing.T) {
	fc := &fakeCaller{respond: func(string) (json.RawMessage, error) {
		return json.RawMessage(`{"result":{"diagnostics":{"diagnostics":[{"line":1,"column":1,"severity":"error","message":"bad"}]}}}`), nil
	}}
	f := New(func() Caller { return fc }, nil)

	result, err := f.Parse(context.Background(), "/src/a.pike", "v1", "code")
	require.NoError(t, err)
	require.Equal(t, "analyze", fc.method)

	var diagFacet DiagnosticsFacet
	ok, err := result.Facet("diagnostics", &diagFacet)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, diagFacet.Diagnostics, 1)
}
