package lspserver

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poppa/pike-lsp-sub007/internal/dispatcher"
	"github.com/poppa/pike-lsp-sub007/internal/docstore"
	"github.com/poppa/pike-lsp-sub007/internal/facade"
	"github.com/poppa/pike-lsp-sub007/internal/resolver"
	"github.com/poppa/pike-lsp-sub007/internal/services"
	"github.com/poppa/pike-lsp-sub007/internal/stdlibindex"
	"github.com/poppa/pike-lsp-sub007/internal/symbolindex"
)

type fakeStdlibResolver struct {
	entry *facade.StdlibEntry
}

func (f fakeStdlibResolver) ResolveStdlib(ctx context.Context, symbol string) (*facade.StdlibEntry, error) {
	if f.entry != nil && f.entry.Symbol == symbol {
		return f.entry, nil
	}
	return &facade.StdlibEntry{}, nil
}

type fakeResolverBackend struct {
	include *facade.ResolvedInclude
}

func (f fakeResolverBackend) ResolveInclude(ctx context.Context, fromPath, spec string) (*facade.ResolvedInclude, error) {
	return f.include, nil
}

func (f fakeResolverBackend) ResolveImport(ctx context.Context, fromPath, moduleSpec string) (*facade.ResolvedInclude, error) {
	return f.include, nil
}

func newTestServer(t *testing.T, svc services.Services, ready bool) (*Server, *Transport) {
	t.Helper()
	out := &bytes.Buffer{}
	transport := NewTransport(bytes.NewReader(nil), out)
	d := dispatcher.New(transport.Reply, 8)
	srv := NewServer(transport, d, func() (services.Services, bool) { return svc, ready }, NewHealthReporter())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return srv, transport
}

func testServices() services.Services {
	return services.Services{
		Docs:        docstore.New(docstore.DefaultSweep),
		SymbolIndex: symbolindex.New(func(ctx context.Context, path, text string) ([]symbolindex.Found, error) { return nil, nil }),
		Cache:       nil,
	}
}

func TestInitializeReturnsCapabilities(t *testing.T) {
	srv, _ := newTestServer(t, testServices(), true)
	result, err := srv.handleInitialize(context.Background(), dispatcher.Request{})
	require.NoError(t, err)
	m := result.(map[string]any)
	require.Contains(t, m, "capabilities")
}

func TestDidOpenPopulatesDocstoreAndSymbolIndex(t *testing.T) {
	svc := testServices()
	srv, _ := newTestServer(t, svc, true)

	p := &DidOpenParams{}
	p.TextDocument.URI = "file:///a.pike"
	p.TextDocument.Version = 1
	p.TextDocument.Text = "void foo() {}\n"

	_, err := srv.handleDidOpen(context.Background(), dispatcher.Request{Params: p})
	require.NoError(t, err)

	e, ok := svc.Docs.Get("file:///a.pike")
	require.True(t, ok)
	require.Equal(t, 1, e.Version)

	require.Eventually(t, func() bool {
		return len(svc.SymbolIndex.Search("foo")) == 1
	}, time.Second, time.Millisecond)
}

func TestWorkspaceSymbolReturnsEmptyWhenNotReady(t *testing.T) {
	srv, _ := newTestServer(t, services.Services{}, false)
	result, err := srv.handleWorkspaceSymbol(context.Background(), dispatcher.Request{Params: &WorkspaceSymbolParams{Query: "x"}})
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestExecuteCommandUnknownReturnsError(t *testing.T) {
	srv, _ := newTestServer(t, testServices(), true)
	_, err := srv.handleExecuteCommand(context.Background(), dispatcher.Request{Params: &ExecuteCommandParams{Command: "nope"}})
	require.Error(t, err)
}

func TestExecuteCommandShowDiagnosticsWithNoSupervisor(t *testing.T) {
	srv, _ := newTestServer(t, testServices(), true)
	result, err := srv.handleExecuteCommand(context.Background(), dispatcher.Request{Params: &ExecuteCommandParams{Command: "pike.lsp.showDiagnostics"}})
	require.NoError(t, err)
	snap := result.(HealthSnapshot)
	require.Equal(t, "Stopped", snap.State)
}

func TestHoverResolvesStdlibSymbol(t *testing.T) {
	svc := testServices()
	svc.Docs.Open("file:///a.pike", 1, "Stdio.File f;\n")
	svc.StdlibIndex = stdlibindex.New(fakeStdlibResolver{entry: &facade.StdlibEntry{
		Symbol: "Stdio.File", Signature: "class Stdio.File", Doc: "Represents an open file.",
	}}, 64, 1<<20, 64)

	srv, _ := newTestServer(t, svc, true)
	p := &TextDocumentPositionParams{}
	p.TextDocument.URI = "file:///a.pike"
	p.Position.Line = 0
	p.Position.Character = 2

	result, err := srv.handleHover(context.Background(), dispatcher.Request{Params: p})
	require.NoError(t, err)
	require.NotNil(t, result)
	m := result.(map[string]any)
	contents := m["contents"].(map[string]string)
	require.Contains(t, contents["value"], "Stdio.File")
}

func TestHoverReturnsNilForUnknownWord(t *testing.T) {
	svc := testServices()
	svc.Docs.Open("file:///a.pike", 1, "nothing_here();\n")
	svc.StdlibIndex = stdlibindex.New(fakeStdlibResolver{}, 64, 1<<20, 64)

	srv, _ := newTestServer(t, svc, true)
	p := &TextDocumentPositionParams{}
	p.TextDocument.URI = "file:///a.pike"
	p.Position.Line = 0
	p.Position.Character = 2

	result, err := srv.handleHover(context.Background(), dispatcher.Request{Params: p})
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestDefinitionResolvesIncludeThroughResolver(t *testing.T) {
	svc := testServices()
	svc.Docs.Open("file:///a.pike", 1, "#include \"util.h\"\n")
	r := resolver.New(fakeResolverBackend{include: &facade.ResolvedInclude{AbsPath: "/proj/util.h", Found: true}})
	t.Cleanup(func() { r.Close() })
	svc.Resolver = r

	srv, _ := newTestServer(t, svc, true)
	p := &TextDocumentPositionParams{}
	p.TextDocument.URI = "file:///a.pike"
	p.Position.Line = 0
	p.Position.Character = 0

	result, err := srv.handleDefinition(context.Background(), dispatcher.Request{Params: p})
	require.NoError(t, err)
	locs := result.([]map[string]any)
	require.Len(t, locs, 1)
	require.Equal(t, "/proj/util.h", locs[0]["uri"])
}

func TestDocumentSymbolListsLexicalSymbols(t *testing.T) {
	svc := testServices()
	svc.Docs = docstore.New(func(text string) []docstore.Symbol {
		return []docstore.Symbol{{Name: "foo", Line: 0, Col: 5}}
	})
	svc.Docs.Open("file:///a.pike", 1, "void foo() {}\n")

	srv, _ := newTestServer(t, svc, true)
	p := &DocumentSymbolParams{}
	p.TextDocument.URI = "file:///a.pike"

	result, err := srv.handleDocumentSymbol(context.Background(), dispatcher.Request{Params: p})
	require.NoError(t, err)
	syms := result.([]map[string]any)
	require.Len(t, syms, 1)
	require.Equal(t, "foo", syms[0]["name"])
}

func TestCompletionReturnsEmptyWhenNotReady(t *testing.T) {
	srv, _ := newTestServer(t, services.Services{}, false)
	p := &CompletionParams{}
	p.TextDocument.URI = "file:///a.pike"
	result, err := srv.handleCompletion(context.Background(), dispatcher.Request{Params: p})
	require.NoError(t, err)
	m := result.(map[string]any)
	require.Empty(t, m["items"])
}
