package lspserver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/poppa/pike-lsp-sub007/internal/dispatcher"
	"github.com/poppa/pike-lsp-sub007/internal/docstore"
	"github.com/poppa/pike-lsp-sub007/internal/facade"
	"github.com/poppa/pike-lsp-sub007/internal/services"
	"github.com/poppa/pike-lsp-sub007/internal/stdlibindex"
	"github.com/poppa/pike-lsp-sub007/internal/symbolindex"
)

// InitializeParams is the subset of the LSP initialize request the
// mediator cares about.
type InitializeParams struct {
	RootURI               string         `json:"rootUri"`
	InitializationOptions map[string]any `json:"initializationOptions"`
}

// DidOpenParams mirrors textDocument/didOpen.
type DidOpenParams struct {
	TextDocument struct {
		URI     string `json:"uri"`
		Version int    `json:"version"`
		Text    string `json:"text"`
	} `json:"textDocument"`
}

// DidChangeParams mirrors textDocument/didChange with full-document
// sync (spec.md's textDocumentSync.change = Full), matching the
// "replace whole text" semantics docstore.Change implements.
type DidChangeParams struct {
	TextDocument struct {
		URI     string `json:"uri"`
		Version int    `json:"version"`
	} `json:"textDocument"`
	ContentChanges []struct {
		Text string `json:"text"`
	} `json:"contentChanges"`
}

// DidCloseParams mirrors textDocument/didClose.
type DidCloseParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
}

// TextDocumentPositionParams mirrors the shared params shape of
// hover/definition-style requests: a document plus a cursor position.
type TextDocumentPositionParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Position struct {
		Line      int `json:"line"`
		Character int `json:"character"`
	} `json:"position"`
}

// ReferenceParams mirrors textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context struct {
		IncludeDeclaration bool `json:"includeDeclaration"`
	} `json:"context"`
}

// DocumentSymbolParams mirrors textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
}

// CompletionParams mirrors textDocument/completion.
type CompletionParams struct {
	TextDocumentPositionParams
}

// WorkspaceSymbolParams mirrors workspace/symbol.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// ExecuteCommandParams mirrors workspace/executeCommand.
type ExecuteCommandParams struct {
	Command   string `json:"command"`
	Arguments []any  `json:"arguments"`
}

// CurrentServices resolves the latest Services value; swapped in by
// the Builder's OnReady callback every time the child restarts.
type CurrentServices func() (services.Services, bool)

// ScheduleFunc queues a debounced validation pass for uri/version;
// backed by a *validator.Validator owned by the caller (internal/core),
// kept out of this package to avoid lspserver depending on validator's
// own dependency on a run callback that closes back over lspserver.
type ScheduleFunc func(ctx context.Context, uri string, version int)

// Server binds a Transport to a Dispatcher and registers every method
// the mediator supports, deferring to CurrentServices for anything
// that needs the live Supervisor/Facade/Docs handles.
type Server struct {
	transport *Transport
	dispatch  *dispatcher.Dispatcher
	current   CurrentServices
	health    *HealthReporter
	schedule  ScheduleFunc
}

// NewServer wires transport and dispatch together, registering every
// handler, and returns the assembled Server.
func NewServer(transport *Transport, dispatch *dispatcher.Dispatcher, current CurrentServices, health *HealthReporter) *Server {
	s := &Server{transport: transport, dispatch: dispatch, current: current, health: health}
	s.registerHandlers()
	return s
}

// SetScheduler wires the debounced-validation callback. Must be called
// before the transport starts serving requests; didOpen/didChange
// handlers are no-ops on the debounced-analysis side until it is set.
func (s *Server) SetScheduler(fn ScheduleFunc) { s.schedule = fn }

// PublishDiagnostics sends a textDocument/publishDiagnostics
// notification for uri, called by internal/core once a debounced
// Analyze pass completes.
func (s *Server) PublishDiagnostics(uri string, diags any) {
	s.transport.Notify("textDocument/publishDiagnostics", map[string]any{"uri": uri, "diagnostics": diags})
}

// ParamsFor returns the Go struct to decode the given method's params
// into, or nil for methods whose params are passed through as a
// generic map (or that take none).
func (s *Server) ParamsFor(method string) any {
	switch method {
	case "initialize":
		return &InitializeParams{}
	case "textDocument/didOpen":
		return &DidOpenParams{}
	case "textDocument/didChange":
		return &DidChangeParams{}
	case "textDocument/didClose", "textDocument/didSave":
		return &DidCloseParams{}
	case "workspace/symbol":
		return &WorkspaceSymbolParams{}
	case "workspace/executeCommand":
		return &ExecuteCommandParams{}
	case "textDocument/hover", "textDocument/definition":
		return &TextDocumentPositionParams{}
	case "textDocument/references":
		return &ReferenceParams{}
	case "textDocument/documentSymbol":
		return &DocumentSymbolParams{}
	case "textDocument/completion":
		return &CompletionParams{}
	default:
		return nil
	}
}

func (s *Server) registerHandlers() {
	s.dispatch.Register("initialize", s.handleInitialize)
	s.dispatch.Register("initialized", noop)
	s.dispatch.Register("shutdown", s.handleShutdown)
	s.dispatch.Register("exit", noop)

	s.dispatch.Register("textDocument/didOpen", s.handleDidOpen)
	s.dispatch.Register("textDocument/didChange", s.handleDidChange)
	s.dispatch.Register("textDocument/didClose", s.handleDidClose)
	s.dispatch.Register("textDocument/didSave", noop)

	s.dispatch.Register("workspace/symbol", s.handleWorkspaceSymbol)
	s.dispatch.Register("workspace/executeCommand", s.handleExecuteCommand)

	s.dispatch.Register("textDocument/hover", s.handleHover)
	s.dispatch.Register("textDocument/definition", s.handleDefinition)
	s.dispatch.Register("textDocument/references", s.handleReferences)
	s.dispatch.Register("textDocument/documentSymbol", s.handleDocumentSymbol)
	s.dispatch.Register("textDocument/completion", s.handleCompletion)
}

func noop(ctx context.Context, req dispatcher.Request) (any, error) { return nil, nil }

func (s *Server) handleInitialize(ctx context.Context, req dispatcher.Request) (any, error) {
	caps := map[string]any{
		"positionEncoding": "utf-16",
		"textDocumentSync": map[string]any{
			"openClose": true,
			"change":    1, // Full
		},
		"hoverProvider":          true,
		"definitionProvider":     true,
		"referencesProvider":     true,
		"documentSymbolProvider": true,
		"workspaceSymbolProvider": true,
		"completionProvider": map[string]any{
			"triggerCharacters": []string{".", ":", ",", "(", "["},
		},
		"executeCommandProvider": map[string]any{
			"commands": []string{"pike.lsp.showDiagnostics"},
		},
	}
	return map[string]any{
		"capabilities": caps,
		"serverInfo":   map[string]string{"name": "pike-lsp-sub007"},
	}, nil
}

func (s *Server) handleShutdown(ctx context.Context, req dispatcher.Request) (any, error) {
	return nil, nil
}

func (s *Server) handleDidOpen(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*DidOpenParams)
	if !ok {
		return nil, nil
	}
	svc, ready := s.current()
	if !ready {
		return nil, nil
	}
	svc.Docs.Open(p.TextDocument.URI, p.TextDocument.Version, p.TextDocument.Text)
	s.scheduleValidation(ctx, svc, p.TextDocument.URI, p.TextDocument.Version)
	return nil, nil
}

func (s *Server) handleDidChange(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*DidChangeParams)
	if !ok || len(p.ContentChanges) == 0 {
		return nil, nil
	}
	svc, ready := s.current()
	if !ready {
		return nil, nil
	}
	text := p.ContentChanges[len(p.ContentChanges)-1].Text
	if svc.Docs.Change(p.TextDocument.URI, p.TextDocument.Version, text) {
		s.scheduleValidation(ctx, svc, p.TextDocument.URI, p.TextDocument.Version)
	}
	return nil, nil
}

func (s *Server) handleDidClose(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*DidCloseParams)
	if !ok {
		return nil, nil
	}
	svc, ready := s.current()
	if !ready {
		return nil, nil
	}
	svc.Docs.Close(p.TextDocument.URI)
	svc.Cache.Graph().RemovePath(p.TextDocument.URI)
	s.transport.Notify("textDocument/publishDiagnostics", map[string]any{"uri": p.TextDocument.URI, "diagnostics": []any{}})
	return nil, nil
}

func (s *Server) handleWorkspaceSymbol(ctx context.Context, req dispatcher.Request) (any, error) {
	p, _ := req.Params.(*WorkspaceSymbolParams)
	svc, ready := s.current()
	if !ready || p == nil {
		return []any{}, nil
	}
	matches := svc.SymbolIndex.Search(p.Query)
	out := make([]map[string]any, len(matches))
	for i, m := range matches {
		out[i] = map[string]any{
			"name": m.Name,
			"kind": m.Kind,
			"location": map[string]any{
				"uri": m.URI,
				"range": map[string]any{
					"start": map[string]int{"line": m.Line, "character": m.Col},
					"end":   map[string]int{"line": m.Line, "character": m.Col},
				},
			},
		}
	}
	return out, nil
}

func (s *Server) handleExecuteCommand(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*ExecuteCommandParams)
	if !ok {
		return nil, fmt.Errorf("missing command")
	}
	switch p.Command {
	case "pike.lsp.showDiagnostics":
		svc, ready := s.current()
		if !ready {
			return s.health.Snapshot(nil), nil
		}
		return s.health.Snapshot(svc.Supervisor), nil
	default:
		return nil, fmt.Errorf("unknown command: %s", p.Command)
	}
}

// scheduleValidation refreshes the symbol index immediately (so
// workspace/symbol reflects the latest keystroke without waiting on
// the debounce) and queues the debounced Analyze+publish-diagnostics
// pass owned by internal/core.
func (s *Server) scheduleValidation(ctx context.Context, svc services.Services, uri string, version int) {
	entry, ok := svc.Docs.Get(uri)
	if !ok {
		return
	}
	svc.SymbolIndex.Update(uri, toFound(entry.Symbols))

	if s.schedule != nil {
		s.schedule(ctx, uri, version)
	}
}

func toFound(syms []docstore.Symbol) []symbolindex.Found {
	out := make([]symbolindex.Found, len(syms))
	for i, sym := range syms {
		out[i] = symbolindex.Found{Name: sym.Name, Line: sym.Line, Col: sym.Col, Kind: "function"}
	}
	return out
}

var (
	includeRe = regexp.MustCompile(`#include\s+"([^"]+)"`)
	importRe  = regexp.MustCompile(`\bimport\s+([A-Za-z_][A-Za-z0-9_.]*)\s*;`)
)

// isWordByte reports whether b can appear inside an identifier token
// that hover/definition/references resolve against, including '.' so
// a dotted stdlib path like "Stdio.File" is treated as one token.
func isWordByte(b byte) bool {
	return b == '_' || b == '.' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// wordAt extracts the (possibly dotted) identifier touching the cursor
// at line/char in text.
func wordAt(text string, line, char int) string {
	offset := docstore.OffsetAt(text, line, char)

	start := offset
	for start > 0 && isWordByte(text[start-1]) {
		start--
	}
	end := offset
	for end < len(text) && isWordByte(text[end]) {
		end++
	}
	return strings.Trim(text[start:end], ".")
}

// lineAt returns line's text (without its trailing newline), or "" if
// line is out of range.
func lineAt(text string, line int) string {
	lines := strings.Split(text, "\n")
	if line < 0 || line >= len(lines) {
		return ""
	}
	return lines[line]
}

// includeOrImportAt detects a #include/import statement on line,
// returning the spec it names and whether it is a file include (true)
// or a module import (false).
func includeOrImportAt(text string, line int) (spec string, isInclude, ok bool) {
	l := lineAt(text, line)
	if m := includeRe.FindStringSubmatch(l); m != nil {
		return m[1], true, true
	}
	if m := importRe.FindStringSubmatch(l); m != nil {
		return m[1], false, true
	}
	return "", false, false
}

// locationAt builds an LSP Location for a zero-width point, used for
// every kind of resolved definition/reference this mediator returns —
// the child reports a target line, never a full identifier range.
func locationAt(uri string, line, col int) map[string]any {
	return map[string]any{
		"uri": uri,
		"range": map[string]any{
			"start": map[string]int{"line": line, "character": col},
			"end":   map[string]int{"line": line, "character": col},
		},
	}
}

// hoverMarkdown renders a stdlib entry as an LSP markdown hover body.
func hoverMarkdown(e *facade.StdlibEntry) string {
	if e.Doc == "" {
		return fmt.Sprintf("```pike\n%s\n```", e.Signature)
	}
	return fmt.Sprintf("```pike\n%s\n```\n\n%s", e.Signature, e.Doc)
}

// handleHover answers textDocument/hover by resolving the token under
// the cursor through the standard library index (C8); open-document
// lexical symbols get a plain-text fallback when they're not a stdlib
// name.
func (s *Server) handleHover(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*TextDocumentPositionParams)
	if !ok {
		return nil, nil
	}
	svc, ready := s.current()
	if !ready {
		return nil, nil
	}
	entry, ok := svc.Docs.Get(p.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := wordAt(entry.Text, p.Position.Line, p.Position.Character)
	if word == "" {
		return nil, nil
	}

	if svc.StdlibIndex != nil {
		if stdlib, found, err := svc.StdlibIndex.Resolve(ctx, word); err == nil && found {
			return map[string]any{
				"contents": map[string]string{"kind": "markdown", "value": hoverMarkdown(stdlib)},
			}, nil
		}
	}

	for _, sym := range entry.Symbols {
		if sym.Name == word {
			return map[string]any{
				"contents": map[string]string{"kind": "plaintext", "value": word},
			}, nil
		}
	}
	return nil, nil
}

// handleDefinition answers textDocument/definition. A cursor sitting on
// a #include/import line resolves through the Include/Import Resolver
// (C10); otherwise the token under the cursor resolves through the
// standard library index (C8) first, falling back to the document's
// own lexical symbol table for a same-file jump.
func (s *Server) handleDefinition(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*TextDocumentPositionParams)
	if !ok {
		return []any{}, nil
	}
	svc, ready := s.current()
	if !ready {
		return []any{}, nil
	}
	uri := p.TextDocument.URI
	entry, ok := svc.Docs.Get(uri)
	if !ok {
		return []any{}, nil
	}

	if spec, isInclude, found := includeOrImportAt(entry.Text, p.Position.Line); found && svc.Resolver != nil {
		var (
			resolved *facade.ResolvedInclude
			err      error
		)
		if isInclude {
			resolved, err = svc.Resolver.ResolveInclude(ctx, uri, spec)
		} else {
			resolved, err = svc.Resolver.ResolveImport(ctx, uri, spec)
		}
		if err != nil || resolved == nil || !resolved.Found {
			return []any{}, nil
		}
		return []map[string]any{locationAt(resolved.AbsPath, 0, 0)}, nil
	}

	word := wordAt(entry.Text, p.Position.Line, p.Position.Character)
	if word == "" {
		return []any{}, nil
	}

	if svc.StdlibIndex != nil {
		if stdlib, found, err := svc.StdlibIndex.Resolve(ctx, word); err == nil && found {
			file, line := stdlib.File, stdlib.Line
			if loc, inline := stdlibindex.ParseFileLine(stdlib.File); inline {
				file, line = loc.File, loc.Line
			}
			return []map[string]any{locationAt(file, line, 0)}, nil
		}
	}

	for _, sym := range entry.Symbols {
		if sym.Name == word {
			return []map[string]any{locationAt(uri, sym.Line, sym.Col)}, nil
		}
	}
	return []any{}, nil
}

// handleReferences answers textDocument/references by delegating to
// the facade's find_occurrences call for the token under the cursor.
func (s *Server) handleReferences(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*ReferenceParams)
	if !ok {
		return []any{}, nil
	}
	svc, ready := s.current()
	if !ready {
		return []any{}, nil
	}
	uri := p.TextDocument.URI
	entry, ok := svc.Docs.Get(uri)
	if !ok {
		return []any{}, nil
	}
	word := wordAt(entry.Text, p.Position.Line, p.Position.Character)
	if word == "" || svc.Facade == nil {
		return []any{}, nil
	}

	occurrences, err := svc.Facade.FindOccurrences(ctx, uri, word)
	if err != nil {
		return []any{}, nil
	}
	out := make([]map[string]any, len(occurrences))
	for i, occ := range occurrences {
		out[i] = locationAt(occ.Path, occ.Line, occ.Col)
	}
	return out, nil
}

// documentSymbolKind is the LSP SymbolKind for Function (12), the only
// lexical kind docstore's symbol sweep currently distinguishes.
const documentSymbolKind = 12

// handleDocumentSymbol answers textDocument/documentSymbol from the
// open document's eagerly maintained lexical symbol table, so it never
// waits on an Analyze round trip.
func (s *Server) handleDocumentSymbol(ctx context.Context, req dispatcher.Request) (any, error) {
	p, ok := req.Params.(*DocumentSymbolParams)
	if !ok {
		return []any{}, nil
	}
	svc, ready := s.current()
	if !ready {
		return []any{}, nil
	}
	entry, ok := svc.Docs.Get(p.TextDocument.URI)
	if !ok {
		return []any{}, nil
	}

	out := make([]map[string]any, len(entry.Symbols))
	for i, sym := range entry.Symbols {
		rng := map[string]any{
			"start": map[string]int{"line": sym.Line, "character": sym.Col},
			"end":   map[string]int{"line": sym.Line, "character": sym.Col},
		}
		out[i] = map[string]any{
			"name":           sym.Name,
			"kind":           documentSymbolKind,
			"range":          rng,
			"selectionRange": rng,
		}
	}
	return out, nil
}

// handleCompletion answers textDocument/completion by asking the
// facade what completion context applies at the cursor (C4), then
// enriching member-access candidates through the standard library
// index (C8) when the receiver looks like a stdlib module.
func (s *Server) handleCompletion(ctx context.Context, req dispatcher.Request) (any, error) {
	empty := map[string]any{"isIncomplete": false, "items": []any{}}

	p, ok := req.Params.(*CompletionParams)
	if !ok {
		return empty, nil
	}
	svc, ready := s.current()
	if !ready {
		return empty, nil
	}
	uri := p.TextDocument.URI
	if svc.Facade == nil {
		return empty, nil
	}

	cc, err := svc.Facade.GetCompletionContext(ctx, uri, p.Position.Line, p.Position.Character)
	if err != nil || cc == nil {
		return empty, nil
	}

	items := make([]map[string]any, 0, len(cc.Candidates))
	for _, cand := range cc.Candidates {
		item := map[string]any{"label": cand, "kind": 6} // Variable by default
		if cc.Kind == "member" && cc.Receiver != "" && svc.StdlibIndex != nil {
			if stdlib, found, err := svc.StdlibIndex.Resolve(ctx, cc.Receiver+"."+cand); err == nil && found {
				item["kind"] = 2 // Method
				item["detail"] = stdlib.Signature
				item["documentation"] = stdlib.Doc
			}
		}
		items = append(items, item)
	}
	return map[string]any{"isIncomplete": false, "items": items}, nil
}
