package lspserver

import "github.com/poppa/pike-lsp-sub007/internal/perr"

// errorCode maps an internal perr.Kind to the nearest JSON-RPC/LSP
// error code, falling back to the generic "internal error" code for
// anything not in the taxonomy.
func errorCode(err error) int {
	kind, ok := perr.KindOf(err)
	if !ok {
		return -32603
	}
	switch kind {
	case perr.KindProtocol:
		return -32600
	case perr.KindParse:
		return -32700
	case perr.KindNotFound:
		return -32001
	case perr.KindTimeout:
		return -32002
	case perr.KindCancelled:
		return -32800
	case perr.KindTransport, perr.KindDegraded:
		return -32003
	case perr.KindRemote:
		if pe, ok := err.(*perr.Error); ok && pe.Code != 0 {
			return pe.Code
		}
		return -32603
	default:
		return -32603
	}
}
