package dispatcher

import "github.com/poppa/pike-lsp-sub007/internal/perr"

func unknownMethodError(method string) error {
	return perr.New(perr.KindProtocol, "method not found: %s", method)
}

func panicError(method string, r any) error {
	return perr.New(perr.KindProtocol, "handler for %q panicked: %v", method, r)
}
