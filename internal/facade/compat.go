package facade

import (
	"context"

	"github.com/poppa/pike-lsp-sub007/internal/logging"
)

// compatLog is shared by every deprecated shim below so the
// deprecation notice carries the same Layer/SourceContext tagging as
// the rest of the bridge layer.
var compatLog = logging.ForSource(logging.LayerBridge, "facade.compat")

// Parse is a deprecated alias for Analyze with include limited to
// ["diagnostics"], kept for editor integrations still calling the
// pre-unification method name.
func (f *Facade) Parse(ctx context.Context, absPath, versionKey, text string) (*AnalyzeResult, error) {
	compatLog.Warning("facade: Parse is deprecated, call Analyze with include=[\"diagnostics\"] instead")
	return f.Analyze(ctx, absPath, versionKey, text, []string{"diagnostics"})
}

// Introspect is a deprecated alias for Analyze with include limited to
// ["introspect"].
func (f *Facade) Introspect(ctx context.Context, absPath, versionKey, text string) (*AnalyzeResult, error) {
	compatLog.Warning("facade: Introspect is deprecated, call Analyze with include=[\"introspect\"] instead")
	return f.Analyze(ctx, absPath, versionKey, text, []string{"introspect"})
}

// LegacyUninitializedCheck is the pre-rename signature for
// AnalyzeUninitialized (absPath only, no text — it re-reads from the
// docstore on the caller's side in the old integration).
func (f *Facade) LegacyUninitializedCheck(ctx context.Context, absPath string) ([]UninitializedWarning, error) {
	compatLog.Warning("facade: LegacyUninitializedCheck is deprecated, call AnalyzeUninitialized instead")
	return f.AnalyzeUninitialized(ctx, absPath, "")
}
