// Package logging wraps mtlog to give every package in this module a
// consistently configured structured logger, tagged per §7 with a
// "layer" property (server, bridge, pike) so handler-level failures can
// be attributed without an exception ever escaping to the editor.
package logging

import (
	"os"
	"sync"

	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
	"github.com/willibrandon/mtlog/sinks"
)

// Layer tags the subsystem that produced a log event, per the error
// propagation policy in spec.md §7(d).
type Layer string

const (
	LayerServer Layer = "server"
	LayerBridge Layer = "bridge"
	LayerPike   Layer = "pike"
)

var (
	mu   sync.Mutex
	root core.Logger
)

// Init configures the process-wide root logger. Safe to call once at
// startup; subsequent calls replace the root logger. Logs go to stderr
// so they never interleave with the LSP stdout stream.
func Init(minimumLevel core.LogEventLevel) {
	mu.Lock()
	defer mu.Unlock()
	root = mtlog.New(
		mtlog.WithMinimumLevel(minimumLevel),
		mtlog.WithSink(sinks.NewConsoleSinkWithWriter(os.Stderr)),
		mtlog.WithProperty("Component", "pike-lsp"),
	)
}

// Root returns the process-wide root logger, initializing a default
// (Information-level) one lazily if Init was never called.
func Root() core.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = mtlog.New(
			mtlog.WithMinimumLevel(core.InformationLevel),
			mtlog.WithSink(sinks.NewConsoleSinkWithWriter(os.Stderr)),
		)
	}
	return root
}

// For returns a logger scoped to a layer, e.g. logging.For(logging.LayerBridge).
func For(layer Layer) core.Logger {
	return Root().ForContext("Layer", string(layer))
}

// ForSource is a convenience for package-scoped loggers, mirroring the
// SourceContext convention mtlog itself uses.
func ForSource(layer Layer, source string) core.Logger {
	return Root().ForContext("Layer", string(layer)).ForContext("SourceContext", source)
}

// ParseLevel maps the --log-level flag's string values onto mtlog's
// LogEventLevel, defaulting to Information for anything unrecognized.
func ParseLevel(s string) core.LogEventLevel {
	switch s {
	case "verbose":
		return core.VerboseLevel
	case "debug":
		return core.DebugLevel
	case "warning":
		return core.WarningLevel
	case "error":
		return core.ErrorLevel
	case "fatal":
		return core.FatalLevel
	default:
		return core.InformationLevel
	}
}
