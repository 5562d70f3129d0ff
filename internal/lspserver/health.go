package lspserver

import "github.com/poppa/pike-lsp-sub007/internal/supervisor"

// HealthSnapshot is the payload returned by the pike.lsp.showDiagnostics
// command: the child's lifecycle state, version handshake result, and
// the recent-errors ring, per spec.md §7's health surface.
type HealthSnapshot struct {
	State        string   `json:"state"`
	VersionKnown bool     `json:"versionKnown"`
	Version      string   `json:"version,omitempty"`
	Display      string   `json:"display,omitempty"`
	AbsolutePath string   `json:"absolutePath,omitempty"`
	PID          int      `json:"pid,omitempty"`
	UptimeMillis int64    `json:"uptimeMillis"`
	RecentErrors []string `json:"recentErrors"`
}

// HealthReporter builds a HealthSnapshot from the live Supervisor.
type HealthReporter struct{}

// NewHealthReporter constructs a HealthReporter.
func NewHealthReporter() *HealthReporter { return &HealthReporter{} }

// Snapshot reads the current state of sup. A nil sup (child never
// started) reports State "Stopped" with everything else zero-valued.
func (h *HealthReporter) Snapshot(sup *supervisor.Supervisor) HealthSnapshot {
	if sup == nil {
		return HealthSnapshot{State: supervisor.StateStopped.String()}
	}
	v := sup.Version()
	return HealthSnapshot{
		State:        sup.State().String(),
		VersionKnown: v.Known,
		Version:      v.Version,
		Display:      v.Display,
		AbsolutePath: v.AbsolutePath,
		PID:          sup.PID(),
		UptimeMillis: sup.Uptime().Milliseconds(),
		RecentErrors: sup.RecentErrors(),
	}
}
