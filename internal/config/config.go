// Package config loads and validates the recognized options from
// spec.md §6: pikePath, pikeIncludePath, pikeModulePath,
// diagnosticDelay, maxNumberOfProblems, plus the PIKE_INCLUDE_PATH and
// PIKE_MODULE_PATH environment variables passed through to the child.
//
// Precedence, lowest to highest: built-in defaults, pike-lsp.yaml file
// (if present), PIKE_* environment variables, LSP
// workspace/didChangeConfiguration payload applied at runtime.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDiagnosticDelay = 250 * time.Millisecond
	MinDiagnosticDelay     = 50 * time.Millisecond
	MaxDiagnosticDelay     = 2000 * time.Millisecond
	DefaultMaxProblems     = 100
	DefaultPikePath        = "pike"
)

// Config is the mutable configuration surface. Changes to PikePath,
// PikeIncludePath, or PikeModulePath require the caller to restart the
// supervisor, per spec.md §6.
type Config struct {
	PikePath            string        `yaml:"pikePath"`
	PikeIncludePath     string        `yaml:"pikeIncludePath"`
	PikeModulePath      string        `yaml:"pikeModulePath"`
	DiagnosticDelay     time.Duration `yaml:"-"`
	DiagnosticDelayMS   int           `yaml:"diagnosticDelay"`
	MaxNumberOfProblems int           `yaml:"maxNumberOfProblems"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		PikePath:            DefaultPikePath,
		DiagnosticDelay:     DefaultDiagnosticDelay,
		DiagnosticDelayMS:   int(DefaultDiagnosticDelay / time.Millisecond),
		MaxNumberOfProblems: DefaultMaxProblems,
	}
}

// Load builds a Config from defaults, an optional YAML file at path
// (ignored if absent), and the PIKE_INCLUDE_PATH/PIKE_MODULE_PATH
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("PIKE_INCLUDE_PATH")); v != "" {
		cfg.PikeIncludePath = v
	}
	if v := strings.TrimSpace(os.Getenv("PIKE_MODULE_PATH")); v != "" {
		cfg.PikeModulePath = v
	}

	cfg.normalize()
	return cfg, nil
}

// ApplyLSPOptions merges the workspace/didChangeConfiguration-shaped
// options map (keys "pike.pikePath", "pike.pikeIncludePath", ...) into
// cfg, returning whether any value that requires a supervisor restart
// changed.
func (c *Config) ApplyLSPOptions(opts map[string]any) (restartNeeded bool) {
	prevPath, prevInclude, prevModule := c.PikePath, c.PikeIncludePath, c.PikeModulePath

	if v, ok := opts["pike.pikePath"].(string); ok && v != "" {
		c.PikePath = v
	}
	if v, ok := opts["pike.pikeIncludePath"].(string); ok {
		c.PikeIncludePath = v
	}
	if v, ok := opts["pike.pikeModulePath"].(string); ok {
		c.PikeModulePath = v
	}
	if v, ok := opts["pike.diagnosticDelay"].(float64); ok {
		c.DiagnosticDelayMS = int(v)
	}
	if v, ok := opts["pike.maxNumberOfProblems"].(float64); ok {
		c.MaxNumberOfProblems = int(v)
	}

	c.normalize()

	return c.PikePath != prevPath || c.PikeIncludePath != prevInclude || c.PikeModulePath != prevModule
}

// normalize clamps DiagnosticDelayMS into [50,2000] and derives
// DiagnosticDelay, and fills in zero-valued fields with defaults.
func (c *Config) normalize() {
	if c.PikePath == "" {
		c.PikePath = DefaultPikePath
	}
	if c.MaxNumberOfProblems <= 0 {
		c.MaxNumberOfProblems = DefaultMaxProblems
	}
	if c.DiagnosticDelayMS == 0 {
		c.DiagnosticDelayMS = int(DefaultDiagnosticDelay / time.Millisecond)
	}
	ms := c.DiagnosticDelayMS
	if ms < int(MinDiagnosticDelay/time.Millisecond) {
		ms = int(MinDiagnosticDelay / time.Millisecond)
	}
	if ms > int(MaxDiagnosticDelay/time.Millisecond) {
		ms = int(MaxDiagnosticDelay / time.Millisecond)
	}
	c.DiagnosticDelayMS = ms
	c.DiagnosticDelay = time.Duration(ms) * time.Millisecond
}

// IncludePaths splits PikeIncludePath on the OS-conventional colon
// separator used throughout spec.md §6.
func (c *Config) IncludePaths() []string {
	return splitNonEmpty(c.PikeIncludePath)
}

// ModulePaths splits PikeModulePath the same way.
func (c *Config) ModulePaths() []string {
	return splitNonEmpty(c.PikeModulePath)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
