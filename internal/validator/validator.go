// Package validator implements Debounced Validation (C7): one
// coalescing timer per URI that fires a single analysis after the
// configured quiet period, cancelling and rescheduling on every new
// edit. Grounded on the per-document time.AfterFunc debouncer pattern
// used for LSP diagnostics in the examples (single timer + mutex,
// panic-recovering callback, reschedule-if-busy).
package validator

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/poppa/pike-lsp-sub007/internal/logging"
)

// Validate runs one validation pass for uri at the given version. It
// is supplied by the caller (the facade/dispatcher layer) and may
// itself take a while — the validator only has to make sure it never
// overlaps with itself for the same URI.
type Validate func(ctx context.Context, uri string, version int)

// Validator owns one debounce timer per open URI.
type Validator struct {
	delay time.Duration
	run   Validate
	log   interface {
		Debug(string, ...any)
		Error(string, ...any)
	}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	busy    map[string]bool
	pending map[string]int // version to re-run with once busy clears
}

// New constructs a Validator that invokes run after delay of
// inactivity per URI. delay should already be clamped to
// [MinDiagnosticDelay, MaxDiagnosticDelay] by the caller (see
// internal/config).
func New(delay time.Duration, run Validate) *Validator {
	return &Validator{
		delay:   delay,
		run:     run,
		log:     logging.For(logging.LayerServer),
		timers:  make(map[string]*time.Timer),
		busy:    make(map[string]bool),
		pending: make(map[string]int),
	}
}

// Schedule coalesces a pending change for uri: any prior un-fired
// timer for the same URI is cancelled and replaced. Called from
// didOpen/didChange.
func (v *Validator) Schedule(ctx context.Context, uri string, version int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if t, ok := v.timers[uri]; ok {
		t.Stop()
	}
	v.timers[uri] = time.AfterFunc(v.delay, func() { v.fire(ctx, uri, version) })
}

// Cancel stops any pending timer for uri without running it. The
// didClose handler does not call it.
func (v *Validator) Cancel(uri string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t, ok := v.timers[uri]; ok {
		t.Stop()
		delete(v.timers, uri)
	}
	delete(v.busy, uri)
	delete(v.pending, uri)
}

func (v *Validator) fire(ctx context.Context, uri string, version int) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("validator: panic running validation for {URI}: {Panic}\n{Stack}", uri, r, string(debug.Stack()))
		}
	}()

	v.mu.Lock()
	delete(v.timers, uri) // this timer has already fired
	if v.busy[uri] {
		v.pending[uri] = version
		v.mu.Unlock()
		return
	}
	v.busy[uri] = true
	v.mu.Unlock()

	v.run(ctx, uri, version)

	v.mu.Lock()
	v.busy[uri] = false
	next, hasNext := v.pending[uri]
	delete(v.pending, uri)
	v.mu.Unlock()

	if hasNext {
		v.Schedule(ctx, uri, next)
	}
}

// PendingCount reports how many URIs currently have an un-fired timer,
// exposed for tests asserting coalescing behavior.
func (v *Validator) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}
