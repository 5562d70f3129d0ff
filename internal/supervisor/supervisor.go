// Package supervisor implements the Subprocess Supervisor (C3): spawns
// and monitors the Pike child interpreter, detects crashes, restarts
// with bounded exponential backoff, and rejects outstanding requests on
// exit, per spec.md §4.3.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	semver "github.com/Masterminds/semver/v3"

	"github.com/poppa/pike-lsp-sub007/internal/logging"
	"github.com/poppa/pike-lsp-sub007/internal/perr"
	"github.com/poppa/pike-lsp-sub007/internal/rpc"
)

// State is one of the five states in the §4.3 state machine.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateCrashRecovery
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateCrashRecovery:
		return "CrashRecovery"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// VersionInfo is cached after the post-start get_version handshake.
type VersionInfo struct {
	Version      string
	Display      string
	AbsolutePath string
	Known        bool
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 10 * time.Second
	stableWindow   = 30 * time.Second
	startTimeout   = 5 * time.Second
	ringCapacity   = 5
)

// Spawner creates the *exec.Cmd for one launch attempt; separated out
// so tests can substitute a fake child.
type Spawner func() *exec.Cmd

// Supervisor owns the lifecycle of one Pike child process and its
// Multiplexer, recreating both across restarts.
type Supervisor struct {
	spawn Spawner
	log   interface {
		Information(string, ...any)
		Warning(string, ...any)
		Error(string, ...any)
	}

	mu          sync.Mutex
	state       State
	cmd         *exec.Cmd
	mux         *rpc.Multiplexer
	ring        *errorRing
	version     VersionInfo
	restarts      int
	pid           int
	startedAt     time.Time
	stableSince   time.Time
	stopRequested bool

	onStatusChange func(State)
}

// New constructs a Supervisor that uses spawn to launch each attempt.
func New(spawn Spawner) *Supervisor {
	return &Supervisor{
		spawn: spawn,
		log:   logging.For(logging.LayerBridge),
		state: StateStopped,
		ring:  newErrorRing(ringCapacity),
	}
}

// OnStatusChange registers a callback invoked on every state
// transition (used by the health command and C11 status surface).
func (s *Supervisor) OnStatusChange(fn func(State)) {
	s.mu.Lock()
	s.onStatusChange = fn
	s.mu.Unlock()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.onStatusChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Multiplexer returns the Multiplexer for the currently running child,
// or nil if none is running.
func (s *Supervisor) Multiplexer() *rpc.Multiplexer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux
}

// Start launches the child and begins the restart-supervision loop in
// the background, returning once the first attempt has either reached
// Running or failed to spawn.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateStarting)
	if err := s.launch(ctx); err != nil {
		s.setState(StateStopped)
		return err
	}
	go s.superviseCurrentChild(ctx)
	return nil
}

// Stop requests a terminal shutdown; no further restarts will occur.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	s.setState(StateShutdown)
}

func (s *Supervisor) launch(ctx context.Context) error {
	cmd := s.spawn()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return perr.Wrap(perr.KindTransport, err, "obtain stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return perr.Wrap(perr.KindTransport, err, "obtain stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return perr.Wrap(perr.KindTransport, err, "obtain stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return perr.Wrap(perr.KindTransport, err, "spawn pike child")
	}

	framer := rpc.NewFramer(stdin, stdout, stderr)
	framer.Start()
	mux := rpc.NewMultiplexer(framer)

	s.mu.Lock()
	s.cmd = cmd
	s.mux = mux
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.drainStderr(framer)

	s.setState(StateRunning)
	s.handshake(ctx, mux)

	return nil
}

func (s *Supervisor) drainStderr(framer *rpc.Framer) {
	for line := range framer.Stderr() {
		s.ring.Observe(line)
		s.log.Warning("pike stderr: {Line}", line)
	}
}

// handshake issues get_version immediately after entering Running, per
// spec.md §4.3. Failure degrades to an "Unknown" version rather than
// failing the launch.
func (s *Supervisor) handshake(ctx context.Context, mux *rpc.Multiplexer) {
	hctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	res, err := mux.Call(hctx, "get_version", nil, rpc.WithTimeout(startTimeout))
	if err != nil {
		s.mu.Lock()
		s.version = VersionInfo{Known: false}
		s.mu.Unlock()
		s.log.Warning("get_version handshake failed: {Error}", err)
		return
	}

	var payload struct {
		Version string `json:"version"`
		Display string `json:"display"`
		Path    string `json:"path"`
	}
	_ = json.Unmarshal(res.Raw, &payload)

	display := payload.Display
	if display == "" {
		display = payload.Version
	}
	if v, verr := semver.NewVersion(payload.Version); verr == nil {
		display = fmt.Sprintf("Pike %s", v.String())
	}

	s.mu.Lock()
	s.version = VersionInfo{Version: payload.Version, Display: display, AbsolutePath: payload.Path, Known: payload.Version != ""}
	s.mu.Unlock()
}

// Version returns the cached handshake result.
func (s *Supervisor) Version() VersionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// RecentErrors returns the last stderr lines matching /error/i.
func (s *Supervisor) RecentErrors() []string { return s.ring.Recent() }

// PID returns the current child's process id, or 0 if not running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Uptime returns how long the current child has been running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// superviseCurrentChild waits for the child to exit, then restarts with
// exponential backoff unless a stop was requested.
func (s *Supervisor) superviseCurrentChild(ctx context.Context) {
	for {
		s.mu.Lock()
		cmd := s.cmd
		mux := s.mux
		s.mu.Unlock()

		err := cmd.Wait()
		s.log.Warning("pike child exited: {Error}", err)

		s.setState(StateCrashRecovery)
		mux.Shutdown()

		s.mu.Lock()
		stop := s.stopRequested
		s.mu.Unlock()
		if stop {
			s.setState(StateShutdown)
			return
		}

		backoff := s.nextBackoff()
		select {
		case <-ctx.Done():
			s.setState(StateShutdown)
			return
		case <-time.After(backoff):
		}

		s.setState(StateStarting)
		if err := s.launch(ctx); err != nil {
			s.log.Error("restart failed: {Error}", err)
			s.setState(StateStopped)
			return
		}
		s.stableSince = time.Now()
	}
}

// nextBackoff computes the next delay and increments the restart
// counter, resetting it if the prior run was stable for stableWindow.
func (s *Supervisor) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stableSince.IsZero() && time.Since(s.stableSince) >= stableWindow {
		s.restarts = 0
	}

	d := initialBackoff * time.Duration(1<<uint(minInt(s.restarts, 6)))
	if d > maxBackoff {
		d = maxBackoff
	}
	s.restarts++
	return d
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DefaultSpawner builds a Spawner that launches pikePath with the
// given include/module paths exposed via PIKE_INCLUDE_PATH /
// PIKE_MODULE_PATH, per spec.md §6.
func DefaultSpawner(pikePath string, includePaths, modulePaths []string, args ...string) Spawner {
	return func() *exec.Cmd {
		cmd := exec.Command(pikePath, args...)
		env := os.Environ()
		if len(includePaths) > 0 {
			env = append(env, "PIKE_INCLUDE_PATH="+strings.Join(includePaths, ":"))
		}
		if len(modulePaths) > 0 {
			env = append(env, "PIKE_MODULE_PATH="+strings.Join(modulePaths, ":"))
		}
		cmd.Env = env
		return cmd
	}
}
