// Package protocol implements SandboxProtocol (spec component D): the
// per-child state machine that spawns a sandboxed process, demultiplexes its
// stdout/stderr, accounts consumed output bytes, enforces the wall-clock
// timeout, tracks in-flight dispatches, and publishes a single terminal
// result once every dispatch has settled.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/promise"
	"github.com/vortex/sandboxd/internal/rlimit"
)

// Launcher builds the command that runs the sandboxed executable under
// rlimits. Satisfied by *rlimit.Launcher; an interface here so tests can
// substitute a bare exec.Command launcher with no trampoline involved.
type Launcher interface {
	Command(executable string, argv []string, env []string, cwd string, limits rlimit.Rlimits) (*exec.Cmd, error)
}

// Config configures one Protocol instance (spec §3 "RunContext").
type Config struct {
	SandboxID string
	API       API

	Launcher   Launcher
	Executable string
	Argv       []string
	Env        []string
	Cwd        string
	Rlimits    rlimit.Rlimits

	Timeout   time.Duration
	RecvLimit int64

	// SystemLog receives process-level diagnostics (spawn failures, dual
	// logging of unexpected dispatch bugs). Never nil in practice; the
	// supervisor always injects one (DESIGN NOTES: "model [the logger] as
	// an explicit dependency, not a singleton").
	SystemLog *log.Logger
}

// Protocol is the per-child state machine (spec component D).
type Protocol struct {
	sandboxID  string
	api        API
	launcher   Launcher
	executable string
	argv       []string
	env        []string
	cwd        string
	rlimits    rlimit.Rlimits
	timeout    time.Duration
	recvLimit  int64
	systemLog  *log.Logger

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	exitReason ExitReason

	writeMu sync.Mutex

	streamMu    sync.Mutex
	recvBytes   int64
	stdoutCarry string
	stderrCarry string

	doomed     atomic.Bool
	killedFlag atomic.Bool
	killOnce   sync.Once

	inFlight   sync.WaitGroup
	failMu     sync.Mutex
	failures   []error

	timeoutTimer *time.Timer

	started *promise.Set
	done    *promise.Set
}

// New builds a Protocol bound to cfg.API. Binding happens here, once, per
// spec's "API's sandbox slot is set exactly once" invariant.
func New(cfg Config) (*Protocol, error) {
	if cfg.SystemLog == nil {
		cfg.SystemLog = log.Default()
	}
	p := &Protocol{
		sandboxID:  cfg.SandboxID,
		api:        cfg.API,
		launcher:   cfg.Launcher,
		executable: cfg.Executable,
		argv:       cfg.Argv,
		env:        cfg.Env,
		cwd:        cfg.Cwd,
		rlimits:    cfg.Rlimits,
		timeout:    cfg.Timeout,
		recvLimit:  cfg.RecvLimit,
		systemLog:  cfg.SystemLog,
		started:    promise.New(),
		done:       promise.New(),
	}
	if err := cfg.API.SetSandbox(p); err != nil {
		return nil, err
	}
	return p, nil
}

// SandboxID implements the Sandbox interface for the bound API.
func (p *Protocol) SandboxID() string { return p.sandboxID }

// Started returns a channel delivering the spawn result exactly once.
func (p *Protocol) Started() <-chan promise.Result { return p.started.Get() }

// Done returns a channel delivering the terminal ExitReason exactly once,
// only after every in-flight dispatch has settled (spec §3 invariant).
func (p *Protocol) Done() <-chan promise.Result { return p.done.Get() }

// Spawn starts the sandboxed process. Calling Spawn twice on the same
// instance is a programming error and is rejected (spec §4.D "idempotent-ish
// ... implementations SHOULD detect and error").
func (p *Protocol) Spawn() error {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return fmt.Errorf("sandbox %q: spawn called more than once", p.sandboxID)
	}
	p.state = StateSpawning
	p.mu.Unlock()

	cmd, err := p.launcher.Command(p.executable, p.argv, p.env, p.cwd, p.rlimits)
	if err != nil {
		return p.failSpawn(fmt.Errorf("build command: %w", err))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return p.failSpawn(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.failSpawn(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.failSpawn(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return p.failSpawn(fmt.Errorf("start: %w", err))
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.state = StateRunning
	p.mu.Unlock()

	p.started.Fire(promise.Result{Value: p})

	if p.timeout > 0 {
		p.timeoutTimer = time.AfterFunc(p.timeout, p.Kill)
	}

	go p.readStream(stdout, true)
	go p.readStream(stderr, false)
	go func() {
		waitErr := cmd.Wait()
		p.processEnded(waitErr)
	}()

	return nil
}

func (p *Protocol) failSpawn(err error) error {
	p.mu.Lock()
	p.state = StateDone
	p.exitReason = ExitReason{Kind: "spawn_failed", Err: err}
	p.mu.Unlock()
	wrapped := fmt.Errorf("sandbox %q: %w", p.sandboxID, err)
	p.started.Fire(promise.Result{Err: wrapped})
	p.done.Fire(promise.Result{Err: wrapped})
	return err
}

// Kill terminates the child process. Safe to call multiple times and from
// multiple goroutines (timeout expiry and budget overflow may race); only
// the first call signals the process.
func (p *Protocol) Kill() {
	p.setStateAtLeast(StateDraining)
	p.killOnce.Do(func() {
		p.killedFlag.Store(true)
		p.mu.Lock()
		cmd := p.cmd
		p.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})
}

func (p *Protocol) setStateAtLeast(s State) {
	p.mu.Lock()
	if s > p.state {
		p.state = s
	}
	p.mu.Unlock()
}

// State returns the current lifecycle state.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitReason returns the terminal status, valid once Done has fired.
func (p *Protocol) ExitReason() ExitReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitReason
}

// Send writes command as one JSON line to the child's stdin. Fire-and-forget:
// no backpressure handling is required at this layer (spec §4.D).
func (p *Protocol) Send(cmd command.Command) {
	line, err := cmd.ToJSONLine()
	if err != nil {
		p.systemLog.Printf("sandbox %s: failed to encode outgoing command: %v", p.sandboxID, err)
		return
	}
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, _ = stdin.Write(line)
}

// checkRecv charges n bytes against the combined output budget. The first
// chunk that would push the total over recv_limit is rejected: the caller
// must discard that chunk and kill the child (spec §3 invariant, §4.D).
func (p *Protocol) checkRecv(n int) bool {
	p.streamMu.Lock()
	p.recvBytes += int64(n)
	within := p.recvBytes <= p.recvLimit
	p.streamMu.Unlock()
	if !within {
		p.killForBudget()
	}
	return within
}

func (p *Protocol) killForBudget() {
	if p.doomed.CompareAndSwap(false, true) {
		p.Kill()
		p.api.Log(fmt.Sprintf(
			"Sandbox %q killed for producing too much data on stdout and stderr.",
			p.sandboxID), loglevel.Error)
	}
}

func (p *Protocol) readStream(r io.Reader, isStdout bool) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.handleChunk(buf[:n], isStdout)
		}
		if err != nil {
			p.handleStreamClosed(isStdout)
			return
		}
	}
}

// handleChunk implements the per-chunk accounting and line-splitting rule of
// spec §4.D: charge the chunk, discard-and-kill on overflow, else prepend
// the carry, split on '\n', emit complete lines, keep the trailing fragment.
//
// Open question (a) is resolved here: once a stream is doomed (the budget
// has already been exceeded), subsequent chunks are read and discarded
// without attempting to parse — the child is being killed regardless, and
// parsing discarded data serves no purpose.
func (p *Protocol) handleChunk(data []byte, isStdout bool) {
	if p.doomed.Load() {
		return
	}
	if !p.checkRecv(len(data)) {
		return
	}

	p.streamMu.Lock()
	carry := &p.stdoutCarry
	if !isStdout {
		carry = &p.stderrCarry
	}
	combined := *carry + string(data)
	parts := strings.Split(combined, "\n")
	*carry = parts[len(parts)-1]
	lines := append([]string(nil), parts[:len(parts)-1]...)
	p.streamMu.Unlock()

	for _, line := range lines {
		p.handleLine(line, isStdout)
	}
}

func (p *Protocol) handleStreamClosed(isStdout bool) {
	if p.doomed.Load() {
		return
	}
	p.streamMu.Lock()
	carry := &p.stdoutCarry
	if !isStdout {
		carry = &p.stderrCarry
	}
	line := *carry
	*carry = ""
	p.streamMu.Unlock()
	if line != "" {
		p.handleLine(line, isStdout)
	}
}

func (p *Protocol) handleLine(line string, isStdout bool) {
	if isStdout {
		cmd := command.ParseLine(line)
		ch := p.api.DispatchRequest(cmd)
		p.trackInFlight(ch)
		return
	}
	p.api.Log(line, loglevel.Error)
}

func (p *Protocol) trackInFlight(ch <-chan error) {
	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		if err := <-ch; err != nil {
			p.failMu.Lock()
			p.failures = append(p.failures, err)
			p.failMu.Unlock()
		}
	}()
}

// processEnded runs once the child process has exited. It cancels the
// timeout, waits for every in-flight dispatch to settle (the "drain" phase),
// dual-logs any unexpected dispatch failures, then fires Done exactly once
// (spec §4.D "draining → done").
func (p *Protocol) processEnded(waitErr error) {
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	p.setStateAtLeast(StateDraining)

	if !p.started.Fired() {
		p.started.Fire(promise.Result{
			Err: fmt.Errorf("sandbox %q: process failed to start", p.sandboxID),
		})
	}

	p.inFlight.Wait()

	p.failMu.Lock()
	failures := p.failures
	p.failures = nil
	p.failMu.Unlock()
	for _, ferr := range failures {
		// errors here are bugs in the dispatch layer itself, so they are
		// always logged system-side too, not just to the tenant.
		p.systemLog.Printf("sandbox %s: unexpected dispatch failure: %v", p.sandboxID, ferr)
		p.api.Log(ferr.Error(), loglevel.Error)
	}

	reason := p.computeExitReason(waitErr)
	p.mu.Lock()
	p.exitReason = reason
	p.state = StateDone
	p.mu.Unlock()
	p.done.Fire(promise.Result{Value: reason})
}

func (p *Protocol) computeExitReason(waitErr error) ExitReason {
	if p.killedFlag.Load() {
		return ExitReason{Kind: "killed", Err: waitErr}
	}
	if waitErr == nil {
		return ExitReason{Kind: "exited", ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return ExitReason{Kind: "exited", ExitCode: exitErr.ExitCode(), Err: waitErr}
	}
	return ExitReason{Kind: "exited", ExitCode: -1, Err: waitErr}
}
