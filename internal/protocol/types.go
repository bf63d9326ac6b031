package protocol

import (
	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
)

// API is what Protocol needs from the per-run SandboxApi: the ability to
// hand it parsed commands and to log stderr lines (spec §4.D, §4.G).
// Defined here so package protocol never imports package sandboxapi —
// sandboxapi imports protocol instead, and satisfies this interface.
type API interface {
	// DispatchRequest hands off one parsed command and returns a channel
	// that receives a single value once the dispatch has fully settled
	// (nil for the ordinary paths — reply sent, fire-and-forget, or
	// fallback kill — non-nil only when a resource handler panicked; the
	// child has then already been sent a failure reply, and the error is
	// returned so the Protocol logs it).
	DispatchRequest(cmd command.Command) <-chan error
	// Log forwards a stderr line (or an internal protocol event) to the
	// sandbox's logging resource, at the given severity.
	Log(msg string, level loglevel.Level)
	// SetSandbox binds this API to its one Protocol instance. Must be
	// called exactly once (spec §3 invariant: "the API's sandbox slot is
	// set exactly once").
	SetSandbox(s Sandbox) error
}

// Sandbox is what SandboxApi needs from its bound Protocol: the ability to
// write a command to the child's stdin and to kill it.
type Sandbox interface {
	Send(cmd command.Command)
	Kill()
	SandboxID() string
}

// State is a SandboxProtocol lifecycle state (spec §4.D).
type State int

const (
	StatePending State = iota
	StateSpawning
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ExitReason is the terminal status of a run, delivered via the done
// PromiseSet (spec §3 RunContext "exit reason").
type ExitReason struct {
	// Kind is one of "exited", "killed", "spawn_failed".
	Kind string
	// ExitCode is valid when Kind == "exited".
	ExitCode int
	// Err carries the underlying failure for "spawn_failed" and "killed"
	// paths where one is available.
	Err error
}

func (r ExitReason) Error() string {
	if r.Err != nil {
		return r.Kind + ": " + r.Err.Error()
	}
	return r.Kind
}
