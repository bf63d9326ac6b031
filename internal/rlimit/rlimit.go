// Package rlimit builds the child process that runs untrusted sandbox code
// under hard OS resource limits.
//
// Go's os/exec has no pre-exec hook the way some platforms' process-spawning
// APIs do (spec §4.C, DESIGN NOTES): there is no way to run code in the
// child between fork and exec. The idiomatic workaround used here is a
// trampoline binary (cmd/sandbox-trampoline): the supervisor execs that tiny
// helper, which installs the requested rlimits on itself via
// golang.org/x/sys/unix.Setrlimit and then unix.Exec()s the real target,
// replacing its own process image. Limits applied this way affect only the
// trampoline-turned-target, never the supervisor.
package rlimit

import (
	"encoding/json"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Limit is a (soft, hard) resource limit pair.
type Limit struct {
	Soft uint64 `json:"soft"`
	Hard uint64 `json:"hard"`
}

// Rlimits maps a well-known limit name to its pair.
type Rlimits map[string]Limit

// Well-known limit names, matching spec §3's enumeration.
const (
	AddressSpace = "as"
	CPU          = "cpu"
	FileSize     = "fsize"
	OpenFiles    = "nofile"
	Stack        = "stack"
	ResidentSet  = "rss"
	Core         = "core"
	Data         = "data"
	MemoryLock   = "memlock"
)

// nameToResource maps the well-known names to the unix.RLIMIT_* constants
// used to install them.
var nameToResource = map[string]int{
	AddressSpace: unix.RLIMIT_AS,
	CPU:          unix.RLIMIT_CPU,
	FileSize:     unix.RLIMIT_FSIZE,
	OpenFiles:    unix.RLIMIT_NOFILE,
	Stack:        unix.RLIMIT_STACK,
	ResidentSet:  unix.RLIMIT_RSS,
	Core:         unix.RLIMIT_CORE,
	Data:         unix.RLIMIT_DATA,
	MemoryLock:   unix.RLIMIT_MEMLOCK,
}

const (
	kb = 1024
	mb = 1024 * kb
)

// DefaultRlimits returns the restrictive defaults mandated by spec §6.
func DefaultRlimits() Rlimits {
	return Rlimits{
		Core:         {1 * mb, 1 * mb},
		CPU:          {60, 60},
		FileSize:     {1 * mb, 1 * mb},
		Data:         {32 * mb, 32 * mb},
		Stack:        {1 * mb, 1 * mb},
		ResidentSet:  {10 * mb, 10 * mb},
		OpenFiles:    {15, 15},
		MemoryLock:   {64 * kb, 64 * kb},
		AddressSpace: {196 * mb, 196 * mb},
	}
}

// Merge overlays override on top of defaults, returning a new Rlimits.
// Unknown limit names are a setup-time error (spec §4.C), checked here so
// the supervisor fails at configuration time rather than at spawn time.
func Merge(defaults, override Rlimits) (Rlimits, error) {
	out := make(Rlimits, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range override {
		if _, ok := nameToResource[k]; !ok {
			return nil, fmt.Errorf("rlimit: unknown resource limit key %q", k)
		}
		out[k] = v
	}
	return out, nil
}

// Apply installs every limit in r on the calling process. Called only from
// within the trampoline, after fork, before exec.
func Apply(r Rlimits) error {
	for name, limit := range r {
		res, ok := nameToResource[name]
		if !ok {
			return fmt.Errorf("rlimit: unknown resource limit key %q", name)
		}
		rl := unix.Rlimit{Cur: limit.Soft, Max: limit.Hard}
		if err := unix.Setrlimit(res, &rl); err != nil {
			return fmt.Errorf("rlimit: setrlimit(%s) failed: %w", name, err)
		}
	}
	return nil
}

// Control env vars the trampoline reads; nothing else is in its environment,
// so the target process never sees supervisor-internal state leak in.
const (
	EnvRlimits = "SANDBOX_TRAMPOLINE_RLIMITS"
	EnvExe     = "SANDBOX_TRAMPOLINE_EXE"
	EnvArgv    = "SANDBOX_TRAMPOLINE_ARGV"
	EnvEnv     = "SANDBOX_TRAMPOLINE_ENV"
)

// Launcher spawns the trampoline, which installs rlimits then execs the
// target executable (spec §4.C / component C, "RlimitLauncher").
type Launcher struct {
	// TrampolinePath is the path to the cmd/sandbox-trampoline binary.
	TrampolinePath string
}

// NewLauncher returns a Launcher using the given trampoline binary path.
func NewLauncher(trampolinePath string) *Launcher {
	return &Launcher{TrampolinePath: trampolinePath}
}

// Command builds an *exec.Cmd for the trampoline. The returned command's
// Stdin/Stdout/Stderr are left for the caller (SandboxProtocol) to wire up
// as pipes before Start.
func (l *Launcher) Command(executable string, argv []string, env []string, cwd string, limits Rlimits) (*exec.Cmd, error) {
	rlimitsJSON, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("rlimit: encode limits: %w", err)
	}
	argvJSON, err := json.Marshal(argv)
	if err != nil {
		return nil, fmt.Errorf("rlimit: encode argv: %w", err)
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("rlimit: encode env: %w", err)
	}

	cmd := exec.Command(l.TrampolinePath)
	cmd.Dir = cwd
	cmd.Env = []string{
		EnvRlimits + "=" + string(rlimitsJSON),
		EnvExe + "=" + executable,
		EnvArgv + "=" + string(argvJSON),
		EnvEnv + "=" + string(envJSON),
	}
	return cmd, nil
}
