// Command sandbox-trampoline is the pre-exec helper spawned by
// internal/rlimit.Launcher. It installs the requested resource limits on
// itself and then exec()s the real sandbox executable, replacing its own
// process image — the standard workaround for Go's lack of a fork-time
// pre-exec hook (see internal/rlimit's package doc).
//
// It is never invoked directly; it reads its instructions from the four
// SANDBOX_TRAMPOLINE_* environment variables set by the Launcher and nothing
// else is in its environment.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/vortex/sandboxd/internal/rlimit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox-trampoline:", err)
		os.Exit(1)
	}
}

func run() error {
	var limits rlimit.Rlimits
	if err := json.Unmarshal([]byte(os.Getenv(rlimit.EnvRlimits)), &limits); err != nil {
		return fmt.Errorf("decode rlimits: %w", err)
	}
	var argv []string
	if err := json.Unmarshal([]byte(os.Getenv(rlimit.EnvArgv)), &argv); err != nil {
		return fmt.Errorf("decode argv: %w", err)
	}
	var env []string
	if err := json.Unmarshal([]byte(os.Getenv(rlimit.EnvEnv)), &env); err != nil {
		return fmt.Errorf("decode env: %w", err)
	}
	exe := os.Getenv(rlimit.EnvExe)
	if exe == "" {
		return fmt.Errorf("missing %s", rlimit.EnvExe)
	}

	if err := rlimit.Apply(limits); err != nil {
		return err
	}

	if len(argv) == 0 {
		argv = []string{exe}
	}
	// unix.Exec replaces this process's image outright; on success it never
	// returns.
	return unix.Exec(exe, argv, env)
}
