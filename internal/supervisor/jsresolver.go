package supervisor

import (
	"fmt"
	"os/exec"
)

// possibleNodeExecutables mirrors original_source's
// JsSandbox.POSSIBLE_NODEJS_EXECUTABLES search list.
var possibleNodeExecutables = []string{"nodejs", "node"}

// JSResolver implements ExecutableResolver by searching PATH for a Node.js
// binary and invoking it against a bundled sandbox entry script (spec §6
// "JS variant additions"; supplemented feature #4 — original_source's
// JsSandbox.get_executable_and_args override of the base resolver hook).
type JSResolver struct {
	// EntryScript is the bundled script path passed as the sole argv entry
	// to the resolved node binary.
	EntryScript string
	// Candidates overrides possibleNodeExecutables, mainly for tests.
	Candidates []string
}

// Resolve implements ExecutableResolver.
func (r JSResolver) Resolve(rc *RunConfig) (string, []string, error) {
	candidates := r.Candidates
	if candidates == nil {
		candidates = possibleNodeExecutables
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, []string{r.EntryScript}, nil
		}
	}
	return "", nil, fmt.Errorf("supervisor: no node.js executable found among %v", candidates)
}
