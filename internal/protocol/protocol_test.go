package protocol

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/rlimit"
)

// shLauncher runs the target directly via /bin/sh -c, bypassing the rlimit
// trampoline entirely: these tests exercise the stream demuxing, byte
// accounting, timeout and drain state machine, not rlimit enforcement.
type shLauncher struct{}

func (shLauncher) Command(executable string, argv []string, env []string, cwd string, limits rlimit.Rlimits) (*exec.Cmd, error) {
	return exec.Command("/bin/sh", "-c", executable), nil
}

type fakeAPI struct {
	mu       sync.Mutex
	sandbox  Sandbox
	dispatch chan command.Command
	logs     []string
	levels   []loglevel.Level
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{dispatch: make(chan command.Command, 64)}
}

func (f *fakeAPI) DispatchRequest(cmd command.Command) <-chan error {
	f.dispatch <- cmd
	ch := make(chan error, 1)
	close(ch)
	return ch
}

func (f *fakeAPI) Log(msg string, level loglevel.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, msg)
	f.levels = append(f.levels, level)
}

func (f *fakeAPI) SetSandbox(s Sandbox) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandbox = s
	return nil
}

func (f *fakeAPI) hasLogMatching(want loglevel.Level) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.levels {
		if l == want {
			return true
		}
	}
	return false
}

func waitDone(t *testing.T, p *Protocol) ExitReason {
	t.Helper()
	select {
	case r := <-p.Done():
		require.NoError(t, r.Err)
		reason, ok := r.Value.(ExitReason)
		require.True(t, ok)
		return reason
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Done")
		return ExitReason{}
	}
}

func TestEchoLineIsDispatched(t *testing.T) {
	api := newFakeAPI()
	p, err := New(Config{
		SandboxID:  "sid-1",
		API:        api,
		Launcher:   shLauncher{},
		Executable: `echo '{"cmd":"log.info","cmd_id":"A","msg":"hi"}'`,
		RecvLimit:  1 << 20,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Spawn())

	select {
	case cmd := <-api.dispatch:
		assert.Equal(t, "log.info", cmd.Cmd())
		assert.Equal(t, "A", cmd.CmdID())
		assert.Equal(t, "hi", cmd.Get("msg"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched command")
	}

	reason := waitDone(t, p)
	assert.Equal(t, "exited", reason.Kind)
}

func TestMalformedLineRoutesAsUnknownCommand(t *testing.T) {
	api := newFakeAPI()
	p, err := New(Config{
		SandboxID:  "sid-2",
		API:        api,
		Launcher:   shLauncher{},
		Executable: `echo 'not json'`,
		RecvLimit:  1 << 20,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Spawn())

	select {
	case cmd := <-api.dispatch:
		assert.Equal(t, "unknown", cmd.Cmd())
		assert.Equal(t, "not json", cmd.Get("line"))
		assert.NotEmpty(t, cmd.Get("exception"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched command")
	}

	waitDone(t, p)
}

func TestOutputBudgetExceededKillsChild(t *testing.T) {
	api := newFakeAPI()
	p, err := New(Config{
		SandboxID: "sid-3",
		API:       api,
		Launcher:  shLauncher{},
		// 32-byte line against a 16-byte budget (spec S4).
		Executable: `printf '%s\n' '................................'`,
		RecvLimit:  16,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Spawn())

	reason := waitDone(t, p)
	assert.Equal(t, "killed", reason.Kind)

	select {
	case <-api.dispatch:
		t.Fatal("no dispatch should have occurred once the budget was exceeded")
	default:
	}
	assert.True(t, api.hasLogMatching(loglevel.Error))
}

func TestWallClockTimeoutKillsChild(t *testing.T) {
	api := newFakeAPI()
	p, err := New(Config{
		SandboxID:  "sid-4",
		API:        api,
		Launcher:   shLauncher{},
		Executable: `sleep 5`,
		RecvLimit:  1 << 20,
		Timeout:    100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Spawn())

	start := time.Now()
	reason := waitDone(t, p)
	elapsed := time.Since(start)

	assert.Equal(t, "killed", reason.Kind)
	assert.Less(t, elapsed, 4*time.Second)
}

func TestSpawnTwiceIsRejected(t *testing.T) {
	api := newFakeAPI()
	p, err := New(Config{
		SandboxID:  "sid-5",
		API:        api,
		Launcher:   shLauncher{},
		Executable: `true`,
		RecvLimit:  1 << 20,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Spawn())
	assert.Error(t, p.Spawn())
	waitDone(t, p)
}
