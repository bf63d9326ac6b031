package supervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex/sandboxd/internal/protocol"
	"github.com/vortex/sandboxd/internal/resource"
	"github.com/vortex/sandboxd/internal/resources/logres"
	"github.com/vortex/sandboxd/internal/rlimit"
)

// shLauncher bypasses the rlimit trampoline, running the "executable" as a
// raw shell command — these tests exercise supervisor wiring, not rlimit
// enforcement (mirrors internal/protocol's test launcher).
type shLauncher struct{}

func (shLauncher) Command(executable string, argv []string, env []string, cwd string, limits rlimit.Rlimits) (*exec.Cmd, error) {
	return exec.Command("/bin/sh", "-c", executable), nil
}

func newTestSupervisor(script string) *Supervisor {
	return New(Config{
		Launcher: shLauncher{},
		Resolver: StaticResolver{Executable: script},
		RecvLimit: 1 << 20,
		DefaultTimeout: 5 * time.Second,
	})
}

func newTestResources() ResourceConfig {
	reg := resource.NewRegistry()
	reg.Add("log", logres.New(nil, nil))
	return ResourceConfig{Registry: reg, LoggingResource: "log"}
}

func TestConsumeMessageRunsToCompletion(t *testing.T) {
	s := newTestSupervisor(`echo '{"cmd":"log.info","cmd_id":"A","msg":"hi"}'`)

	reason, err := s.ConsumeMessage(context.Background(), newTestResources(), nil,
		map[string]interface{}{"sandbox_id": "sid-1", "content": "hello"})

	require.NoError(t, err)
	assert.Equal(t, "exited", reason.Kind)
}

func TestConsumeMessageDerivesSandboxIDWhenAbsent(t *testing.T) {
	s := newTestSupervisor(`true`)

	reason, err := s.ConsumeMessage(context.Background(), newTestResources(), nil,
		map[string]interface{}{"content": "no sandbox id given"})

	require.NoError(t, err)
	assert.Equal(t, "exited", reason.Kind)
}

func TestCapacityExceededWhenSemaphoreFull(t *testing.T) {
	s := New(Config{
		Launcher:       shLauncher{},
		Resolver:       StaticResolver{Executable: `sleep 1`},
		RecvLimit:      1 << 20,
		DefaultTimeout: 5 * time.Second,
		MaxConcurrent:  1,
	})
	s.semaphore <- struct{}{}

	_, err := s.ConsumeMessage(context.Background(), newTestResources(), nil,
		map[string]interface{}{"sandbox_id": "sid-2"})

	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestActiveCountTracksInFlightRuns(t *testing.T) {
	s := newTestSupervisor(`true`)
	assert.Equal(t, int64(0), s.ActiveCount())

	_, err := s.ConsumeMessage(context.Background(), newTestResources(), nil,
		map[string]interface{}{"sandbox_id": "sid-3"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), s.ActiveCount())
}

func TestDeliveryReportTagsEventType(t *testing.T) {
	s := newTestSupervisor(`true`)

	_, err := s.Ack(context.Background(), newTestResources(), nil, "sid-4", map[string]interface{}{})
	assert.NoError(t, err)

	_, err = s.Nack(context.Background(), newTestResources(), nil, "sid-4", map[string]interface{}{})
	assert.NoError(t, err)

	assert.Equal(t, "ack", withEventType(map[string]interface{}{}, "ack")["event_type"])
	assert.Equal(t, "nack", withEventType(map[string]interface{}{}, "nack")["event_type"])
}
