package jsinit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
)

type fakeStore struct {
	source string
	err    error
}

func (f *fakeStore) Source(ctx context.Context, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.source, nil
}

type fakeAPI struct {
	sent    []command.Command
	killed  bool
	logs    []string
	levels  []loglevel.Level
}

func (f *fakeAPI) SandboxID() string                { return "sid-1" }
func (f *fakeAPI) SandboxSend(cmd command.Command)  { f.sent = append(f.sent, cmd) }
func (f *fakeAPI) SandboxKill()                     { f.killed = true }
func (f *fakeAPI) GetInboundMessage(id string) (map[string]interface{}, bool) {
	return nil, false
}
func (f *fakeAPI) Log(msg string, level loglevel.Level) {
	f.logs = append(f.logs, msg)
	f.levels = append(f.levels, level)
}

func TestSandboxInitSendsInitializeCommand(t *testing.T) {
	r := New(&fakeStore{source: "console.log('hi');"}, "ref-1", "{}")
	api := &fakeAPI{}

	r.SandboxInit(api)

	require.Len(t, api.sent, 1)
	sent := api.sent[0]
	assert.Equal(t, "initialize", sent.Cmd())
	assert.Equal(t, "console.log('hi');", sent.Get("javascript"))
	assert.Equal(t, "{}", sent.Get("app_context"))
	assert.False(t, api.killed)
}

func TestSandboxInitKillsOnFetchFailure(t *testing.T) {
	r := New(&fakeStore{err: errors.New("not found")}, "missing-ref", "")
	api := &fakeAPI{}

	r.SandboxInit(api)

	assert.True(t, api.killed)
	assert.Empty(t, api.sent)
	require.NotEmpty(t, api.logs)
	assert.Equal(t, loglevel.Error, api.levels[0])
}

func TestResourceNameIsJs(t *testing.T) {
	r := New(&fakeStore{}, "ref", "")
	assert.Equal(t, "js", r.Name())
}
