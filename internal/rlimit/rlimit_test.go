package rlimit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRlimitsMatchSpec(t *testing.T) {
	d := DefaultRlimits()
	assert.Equal(t, Limit{Soft: 60, Hard: 60}, d[CPU])
	assert.Equal(t, Limit{Soft: 196 * mb, Hard: 196 * mb}, d[AddressSpace])
	assert.Equal(t, Limit{Soft: 15, Hard: 15}, d[OpenFiles])
}

func TestMergeOverlaysOverrides(t *testing.T) {
	out, err := Merge(DefaultRlimits(), Rlimits{CPU: {Soft: 10, Hard: 10}})
	require.NoError(t, err)
	assert.Equal(t, Limit{Soft: 10, Hard: 10}, out[CPU])
	assert.Equal(t, DefaultRlimits()[OpenFiles], out[OpenFiles])
}

func TestMergeRejectsUnknownKey(t *testing.T) {
	_, err := Merge(DefaultRlimits(), Rlimits{"bogus": {Soft: 1, Hard: 1}})
	require.Error(t, err)
}

func TestLauncherCommandEncodesControlVars(t *testing.T) {
	l := NewLauncher("/usr/local/bin/sandbox-trampoline")
	cmd, err := l.Command("/usr/bin/node", []string{"entry.js"}, []string{"FOO=bar"}, "/tmp/work", DefaultRlimits())
	require.NoError(t, err)

	assert.Equal(t, "/tmp/work", cmd.Dir)
	assert.Len(t, cmd.Env, 4)

	env := map[string]string{}
	for _, kv := range cmd.Env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	assert.Equal(t, "/usr/bin/node", env[EnvExe])

	var argv []string
	require.NoError(t, json.Unmarshal([]byte(env[EnvArgv]), &argv))
	assert.Equal(t, []string{"entry.js"}, argv)

	var limits Rlimits
	require.NoError(t, json.Unmarshal([]byte(env[EnvRlimits]), &limits))
	assert.Equal(t, DefaultRlimits()[CPU], limits[CPU])
}
