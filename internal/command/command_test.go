package command

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func TestNewAppliesDefaults(t *testing.T) {
	cmd := New("kv.get", map[string]interface{}{"key": "foo"})
	assert.Equal(t, "kv.get", cmd.Cmd())
	assert.NotEmpty(t, cmd.CmdID())
	assert.False(t, cmd.IsReply())
	assert.Equal(t, "foo", cmd.Get("key"))
}

func TestReplyCarriesRequestCmdID(t *testing.T) {
	req := New("kv.get", nil)
	reply := Reply(req, map[string]interface{}{"success": true})
	assert.True(t, reply.IsReply())
	assert.Equal(t, req.CmdID(), reply.CmdID())
	assert.Equal(t, true, reply.Get("success"))
}

func TestFailureReplyShape(t *testing.T) {
	reply := FailureReply("abc123", "boom")
	assert.True(t, reply.IsReply())
	assert.Equal(t, "abc123", reply.CmdID())
	assert.Equal(t, false, reply.Get("success"))
	assert.Equal(t, "boom", reply.Get("reason"))
}

func TestSplitAndJoined(t *testing.T) {
	resource, op := Split("kv.get")
	assert.Equal(t, "kv", resource)
	assert.Equal(t, "get", op)
	assert.Equal(t, "kv.get", Joined("kv", "get"))
}

func TestSplitUndottedRoutesToFallback(t *testing.T) {
	resource, op := Split("unknown")
	assert.Equal(t, "", resource)
	assert.Equal(t, "unknown", op)
}

func TestParseLineValidJSON(t *testing.T) {
	cmd := ParseLine(`{"cmd":"kv.get","cmd_id":"x1","key":"foo"}`)
	assert.Equal(t, "kv.get", cmd.Cmd())
	assert.Equal(t, "x1", cmd.CmdID())
	assert.Equal(t, "foo", cmd.Get("key"))
}

func TestParseLineMalformedNeverErrors(t *testing.T) {
	cmd := ParseLine(`not json at all`)
	assert.Equal(t, "unknown", cmd.Cmd())
	assert.NotEmpty(t, cmd.CmdID())
	assert.Contains(t, cmd.Get("exception").(string), "")
	assert.Equal(t, "not json at all", cmd.Get("line"))
}

func TestToJSONLineRoundTrips(t *testing.T) {
	cmd := New("kv.get", map[string]interface{}{"key": "foo"})
	line, err := cmd.ToJSONLine()
	require.NoError(t, err)
	assert.True(t, len(line) > 0)
	assert.Equal(t, byte('\n'), line[len(line)-1])
}

func TestGenerateIDIsUnique(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}
