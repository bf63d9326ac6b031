package outbound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/transport"
)

type fakeAPI struct {
	inbound map[string]map[string]interface{}
}

func (f *fakeAPI) SandboxID() string               { return "sid-1" }
func (f *fakeAPI) SandboxSend(cmd command.Command) {}
func (f *fakeAPI) SandboxKill()                    {}
func (f *fakeAPI) GetInboundMessage(id string) (map[string]interface{}, bool) {
	m, ok := f.inbound[id]
	return m, ok
}
func (f *fakeAPI) Log(msg string, level loglevel.Level) {}

type fakeSubmitter struct {
	got []transport.OutboundMessage
}

func (s *fakeSubmitter) Submit(ctx context.Context, msg transport.OutboundMessage) error {
	s.got = append(s.got, msg)
	return nil
}

func TestReplyToIsFireAndForgetWithNoReply(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(sub)
	api := &fakeAPI{inbound: map[string]map[string]interface{}{"m1": {"foo": "bar"}}}

	cmd := command.New("reply_to", map[string]interface{}{"in_reply_to": "m1", "content": "hi"})
	reply, err := r.DispatchRequest(context.Background(), api, cmd)

	require.NoError(t, err)
	assert.Nil(t, reply)
	require.Len(t, sub.got, 1)
	assert.Equal(t, "reply_to", sub.got[0].Kind)
	assert.Equal(t, "m1", sub.got[0].InReplyTo)
	assert.True(t, sub.got[0].ContinueSession)
}

func TestReplyToMissingCacheEntryDropsSilently(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(sub)
	api := &fakeAPI{inbound: map[string]map[string]interface{}{}}

	cmd := command.New("reply_to", map[string]interface{}{"in_reply_to": "nope"})
	reply, err := r.DispatchRequest(context.Background(), api, cmd)

	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Empty(t, sub.got)
}

func TestSendToDefaultsEndpoint(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(sub)
	api := &fakeAPI{}

	cmd := command.New("send_to", map[string]interface{}{"to_addr": "+123", "content": "hi"})
	_, err := r.DispatchRequest(context.Background(), api, cmd)

	require.NoError(t, err)
	require.Len(t, sub.got, 1)
	assert.Equal(t, "default", sub.got[0].Endpoint)
	assert.Equal(t, "+123", sub.got[0].To)
}

func TestSendToHonorsContinueSessionFalse(t *testing.T) {
	sub := &fakeSubmitter{}
	r := New(sub)
	api := &fakeAPI{}

	cmd := command.New("send_to", map[string]interface{}{"to_addr": "+123", "continue_session": false})
	_, err := r.DispatchRequest(context.Background(), api, cmd)

	require.NoError(t, err)
	require.Len(t, sub.got, 1)
	assert.False(t, sub.got[0].ContinueSession)
}
