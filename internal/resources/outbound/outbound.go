// Package outbound implements the outbound resource (spec §4.F): reply_to,
// reply_to_group, and send_to. All three are fire-and-forget — no reply is
// ever sent back to the child.
package outbound

import (
	"context"
	"fmt"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/resource"
	"github.com/vortex/sandboxd/internal/transport"
)

// Resource is the outbound resource.
type Resource struct {
	*resource.Base

	submitter transport.Submitter
}

// New builds the outbound resource over the given submission path.
func New(submitter transport.Submitter) *Resource {
	r := &Resource{submitter: submitter}
	r.Base = resource.NewBase("outbound", map[string]resource.HandlerFunc{
		"reply_to":       r.handleReplyTo,
		"reply_to_group": r.handleReplyToGroup,
		"send_to":        r.handleSendTo,
	})
	return r
}

func continueSession(cmd command.Command) bool {
	return cmd.GetBool("continue_session", true)
}

func (r *Resource) handleReplyTo(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	return nil, r.replyTo(ctx, api, cmd, "reply_to")
}

func (r *Resource) handleReplyToGroup(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	return nil, r.replyTo(ctx, api, cmd, "reply_to_group")
}

func (r *Resource) replyTo(ctx context.Context, api resource.API, cmd command.Command, kind string) error {
	inReplyTo, _ := cmd.Get("in_reply_to").(string)
	if inReplyTo == "" {
		api.Log(fmt.Sprintf("outbound.%s missing in_reply_to", kind), loglevel.Error)
		return nil
	}
	if _, ok := api.GetInboundMessage(inReplyTo); !ok {
		api.Log(fmt.Sprintf("outbound.%s: no cached inbound message %q", kind, inReplyTo), loglevel.Error)
		return nil
	}
	return r.submitter.Submit(ctx, transport.OutboundMessage{
		Kind:            kind,
		InReplyTo:       inReplyTo,
		ContinueSession: continueSession(cmd),
		Content:         cmd.Get("content"),
	})
}

func (r *Resource) handleSendTo(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	endpoint, _ := cmd.Get("endpoint").(string)
	if endpoint == "" {
		endpoint = "default"
	}
	to, _ := cmd.Get("to_addr").(string)
	return nil, r.submitter.Submit(ctx, transport.OutboundMessage{
		Kind:            "send_to",
		Endpoint:        endpoint,
		To:              to,
		ContinueSession: continueSession(cmd),
		Content:         cmd.Get("content"),
	})
}
