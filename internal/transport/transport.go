// Package transport defines the boundary interfaces for the collaborators
// the core treats as external (spec §1 "OUT OF SCOPE"): inbound message/event
// delivery into the supervisor, and outbound message submission out of it.
// Nothing in this package talks to a real message broker; concrete adapters
// live outside core scope and are injected at bootstrap.
package transport

import "context"

// InboundMessage is one user message routed to a sandbox.
type InboundMessage struct {
	MessageID string
	SandboxID string
	Payload   map[string]interface{}
}

// InboundEvent is one delivery-report-style event routed to a sandbox.
type InboundEvent struct {
	SandboxID string
	Payload   map[string]interface{}
}

// OutboundMessage is what the outbound resource hands to the submission
// path (spec §4.F "Outbound resource").
type OutboundMessage struct {
	// Kind is one of "reply_to", "reply_to_group", "send_to".
	Kind string
	// InReplyTo is the inbound message_id being replied to (reply_to,
	// reply_to_group only).
	InReplyTo string
	// Endpoint is the named outbound endpoint (send_to only, default
	// "default").
	Endpoint string
	// To is the destination address (send_to only).
	To string
	// ContinueSession mirrors the child's continue_session flag, default
	// true for session-oriented channels.
	ContinueSession bool
	Content         interface{}
}

// Submitter is the outbound message submission path (spec §1 "the outbound
// message submission path"). Submission is fire-and-forget from the
// sandbox's perspective: no result is relayed back to the child (spec §4.F).
type Submitter interface {
	Submit(ctx context.Context, msg OutboundMessage) error
}
