// Package sandboxapi implements SandboxApi (spec component G): the per-run
// glue object passed to resources, holding the inbound-message cache,
// routing commands to the resource registry, and forwarding log calls.
package sandboxapi

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/protocol"
	"github.com/vortex/sandboxd/internal/resource"
)

// Api is the sandbox's per-run API instance (spec §4.G). It implements
// protocol.API (so a Protocol can dispatch through it) and resource.API (so
// resource handlers can call back into it).
type Api struct {
	mu      sync.Mutex
	sandbox protocol.Sandbox

	registry        *resource.Registry
	loggingResource resource.SandboxLogger
	systemLog       *log.Logger

	inboundMu sync.Mutex
	inbound   map[string]map[string]interface{}
}

// New builds an Api bound to registry, optionally routing tenant-visible
// logs through the named logging resource. Wiring failures (missing
// resource, resource without a Log method) degrade to system logging with a
// warning rather than a fatal error (spec §4.G, §7 "Configuration error").
func New(registry *resource.Registry, loggingResourceName string, systemLog *log.Logger) *Api {
	if systemLog == nil {
		systemLog = log.Default()
	}
	a := &Api{
		registry:  registry,
		systemLog: systemLog,
		inbound:   make(map[string]map[string]interface{}),
	}
	if loggingResourceName == "" {
		return a
	}
	if !registry.Has(loggingResourceName) {
		systemLog.Printf("warning: failed to find logging resource %q; falling back to system logging", loggingResourceName)
		return a
	}
	res := registry.Resolve(loggingResourceName)
	logger, ok := res.(resource.SandboxLogger)
	if !ok {
		systemLog.Printf("warning: logging resource %q has no Log method; falling back to system logging", loggingResourceName)
		return a
	}
	a.loggingResource = logger
	return a
}

// SetSandbox implements protocol.API. It may be called exactly once.
func (a *Api) SetSandbox(s protocol.Sandbox) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sandbox != nil {
		return fmt.Errorf("sandbox api: sandbox already set (existing id %q, new id %q)",
			a.sandbox.SandboxID(), s.SandboxID())
	}
	a.sandbox = s
	return nil
}

func (a *Api) boundSandbox() protocol.Sandbox {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sandbox
}

// SandboxID implements resource.API.
func (a *Api) SandboxID() string {
	if s := a.boundSandbox(); s != nil {
		return s.SandboxID()
	}
	return ""
}

// SandboxSend implements resource.API.
func (a *Api) SandboxSend(cmd command.Command) {
	if s := a.boundSandbox(); s != nil {
		s.Send(cmd)
	}
}

// SandboxKill implements resource.API.
func (a *Api) SandboxKill() {
	if s := a.boundSandbox(); s != nil {
		s.Kill()
	}
}

// GetInboundMessage implements resource.API.
func (a *Api) GetInboundMessage(id string) (map[string]interface{}, bool) {
	a.inboundMu.Lock()
	defer a.inboundMu.Unlock()
	msg, ok := a.inbound[id]
	return msg, ok
}

// Log implements resource.API and protocol.API. If a logging resource is
// configured and valid it is delegated to; otherwise this falls back to
// system-level logging (spec §4.G).
func (a *Api) Log(msg string, level loglevel.Level) {
	if a.loggingResource == nil {
		a.systemLog.Printf("[%s] sandbox %s: %s", level, a.SandboxID(), msg)
		return
	}
	a.loggingResource.Log(a, msg, level)
}

// SandboxInit fans out sandbox_init to every registered resource (spec
// §4.G "On sandbox_init, iterate all resources and invoke each resource's
// init hook with this API").
func (a *Api) SandboxInit() {
	for _, res := range a.registry.All() {
		res.SandboxInit(a)
	}
}

// DeliverMessage caches msg under its message_id (so outbound.reply_to can
// find it later) and forwards it to the child as inbound-message (spec
// §4.G, §3 "inbound-message cache").
func (a *Api) DeliverMessage(msg map[string]interface{}) {
	if id, ok := msg["message_id"].(string); ok && id != "" {
		a.inboundMu.Lock()
		a.inbound[id] = msg
		a.inboundMu.Unlock()
	}
	a.SandboxSend(command.New("inbound-message", map[string]interface{}{"msg": msg}))
}

// DeliverEvent forwards an inbound delivery event as inbound-event. Events
// are not cached: the inbound-message cache exists only for message replies
// (spec §3 "populated ... messages only").
func (a *Api) DeliverEvent(event map[string]interface{}) {
	a.SandboxSend(command.New("inbound-event", map[string]interface{}{"msg": event}))
}

// DispatchRequest implements protocol.API. It splits the command's dotted
// name, resolves the resource (fallback if unknown), invokes its handler,
// and on any handler error sends a synthetic failure reply plus dual
// logging instead of ever propagating the error out of the sandbox (spec
// §4.G, §7 "nothing thrown inside a resource handler propagates out of the
// dispatch layer").
func (a *Api) DispatchRequest(cmd command.Command) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				perr := fmt.Errorf("panic in resource dispatch: %v", r)
				a.SandboxSend(command.FailureReply(cmd.CmdID(), perr.Error()))
				ch <- perr
			}
		}()

		resourceName, op := command.Split(cmd.Cmd())
		dispatchCmd := cloneCommand(cmd)
		dispatchCmd.SetCmd(op)

		res := a.registry.Resolve(resourceName)
		reply, err := res.DispatchRequest(context.Background(), a, dispatchCmd)
		if err != nil {
			reason := err.Error()
			a.systemLog.Printf("sandbox %s: resource %q dispatch error: %v", a.SandboxID(), resourceName, err)
			a.Log(reason, loglevel.Error)
			a.SandboxSend(command.FailureReply(cmd.CmdID(), reason))
			return
		}
		if reply != nil {
			reply.SetCmd(command.Joined(resourceName, op))
			a.SandboxSend(*reply)
		}
	}()
	return ch
}

func cloneCommand(c command.Command) command.Command {
	out := make(command.Command, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
