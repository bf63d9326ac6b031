// Package resource holds the resource registry (spec component E) and the
// base type concrete resources (spec component F) build on.
package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
)

// API is the per-run surface a resource handler gets to call back into —
// the subset of SandboxApi's responsibilities (spec §4.G) that resources
// need. Defined here, not in package sandboxapi, so resources never import
// the concrete API implementation.
type API interface {
	SandboxID() string
	SandboxSend(cmd command.Command)
	SandboxKill()
	GetInboundMessage(id string) (map[string]interface{}, bool)
	Log(msg string, level loglevel.Level)
}

// SandboxLogger is implemented by resources that can serve as the
// configured logging_resource (spec §4.G). The logging resource (§4.F) is
// the canonical implementation.
type SandboxLogger interface {
	Log(api API, msg string, level loglevel.Level)
}

// HandlerFunc handles one resource operation. Returning (nil, nil) suppresses
// the reply (fire-and-forget commands such as outbound.* or js-init).
// Returning a non-nil error causes the caller to send a synthetic failure
// reply and log the failure (spec §7 "Resource handler exception").
//
// ctx is always context.Background() in this codebase, never a per-run
// context cancelled when the child exits: spec §5 is explicit that in-flight
// resource calls are allowed to complete after the sandbox dies, their
// results simply discarded. The parameter exists so handlers that call out
// to the kv store or an HTTP backend have somewhere to attach call-scoped
// deadlines without reaching for context.TODO() throughout.
type HandlerFunc func(ctx context.Context, api API, cmd command.Command) (*command.Command, error)

// Resource is one named capability exposed to the child (spec component F).
type Resource interface {
	Name() string
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
	// SandboxInit is called once per run, at sandbox initialization, for
	// every registered resource (spec §4.G "On sandbox_init...").
	SandboxInit(api API)
	// DispatchRequest handles one already-resource-stripped command (its
	// Cmd() holds only the operation name, the resource prefix removed).
	DispatchRequest(ctx context.Context, api API, cmd command.Command) (*command.Command, error)
}

// Base implements the common parts of Resource: setup/teardown no-ops, an
// operation table dispatched by name, and the fallback contract (spec §4.E:
// "a missing handler routes to unknown_request, whose required behavior is:
// log the event ... at ERROR level and kill the child").
type Base struct {
	name     string
	handlers map[string]HandlerFunc
}

// NewBase constructs a Base with the given name and operation table.
func NewBase(name string, handlers map[string]HandlerFunc) *Base {
	return &Base{name: name, handlers: handlers}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Setup(ctx context.Context) error    { return nil }
func (b *Base) Teardown(ctx context.Context) error { return nil }
func (b *Base) SandboxInit(api API)                {}

// DispatchRequest looks up cmd.Cmd() in the operation table, falling back to
// UnknownRequest when no handler is registered.
func (b *Base) DispatchRequest(ctx context.Context, api API, cmd command.Command) (*command.Command, error) {
	handler, ok := b.handlers[cmd.Cmd()]
	if !ok {
		return b.UnknownRequest(ctx, api, cmd)
	}
	return handler(ctx, api, cmd)
}

// UnknownRequest is the fallback contract: log at ERROR and kill the child.
// It never returns an error — the kill itself is the response.
func (b *Base) UnknownRequest(ctx context.Context, api API, cmd command.Command) (*command.Command, error) {
	api.Log(fmt.Sprintf(
		"Resource %s received unknown command %q from sandbox %q. Killing sandbox. [Full command: %v]",
		b.name, cmd.Cmd(), api.SandboxID(), map[string]interface{}(cmd)),
		loglevel.Error)
	api.SandboxKill()
	return nil, nil
}

// Registry holds the resources configured for a worker (spec component E).
// It is shared across all concurrently running sandboxes; per-sandbox state
// never lives here, only inside each run's API (spec §4.E, §5).
type Registry struct {
	mu        sync.Mutex
	resources map[string]Resource
	fallback  Resource
}

// NewRegistry returns an empty Registry with the fallback resource installed
// under the empty name (routed to by undotted/malformed commands).
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]Resource),
		fallback:  NewBase("fallback", nil),
	}
}

// Add registers a resource under name. Should only be called before Setup.
func (r *Registry) Add(name string, res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[name] = res
}

// EnsureDefaults registers def under name if nothing is registered there yet
// (supplemented feature: original_source's JsSandbox.validate_config
// auto-adds default "js" and "log" resources when a SandboxConfig's resource
// map omits them).
func (r *Registry) EnsureDefaults(name string, def Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[name]; !ok {
		r.resources[name] = def
	}
}

// Has reports whether a resource is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.resources[name]
	return ok
}

// Resolve returns the resource registered under name, or the fallback
// resource if name is empty or unregistered (spec §4.A, §4.E).
func (r *Registry) Resolve(name string) Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return r.fallback
	}
	res, ok := r.resources[name]
	if !ok {
		return r.fallback
	}
	return res
}

// All returns every registered resource, for sandbox_init fan-out.
func (r *Registry) All() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}

// Setup sequentially initializes every resource (spec §4.E "setup
// sequentially initializes all resources").
func (r *Registry) Setup(ctx context.Context) error {
	for _, res := range r.All() {
		if err := res.Setup(ctx); err != nil {
			return fmt.Errorf("resource %s: setup: %w", res.Name(), err)
		}
	}
	return nil
}

// Teardown sequentially tears down every resource.
func (r *Registry) Teardown(ctx context.Context) error {
	for _, res := range r.All() {
		if err := res.Teardown(ctx); err != nil {
			return fmt.Errorf("resource %s: teardown: %w", res.Name(), err)
		}
	}
	return nil
}
