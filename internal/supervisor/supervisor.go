// Package supervisor implements the Supervisor (spec component H): the
// per-message entry point that derives a sandbox id, builds a run's
// configuration, constructs its API and Protocol, spawns it, and drives it
// through sandbox_init and message/event delivery to completion.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vortex/sandboxd/internal/protocol"
	"github.com/vortex/sandboxd/internal/resource"
	"github.com/vortex/sandboxd/internal/rlimit"
	"github.com/vortex/sandboxd/internal/sandboxapi"
)

// ErrCapacityExceeded is returned when the worker's concurrent-sandbox
// budget is exhausted, adapted from the teacher's runner.ProcessRunner: a
// non-blocking semaphore acquire that fails fast rather than queuing
// indefinitely.
var ErrCapacityExceeded = errors.New("sandbox capacity exceeded")

// ExecutableResolver resolves the executable and argv for a run (spec §6 "JS
// variant additions... executable defaults to a search over well-known
// node/nodejs paths", supplemented feature #4 — original_source's
// get_executable_and_args hook).
type ExecutableResolver interface {
	Resolve(rc *RunConfig) (executable string, argv []string, err error)
}

// StaticResolver returns a fixed executable/argv pair, ignoring the run.
type StaticResolver struct {
	Executable string
	Argv       []string
}

// Resolve implements ExecutableResolver.
func (s StaticResolver) Resolve(rc *RunConfig) (string, []string, error) {
	return s.Executable, append([]string{}, s.Argv...), nil
}

// ResourceConfig is the registry of resources a run is configured with (spec
// §3 "ResourceConfig", §6 "sandbox: registry of resources").
type ResourceConfig struct {
	Registry        *resource.Registry
	LoggingResource string
}

// RunConfig is the per-run configuration the Supervisor assembles before
// spawning (spec §3 "RunContext", supplemented feature #3 — the original's
// get_config clones the shared config and stamps the resolved sandbox_id
// into it).
type RunConfig struct {
	SandboxID string
	Env       []string
	Cwd       string
	Rlimits   rlimit.Rlimits
	Timeout   time.Duration
	RecvLimit int64
	Resources ResourceConfig
}

// Config is the Supervisor's fixed, worker-level configuration.
type Config struct {
	Launcher       protocol.Launcher
	Resolver       ExecutableResolver
	DefaultEnv     []string
	DefaultCwd     string
	DefaultRlimits rlimit.Rlimits
	DefaultTimeout time.Duration
	RecvLimit      int64
	MaxConcurrent  int
	SystemLog      *log.Logger
}

// Supervisor is the worker-level object driving sandbox runs (spec §4.H).
type Supervisor struct {
	launcher       protocol.Launcher
	resolver       ExecutableResolver
	defaultEnv     []string
	defaultCwd     string
	defaultRlimits rlimit.Rlimits
	defaultTimeout time.Duration
	recvLimit      int64
	systemLog      *log.Logger
	semaphore      chan struct{}
	active         atomic.Int64
}

// ActiveCount reports the number of sandbox runs currently in flight, for a
// debug/metrics surface (DOMAIN STACK "sandbox-count endpoint").
func (s *Supervisor) ActiveCount() int64 {
	return s.active.Load()
}

// New builds a Supervisor. MaxConcurrent <= 0 disables the concurrency cap.
func New(cfg Config) *Supervisor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.RecvLimit <= 0 {
		cfg.RecvLimit = 1 << 20
	}
	if cfg.DefaultRlimits == nil {
		cfg.DefaultRlimits = rlimit.DefaultRlimits()
	}
	if cfg.SystemLog == nil {
		cfg.SystemLog = log.Default()
	}
	s := &Supervisor{
		launcher:       cfg.Launcher,
		resolver:       cfg.Resolver,
		defaultEnv:     cfg.DefaultEnv,
		defaultCwd:     cfg.DefaultCwd,
		defaultRlimits: cfg.DefaultRlimits,
		defaultTimeout: cfg.DefaultTimeout,
		recvLimit:      cfg.RecvLimit,
		systemLog:      cfg.SystemLog,
	}
	if cfg.MaxConcurrent > 0 {
		s.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return s
}

func deriveSandboxID(payload map[string]interface{}) string {
	if id, ok := payload["sandbox_id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// ConsumeMessage is the public entry point for an inbound user message (spec
// §4.H "consume user message"). Session close uses the same path: the
// child's own logic decides from the message payload whether the session
// ends.
func (s *Supervisor) ConsumeMessage(ctx context.Context, resources ResourceConfig, rlimitOverride rlimit.Rlimits, payload map[string]interface{}) (protocol.ExitReason, error) {
	sandboxID := deriveSandboxID(payload)
	msg := payload
	if _, ok := msg["message_id"]; !ok {
		msg = cloneMap(payload)
		msg["message_id"] = uuid.NewString()
	}
	return s.run(ctx, sandboxID, resources, rlimitOverride, func(api *sandboxapi.Api) {
		api.DeliverMessage(msg)
	})
}

// CloseSession is the same path as ConsumeMessage: session-oriented
// protocols deliver the closing message like any other and the child
// chooses to end the session from its contents (spec §4.H).
func (s *Supervisor) CloseSession(ctx context.Context, resources ResourceConfig, rlimitOverride rlimit.Rlimits, payload map[string]interface{}) (protocol.ExitReason, error) {
	return s.ConsumeMessage(ctx, resources, rlimitOverride, payload)
}

// DeliveryReport is the public entry point for ack/nack/delivery-report
// events (spec §4.H "ack, nack, delivery report").
func (s *Supervisor) DeliveryReport(ctx context.Context, resources ResourceConfig, rlimitOverride rlimit.Rlimits, sandboxID string, event map[string]interface{}) (protocol.ExitReason, error) {
	return s.run(ctx, sandboxID, resources, rlimitOverride, func(api *sandboxapi.Api) {
		api.DeliverEvent(event)
	})
}

// Ack and Nack are thin DeliveryReport wrappers distinguishing the event
// kind carried in the payload (spec §4.H enumerates ack/nack/delivery report
// as distinct entry points sharing one mechanism).
func (s *Supervisor) Ack(ctx context.Context, resources ResourceConfig, rlimitOverride rlimit.Rlimits, sandboxID string, event map[string]interface{}) (protocol.ExitReason, error) {
	return s.DeliveryReport(ctx, resources, rlimitOverride, sandboxID, withEventType(event, "ack"))
}

// Nack reports a failed delivery, same mechanism as Ack.
func (s *Supervisor) Nack(ctx context.Context, resources ResourceConfig, rlimitOverride rlimit.Rlimits, sandboxID string, event map[string]interface{}) (protocol.ExitReason, error) {
	return s.DeliveryReport(ctx, resources, rlimitOverride, sandboxID, withEventType(event, "nack"))
}

// run is the shared path for every public entry point above: acquire a
// capacity slot, merge rlimits, resolve the executable, construct the API
// and Protocol, spawn, initialize, deliver exactly one payload, and wait for
// completion.
func (s *Supervisor) run(ctx context.Context, sandboxID string, resources ResourceConfig, rlimitOverride rlimit.Rlimits, deliver func(api *sandboxapi.Api)) (protocol.ExitReason, error) {
	if s.semaphore != nil {
		select {
		case s.semaphore <- struct{}{}:
			defer func() { <-s.semaphore }()
		default:
			return protocol.ExitReason{}, ErrCapacityExceeded
		}
	}

	merged, err := rlimit.Merge(s.defaultRlimits, rlimitOverride)
	if err != nil {
		return protocol.ExitReason{}, fmt.Errorf("supervisor: %w", err)
	}

	rc := &RunConfig{
		SandboxID: sandboxID,
		Env:       s.defaultEnv,
		Cwd:       s.defaultCwd,
		Rlimits:   merged,
		Timeout:   s.defaultTimeout,
		RecvLimit: s.recvLimit,
		Resources: resources,
	}

	executable, argv, err := s.resolver.Resolve(rc)
	if err != nil {
		return protocol.ExitReason{}, fmt.Errorf("supervisor: resolve executable: %w", err)
	}

	api := sandboxapi.New(resources.Registry, resources.LoggingResource, s.systemLog)

	proto, err := protocol.New(protocol.Config{
		SandboxID:  sandboxID,
		API:        api,
		Launcher:   s.launcher,
		Executable: executable,
		Argv:       argv,
		Env:        rc.Env,
		Cwd:        rc.Cwd,
		Rlimits:    rc.Rlimits,
		Timeout:    rc.Timeout,
		RecvLimit:  rc.RecvLimit,
		SystemLog:  s.systemLog,
	})
	if err != nil {
		return protocol.ExitReason{}, fmt.Errorf("supervisor: %w", err)
	}

	if err := proto.Spawn(); err != nil {
		return protocol.ExitReason{}, fmt.Errorf("supervisor: spawn: %w", err)
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	startResult := <-proto.Started()
	if startResult.Err == nil {
		api.SandboxInit()
		deliver(api)
	} else {
		s.systemLog.Printf("sandbox %s: failed to start: %v", sandboxID, startResult.Err)
	}

	doneResult := <-proto.Done()
	if reason, ok := doneResult.Value.(protocol.ExitReason); ok {
		return reason, nil
	}
	if doneResult.Err != nil {
		return protocol.ExitReason{}, doneResult.Err
	}
	return protocol.ExitReason{}, nil
}

func withEventType(event map[string]interface{}, kind string) map[string]interface{} {
	out := cloneMap(event)
	out["event_type"] = kind
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
