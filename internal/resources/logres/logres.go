// Package logres implements the logging resource (spec §4.F): log, debug,
// info, warning, error, critical, each forwarding the child's message to the
// sandbox's configured logging sink and replying success/failure.
package logres

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/resource"
)

// Resource is the log resource. It also implements resource.SandboxLogger so
// it can serve as the configured logging_resource for an entire run, and
// publishes every tenant-visible line to a Redis channel the live log
// stream (internal/logstream) subscribes to.
//
// Log is the terminal sink for a run's tenant-visible output: it must not
// call back through resource.API.Log, since that is how a run reaches this
// resource in the first place when it is configured as logging_resource.
type Resource struct {
	*resource.Base

	redisClient *redis.Client
	systemLog   *log.Logger
}

// New builds the log resource. redisClient may be nil, in which case
// publishing is skipped. systemLog nil selects log.Default().
func New(redisClient *redis.Client, systemLog *log.Logger) *Resource {
	if systemLog == nil {
		systemLog = log.Default()
	}
	r := &Resource{redisClient: redisClient, systemLog: systemLog}
	r.Base = resource.NewBase("log", map[string]resource.HandlerFunc{
		"log":      r.handle(-1),
		"debug":    r.handle(loglevel.Debug),
		"info":     r.handle(loglevel.Info),
		"warning":  r.handle(loglevel.Warning),
		"error":    r.handle(loglevel.Error),
		"critical": r.handle(loglevel.Critical),
	})
	return r
}

// Channel is the Redis pub/sub channel a sandbox's tenant-visible log lines
// are published to, mirrored by internal/logstream.
func Channel(sandboxID string) string {
	return "sandboxlogs:" + sandboxID
}

// handle builds the HandlerFunc for one named operation. defaultLevel of -1
// marks the bare "log" operation, whose level comes from an explicit "level"
// field on the command and otherwise defaults to info.
func (r *Resource) handle(defaultLevel loglevel.Level) resource.HandlerFunc {
	return func(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
		msg, ok := cmd.Get("msg").(string)
		if !ok || msg == "" {
			reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": "Value expected for msg"})
			return &reply, nil
		}
		level := defaultLevel
		if n, ok := cmd.Get("level").(float64); ok {
			level = loglevel.Level(int(n))
		} else if level == -1 {
			level = loglevel.Info
		}
		r.Log(api, msg, level)
		reply := command.Reply(cmd, map[string]interface{}{"success": true})
		return &reply, nil
	}
}

// Log implements resource.SandboxLogger: the canonical sink for a run's
// tenant-visible output (spec §4.G "logging_resource"). It writes to the
// system log directly and — when wired to Redis — also publishes a line the
// live WebSocket tail can replay.
func (r *Resource) Log(api resource.API, msg string, level loglevel.Level) {
	r.systemLog.Printf("[%s] sandbox %s: %s", level, api.SandboxID(), msg)
	if r.redisClient == nil {
		return
	}
	line := fmt.Sprintf(`{"level":%q,"message":%q}`, level.String(), msg)
	r.redisClient.Publish(context.Background(), Channel(api.SandboxID()), line)
}
