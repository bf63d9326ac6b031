// Package kv implements the key/value resource (spec §4.F): a per-tenant
// namespaced store with a distinct-key quota, backed by Redis the way the
// teacher backs its live-log channel with Redis (vortex-api/internal/ws).
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/resource"
)

const defaultKeysPerUser = 100

// Resource is the kv resource (spec §4.F "Key/value resource"). Keys are
// stored under "sandboxes#<sandbox_id>#<user_key>"; a sibling counter
// "count#<sandbox_id>" tracks the number of distinct live keys owned by that
// sandbox and enforces keysPerUser.
type Resource struct {
	*resource.Base

	client      *redis.Client
	keysPerUser int
}

// New builds the kv resource. keysPerUser <= 0 selects the spec default (100).
func New(client *redis.Client, keysPerUser int) *Resource {
	if keysPerUser <= 0 {
		keysPerUser = defaultKeysPerUser
	}
	r := &Resource{client: client, keysPerUser: keysPerUser}
	r.Base = resource.NewBase("kv", map[string]resource.HandlerFunc{
		"get":    r.handleGet,
		"set":    r.handleSet,
		"delete": r.handleDelete,
		"incr":   r.handleIncr,
	})
	return r
}

func sandboxedKey(sandboxID, userKey string) string {
	return fmt.Sprintf("sandboxes#%s#%s", sandboxID, userKey)
}

func countKey(sandboxID string) string {
	return fmt.Sprintf("count#%s", sandboxID)
}

// reserveSlot implements the spec §3/§4.F quota algorithm: if the key
// already exists, no counter change is needed ("skip counting"); otherwise
// atomically increment the counter and roll back (decrement) if doing so
// pushed it over keysPerUser.
func (r *Resource) reserveSlot(ctx context.Context, sandboxID, key string) (bool, error) {
	exists, err := r.client.Exists(ctx, sandboxedKey(sandboxID, key)).Result()
	if err != nil {
		return false, fmt.Errorf("kv: exists check: %w", err)
	}
	if exists == 1 {
		return true, nil
	}
	count, err := r.client.Incr(ctx, countKey(sandboxID)).Result()
	if err != nil {
		return false, fmt.Errorf("kv: incr count: %w", err)
	}
	if count > int64(r.keysPerUser) {
		if err := r.client.Decr(ctx, countKey(sandboxID)).Err(); err != nil {
			return false, fmt.Errorf("kv: rollback count: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func (r *Resource) handleGet(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	key, _ := cmd.Get("key").(string)
	raw, err := r.client.Get(ctx, sandboxedKey(api.SandboxID(), key)).Result()
	if errors.Is(err, redis.Nil) {
		reply := command.Reply(cmd, map[string]interface{}{"success": true, "value": nil})
		return &reply, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv.get: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("kv.get: decode stored value: %w", err)
	}
	reply := command.Reply(cmd, map[string]interface{}{"success": true, "value": value})
	return &reply, nil
}

func (r *Resource) handleSet(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	key, _ := cmd.Get("key").(string)
	encoded, err := json.Marshal(cmd.Get("value"))
	if err != nil {
		return nil, fmt.Errorf("kv.set: encode value: %w", err)
	}
	ok, err := r.reserveSlot(ctx, api.SandboxID(), key)
	if err != nil {
		return nil, err
	}
	if !ok {
		reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": "Too many keys"})
		return &reply, nil
	}
	if err := r.client.Set(ctx, sandboxedKey(api.SandboxID(), key), encoded, 0).Err(); err != nil {
		return nil, fmt.Errorf("kv.set: %w", err)
	}
	reply := command.Reply(cmd, map[string]interface{}{"success": true})
	return &reply, nil
}

func (r *Resource) handleDelete(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	key, _ := cmd.Get("key").(string)
	n, err := r.client.Del(ctx, sandboxedKey(api.SandboxID(), key)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv.delete: %w", err)
	}
	if n > 0 {
		if err := r.client.Decr(ctx, countKey(api.SandboxID())).Err(); err != nil {
			return nil, fmt.Errorf("kv.delete: decrement count: %w", err)
		}
	}
	reply := command.Reply(cmd, map[string]interface{}{"success": true})
	return &reply, nil
}

// handleIncr applies the same quota algorithm as set: a fresh key still
// consumes one slot from the sandbox's quota.
func (r *Resource) handleIncr(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
	key, _ := cmd.Get("key").(string)
	amount := 1
	if v, ok := cmd.Get("amount").(float64); ok {
		amount = int(v)
	}

	ok, err := r.reserveSlot(ctx, api.SandboxID(), key)
	if err != nil {
		return nil, err
	}
	if !ok {
		reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": "Too many keys"})
		return &reply, nil
	}

	skey := sandboxedKey(api.SandboxID(), key)
	raw, err := r.client.Get(ctx, skey).Result()
	var current int64
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return nil, fmt.Errorf("kv.incr: existing value is not a number: %w", err)
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("kv.incr: %w", err)
	}

	current += int64(amount)
	encoded, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("kv.incr: encode result: %w", err)
	}
	if err := r.client.Set(ctx, skey, encoded, 0).Err(); err != nil {
		return nil, fmt.Errorf("kv.incr: %w", err)
	}
	reply := command.Reply(cmd, map[string]interface{}{"success": true, "value": current})
	return &reply, nil
}
