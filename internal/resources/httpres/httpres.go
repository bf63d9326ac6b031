// Package httpres implements the HTTP client resource (spec §4.F): GET, PUT,
// POST, DELETE, HEAD with a hard wall-clock timeout and response-body cap.
package httpres

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/resource"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultBodyLimit = 128 * 1024
)

// Resource is the http resource.
type Resource struct {
	*resource.Base

	client    *http.Client
	timeout   time.Duration
	bodyLimit int64
}

// New builds the http resource. timeout <= 0 and bodyLimit <= 0 select the
// spec defaults (30s, 128KiB).
func New(client *http.Client, timeout time.Duration, bodyLimit int64) *Resource {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	r := &Resource{client: client, timeout: timeout, bodyLimit: bodyLimit}
	handlers := map[string]resource.HandlerFunc{
		"get":    r.method(http.MethodGet),
		"put":    r.method(http.MethodPut),
		"post":   r.method(http.MethodPost),
		"delete": r.method(http.MethodDelete),
		"head":   r.method(http.MethodHead),
	}
	r.Base = resource.NewBase("http", handlers)
	return r
}

func (r *Resource) method(verb string) resource.HandlerFunc {
	return func(ctx context.Context, api resource.API, cmd command.Command) (*command.Command, error) {
		return r.do(ctx, cmd, verb)
	}
}

func (r *Resource) do(ctx context.Context, cmd command.Command, verb string) (*command.Command, error) {
	url, _ := cmd.Get("url").(string)
	if url == "" {
		reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": "No URL given"})
		return &reply, nil
	}

	var body io.Reader
	if data, ok := cmd.Get("data").(string); ok {
		body = bytes.NewReader([]byte(data))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, verb, url, body)
	if err != nil {
		reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": err.Error()})
		return &reply, nil
	}
	if headers, ok := cmd.Get("headers").(map[string]interface{}); ok {
		for name, values := range headers {
			list, ok := values.([]interface{})
			if !ok {
				continue
			}
			for _, v := range list {
				if s, ok := v.(string); ok {
					req.Header.Add(name, s)
				}
			}
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": err.Error()})
		return &reply, nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, r.bodyLimit)
	data, err := io.ReadAll(limited)
	if err != nil {
		reply := command.Reply(cmd, map[string]interface{}{"success": false, "reason": fmt.Sprintf("reading response: %v", err)})
		return &reply, nil
	}

	reply := command.Reply(cmd, map[string]interface{}{
		"success": true,
		"code":    resp.StatusCode,
		"body":    string(data),
	})
	return &reply, nil
}
