package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vortex/sandboxd/internal/resource"
	"github.com/vortex/sandboxd/internal/rlimit"
	"github.com/vortex/sandboxd/internal/supervisor"
)

// registerDebugRoutes exposes a minimal operator surface for driving a
// sandboxd worker without a real inbound transport wired in: POST a JSON
// payload to deliver it to a sandbox run, with the result reported back
// synchronously. This is the route sandboxctl's "send" command talks to.
func registerDebugRoutes(r chi.Router, sup *supervisor.Supervisor, registry *resource.Registry, cfg config) {
	r.Post("/debug/deliver/{sandboxID}", func(w http.ResponseWriter, req *http.Request) {
		sandboxID := chi.URLParam(req, "sandboxID")
		var payload map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest)
			return
		}
		if sandboxID != "" {
			payload["sandbox_id"] = sandboxID
		}

		reason, err := sup.ConsumeMessage(context.Background(), supervisor.ResourceConfig{
			Registry:        registry,
			LoggingResource: "log",
		}, rlimit.Rlimits{}, payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"kind":      reason.Kind,
			"exit_code": reason.ExitCode,
		})
	})
}
