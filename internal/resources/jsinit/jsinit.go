// Package jsinit implements the js-init resource (spec §4.F): fires once
// per run, sourcing JavaScript from a funcstore.Store and sending it to the
// child as an "initialize" command before any message is delivered.
package jsinit

import (
	"context"

	"github.com/vortex/sandboxd/internal/command"
	"github.com/vortex/sandboxd/internal/funcstore"
	"github.com/vortex/sandboxd/internal/loglevel"
	"github.com/vortex/sandboxd/internal/resource"
)

// Resource is the js-init resource. It exposes no child-callable operations
// of its own — SandboxInit is its entire contract (spec §4.F "JS-init
// resource... fires once per run, at sandbox initialization").
type Resource struct {
	*resource.Base

	store      funcstore.Store
	ref        string
	appContext string
}

// New builds the js-init resource. ref is the funcstore reference resolved
// once per run; appContext is the optional app-context expression forwarded
// verbatim (spec §4.F; original_source's app_context_for_api), generalized here to a static string since the
// per-tenant app context hook lives outside core scope.
func New(store funcstore.Store, ref, appContext string) *Resource {
	r := &Resource{store: store, ref: ref, appContext: appContext}
	r.Base = resource.NewBase("js", nil)
	return r
}

// SandboxInit fetches the configured function source and sends the
// "initialize" command. A fetch failure is logged and kills the sandbox:
// there is no meaningful way to run a child with no code to execute.
func (r *Resource) SandboxInit(api resource.API) {
	source, err := r.store.Source(context.Background(), r.ref)
	if err != nil {
		api.Log("js-init: "+err.Error(), loglevel.Error)
		api.SandboxKill()
		return
	}
	api.SandboxSend(command.New("initialize", map[string]interface{}{
		"javascript":  source,
		"app_context": r.appContext,
	}))
}
