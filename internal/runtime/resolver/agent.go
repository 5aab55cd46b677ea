package resolver

import (
	"context"
	"net/http"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// Agent resolves the template of cache misses.
type Agent struct {
	resolver *Resolver
}

// NewAgent wraps a resolver as a pipeline agent.
func NewAgent(resolver *Resolver) *Agent {
	return &Agent{resolver: resolver}
}

// Name identifies the resolver agent for logging.
func (a *Agent) Name() string { return "resolver" }

// Execute resolves the template or finishes the request with 404.
func (a *Agent) Execute(_ context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if state.Decided() || !state.Parsed || state.Cache.Hit {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	tmpl, step := a.resolver.Resolve(state.Site.Weblog.Theme, state.Page)
	if tmpl == nil {
		state.Finish(http.StatusNotFound, "")
		return pipeline.Result{Name: a.Name(), Status: "not_found", Details: step}
	}
	state.Template = tmpl
	return pipeline.Result{
		Name:    a.Name(),
		Status:  "resolved",
		Details: step,
		Meta:    map[string]any{"template": tmpl.ID()},
	}
}
