package responsepolicy

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// Agent materializes the HTTP response from the pipeline outcome.
type Agent struct{}

// New constructs a response policy agent.
func New() *Agent { return &Agent{} }

// Name identifies the response policy agent for logging and snapshots.
func (a *Agent) Name() string { return "response_policy" }

// Execute settles the status code and body headers. A status chosen by an
// earlier agent is kept; a body from the cache or the renderer is served with
// 200; anything else is not found.
func (a *Agent) Execute(_ context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if state.Response.Headers == nil {
		state.Response.Headers = make(map[string]string)
	}
	if state.Response.Status != 0 {
		state.Response.Message = coalesce(state.Response.Message, http.StatusText(state.Response.Status))
		if state.Response.Status != http.StatusNotModified {
			delete(state.Response.Headers, "Last-Modified")
		}
		return pipeline.Result{
			Name:    a.Name(),
			Status:  "decided",
			Details: state.Response.Message,
		}
	}
	if !state.Cache.Hit && !state.Render.Rendered {
		state.Finish(http.StatusNotFound, http.StatusText(http.StatusNotFound))
		delete(state.Response.Headers, "Last-Modified")
		return pipeline.Result{
			Name:    a.Name(),
			Status:  "not_found",
			Details: state.Response.Message,
		}
	}
	state.Finish(http.StatusOK, "")
	state.Response.Headers["Content-Type"] = coalesce(state.Render.ContentType, "text/html; charset=utf-8")
	state.Response.Headers["Content-Length"] = strconv.Itoa(len(state.Render.Body))
	status := "rendered"
	if state.Cache.Hit {
		status = "cached"
	}
	return pipeline.Result{
		Name:   a.Name(),
		Status: status,
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
