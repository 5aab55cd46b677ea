package hitcount

import (
	"context"
	"net/http"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// Recorder accepts fire-and-forget hits.
type Recorder interface {
	Increment(handle string)
}

// Agent counts a view for page-like requests that are about to be served,
// whether from cache or freshly rendered. Front page views and forwarded
// re-entries are not counted.
type Agent struct {
	hits Recorder
}

func NewAgent(hits Recorder) *Agent {
	return &Agent{hits: hits}
}

func (a *Agent) Name() string { return "hitcount" }

func (a *Agent) Execute(_ context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	switch {
	case a.hits == nil:
		return pipeline.Result{Name: a.Name(), Status: "disabled"}
	case state.Decided() || !state.Parsed:
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	case !state.Cache.Hit && !state.Valid:
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	case state.Site.FrontPage:
		return pipeline.Result{Name: a.Name(), Status: "skipped", Details: "front page"}
	case state.Forwarded:
		return pipeline.Result{Name: a.Name(), Status: "skipped", Details: "forwarded"}
	case !state.Page.Kind.Countable():
		return pipeline.Result{Name: a.Name(), Status: "skipped", Details: string(state.Page.Kind)}
	}
	a.hits.Increment(state.Site.Weblog.Handle)
	state.Hit.Recorded = true
	return pipeline.Result{Name: a.Name(), Status: "counted"}
}
