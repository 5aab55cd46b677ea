// Package admission admits a page request: it resolves the weblog, detects
// an editing session and parses the path into a page request.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// WeblogLookup loads the weblog named by the route.
type WeblogLookup interface {
	Weblog(ctx context.Context, handle string) (content.Weblog, error)
}

// Identifier recognizes authenticated editing sessions.
type Identifier interface {
	Identify(r *http.Request) pagerequest.Identity
}

// Config wires the admission agent.
type Config struct {
	Weblogs         WeblogLookup
	Sessions        Identifier
	FrontPageHandle string
	Logger          *slog.Logger
}

type Agent struct {
	weblogs   WeblogLookup
	sessions  Identifier
	frontPage string
	logger    *slog.Logger
}

func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		weblogs:   cfg.Weblogs,
		sessions:  cfg.Sessions,
		frontPage: strings.TrimSpace(cfg.FrontPageHandle),
		logger:    logger,
	}
}

func (a *Agent) Name() string { return "admission" }

func (a *Agent) Execute(ctx context.Context, r *http.Request, state *pipeline.State) pipeline.Result {
	if state.Decided() {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}

	weblog, err := a.weblogs.Weblog(ctx, state.Weblog)
	if err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			a.logger.Error("weblog lookup failed",
				slog.String("weblog", state.Weblog),
				slog.String("correlation_id", state.CorrelationID),
				slog.Any("error", err),
			)
		}
		return a.reject(state, "unknown weblog")
	}
	if !weblog.Active {
		return a.reject(state, "inactive weblog")
	}
	state.Site.Weblog = weblog
	state.Site.Found = true
	state.Site.FrontPage = a.frontPage != "" && weblog.Handle == a.frontPage

	var identity pagerequest.Identity
	if a.sessions != nil {
		identity = a.sessions.Identify(r)
	}
	page, err := pagerequest.Parse(weblog.Handle, state.Raw.PathInfo, r.URL.Query(), state.Raw.UserAgent, identity)
	if err != nil {
		return a.reject(state, err.Error())
	}
	state.Page = page
	state.Parsed = true

	return pipeline.Result{
		Name:   a.Name(),
		Status: "admitted",
		Meta: map[string]any{
			"kind":      string(page.Kind),
			"logged_in": page.LoggedIn,
			"frontPage": state.Site.FrontPage,
		},
	}
}

func (a *Agent) reject(state *pipeline.State, reason string) pipeline.Result {
	state.Finish(http.StatusNotFound, "")
	return pipeline.Result{Name: a.Name(), Status: "rejected", Details: reason}
}
