// Package freshness answers conditional GETs with 304 when the client copy
// is still current.
package freshness

import (
	"context"
	"net/http"
	"time"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// SiteClock exposes the site-wide cache's global modification time.
type SiteClock interface {
	LastModified() time.Time
}

// Agent applies the freshness gate.
type Agent struct {
	site SiteClock
	now  func() time.Time
}

// New constructs the gate. site supplies the timestamp for the front page.
func New(site SiteClock) *Agent {
	return &Agent{site: site, now: time.Now}
}

// Name identifies the freshness agent for logging.
func (a *Agent) Name() string { return "freshness" }

// Execute sets Last-Modified and finishes with 304 when If-Modified-Since is
// not older than the weblog's last modification.
func (a *Agent) Execute(_ context.Context, r *http.Request, state *pipeline.State) pipeline.Result {
	if state.Decided() || !state.Parsed {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	// Cache freshness keeps full precision; HTTP dates carry whole seconds.
	lastModified := a.lastModified(state)
	state.Freshness.LastModified = lastModified

	// Editors always see live pages and never get a 304.
	if state.Page.LoggedIn {
		return pipeline.Result{Name: a.Name(), Status: "bypassed", Details: "editing session"}
	}
	state.Response.Headers["Last-Modified"] = lastModified.UTC().Format(http.TimeFormat)

	if ShouldRespondNotModified(lastModified, r.Header.Get("If-Modified-Since"), false) {
		state.Freshness.NotModified = true
		state.Finish(http.StatusNotModified, "")
		return pipeline.Result{Name: a.Name(), Status: "not_modified"}
	}
	return pipeline.Result{Name: a.Name(), Status: "modified"}
}

func (a *Agent) lastModified(state *pipeline.State) time.Time {
	var lm time.Time
	if state.Site.FrontPage && a.site != nil {
		lm = a.site.LastModified()
	} else {
		lm = state.Site.Weblog.LastModified
	}
	if lm.IsZero() {
		lm = a.now()
	}
	return lm
}

// ShouldRespondNotModified reports whether a client holding a copy dated by
// ifModifiedSince may keep it. Malformed or absent headers never qualify.
func ShouldRespondNotModified(lastModified time.Time, ifModifiedSince string, loggedIn bool) bool {
	if loggedIn || ifModifiedSince == "" {
		return false
	}
	since, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return false
	}
	return !lastModified.Truncate(time.Second).After(since)
}
