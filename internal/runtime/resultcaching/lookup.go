// Package resultcaching serves pages from the content caches and stores
// freshly rendered pages back into them.
package resultcaching

import (
	"context"
	"net/http"

	"github.com/l0p7/pagectrl/internal/runtime/cache"
	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// Caches selects between the per-weblog and the site-wide content cache.
type Caches struct {
	WeblogPage *cache.ContentCache
	SiteWide   *cache.ContentCache
	// ExcludeOwnerPages keeps pages of editing sessions out of the caches.
	ExcludeOwnerPages bool
}

func (c Caches) pick(state *pipeline.State) *cache.ContentCache {
	if state.Site.FrontPage {
		return c.SiteWide
	}
	return c.WeblogPage
}

// LookupAgent answers requests from cache when a fresh entry exists.
type LookupAgent struct {
	caches Caches
}

// NewLookup constructs the cache lookup agent.
func NewLookup(caches Caches) *LookupAgent {
	return &LookupAgent{caches: caches}
}

// Name identifies the lookup agent for logging.
func (a *LookupAgent) Name() string { return "cache_lookup" }

// Execute derives the cache key, decides on bypasses, and loads the entry.
func (a *LookupAgent) Execute(ctx context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if state.Decided() || !state.Parsed {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	c := a.caches.pick(state)
	if c == nil {
		state.Cache.SkipRead, state.Cache.SkipWrite = true, true
		state.Cache.SkipReason = "no cache"
		return pipeline.Result{Name: a.Name(), Status: "disabled"}
	}
	state.Cache.Name = c.Name()
	state.Cache.Key = cache.BuildKey(c.Namespace(), state.Page)

	switch {
	case state.Forwarded:
		state.Cache.SkipRead, state.Cache.SkipWrite = true, true
		state.Cache.SkipReason = "forwarded"
	case a.caches.ExcludeOwnerPages && state.Page.LoggedIn:
		state.Cache.SkipRead, state.Cache.SkipWrite = true, true
		state.Cache.SkipReason = "owner page"
	case state.Page.SkipCache:
		state.Cache.SkipRead = true
		state.Cache.SkipReason = "skipCache"
	}
	if !c.Enabled() {
		return pipeline.Result{Name: a.Name(), Status: "disabled"}
	}
	if state.Cache.SkipRead {
		return pipeline.Result{Name: a.Name(), Status: "bypassed", Details: state.Cache.SkipReason}
	}

	// For the front page the freshness timestamp is the site-wide clock, so an
	// entry stored by a render that started before the last clear is stale.
	entry, ok := c.Get(ctx, state.Cache.Key, state.Freshness.LastModified)
	if !ok {
		return pipeline.Result{Name: a.Name(), Status: "miss"}
	}
	state.Cache.Hit = true
	state.Render.Body = entry.Content
	state.Render.ContentType = entry.ContentType
	return pipeline.Result{
		Name:   a.Name(),
		Status: "hit",
		Meta:   map[string]any{"cache": c.Name(), "bytes": len(entry.Content)},
	}
}
