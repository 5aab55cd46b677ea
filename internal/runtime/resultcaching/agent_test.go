package resultcaching

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/l0p7/pagectrl/internal/runtime/cache"
	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ cache.Store }

func (failingStore) Put(context.Context, string, cache.Entry) error { return errors.New("disk full") }

func newCaches(enabled bool) Caches {
	return Caches{
		WeblogPage: cache.NewContentCache(cache.Options{Name: "weblogpage", Namespace: "weblogpage", Enabled: enabled}),
		SiteWide:   cache.NewContentCache(cache.Options{Name: "sitewide", Namespace: "sitewide", Enabled: enabled}),
	}
}

func newState(page pagerequest.Context) *pipeline.State {
	req := httptest.NewRequest(http.MethodGet, "http://blogs.local/"+page.Weblog, http.NoBody)
	state := pipeline.NewState(req, page.Weblog, "", "corr")
	state.Page = page
	state.Parsed = true
	return state
}

func render(state *pipeline.State, body string) {
	state.Render.Body = []byte(body)
	state.Render.ContentType = "text/html; charset=utf-8"
	state.Render.Rendered = true
}

func TestLookupMissStoreThenHit(t *testing.T) {
	caches := newCaches(true)
	lookup := NewLookup(caches)
	store := NewStore(caches, nil)
	page := pagerequest.Context{Weblog: "acme", Kind: pagerequest.KindDefault, Device: pagerequest.DeviceStandard}
	ctx := context.Background()

	first := newState(page)
	first.Freshness.LastModified = first.ReceivedAt.Add(-time.Minute)
	require.Equal(t, "miss", lookup.Execute(ctx, nil, first).Status)
	require.Equal(t, "weblogpage:acme/DEFAULT/device=standard", first.Cache.Key)
	render(first, "P1")
	require.Equal(t, "stored", store.Execute(ctx, nil, first).Status)
	require.True(t, first.Cache.Stored)

	second := newState(page)
	second.Freshness.LastModified = first.Freshness.LastModified
	require.Equal(t, "hit", lookup.Execute(ctx, nil, second).Status)
	require.True(t, second.Cache.Hit)
	require.Equal(t, "P1", string(second.Render.Body))
	require.Equal(t, "hit", store.Execute(ctx, nil, second).Status)

	// Content changed after the entry was produced.
	third := newState(page)
	third.Freshness.LastModified = first.ReceivedAt.Add(time.Second)
	require.Equal(t, "miss", lookup.Execute(ctx, nil, third).Status)
	require.False(t, third.Cache.Hit)
}

func TestLookupFrontPageUsesSiteWideCache(t *testing.T) {
	caches := newCaches(true)
	ctx := context.Background()
	page := pagerequest.Context{Weblog: "front", Kind: pagerequest.KindDefault, Device: pagerequest.DeviceStandard}

	state := newState(page)
	state.Site.FrontPage = true
	state.Freshness.LastModified = caches.SiteWide.LastModified()
	require.Equal(t, "miss", NewLookup(caches).Execute(ctx, nil, state).Status)
	require.Equal(t, "sitewide", state.Cache.Name)
	render(state, "front")
	NewStore(caches, nil).Execute(ctx, nil, state)

	again := newState(page)
	again.Site.FrontPage = true
	again.Freshness.LastModified = caches.SiteWide.LastModified()
	require.Equal(t, "hit", NewLookup(caches).Execute(ctx, nil, again).Status)

	size, err := caches.WeblogPage.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestFrontPageRenderFinishingAfterClearIsStale(t *testing.T) {
	caches := newCaches(true)
	lookup := NewLookup(caches)
	store := NewStore(caches, nil)
	ctx := context.Background()
	page := pagerequest.Context{Weblog: "front", Kind: pagerequest.KindDefault, Device: pagerequest.DeviceStandard}

	inFlight := newState(page)
	inFlight.Site.FrontPage = true
	inFlight.Freshness.LastModified = caches.SiteWide.LastModified()
	require.Equal(t, "miss", lookup.Execute(ctx, nil, inFlight).Status)

	// A content edit lands while the page is rendering.
	caches.SiteWide.Clear(ctx)
	caches.SiteWide.Touch(inFlight.ReceivedAt.Add(time.Millisecond))

	render(inFlight, "old front page")
	require.Equal(t, "stored", store.Execute(ctx, nil, inFlight).Status)

	next := newState(page)
	next.Site.FrontPage = true
	next.Freshness.LastModified = caches.SiteWide.LastModified()
	require.Equal(t, "miss", lookup.Execute(ctx, nil, next).Status)
	require.False(t, next.Cache.Hit)
	require.Empty(t, next.Render.Body)
}

func TestLookupBypassRules(t *testing.T) {
	tests := []struct {
		name          string
		forwarded     bool
		loggedIn      bool
		excludeOwner  bool
		skipCache     bool
		wantStatus    string
		wantSkipRead  bool
		wantSkipWrite bool
		wantStored    bool
	}{
		{name: "forwarded bypasses read and write", forwarded: true, wantStatus: "bypassed", wantSkipRead: true, wantSkipWrite: true},
		{name: "owner pages excluded", loggedIn: true, excludeOwner: true, wantStatus: "bypassed", wantSkipRead: true, wantSkipWrite: true},
		{name: "owner pages cached per user", loggedIn: true, wantStatus: "hit", wantStored: false},
		{name: "skipCache bypasses read only", skipCache: true, wantStatus: "bypassed", wantSkipRead: true, wantStored: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			caches := newCaches(true)
			caches.ExcludeOwnerPages = tc.excludeOwner
			ctx := context.Background()
			page := pagerequest.Context{Weblog: "acme", Kind: pagerequest.KindDefault, LoggedIn: tc.loggedIn, User: "alice", SkipCache: tc.skipCache}

			// Seed the entry the request would otherwise hit.
			key := cache.BuildKey("weblogpage", page)
			require.NoError(t, caches.WeblogPage.Put(ctx, key, cache.Entry{Content: []byte("old"), CreatedAt: time.Now()}))

			state := newState(page)
			state.Forwarded = tc.forwarded
			res := NewLookup(caches).Execute(ctx, nil, state)
			require.Equal(t, tc.wantStatus, res.Status)
			require.Equal(t, tc.wantSkipRead, state.Cache.SkipRead)
			require.Equal(t, tc.wantSkipWrite, state.Cache.SkipWrite)
			if state.Cache.Hit {
				return
			}

			render(state, "new")
			NewStore(caches, nil).Execute(ctx, nil, state)
			require.Equal(t, tc.wantStored, state.Cache.Stored)
			entry, ok := caches.WeblogPage.GetUnchecked(ctx, key)
			require.True(t, ok)
			if tc.wantStored {
				require.Equal(t, "new", string(entry.Content))
			} else {
				require.Equal(t, "old", string(entry.Content))
			}
		})
	}
}

func TestDisabledCacheIsTransparent(t *testing.T) {
	caches := newCaches(false)
	ctx := context.Background()
	state := newState(pagerequest.Context{Weblog: "acme", Kind: pagerequest.KindDefault})
	require.Equal(t, "disabled", NewLookup(caches).Execute(ctx, nil, state).Status)
	render(state, "P1")
	require.Equal(t, "disabled", NewStore(caches, nil).Execute(ctx, nil, state).Status)
	require.False(t, state.Cache.Stored)
}

func TestStoreSkipsFailedAndDecidedRequests(t *testing.T) {
	caches := newCaches(true)
	ctx := context.Background()
	page := pagerequest.Context{Weblog: "acme", Kind: pagerequest.KindDefault}

	unrendered := newState(page)
	NewLookup(caches).Execute(ctx, nil, unrendered)
	require.Equal(t, "skipped", NewStore(caches, nil).Execute(ctx, nil, unrendered).Status)

	notFound := newState(page)
	NewLookup(caches).Execute(ctx, nil, notFound)
	render(notFound, "partial")
	notFound.Finish(http.StatusNotFound, "")
	require.Equal(t, "skipped", NewStore(caches, nil).Execute(ctx, nil, notFound).Status)

	size, err := caches.WeblogPage.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestStoreReportsBackendErrors(t *testing.T) {
	caches := newCaches(true)
	caches.WeblogPage = cache.NewContentCache(cache.Options{Name: "weblogpage", Namespace: "weblogpage", Enabled: true, Store: failingStore{cache.NewMemory()}})
	ctx := context.Background()
	state := newState(pagerequest.Context{Weblog: "acme", Kind: pagerequest.KindDefault})
	NewLookup(caches).Execute(ctx, nil, state)
	render(state, "P1")
	require.Equal(t, "error", NewStore(caches, nil).Execute(ctx, nil, state).Status)
	require.False(t, state.Cache.Stored)
}
