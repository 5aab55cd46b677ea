package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/l0p7/pagectrl/internal/metrics"
	"github.com/stretchr/testify/require"
)

func newTestCache(enabled bool) *ContentCache {
	return NewContentCache(Options{Name: "weblogpage", Namespace: "weblogpage", Enabled: enabled, Metrics: metrics.NewRecorder(nil)})
}

func TestContentCacheFreshness(t *testing.T) {
	c := newTestCache(true)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, "weblogpage:acme/DEFAULT", Entry{Content: []byte("P1"), ContentType: "text/html", CreatedAt: created}))

	tests := []struct {
		name      string
		freshness time.Time
		want      bool
	}{
		{name: "freshness before creation", freshness: created.Add(-time.Second), want: true},
		{name: "freshness equal to creation", freshness: created, want: true},
		{name: "freshness after creation", freshness: created.Add(time.Nanosecond), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entry, ok := c.Get(ctx, "weblogpage:acme/DEFAULT", tc.freshness)
			require.Equal(t, tc.want, ok)
			if tc.want {
				require.Equal(t, "P1", string(entry.Content))
			}
		})
	}

	// Stale entries are bypassed, not removed.
	entry, ok := c.GetUnchecked(ctx, "weblogpage:acme/DEFAULT")
	require.True(t, ok)
	require.Equal(t, "P1", string(entry.Content))
}

func TestContentCachePutIsIdempotent(t *testing.T) {
	c := newTestCache(true)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", Entry{Content: []byte("first")}))
	require.NoError(t, c.Put(ctx, "k", Entry{Content: []byte("second")}))
	require.NoError(t, c.Put(ctx, "k", Entry{Content: []byte("second")}))

	entry, ok := c.Get(ctx, "k", time.Time{})
	require.True(t, ok)
	require.Equal(t, "second", string(entry.Content))
	require.False(t, entry.CreatedAt.IsZero())
}

func TestContentCacheDisabledIsTransparent(t *testing.T) {
	c := newTestCache(false)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", Entry{Content: []byte("x")}))
	_, ok := c.Get(ctx, "k", time.Time{})
	require.False(t, ok)
	_, ok = c.GetUnchecked(ctx, "k")
	require.False(t, ok)
	c.Remove(ctx, "k")
	c.Clear(ctx)
	size, err := c.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestContentCacheClearScopes(t *testing.T) {
	c := newTestCache(true)
	ctx := context.Background()
	for _, key := range []string{
		WeblogPrefix("weblogpage", "acme") + "DEFAULT",
		WeblogPrefix("weblogpage", "acme") + "PERMALINK/anchor=x",
		WeblogPrefix("weblogpage", "acmeblog") + "DEFAULT",
	} {
		require.NoError(t, c.Put(ctx, key, Entry{Content: []byte(key)}))
	}

	c.ClearWeblog(ctx, "acme")
	_, ok := c.GetUnchecked(ctx, "weblogpage:acme/DEFAULT")
	require.False(t, ok)
	_, ok = c.GetUnchecked(ctx, "weblogpage:acmeblog/DEFAULT")
	require.True(t, ok, "clearing one weblog must not touch a weblog sharing its prefix")

	c.Remove(ctx, "weblogpage:acmeblog/DEFAULT")
	_, ok = c.GetUnchecked(ctx, "weblogpage:acmeblog/DEFAULT")
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, "weblogpage:z/DEFAULT", Entry{}))
	c.Clear(ctx)
	size, err := c.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestContentCacheTouchIsMonotonic(t *testing.T) {
	c := newTestCache(true)
	start := c.LastModified()
	later := start.Add(time.Hour)
	c.Touch(later)
	require.True(t, later.Equal(c.LastModified()))
	c.Touch(start)
	require.True(t, later.Equal(c.LastModified()))
}

func TestContentCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(true)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := "weblogpage:acme/DEFAULT"
				if j%2 == 0 {
					_ = c.Put(ctx, key, Entry{Content: []byte("payload")})
				} else if entry, ok := c.GetUnchecked(ctx, key); ok {
					if string(entry.Content) != "payload" {
						t.Errorf("torn read: %q", entry.Content)
					}
				}
				if i == 0 && j%50 == 0 {
					c.ClearWeblog(ctx, "acme")
				}
			}
		}(i)
	}
	wg.Wait()
}
