package resultcaching

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/l0p7/pagectrl/internal/runtime/cache"
	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// StoreAgent persists freshly rendered pages for subsequent requests.
type StoreAgent struct {
	caches Caches
	logger *slog.Logger
}

// NewStore constructs the cache store agent.
func NewStore(caches Caches, logger *slog.Logger) *StoreAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreAgent{caches: caches, logger: logger}
}

// Name identifies the store agent for logging.
func (a *StoreAgent) Name() string { return "cache_store" }

// Execute stores the rendered page unless the request bypasses writes. Only
// complete renders reach the cache.
func (a *StoreAgent) Execute(ctx context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if state.Cache.Hit {
		return pipeline.Result{Name: a.Name(), Status: "hit", Details: "page served from cache"}
	}
	if state.Decided() || !state.Render.Rendered {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	if state.Cache.SkipWrite {
		return pipeline.Result{Name: a.Name(), Status: "bypassed", Details: state.Cache.SkipReason}
	}
	c := a.caches.pick(state)
	if c == nil || !c.Enabled() || state.Cache.Key == "" {
		return pipeline.Result{Name: a.Name(), Status: "disabled"}
	}

	// Dating the entry by request arrival makes a concurrent content change
	// invalidate it on the next read.
	entry := cache.Entry{
		Content:     state.Render.Body,
		ContentType: state.Render.ContentType,
		CreatedAt:   state.ReceivedAt,
	}
	if err := c.Put(ctx, state.Cache.Key, entry); err != nil {
		a.logger.Error("cache store failed",
			slog.String("agent", a.Name()),
			slog.String("weblog", state.Weblog),
			slog.String("correlation_id", state.CorrelationID),
			slog.String("cache_key", state.Cache.Key),
			slog.Any("error", err),
		)
		return pipeline.Result{Name: a.Name(), Status: "error", Details: "failed to persist page"}
	}
	state.Cache.Stored = true
	return pipeline.Result{Name: a.Name(), Status: "stored"}
}
