package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/pagectrl/internal/config"
	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/metrics"
	"github.com/l0p7/pagectrl/internal/runtime/admission"
	"github.com/l0p7/pagectrl/internal/runtime/cache"
	"github.com/l0p7/pagectrl/internal/runtime/freshness"
	"github.com/l0p7/pagectrl/internal/runtime/hitcount"
	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
	"github.com/l0p7/pagectrl/internal/runtime/referrer"
	"github.com/l0p7/pagectrl/internal/runtime/rendering"
	"github.com/l0p7/pagectrl/internal/runtime/resolver"
	"github.com/l0p7/pagectrl/internal/runtime/responsepolicy"
	"github.com/l0p7/pagectrl/internal/runtime/resultcaching"
	"github.com/l0p7/pagectrl/internal/runtime/validation"
	"github.com/l0p7/pagectrl/internal/spam"
	"github.com/l0p7/pagectrl/internal/templates"
	"github.com/l0p7/pagectrl/internal/theme"
)

// PipelineOptions carries the collaborators and settings of a Pipeline. The
// pipeline owns the caches and the hit counter and closes them in Close.
type PipelineOptions struct {
	Content           content.Reader
	Themes            theme.Provider
	Engine            *templates.Engine
	WeblogPageCache   *cache.ContentCache
	SiteWideCache     *cache.ContentCache
	Hits              *hitcount.Counter
	Sessions          admission.Identifier
	Spam              *spam.Checker
	Site              config.SiteConfig
	Referrers         config.ReferrersConfig
	CorrelationHeader string
	Metrics           *metrics.Recorder
}

type Pipeline struct {
	logger            *slog.Logger
	content           content.Reader
	engine            *templates.Engine
	weblogPage        *cache.ContentCache
	siteWide          *cache.ContentCache
	hits              *hitcount.Counter
	frontPage         string
	correlationHeader string
	metrics           *metrics.Recorder

	agents []pipeline.Agent
}

func NewPipeline(logger *slog.Logger, opts PipelineOptions) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	weblogPage := opts.WeblogPageCache
	if weblogPage == nil {
		weblogPage = cache.NewContentCache(cache.Options{Name: "weblogPage", Namespace: "weblogpage", Enabled: true, Logger: logger, Metrics: opts.Metrics})
	}
	siteWide := opts.SiteWideCache
	if siteWide == nil {
		siteWide = cache.NewContentCache(cache.Options{Name: "siteWide", Namespace: "sitewide", Enabled: true, Logger: logger, Metrics: opts.Metrics})
	}
	engine := opts.Engine
	if engine == nil {
		engine = templates.NewEngine(templates.NewRenderer(nil))
	}

	p := &Pipeline{
		logger:            logger.With(slog.String("agent", "pipeline")),
		content:           opts.Content,
		engine:            engine,
		weblogPage:        weblogPage,
		siteWide:          siteWide,
		hits:              opts.Hits,
		frontPage:         strings.TrimSpace(opts.Site.FrontPageHandle),
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		metrics:           opts.Metrics,
	}

	caches := resultcaching.Caches{
		WeblogPage:        weblogPage,
		SiteWide:          siteWide,
		ExcludeOwnerPages: opts.Site.ExcludeOwnerPages,
	}
	var hits hitcount.Recorder
	if opts.Hits != nil {
		hits = opts.Hits
	}
	agents := []pipeline.Agent{
		referrer.New(referrer.Config{
			Enabled:         opts.Referrers.Enabled,
			FrontPageHandle: p.frontPage,
			RobotPattern:    opts.Referrers.RobotPattern,
			EditorMarkers:   opts.Referrers.EditorMarkers,
			Checker:         opts.Spam,
			Weblogs:         opts.Content,
			Logger:          logger,
			Metrics:         opts.Metrics,
		}),
		admission.New(admission.Config{
			Weblogs:         opts.Content,
			Sessions:        opts.Sessions,
			FrontPageHandle: p.frontPage,
			Logger:          logger,
		}),
		freshness.New(siteWide),
		resultcaching.NewLookup(caches),
		resolver.NewAgent(resolver.New(opts.Themes, logger)),
		validation.NewAgent(validation.New(opts.Content), logger),
		hitcount.NewAgent(hits),
		rendering.NewAgent(engine, opts.Content, logger),
		resultcaching.NewStore(caches, logger),
		responsepolicy.New(),
	}
	p.agents = p.instrumentAgents(agents)
	return p
}

// Close flushes pending hits and releases the caches.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if err := p.hits.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.weblogPage.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.siteWide.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ServePage runs the page pipeline for one weblog. pathInfo is the escaped
// remainder of the path after the handle segment.
func (p *Pipeline) ServePage(w http.ResponseWriter, r *http.Request, handle, pathInfo string) {
	start := time.Now()
	correlationID := p.requestCorrelationID(r)
	state := pipeline.NewState(r, handle, pathInfo, correlationID)
	state.Forwarded = r.Method == http.MethodPost || SkipCacheRequested(r.Context())

	reqLogger := p.logger.With(
		slog.String("weblog", handle),
		slog.String("correlation_id", correlationID),
	)
	p.logDebugRequestSnapshot(r, reqLogger, state)

	for _, ag := range p.agents {
		// Agents publish their observable state via the shared pipeline.State.
		_ = ag.Execute(r.Context(), r, state)
	}

	if state.Response.Status == 0 {
		state.Finish(http.StatusInternalServerError, "pipeline did not render a response")
	}
	for k, v := range state.Response.Headers {
		w.Header().Set(k, v)
	}
	if p.correlationHeader != "" {
		w.Header().Set(p.correlationHeader, correlationID)
	}

	var body []byte
	switch {
	case state.Response.Status == http.StatusOK:
		body = state.Render.Body
	case state.Response.Status >= http.StatusBadRequest:
		body = []byte(strings.TrimSpace(state.Response.Message) + "\n")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	w.WriteHeader(state.Response.Status)
	if len(body) > 0 && r.Method != http.MethodHead {
		if _, err := w.Write(body); err != nil {
			reqLogger.Error("page response write failed", slog.Any("error", err))
		}
	}

	duration := time.Since(start)
	p.logDebugPageSnapshot(r.Context(), reqLogger, state)
	reqLogger.Info("pipeline completed",
		slog.String("status", http.StatusText(state.Response.Status)),
		slog.Int("http_status", state.Response.Status),
		slog.String("kind", string(state.Page.Kind)),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
		slog.Bool("from_cache", state.Cache.Hit),
	)
	p.metrics.ObservePage(string(state.Page.Kind), state.Response.Status, state.Cache.Hit, duration)
}

// Invalidate reacts to a content change on one weblog: its pages leave the
// per-weblog cache and the site-wide cache is cleared and re-dated.
func (p *Pipeline) Invalidate(ctx context.Context, handle string, at time.Time) {
	p.weblogPage.ClearWeblog(ctx, handle)
	p.siteWide.Clear(ctx)
	p.siteWide.Touch(at)
	p.logger.Debug("weblog invalidated", slog.String("weblog", handle), slog.Time("at", at))
}

// InvalidateAll empties both caches.
func (p *Pipeline) InvalidateAll(ctx context.Context) {
	p.weblogPage.Clear(ctx)
	p.siteWide.Clear(ctx)
	p.siteWide.Touch(time.Now())
	p.logger.Info("page caches cleared")
}

// ThemeChanged drops compiled templates of a theme and the pages rendered
// with it. The site-wide cache is cleared only when the front page uses the
// theme.
func (p *Pipeline) ThemeChanged(ctx context.Context, themeName string) {
	p.engine.Forget(themeName)
	p.weblogPage.Clear(ctx)
	if p.frontPage == "" || p.content == nil {
		return
	}
	front, err := p.content.Weblog(ctx, p.frontPage)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		p.logger.Warn("front page lookup failed", slog.Any("error", err))
	}
	if err != nil || front.Theme == themeName {
		p.siteWide.Clear(ctx)
		p.siteWide.Touch(time.Now())
	}
	p.logger.Info("theme reloaded", slog.String("theme", themeName))
}

// ServeHealth reports cache sizes, enabled flags and pending hits.
func (p *Pipeline) ServeHealth(w http.ResponseWriter, r *http.Request) {
	cacheStatus := func(c *cache.ContentCache) map[string]any {
		size, err := c.Size(r.Context())
		if err != nil {
			p.logger.Error("cache size query failed", slog.String("cache", c.Name()), slog.Any("error", err))
			size = 0
		}
		return map[string]any{
			"enabled": c.Enabled(),
			"entries": size,
		}
	}
	status := map[string]any{
		"status": "ok",
		"caches": map[string]any{
			"weblogPage": cacheStatus(p.weblogPage),
			"siteWide":   cacheStatus(p.siteWide),
		},
		"pendingHits": p.hits.Pending(),
		"observedAt":  time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		p.logger.Error("health encode failed", slog.Any("error", err))
	}
}

func (p *Pipeline) logDebugRequestSnapshot(r *http.Request, logger *slog.Logger, state *pipeline.State) {
	if r == nil || logger == nil || state == nil {
		return
	}
	ctx := r.Context()
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := []slog.Attr{
		slog.String("method", state.Raw.Method),
		slog.String("path", state.Raw.Path),
		slog.Bool("forwarded", state.Forwarded),
	}
	if state.Raw.Host != "" {
		attrs = append(attrs, slog.String("host", state.Raw.Host))
	}
	if remote := strings.TrimSpace(r.RemoteAddr); remote != "" {
		attrs = append(attrs, slog.String("remote_addr", remote))
	}
	if state.Raw.Referer != "" {
		attrs = append(attrs, slog.String("referer", state.Raw.Referer))
	}
	if state.Raw.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", state.Raw.UserAgent))
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		attrs = append(attrs, slog.String("if_modified_since", ims))
	}
	attrs = append(attrs, slog.Int("query_count", len(state.Raw.Query)))

	logger.LogAttrs(ctx, slog.LevelDebug, "page request snapshot", attrs...)
}

func (p *Pipeline) logDebugPageSnapshot(ctx context.Context, logger *slog.Logger, state *pipeline.State) {
	if logger == nil || state == nil {
		return
	}
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := []slog.Attr{
		slog.Bool("referrer_checked", state.Referrer.Checked),
		slog.Bool("referrer_spam", state.Referrer.Spam),
		slog.Bool("front_page", state.Site.FrontPage),
		slog.Bool("parsed", state.Parsed),
		slog.Bool("not_modified", state.Freshness.NotModified),
		slog.String("cache_key", state.Cache.Key),
		slog.Bool("cache_hit", state.Cache.Hit),
		slog.Bool("cache_stored", state.Cache.Stored),
		slog.Bool("valid", state.Valid),
		slog.Bool("hit_recorded", state.Hit.Recorded),
		slog.Bool("rendered", state.Render.Rendered),
		slog.Int("response_status", state.Response.Status),
	}
	if state.Referrer.Reason != "" {
		attrs = append(attrs, slog.String("referrer_reason", state.Referrer.Reason))
	}
	if state.Cache.SkipReason != "" {
		attrs = append(attrs, slog.String("cache_skip_reason", state.Cache.SkipReason))
	}
	if state.Template != nil {
		attrs = append(attrs, slog.String("template", state.Template.ID()))
	}
	if !state.Freshness.LastModified.IsZero() {
		attrs = append(attrs, slog.Time("last_modified", state.Freshness.LastModified))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "page decision snapshot", attrs...)
}
