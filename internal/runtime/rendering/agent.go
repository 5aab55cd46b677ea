package rendering

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
	"github.com/l0p7/pagectrl/internal/theme"
)

// Engine renders a template against a model.
type Engine interface {
	Render(ctx context.Context, tmpl *theme.Template, model map[string]any) ([]byte, error)
}

// Agent renders validated requests that were not served from cache.
type Agent struct {
	engine  Engine
	content ContentSource
	logger  *slog.Logger
	now     func() time.Time
}

func NewAgent(engine Engine, src ContentSource, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{engine: engine, content: src, logger: logger, now: time.Now}
}

func (a *Agent) Name() string { return "rendering" }

func (a *Agent) Execute(ctx context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if state.Decided() || state.Cache.Hit || !state.Valid || state.Template == nil {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	tmpl := state.Template
	log := a.logger.With(
		slog.String("agent", a.Name()),
		slog.String("weblog", state.Weblog),
		slog.String("template", tmpl.ID()),
		slog.String("correlation_id", state.CorrelationID),
	)

	model, err := BuildModel(ctx, a.content, ModelInput{
		Request:  state.Page,
		Template: tmpl,
		Weblog:   state.Site.Weblog,
		SiteWide: state.Site.FrontPage,
		Now:      a.now(),
	})
	if err != nil {
		log.Warn("page model failed", slog.Any("error", err))
		state.Finish(http.StatusNotFound, "")
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}

	body, err := a.engine.Render(ctx, tmpl, model)
	if err != nil {
		log.Error("render failed", slog.Any("error", err))
		state.Finish(http.StatusNotFound, "")
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}

	state.Render.Body = body
	state.Render.ContentType = ContentType(tmpl)
	state.Render.Rendered = true
	return pipeline.Result{
		Name:   a.Name(),
		Status: "rendered",
		Meta:   map[string]any{"bytes": len(body)},
	}
}
