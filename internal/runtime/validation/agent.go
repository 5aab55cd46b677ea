package validation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

// Agent runs the validator over resolved requests.
type Agent struct {
	validator *Validator
	logger    *slog.Logger
}

// NewAgent wraps a validator as a pipeline agent.
func NewAgent(validator *Validator, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{validator: validator, logger: logger}
}

// Name identifies the validation agent for logging.
func (a *Agent) Name() string { return "validation" }

// Execute marks the request valid or finishes it with 404.
func (a *Agent) Execute(ctx context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if state.Decided() || state.Cache.Hit || state.Template == nil {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	err := a.validator.Validate(ctx, Input{
		Request:  state.Page,
		Template: state.Template,
		Weblog:   state.Site.Weblog,
		SiteWide: state.Site.FrontPage,
	})
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, ErrInvalid) {
			level = slog.LevelWarn
		}
		a.logger.Log(ctx, level, "request invalid",
			slog.String("weblog", state.Weblog),
			slog.String("correlation_id", state.CorrelationID),
			slog.Any("error", err),
		)
		state.Finish(http.StatusNotFound, "")
		return pipeline.Result{Name: a.Name(), Status: "invalid", Details: err.Error()}
	}
	state.Valid = true
	return pipeline.Result{Name: a.Name(), Status: "valid"}
}
