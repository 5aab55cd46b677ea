package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

type instrumentedAgent struct {
	inner  pipeline.Agent
	logger *slog.Logger
}

func (a *instrumentedAgent) Name() string { return a.inner.Name() }

func (a *instrumentedAgent) Execute(ctx context.Context, r *http.Request, state *pipeline.State) pipeline.Result {
	start := time.Now()
	result := a.inner.Execute(ctx, r, state)
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return result
	}
	duration := time.Since(start)

	attrs := []slog.Attr{
		slog.String("status", result.Status),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	}
	if state != nil {
		if state.Weblog != "" {
			attrs = append(attrs, slog.String("weblog", state.Weblog))
		}
		if state.CorrelationID != "" {
			attrs = append(attrs, slog.String("correlation_id", state.CorrelationID))
		}
	}
	if result.Details != "" {
		attrs = append(attrs, slog.String("details", result.Details))
	}
	if len(result.Meta) > 0 {
		attrs = append(attrs, slog.Any("meta", result.Meta))
	}

	a.logger.LogAttrs(ctx, slog.LevelDebug, "agent executed", attrs...)
	return result
}

func (p *Pipeline) instrumentAgents(agents []pipeline.Agent) []pipeline.Agent {
	if len(agents) == 0 {
		return nil
	}
	wrapped := make([]pipeline.Agent, 0, len(agents))
	for _, ag := range agents {
		if ag == nil {
			continue
		}
		logger := p.logger.With(
			slog.String("component", "runtime"),
			slog.String("agent", ag.Name()),
		)
		wrapped = append(wrapped, &instrumentedAgent{inner: ag, logger: logger})
	}
	return wrapped
}
