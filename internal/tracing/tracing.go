package tracing

import (
	"context"

	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
)

// Tracer records chat runs in an external tracing service. Implementations are
// best effort: failures are logged and never reach the caller.
type Tracer interface {
	// StartRun opens a run and returns its id, or "" when the run could not be opened
	StartRun(ctx context.Context, name string, inputs map[string]any) string
	// EndRun closes a run; runErr marks it failed
	EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error)
}

// NoopTracer discards every run
type NoopTracer struct{}

func (NoopTracer) StartRun(context.Context, string, map[string]any) string { return "" }

func (NoopTracer) EndRun(context.Context, string, map[string]any, error) {}

// New returns a LangSmith tracer when tracing is enabled and configured, NoopTracer otherwise
func New(cfg config.TracingConfig) Tracer {
	if !cfg.Enabled {
		return NoopTracer{}
	}
	if cfg.APIKey == "" {
		logger.Log.Warn("LANGSMITH_TRACING is set but LANGSMITH_API_KEY is empty, tracing disabled")
		return NoopTracer{}
	}
	logger.Log.WithField("project", cfg.Project).Info("LangSmith tracing enabled")
	return NewLangSmithTracer(cfg)
}
