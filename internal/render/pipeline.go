package render

import (
	"context"
	"errors"
	"time"

	"github.com/flosch/pongo2/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/observability"
	"github.com/leslieo2/go-template-reload/internal/templates"
)

// Acquirer supplies the environment to render from.
type Acquirer interface {
	Acquire(ctx context.Context) (*templates.Environment, error)
}

// Options controls reconnect script injection.
type Options struct {
	// LiveReload injects the reconnect script into every successful render.
	LiveReload bool
	Endpoint   string
	Retry      time.Duration
}

// Pipeline turns a template name and data into HTML.
type Pipeline struct {
	source  Acquirer
	script  string
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewPipeline creates a pipeline rendering from source. logger, metrics and
// tracer may be nil.
func NewPipeline(source Acquirer, opts Options, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Pipeline {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if tracer == nil {
		tracer = observability.NewNopTracer()
	}
	p := &Pipeline{
		source:  source,
		logger:  logger.WithComponent("render"),
		metrics: metrics,
		tracer:  tracer,
	}
	if opts.LiveReload {
		p.script = ReconnectScript(opts.Endpoint, opts.Retry)
	}
	return p
}

// Render acquires the current environment, looks name up and executes it.
// Failures are returned as *templates.ReloadError, *templates.NotFoundError
// or *templates.RenderError. Nothing is retried.
func (p *Pipeline) Render(ctx context.Context, name string, data pongo2.Context) (string, error) {
	ctx, span := p.tracer.StartSpan(ctx, "render.template", attribute.String("template.name", name))
	defer span.End()

	start := time.Now()
	out, err := p.render(ctx, name, data)
	p.metrics.RecordRender(outcome(err), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return "", err
	}
	return out, nil
}

func (p *Pipeline) render(ctx context.Context, name string, data pongo2.Context) (string, error) {
	env, err := p.source.Acquire(ctx)
	if err != nil {
		return "", err
	}

	html, err := env.Render(name, data)
	if err != nil {
		return "", err
	}

	p.logger.Debug("Rendered template",
		zap.String("template", name),
		zap.Uint64("generation", env.Generation()),
	)
	return Inject(html, p.script), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, templates.ErrTemplateNotFound):
		return observability.OutcomeNotFound
	default:
		return observability.OutcomeFailure
	}
}
