package templates

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leslieo2/go-template-reload/internal/hotreload"
	"github.com/leslieo2/go-template-reload/internal/observability"
)

// CompileFunc builds a fresh environment for root.
type CompileFunc func(root string, generation uint64) (*Environment, error)

// AutoReloader hands out the current Environment and rebuilds it lazily
// after a change has been observed. Readers never see a partially built
// environment and at most one rebuild runs at a time.
type AutoReloader struct {
	root    string
	compile CompileFunc

	current    atomic.Pointer[Environment]
	dirty      atomic.Bool
	generation atomic.Uint64
	lastErr    atomic.Pointer[ReloadError]
	group      singleflight.Group

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures an AutoReloader.
type Option func(*AutoReloader)

func WithLogger(logger *observability.Logger) Option {
	return func(r *AutoReloader) { r.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *AutoReloader) { r.metrics = metrics }
}

func WithTracer(tracer *observability.Tracer) Option {
	return func(r *AutoReloader) { r.tracer = tracer }
}

// WithCompiler replaces the pongo2 compiler.
func WithCompiler(compile CompileFunc) Option {
	return func(r *AutoReloader) { r.compile = compile }
}

// NewAutoReloader creates a reloader for root. It starts stale, so the first
// Acquire compiles.
func NewAutoReloader(root string, opts ...Option) *AutoReloader {
	r := &AutoReloader{
		root:    root,
		compile: Compile,
		logger:  observability.NewNopLogger(),
		tracer:  observability.NewNopTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("reloader")
	r.dirty.Store(true)
	return r
}

// MarkStale records that the sources changed. The next Acquire rebuilds.
func (r *AutoReloader) MarkStale() {
	r.dirty.Store(true)
}

// OnChange marks the environment stale for every change event.
// It has the hub listener signature and never blocks.
func (r *AutoReloader) OnChange(_ context.Context, _ hotreload.Event) error {
	r.MarkStale()
	return nil
}

// Stale reports whether a rebuild is pending.
func (r *AutoReloader) Stale() bool {
	return r.dirty.Load() || r.current.Load() == nil
}

// Current returns the installed environment without rebuilding. It is nil
// until the first successful compile.
func (r *AutoReloader) Current() *Environment {
	return r.current.Load()
}

// LastError returns the most recent rebuild failure, or nil if the last
// rebuild succeeded.
func (r *AutoReloader) LastError() *ReloadError {
	return r.lastErr.Load()
}

// Acquire returns an up-to-date environment. When a change has been
// observed it compiles a fresh one first; callers arriving during that
// compile wait for it and share its result.
//
// A failed compile returns a *ReloadError and leaves the previous
// environment installed. Later calls return that environment until
// another change is observed.
func (r *AutoReloader) Acquire(ctx context.Context) (*Environment, error) {
	if !r.dirty.Load() {
		if env := r.current.Load(); env != nil {
			return env, nil
		}
	}

	v, err, _ := r.group.Do("rebuild", func() (interface{}, error) {
		return r.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Environment), nil
}

func (r *AutoReloader) rebuild(ctx context.Context) (*Environment, error) {
	// Clearing the flag before compiling lets a change that lands during
	// the compile mark the new snapshot stale again.
	if !r.dirty.Swap(false) {
		if env := r.current.Load(); env != nil {
			return env, nil
		}
	}

	generation := r.generation.Add(1)
	_, span := r.tracer.StartSpan(ctx, "templates.rebuild",
		attribute.String("templates.root", r.root),
		attribute.Int64("templates.generation", int64(generation)),
	)
	defer span.End()

	start := time.Now()
	env, err := r.compile(r.root, generation)
	elapsed := time.Since(start)
	r.metrics.RecordRebuild(err, elapsed)

	if err != nil {
		reloadErr := &ReloadError{Root: r.root, Generation: generation, Err: err}
		r.lastErr.Store(reloadErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "compile failed")

		fields := []zap.Field{zap.Uint64("generation", generation), zap.Error(err)}
		if prev := r.current.Load(); prev != nil {
			fields = append(fields, zap.Uint64("serving_generation", prev.Generation()))
		}
		r.logger.Error("Template rebuild failed, keeping previous environment", fields...)
		return nil, reloadErr
	}

	r.current.Store(env)
	r.lastErr.Store(nil)
	span.SetAttributes(attribute.Int("templates.count", env.Len()))
	r.logger.Info("Templates rebuilt",
		zap.Uint64("generation", generation),
		zap.Int("templates", env.Len()),
		zap.Duration("elapsed", elapsed),
	)
	return env, nil
}
