// Package imageoptimizer optimizes batches of raster images: it decodes each
// file, applies EXIF orientation, resizes, picks a format and quality, and
// re-encodes, optionally searching for a target byte size.
package imageoptimizer

import (
	"context"

	"github.com/Skryldev/image-optimizer/codec"
	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
	"github.com/Skryldev/image-optimizer/pipeline"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
	Auto = core.FormatAuto
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// DefaultSettings returns batch settings that let the analyzer choose format
// and quality without resizing.
func DefaultSettings() core.Settings {
	return core.Settings{
		Format: core.FormatAuto,
		Resize: core.DimensionRequest{Unit: core.UnitPixels, MaintainAspectRatio: true},
	}
}

// Option customises an Optimizer.
type Option func(*options)

type options struct {
	logger  core.Logger
	metrics core.MetricsCollector
	hooks   []core.Hook
	factory codec.CompressorFactory
	codec   *codec.Context
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics attaches a metrics collector for batch results.
func WithMetrics(m core.MetricsCollector) Option { return func(o *options) { o.metrics = m } }

// WithHooks registers observers for pipeline step events.
func WithHooks(h ...core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h...) } }

// WithCompressorFactory supplies the accelerated compressor used when
// cfg.Accelerated.Enabled is set.
func WithCompressorFactory(f codec.CompressorFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithCodec uses a prepared codec context instead of building one from config.
func WithCodec(c *codec.Context) Option { return func(o *options) { o.codec = c } }

// Optimizer is the primary entry point.
type Optimizer struct {
	cfg      config.Config
	inner    *core.Processor
	codec    *codec.Context
	pipeline *pipeline.Pipeline
}

// New creates a fully wired Optimizer.  The configuration is validated first.
func New(cfg config.Config, opts ...Option) (*Optimizer, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	o := options{logger: core.NopLogger{}}
	for _, fn := range opts {
		fn(&o)
	}

	c := o.codec
	if c == nil {
		c = codec.FromConfig(cfg, o.factory, o.logger)
	}
	pl := pipeline.Default(c, cfg, o.logger)
	for _, h := range o.hooks {
		pl.AddHook(h)
	}

	inner := core.New(cfg, pl)
	inner.SetLogger(o.logger)
	inner.SetMetrics(o.metrics)
	return &Optimizer{cfg: cfg, inner: inner, codec: c, pipeline: pl}, nil
}

// Optimize processes files sequentially with one shared settings value.
func (p *Optimizer) Optimize(ctx context.Context, files []core.SourceFile, settings core.Settings) (*core.BatchRun, error) {
	return p.inner.Run(ctx, files, settings, nil)
}

// OptimizeWithProgress is Optimize with a callback after every item.
func (p *Optimizer) OptimizeWithProgress(ctx context.Context, files []core.SourceFile, settings core.Settings, progress core.ProgressFunc) (*core.BatchRun, error) {
	return p.inner.Run(ctx, files, settings, progress)
}

// IsFormatSupported reports whether output format f can be encoded.
func (p *Optimizer) IsFormatSupported(f core.Format) bool { return p.codec.IsFormatSupported(f) }

// Start starts the background batch worker.
func (p *Optimizer) Start() { p.inner.Start() }

// Stop shuts down the batch worker.
func (p *Optimizer) Stop() { p.inner.Stop() }

// Submit enqueues an async batch for the worker.
func (p *Optimizer) Submit(job core.Job) error { return p.inner.Submit(job) }

// Close stops the worker and releases the accelerated compressor.
func (p *Optimizer) Close() {
	p.inner.Stop()
	p.codec.Close()
}

// Steps returns the names of the per-item pipeline steps.
func (p *Optimizer) Steps() []string { return p.pipeline.Steps() }

// Stats returns lightweight processing statistics.
func (p *Optimizer) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// GenerateOutputFilename returns "{base}_optimized.{ext}" for a format token
// such as "jpeg", "png" or "webp".
func GenerateOutputFilename(name, format string) string {
	f := core.ParseFormat(format)
	if f == core.FormatUnknown {
		f = core.Format(format)
	}
	return core.OutputFilename(name, f)
}
