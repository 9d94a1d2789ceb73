// Package codec owns the encoder capabilities of one optimizer instance: the
// baseline encoder registry, lazily probed format support and the optional
// accelerated compressor.
package codec

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/Skryldev/image-optimizer/adapters/decoder"
	"github.com/Skryldev/image-optimizer/adapters/encoder"
	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// Context is caller-owned encoder state passed into the pipeline.  Capability
// flags are computed once on first use and read-only afterwards.
type Context struct {
	registry   core.Registry
	compressor core.Compressor

	probeOnce sync.Once
	supported map[core.Format]bool
}

// NewContext wraps a registry and an optional compressor.
func NewContext(reg core.Registry, compressor core.Compressor) *Context {
	return &Context{registry: reg, compressor: compressor}
}

// NewDefaultRegistry registers the baseline decoders and encoders.
func NewDefaultRegistry(defaultQuality int) *core.DefaultRegistry {
	reg := core.NewRegistry()
	decoder.Register(reg)
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(defaultQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(defaultQuality))
	return reg
}

// CompressorFactory starts an accelerated compressor.
type CompressorFactory func(config.AcceleratedConfig) (core.Compressor, error)

// FromConfig builds a Context with the baseline registry and, when enabled,
// the accelerated compressor from factory.  A factory failure degrades to the
// baseline encoders and is logged, not returned.
func FromConfig(cfg config.Config, factory CompressorFactory, logger core.Logger) *Context {
	if logger == nil {
		logger = core.NopLogger{}
	}
	reg := NewDefaultRegistry(cfg.DefaultQuality)
	if !cfg.Accelerated.Enabled || factory == nil {
		return NewContext(reg, nil)
	}
	c, err := factory(cfg.Accelerated)
	if err != nil {
		if !apperrors.IsKind(err, apperrors.KindLibraryLoadFailed) {
			err = apperrors.Of(apperrors.KindLibraryLoadFailed, apperrors.CategoryEncode, "codec.accelerated", err)
		}
		logger.Warn("codec.accelerated.unavailable", "error", err.Error())
		return NewContext(reg, nil)
	}
	logger.Info("codec.accelerated.ready", "compressor", c.Name())
	return NewContext(reg, c)
}

// Registry returns the baseline codec registry.
func (c *Context) Registry() core.Registry { return c.registry }

// Compressor returns the accelerated compressor, or nil.
func (c *Context) Compressor() core.Compressor { return c.compressor }

// Close releases the accelerated compressor, if any.
func (c *Context) Close() {
	if c.compressor != nil {
		c.compressor.Close()
	}
}

// IsFormatSupported reports whether the baseline encoder for f produces output.
// Each format is probed once with a 1x1 raster; the answer is cached.
func (c *Context) IsFormatSupported(f core.Format) bool {
	c.probeOnce.Do(c.probe)
	return c.supported[f]
}

func (c *Context) probe() {
	c.supported = make(map[core.Format]bool)
	px := image.NewRGBA(image.Rect(0, 0, 1, 1))
	px.Pix[3] = 0xff
	for _, f := range c.registry.EncoderFormats() {
		enc, _ := c.registry.EncoderFor(f)
		res, err := c.encodeSync(context.Background(), enc, px, core.EncodingRequest{Format: f, Quality: 80})
		c.supported[f] = err == nil && res.ByteLength > 0
	}
}

// Encode runs the baseline encoder for req.Format on its own goroutine and
// waits for it.  ctx only bounds the wait; the encode itself is not
// interruptible once started.
func (c *Context) Encode(ctx context.Context, img image.Image, req core.EncodingRequest) (core.EncodedResult, error) {
	enc, ok := c.registry.EncoderFor(req.Format)
	if !ok {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, "codec.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, req.Format))
	}

	type outcome struct {
		res core.EncodedResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.encodeSync(ctx, enc, img, req)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return core.EncodedResult{}, apperrors.Wrap(apperrors.CategoryEncode, "codec.encode", ctx.Err())
	}
}

func (c *Context) encodeSync(ctx context.Context, enc core.Encoder, img image.Image, req core.EncodingRequest) (res core.EncodedResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, "codec.encode",
				fmt.Errorf("panic: %v", r))
		}
	}()
	res, err = enc.Encode(ctx, img, req)
	if err == nil && res.ByteLength == 0 {
		err = apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, "codec.encode", apperrors.ErrEmptyOutput)
	}
	return res, err
}
