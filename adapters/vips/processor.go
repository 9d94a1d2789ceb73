// Package vips provides the libvips-backed accelerated compression pass.
package vips

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend re-encodes rasters through libvips.  Safe for concurrent use.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips.  A library that cannot start is reported as
// LibraryLoadFailed so callers can fall back to the baseline encoders.
func NewBackend(cfg BackendConfig) (b *Backend, err error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = apperrors.Of(apperrors.KindLibraryLoadFailed, apperrors.CategoryEncode, "vips.startup",
				fmt.Errorf("%v", r))
		}
	}()
	govips.LoggingSettings(nil, govips.LogLevelError)
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}, nil
}

// Name identifies the compressor in logs.
func (b *Backend) Name() string { return "vips" }

// Close releases all libvips resources. Call once at process exit.
func (b *Backend) Close() {
	govips.Shutdown()
}

// Compress encodes img through libvips in the requested format.
func (b *Backend) Compress(ctx context.Context, img image.Image, req core.EncodingRequest) (core.EncodedResult, error) {
	if err := ctx.Err(); err != nil {
		return core.EncodedResult{}, apperrors.Wrap(apperrors.CategoryEncode, "vips.compress", err)
	}
	if img == nil {
		return core.EncodedResult{}, apperrors.New(apperrors.CategoryEncode, "vips.compress", apperrors.ErrEmptyInput)
	}

	ref, err := load(img)
	if err != nil {
		return core.EncodedResult{}, err
	}
	defer ref.Close()

	quality := int(core.NormalizeQuality(req.Quality)*100 + 0.5)
	var data []byte
	switch req.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = true
		ep.OptimizeCoding = true
		data, _, err = ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = true
		ep.Compression = 9
		data, _, err = ref.ExportPng(ep)
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.StripMetadata = true
		data, _, err = ref.ExportWebp(ep)
	default:
		return core.EncodedResult{}, apperrors.Of(apperrors.KindCompressionFailed, apperrors.CategoryEncode, "vips.compress",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, req.Format))
	}
	if err != nil {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindCompressionFailed, apperrors.CategoryEncode, "vips.compress."+string(req.Format), err)
	}
	if len(data) == 0 {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindCompressionFailed, apperrors.CategoryEncode, "vips.compress", apperrors.ErrEmptyOutput)
	}
	return core.NewEncodedResult(data, req.Format), nil
}

// load hands the raster to libvips through a fast lossless PNG.
func load(img image.Image) (*govips.ImageRef, error) {
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(buf, img); err != nil {
		return nil, apperrors.Of(apperrors.KindCompressionFailed, apperrors.CategoryEncode, "vips.load", err)
	}
	ref, err := govips.NewImageFromBuffer(utils.CloneBytes(buf.Bytes()))
	if err != nil {
		return nil, apperrors.Of(apperrors.KindCompressionFailed, apperrors.CategoryEncode, "vips.load", err)
	}
	return ref, nil
}

// compile-time interface check
var _ core.Compressor = (*Backend)(nil)

// Factory starts the backend from the accelerated-encode config.  It matches
// codec.CompressorFactory.
func Factory(cfg config.AcceleratedConfig) (core.Compressor, error) {
	b, err := NewBackend(BackendConfig{MaxCacheSize: cfg.CacheSize, MaxWorkers: cfg.Concurrency})
	if err != nil {
		return nil, err
	}
	return b, nil
}
