package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/Skryldev/image-optimizer/analyze"
	"github.com/Skryldev/image-optimizer/codec"
	"github.com/Skryldev/image-optimizer/core"
	"github.com/Skryldev/image-optimizer/dimension"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/orientation"
	"github.com/Skryldev/image-optimizer/raster"
	"github.com/Skryldev/image-optimizer/search"
	"github.com/Skryldev/image-optimizer/utils"
)

// ── Validate ──────────────────────────────────────────────────────────────────

// ValidateStep checks size limits and determines the source format from the
// file content, falling back to the declared MIME type.
type ValidateStep struct {
	Registry     core.Registry
	MaxFileBytes int64 // 0 = no limit
}

func (s *ValidateStep) Name() string { return "validate" }

func (s *ValidateStep) Execute(_ context.Context, item *core.Item) (*core.Item, error) {
	f := item.File
	if s.MaxFileBytes > 0 && (f.DeclaredSize() > s.MaxFileBytes || int64(len(f.Data)) > s.MaxFileBytes) {
		return nil, apperrors.Of(apperrors.KindFileTooLarge, apperrors.CategoryValidation, s.Name(),
			fmt.Errorf("%s: %d bytes exceeds limit of %d", f.Name, f.DeclaredSize(), s.MaxFileBytes))
	}
	if len(f.Data) == 0 {
		return nil, apperrors.Of(apperrors.KindFileCorrupted, apperrors.CategoryValidation, s.Name(), apperrors.ErrEmptyInput)
	}

	format := core.ParseFormat(utils.DetectFormat(f.Data))
	if format == core.FormatUnknown {
		format = core.FormatFromMIME(f.MIMEType)
	}
	if _, ok := s.Registry.DecoderFor(format); !ok {
		return nil, apperrors.Of(apperrors.KindInvalidFileType, apperrors.CategoryValidation, s.Name(),
			fmt.Errorf("%w: %s (%q)", apperrors.ErrUnsupportedFormat, f.Name, f.MIMEType))
	}

	out := *item
	out.Format = format
	return &out, nil
}

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes the file bytes into a SourceImage.  Sources whose header
// declares more pixels than the raster budget are rejected before decoding.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, item *core.Item) (*core.Item, error) {
	dec, ok := s.Registry.DecoderFor(item.Format)
	if !ok {
		return nil, apperrors.Of(apperrors.KindInvalidFileType, apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, item.Format))
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(item.File.Data)); err == nil {
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return nil, apperrors.Of(apperrors.KindFileCorrupted, apperrors.CategoryDecode, s.Name(), apperrors.ErrInvalidDimensions)
		}
		if int64(cfg.Width)*int64(cfg.Height) > core.MaxRasterArea {
			return nil, apperrors.Of(apperrors.KindCanvasMemory, apperrors.CategoryDecode, s.Name(),
				fmt.Errorf("source %dx%d exceeds pixel budget", cfg.Width, cfg.Height))
		}
	}

	src, err := dec.Decode(ctx, bytes.NewReader(item.File.Data))
	if err != nil {
		return nil, apperrors.WrapKind(apperrors.KindFileCorrupted, apperrors.CategoryDecode, s.Name(), err)
	}
	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return nil, apperrors.Of(apperrors.KindFileCorrupted, apperrors.CategoryDecode, s.Name(), apperrors.ErrInvalidDimensions)
	}

	out := *item
	out.Source = src
	return &out, nil
}

// ── Orient ────────────────────────────────────────────────────────────────────

// OrientStep reads the EXIF orientation of JPEG sources.
type OrientStep struct{}

func (s *OrientStep) Name() string { return "orient" }

func (s *OrientStep) Execute(_ context.Context, item *core.Item) (*core.Item, error) {
	out := *item
	out.Orientation = orientation.Resolve(item.File.Data, item.Format.MIMEType())
	return &out, nil
}

// ── Plan ──────────────────────────────────────────────────────────────────────

// PlanStep computes the target dimensions from the upright source size.
type PlanStep struct{}

func (s *PlanStep) Name() string { return "plan" }

func (s *PlanStep) Execute(_ context.Context, item *core.Item) (*core.Item, error) {
	if item.Source == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	w, h := item.Orientation.Upright(item.Source.Width, item.Source.Height)

	out := *item
	out.Target = dimension.Plan(w, h, item.Settings.Resize)
	return &out, nil
}

// ── Render ────────────────────────────────────────────────────────────────────

// RenderStep draws the source into the target raster.  The decoded source is
// dropped from the item once rendered.
type RenderStep struct{}

func (s *RenderStep) Name() string { return "render" }

func (s *RenderStep) Execute(_ context.Context, item *core.Item) (*core.Item, error) {
	if item.Source == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	buf, err := raster.Render(item.Source.Image, item.Orientation, item.Target)
	if err != nil {
		return nil, err
	}

	out := *item
	out.Raster = buf
	out.Source = nil
	return &out, nil
}

// ── Analyze ───────────────────────────────────────────────────────────────────

// AnalyzeStep resolves the output format and quality.  Content analysis runs
// only when the format is auto or no quality was given.
type AnalyzeStep struct {
	Codec    *codec.Context
	Analyzer *analyze.Analyzer
}

func (s *AnalyzeStep) Name() string { return "analyze" }

func (s *AnalyzeStep) Execute(_ context.Context, item *core.Item) (*core.Item, error) {
	if item.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	format, quality := item.Settings.Format, item.Settings.Quality
	webpOK := s.Codec.IsFormatSupported(core.FormatWebP)

	if format == core.FormatAuto || quality == 0 {
		a := s.Analyzer
		if a == nil {
			a = analyze.New(analyze.DefaultStride)
		}
		rec := analyze.Recommend(a.Analyze(item.Raster), webpOK)
		if format == core.FormatAuto {
			format = rec.Format
		}
		if quality == 0 {
			quality = rec.Quality
		}
	}
	if format == core.FormatWebP && !webpOK {
		format = core.FormatJPEG
	}

	out := *item
	out.OutputFormat = format
	out.Quality = quality
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep produces the baseline encode.  A positive TargetSizeKB runs the
// quality search; a failed search falls back to one encode at item quality.
type EncodeStep struct {
	Codec  *codec.Context
	Logger core.Logger
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, item *core.Item) (*core.Item, error) {
	if item.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	out := *item
	if out.OutputFormat == core.FormatJPEG && raster.HasTransparency(out.Raster) {
		out.Raster = raster.Flatten(out.Raster, color.White)
	}

	if kb := out.Settings.TargetSizeKB; kb > 0 {
		res, err := search.Search(ctx, s.Codec, out.Raster, out.OutputFormat, kb, search.Options{
			MinQuality:    out.Settings.MinQuality,
			MaxQuality:    out.Settings.MaxQuality,
			MaxIterations: out.Settings.MaxIterations,
			Tolerance:     out.Settings.Tolerance,
		})
		if err == nil {
			out.Encoded = &res.Encoded
			out.Quality = res.Quality
			out.Iterations = res.Iterations
			return &out, nil
		}
		if !apperrors.IsRecoverable(err) {
			return nil, err
		}
		logger(s.Logger).Warn("pipeline.search.fallback", "file", item.File.Name, "error", err.Error())
	}

	res, err := s.Codec.Encode(ctx, out.Raster, core.EncodingRequest{Format: out.OutputFormat, Quality: out.Quality})
	if err != nil {
		return nil, apperrors.WrapKind(apperrors.KindConversionFailed, apperrors.CategoryEncode, s.Name(), err)
	}
	out.Encoded = &res
	out.Iterations = 1
	return &out, nil
}

// ── Compress ──────────────────────────────────────────────────────────────────

// CompressStep re-encodes through the accelerated compressor when one is
// configured and keeps whichever output is smaller.  Compressor failures are
// logged and the baseline encode is kept.
type CompressStep struct {
	Codec  *codec.Context
	Logger core.Logger
}

func (s *CompressStep) Name() string { return "compress" }

func (s *CompressStep) Execute(ctx context.Context, item *core.Item) (*core.Item, error) {
	c := s.Codec.Compressor()
	if c == nil || item.Encoded == nil || item.Raster == nil {
		return item, nil
	}

	res, err := c.Compress(ctx, item.Raster, core.EncodingRequest{Format: item.OutputFormat, Quality: item.Quality})
	if err != nil {
		err = apperrors.WrapKind(apperrors.KindCompressionFailed, apperrors.CategoryEncode, s.Name(), err)
		logger(s.Logger).Warn("pipeline.compress.skipped",
			"file", item.File.Name,
			"compressor", c.Name(),
			"error", err.Error(),
		)
		return item, nil
	}
	if res.ByteLength == 0 || res.MIMEType != item.OutputFormat.MIMEType() || res.ByteLength >= item.Encoded.ByteLength {
		return item, nil
	}

	out := *item
	out.Encoded = &res
	return &out, nil
}

// ── Convert ───────────────────────────────────────────────────────────────────

// ConvertStep guarantees the encoded MIME type matches the output format.  A
// mismatch triggers one fixed-quality baseline encode in the target format.
type ConvertStep struct {
	Codec *codec.Context
}

func (s *ConvertStep) Name() string { return "convert" }

func (s *ConvertStep) Execute(ctx context.Context, item *core.Item) (*core.Item, error) {
	if item.Encoded == nil {
		return nil, apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyOutput)
	}
	want := item.OutputFormat.MIMEType()
	if item.Encoded.MIMEType == want {
		return item, nil
	}

	res, err := s.Codec.Encode(ctx, item.Raster, core.EncodingRequest{Format: item.OutputFormat, Quality: item.Quality})
	if err == nil && res.MIMEType != want {
		err = fmt.Errorf("got %s, want %s", res.MIMEType, want)
	}
	if err != nil {
		return nil, apperrors.WrapKind(apperrors.KindConversionFailed, apperrors.CategoryEncode, s.Name(), err)
	}

	out := *item
	out.Encoded = &res
	return &out, nil
}

func logger(l core.Logger) core.Logger {
	if l == nil {
		return core.NopLogger{}
	}
	return l
}
