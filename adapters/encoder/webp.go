package encoder

import (
	"context"
	"image"

	"github.com/chai2010/webp"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/utils"
)

// WebP encodes images to lossy WebP with github.com/chai2010/webp.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &WebP{DefaultQuality: defaultQuality}
}

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img image.Image, req core.EncodingRequest) (core.EncodedResult, error) {
	if err := ctx.Err(); err != nil {
		return core.EncodedResult{}, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	if img == nil {
		return core.EncodedResult{}, apperrors.New(apperrors.CategoryEncode, "webp.encode", apperrors.ErrEmptyInput)
	}

	q := req.Quality
	if q <= 0 {
		q = w.DefaultQuality
	}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	opts := &webp.Options{Quality: float32(core.NormalizeQuality(q) * 100)}
	if err := webp.Encode(buf, img, opts); err != nil {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, "webp.encode", err)
	}
	return result(buf.Bytes(), core.FormatWebP, "webp.encode")
}
