// Package encoder provides the baseline raster encoders.
package encoder

import (
	"context"
	"image"
	"image/jpeg"
	"math"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/utils"
)

// JPEG encodes images to JPEG format.  Callers flatten transparent rasters
// before encoding; alpha is ignored here.
type JPEG struct {
	DefaultQuality int // used when EncodingRequest.Quality == 0
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, img image.Image, req core.EncodingRequest) (core.EncodedResult, error) {
	if err := ctx.Err(); err != nil {
		return core.EncodedResult{}, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	if img == nil {
		return core.EncodedResult{}, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", apperrors.ErrEmptyInput)
	}

	q := req.Quality
	if q <= 0 {
		q = j.DefaultQuality
	}
	quality := int(math.Round(core.NormalizeQuality(q) * 100))

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return result(buf.Bytes(), core.FormatJPEG, "jpeg.encode")
}

// result copies pooled bytes into an EncodedResult; empty output is a
// ConversionFailed error.
func result(data []byte, f core.Format, op string) (core.EncodedResult, error) {
	if len(data) == 0 {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, op, apperrors.ErrEmptyOutput)
	}
	return core.NewEncodedResult(utils.CloneBytes(data), f), nil
}
