package encoder

import (
	"context"
	"image"
	"image/png"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/utils"
)

// PNG encodes images to PNG format.  Quality is ignored.
type PNG struct {
	Level png.CompressionLevel
}

func NewPNG() *PNG { return &PNG{Level: png.BestCompression} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img image.Image, _ core.EncodingRequest) (core.EncodedResult, error) {
	if err := ctx.Err(); err != nil {
		return core.EncodedResult{}, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	if img == nil {
		return core.EncodedResult{}, apperrors.New(apperrors.CategoryEncode, "png.encode", apperrors.ErrEmptyInput)
	}

	enc := &png.Encoder{CompressionLevel: p.Level}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := enc.Encode(buf, img); err != nil {
		return core.EncodedResult{}, apperrors.Of(apperrors.KindConversionFailed, apperrors.CategoryEncode, "png.encode", err)
	}
	return result(buf.Bytes(), core.FormatPNG, "png.encode")
}
