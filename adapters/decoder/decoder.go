// Package decoder turns encoded bytes into rasters for the pipeline.
package decoder

import (
	"context"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// Decoder reads one format.  GIF sources yield their first frame.
type Decoder struct {
	format core.Format
	decode func(io.Reader) (image.Image, error)
}

func NewJPEG() *Decoder { return &Decoder{format: core.FormatJPEG, decode: jpeg.Decode} }
func NewPNG() *Decoder  { return &Decoder{format: core.FormatPNG, decode: png.Decode} }
func NewWebP() *Decoder { return &Decoder{format: core.FormatWebP, decode: webp.Decode} }
func NewGIF() *Decoder  { return &Decoder{format: core.FormatGIF, decode: gif.Decode} }

// Register adds a decoder for every supported input format to reg.
func Register(reg *core.DefaultRegistry) {
	for _, d := range []*Decoder{NewJPEG(), NewPNG(), NewWebP(), NewGIF()} {
		reg.RegisterDecoder(d.format, d)
	}
}

func (d *Decoder) CanDecode(format core.Format) bool { return format == d.format }

func (d *Decoder) Decode(ctx context.Context, r io.Reader) (*core.SourceImage, error) {
	op := string(d.format) + ".decode"
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, op, err)
	}
	img, err := d.decode(r)
	if err != nil {
		return nil, apperrors.Of(apperrors.KindFileCorrupted, apperrors.CategoryDecode, op, err)
	}
	b := img.Bounds()
	return &core.SourceImage{
		Image:    img,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Format:   d.format,
		HasAlpha: hasAlpha(img),
	}, nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
