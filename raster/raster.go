// Package raster renders decoded sources into oriented, resized RGBA buffers.
package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// DefaultInterpolator is the high-quality kernel used by Render.
var DefaultInterpolator xdraw.Interpolator = xdraw.CatmullRom

// Render draws src into a new dims-sized buffer, applying orientation o and
// scaling in a single pass.  For 90/270 degree rotations the source is scaled
// into an axis-swapped rectangle so the rotated content fills the buffer.
func Render(src image.Image, o core.Orientation, dims core.TargetDimensions) (*image.RGBA, error) {
	if src == nil {
		return nil, apperrors.New(apperrors.CategoryRaster, "render", apperrors.ErrEmptyInput)
	}
	sb := src.Bounds()
	if sb.Empty() {
		return nil, apperrors.Of(apperrors.KindFileCorrupted, apperrors.CategoryRaster, "render", apperrors.ErrInvalidDimensions)
	}

	dst, err := Allocate(dims)
	if err != nil {
		return nil, err
	}

	if o.Rotation == 0 && !o.Mirrored {
		if sb.Dx() == dims.Width && sb.Dy() == dims.Height {
			xdraw.Copy(dst, image.Point{}, src, sb, xdraw.Src, nil)
			return dst, nil
		}
		DefaultInterpolator.Scale(dst, dst.Bounds(), src, sb, xdraw.Src, nil)
		return dst, nil
	}

	m := Matrix(sb.Dx(), sb.Dy(), o, dims)
	m[2] -= m[0]*float64(sb.Min.X) + m[1]*float64(sb.Min.Y)
	m[5] -= m[3]*float64(sb.Min.X) + m[4]*float64(sb.Min.Y)
	DefaultInterpolator.Transform(dst, m, src, sb, xdraw.Src, nil)
	return dst, nil
}

// Matrix returns the source-to-destination affine transform for a srcW x srcH
// source rendered with orientation o into a dims buffer.  Source coordinates
// are relative to the source bounds' origin.
func Matrix(srcW, srcH int, o core.Orientation, dims core.TargetDimensions) f64.Aff3 {
	W, H := float64(dims.Width), float64(dims.Height)

	// Draw rectangle in pre-rotation space.
	dw, dh := W, H
	if o.SwapsAxes() {
		dw, dh = H, W
	}
	kx, ky := dw/float64(srcW), dh/float64(srcH)

	var c, s float64
	switch o.Rotation {
	case 90:
		c, s = 0, 1
	case 180:
		c, s = -1, 0
	case 270:
		c, s = 0, -1
	default:
		c, s = 1, 0
	}
	mx := 1.0
	if o.Mirrored {
		mx = -1
	}

	// Scale into the draw rectangle, centre it, rotate clockwise, mirror on
	// the output x axis, then move the origin to the buffer's top-left.
	return f64.Aff3{
		mx * c * kx, -mx * s * ky, mx*(-c*dw/2+s*dh/2) + W/2,
		s * kx, c * ky, -s*dw/2 - c*dh/2 + H/2,
	}
}

// Allocate returns a zeroed RGBA buffer of the given size.  Sizes outside the
// raster budget, and allocation panics, fail with a CanvasMemoryError.
func Allocate(dims core.TargetDimensions) (buf *image.RGBA, err error) {
	if dims.Width < 1 || dims.Height < 1 ||
		dims.Width > core.MaxDimension || dims.Height > core.MaxDimension ||
		dims.Area() > core.MaxRasterArea {
		return nil, apperrors.Of(apperrors.KindCanvasMemory, apperrors.CategoryRaster, "allocate",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, dims.Width, dims.Height))
	}
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = apperrors.Of(apperrors.KindCanvasMemory, apperrors.CategoryRaster, "allocate",
				fmt.Errorf("allocating %dx%d: %v", dims.Width, dims.Height, r))
		}
	}()
	return image.NewRGBA(image.Rect(0, 0, dims.Width, dims.Height)), nil
}

// HasTransparency reports whether any pixel of img is not fully opaque.
func HasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// Flatten composites img onto an opaque bg-coloured buffer of the same size.
// Formats without an alpha channel are encoded from the flattened buffer.
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	canvas = imaging.Overlay(canvas, img, image.Point{}, 1.0)

	out := image.NewRGBA(canvas.Bounds())
	xdraw.Copy(out, image.Point{}, canvas, canvas.Bounds(), xdraw.Src, nil)
	return out
}
