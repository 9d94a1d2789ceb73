// Package analyze classifies raster content to pick an output format and a
// baseline quality.
package analyze

import (
	"image"

	"github.com/Skryldev/image-optimizer/core"
)

// DefaultStride samples every 10th pixel in raster order.
const DefaultStride = 10

// bucketShift quantises each 8-bit channel to 16 levels before counting colours.
const bucketShift = 4

// Classification thresholds.  Photo needs high variance and many colours;
// graphic needs low variance or few colours, so the two never overlap.
const (
	photoMinVariance   = 20.0
	photoMinColors     = 512
	graphicMaxVariance = 10.0
	graphicMaxColors   = 256
)

// Baseline qualities per class.
const (
	QualityPhoto     = 75
	QualityGraphic   = 90
	QualityAmbiguous = 85
)

// Stats summarises a sampled raster.
type Stats struct {
	HasTransparency bool
	ColorCount      int
	AvgVariance     float64
	IsPhoto         bool
	IsGraphic       bool
	Samples         int
}

// Recommendation is the format/quality suggested for a raster.
type Recommendation struct {
	Format  core.Format
	Quality int
	Reason  string
}

// Analyzer samples pixels at a fixed stride.
type Analyzer struct {
	Stride int
}

// New returns an Analyzer; stride <= 0 selects DefaultStride.
func New(stride int) *Analyzer {
	if stride <= 0 {
		stride = DefaultStride
	}
	return &Analyzer{Stride: stride}
}

// Analyze samples img with DefaultStride.
func Analyze(img image.Image) Stats { return New(DefaultStride).Analyze(img) }

// Analyze samples every Stride-th pixel of img in raster order.  The result is
// deterministic for a given buffer and stride.
func (a *Analyzer) Analyze(img image.Image) Stats {
	var st Stats
	if img == nil {
		return st
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	total := w * h
	if total == 0 {
		return st
	}
	stride := a.Stride
	if stride <= 0 {
		stride = DefaultStride
	}

	pixel := pixelReader(img)
	colors := make(map[uint16]struct{})
	var (
		diffSum     float64
		prev        [3]uint8
		havePrev    bool
		comparisons int
	)

	for i := 0; i < total; i += stride {
		r, g, bl, al := pixel(b.Min.X+i%w, b.Min.Y+i/w)
		st.Samples++
		if al < 255 {
			st.HasTransparency = true
		}
		key := uint16(r>>bucketShift)<<8 | uint16(g>>bucketShift)<<4 | uint16(bl>>bucketShift)
		colors[key] = struct{}{}

		if havePrev {
			diffSum += float64(absDiff(r, prev[0])+absDiff(g, prev[1])+absDiff(bl, prev[2])) / 3
			comparisons++
		}
		prev = [3]uint8{r, g, bl}
		havePrev = true
	}

	st.ColorCount = len(colors)
	if comparisons > 0 {
		st.AvgVariance = diffSum / float64(comparisons)
	}
	st.IsPhoto = st.AvgVariance >= photoMinVariance && st.ColorCount >= photoMinColors
	st.IsGraphic = st.AvgVariance < graphicMaxVariance || st.ColorCount < graphicMaxColors
	return st
}

// Recommend picks an output format and quality from st.  WebP is suggested
// for lossy output only when webpSupported; JPEG otherwise.
func Recommend(st Stats, webpSupported bool) Recommendation {
	lossy := core.FormatJPEG
	if webpSupported {
		lossy = core.FormatWebP
	}
	switch {
	case st.HasTransparency:
		return Recommendation{Format: core.FormatPNG, Quality: 100, Reason: "transparency"}
	case st.IsGraphic && st.ColorCount < graphicMaxColors:
		return Recommendation{Format: core.FormatPNG, Quality: 100, Reason: "flat graphic"}
	case st.IsPhoto:
		return Recommendation{Format: lossy, Quality: QualityPhoto, Reason: "photo"}
	case st.IsGraphic:
		return Recommendation{Format: lossy, Quality: QualityGraphic, Reason: "graphic"}
	}
	return Recommendation{Format: lossy, Quality: QualityAmbiguous, Reason: "mixed content"}
}

// pixelReader returns a non-premultiplied 8-bit accessor, with fast paths for
// the buffer types the pipeline produces.
func pixelReader(img image.Image) func(x, y int) (r, g, b, a uint8) {
	switch m := img.(type) {
	case *image.RGBA:
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			i := m.PixOffset(x, y)
			p := m.Pix[i : i+4 : i+4]
			return unpremultiply(p[0], p[3]), unpremultiply(p[1], p[3]), unpremultiply(p[2], p[3]), p[3]
		}
	case *image.NRGBA:
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			i := m.PixOffset(x, y)
			p := m.Pix[i : i+4 : i+4]
			return p[0], p[1], p[2], p[3]
		}
	}
	return func(x, y int) (uint8, uint8, uint8, uint8) {
		r, g, b, a := img.At(x, y).RGBA()
		if a == 0 {
			return 0, 0, 0, 0
		}
		return uint8(r * 0xff / a), uint8(g * 0xff / a), uint8(b * 0xff / a), uint8(a >> 8)
	}
}

func unpremultiply(c, a uint8) uint8 {
	if a == 0xff || a == 0 {
		return c
	}
	return uint8(uint16(c) * 0xff / uint16(a))
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
