// Package search finds the encode quality that lands an output near a target
// byte size.
package search

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// Defaults used when Options fields are zero.
const (
	DefaultMinQuality    = 10
	DefaultMaxQuality    = 95
	DefaultMaxIterations = 10
	DefaultTolerance     = 0.10
)

// Encoder is the encode primitive the search drives.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, req core.EncodingRequest) (core.EncodedResult, error)
}

// Options bound the search.
type Options struct {
	MinQuality    int
	MaxQuality    int
	MaxIterations int
	Tolerance     float64 // fraction of the target size
}

func (o Options) withDefaults() Options {
	if o.MinQuality <= 0 {
		o.MinQuality = DefaultMinQuality
	}
	if o.MaxQuality <= 0 {
		o.MaxQuality = DefaultMaxQuality
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// Result is the chosen encode.
type Result struct {
	Encoded    core.EncodedResult
	Quality    int
	Iterations int
	InRange    bool // true when the size landed within tolerance
}

// Search binary-searches integer quality in [MinQuality, MaxQuality] so that
// the encoded size of img lands within Tolerance of targetKB.  It performs at
// most MaxIterations encodes and returns the closest encode seen when no
// midpoint lands in range.  PNG is lossless and is encoded once at quality 100.
func Search(ctx context.Context, enc Encoder, img image.Image, format core.Format, targetKB float64, opts Options) (Result, error) {
	if targetKB <= 0 || math.IsNaN(targetKB) || math.IsInf(targetKB, 0) {
		return Result{}, apperrors.New(apperrors.CategoryInput, "search",
			fmt.Errorf("%w: target size %v KB", apperrors.ErrInvalidSettings, targetKB))
	}
	opts = opts.withDefaults()

	if format.Lossless() {
		res, err := enc.Encode(ctx, img, core.EncodingRequest{Format: format, Quality: 100})
		if err != nil {
			return Result{}, err
		}
		return Result{Encoded: res, Quality: 100, Iterations: 1}, nil
	}

	target := targetKB * 1024
	tolerance := target * opts.Tolerance
	lo, hi := opts.MinQuality, opts.MaxQuality

	var (
		best     Result
		bestDist = math.Inf(1)
		iter     int
	)
	for iter < opts.MaxIterations && lo <= hi {
		if err := ctx.Err(); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CategoryEncode, "search", err)
		}
		mid := (lo + hi) / 2
		res, err := enc.Encode(ctx, img, core.EncodingRequest{Format: format, Quality: mid})
		iter++
		if err != nil {
			return Result{}, err
		}

		size := float64(res.ByteLength)
		dist := math.Abs(size - target)
		if dist <= tolerance {
			return Result{Encoded: res, Quality: mid, Iterations: iter, InRange: true}, nil
		}
		if dist < bestDist || (dist == bestDist && mid > best.Quality) {
			best = Result{Encoded: res, Quality: mid}
			bestDist = dist
		}

		if size > target {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	best.Iterations = iter
	return best, nil
}
