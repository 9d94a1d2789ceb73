// Package dimension plans output raster sizes from resize requests.
package dimension

import (
	"math"

	"github.com/Skryldev/image-optimizer/core"
)

// Plan computes the output dimensions for an upright srcW x srcH source.
// The result is always within [1, core.MaxDimension] on both axes.  A
// requested axis <= 0 counts as not given.
func Plan(srcW, srcH int, req core.DimensionRequest) core.TargetDimensions {
	srcW, srcH = max(srcW, 1), max(srcH, 1)

	w, h := srcW, srcH
	if req.ResizeEnabled && !req.KeepOriginalDimensions {
		w, h = requested(srcW, srcH, req)
	}

	w, h = max(w, 1), max(h, 1)
	if longest := max(w, h); longest > core.MaxDimension {
		scale := float64(core.MaxDimension) / float64(longest)
		w = clamp(round(float64(w) * scale))
		h = clamp(round(float64(h) * scale))
	}
	return core.TargetDimensions{Width: w, Height: h}
}

func requested(srcW, srcH int, req core.DimensionRequest) (int, int) {
	reqW, reqH := req.Width, req.Height
	hasW, hasH := reqW > 0, reqH > 0
	if req.Unit == core.UnitPercent {
		// A tiny percentage still yields a 1px axis, not the source size.
		if hasW {
			reqW = max(round(float64(srcW)*float64(reqW)/100), 1)
		}
		if hasH {
			reqH = max(round(float64(srcH)*float64(reqH)/100), 1)
		}
	}

	if !req.MaintainAspectRatio {
		w, h := srcW, srcH
		if hasW {
			w = reqW
		}
		if hasH {
			h = reqH
		}
		return w, h
	}

	aspect := float64(srcW) / float64(srcH)
	switch {
	case hasW && hasH:
		scale := math.Min(float64(reqW)/float64(srcW), float64(reqH)/float64(srcH))
		return round(float64(srcW) * scale), round(float64(srcH) * scale)
	case hasW:
		return reqW, round(float64(reqW) / aspect)
	case hasH:
		return round(float64(reqH) * aspect), reqH
	}
	return srcW, srcH
}

func round(v float64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Round(v))
}

func clamp(v int) int { return min(max(v, 1), core.MaxDimension) }
