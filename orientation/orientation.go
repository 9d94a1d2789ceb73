// Package orientation resolves the EXIF orientation of a source file.
package orientation

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/Skryldev/image-optimizer/core"
)

// Normal is orientation code 1: no rotation, no mirroring.
var Normal = core.Orientation{Code: 1}

var table = [9]core.Orientation{
	1: {Code: 1, Rotation: 0, Mirrored: false},
	2: {Code: 2, Rotation: 0, Mirrored: true},
	3: {Code: 3, Rotation: 180, Mirrored: false},
	4: {Code: 4, Rotation: 180, Mirrored: true},
	5: {Code: 5, Rotation: 90, Mirrored: true},
	6: {Code: 6, Rotation: 90, Mirrored: false},
	7: {Code: 7, Rotation: 270, Mirrored: true},
	8: {Code: 8, Rotation: 270, Mirrored: false},
}

// FromCode maps an EXIF orientation code to its transform.  Codes outside
// 1-8 map to Normal.
func FromCode(code int) core.Orientation {
	if code < 1 || code > 8 {
		return Normal
	}
	return table[code]
}

// Resolve reads the orientation of a JPEG file.  Any other MIME type, and any
// failure to read EXIF, yields Normal.
func Resolve(data []byte, mimeType string) core.Orientation {
	if core.FormatFromMIME(mimeType) != core.FormatJPEG || len(data) == 0 {
		return Normal
	}
	return FromCode(readCode(data))
}

func readCode(data []byte) (code int) {
	// goexif can panic on some truncated IFDs.
	defer func() {
		if recover() != nil {
			code = 1
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}
