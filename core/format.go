package core

import (
	"path"
	"strings"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatGIF     Format = "gif"
	FormatAuto    Format = "auto"
	FormatUnknown Format = "unknown"
)

type formatInfo struct {
	mime string
	ext  string
}

var formats = map[Format]formatInfo{
	FormatJPEG: {mime: "image/jpeg", ext: "jpg"},
	FormatPNG:  {mime: "image/png", ext: "png"},
	FormatWebP: {mime: "image/webp", ext: "webp"},
	FormatGIF:  {mime: "image/gif", ext: "gif"},
}

// ParseFormat maps a format token ("jpeg", "jpg", "PNG", ...) to a Format.
func ParseFormat(token string) Format {
	switch t := strings.ToLower(strings.TrimSpace(token)); t {
	case "jpeg", "jpg":
		return FormatJPEG
	case "png", "webp", "gif", "auto":
		return Format(t)
	}
	return FormatUnknown
}

// FormatFromMIME maps a MIME type to a Format.
func FormatFromMIME(mime string) Format {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	case "image/gif":
		return FormatGIF
	}
	return FormatUnknown
}

// MIMEType returns the MIME type of f, or "" for unknown formats.
func (f Format) MIMEType() string { return formats[f].mime }

// Extension returns the file extension of f without the dot.
func (f Format) Extension() string {
	if info, ok := formats[f]; ok {
		return info.ext
	}
	return string(f)
}

// Lossless reports whether quality has no effect for f.
func (f Format) Lossless() bool { return f == FormatPNG || f == FormatGIF }

// IsOutput reports whether f may be requested as a batch output format.
func (f Format) IsOutput() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWebP, FormatAuto:
		return true
	}
	return false
}

// OutputFilename builds "{base}_optimized.{ext}" where base is name with its
// last extension stripped.
func OutputFilename(name string, f Format) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	return base + "_optimized." + f.Extension()
}
