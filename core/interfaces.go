package core

import (
	"context"
	"image"
	"io"
)

// Decoder converts raw bytes / a reader into a SourceImage.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded SourceImage.
	Decode(ctx context.Context, r io.Reader) (*SourceImage, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises a raster buffer to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, req EncodingRequest) (EncodedResult, error)
	CanEncode(format Format) bool
}

// Compressor is an optional accelerated encode path.  The pipeline keeps its
// output only when it beats the baseline encoder.
type Compressor interface {
	Name() string
	Compress(ctx context.Context, img image.Image, req EncodingRequest) (EncodedResult, error)
	Close()
}

// StorageAdapter persists processed images and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordResult(status Status, originalSize, newSize int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
	EncoderFormats() []Format
}
