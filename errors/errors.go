// Package errors defines the structured error taxonomy used by the optimizer.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryDecode     Category = "decode"
	CategoryRaster     Category = "raster"
	CategoryEncode     Category = "encode"
	CategoryPipeline   Category = "pipeline"
	CategoryStorage    Category = "storage"
	CategoryConfig     Category = "config"
	CategoryInput      Category = "input"
)

// Kind names a failure mode a caller may want to react to.
type Kind string

const (
	KindUnknown           Kind = ""
	KindFileTooLarge      Kind = "FileTooLarge"
	KindInvalidFileType   Kind = "InvalidFileType"
	KindFileCorrupted     Kind = "FileCorrupted"
	KindCanvasMemory      Kind = "CanvasMemoryError"
	KindCompressionFailed Kind = "CompressionFailed"
	KindConversionFailed  Kind = "ConversionFailed"
	KindLibraryLoadFailed Kind = "LibraryLoadFailed"
)

// recoverable lists kinds after which a batch can move on to the next file.
var recoverable = map[Kind]bool{
	KindFileTooLarge:      true,
	KindInvalidFileType:   true,
	KindFileCorrupted:     true,
	KindCanvasMemory:      true,
	KindCompressionFailed: true,
	KindConversionFailed:  true,
	KindLibraryLoadFailed: true,
}

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category    Category
	Kind        Kind
	Op          string // operation name
	Err         error
	Recoverable bool
}

func (e *ProcessingError) Error() string {
	if e.Kind != KindUnknown {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Category, e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError without a kind.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Of creates a ProcessingError of the given kind. Recoverability follows the kind.
func Of(kind Kind, category Category, op string, err error) *ProcessingError {
	return &ProcessingError{
		Category:    category,
		Kind:        kind,
		Op:          op,
		Err:         err,
		Recoverable: recoverable[kind],
	}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// WrapKind wraps err as a ProcessingError of the given kind.  An err that
// already carries a kind keeps it.
func WrapKind(kind Kind, category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return Of(kind, category, op, err)
}

// KindOf returns the kind of the first ProcessingError in err's chain that has one.
func KindOf(err error) Kind {
	for err != nil {
		var pe *ProcessingError
		if !errors.As(err, &pe) {
			return KindUnknown
		}
		if pe.Kind != KindUnknown {
			return pe.Kind
		}
		err = pe.Err
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IsRecoverable reports whether the batch can continue after err.
func IsRecoverable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Recoverable || recoverable[KindOf(err)]
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// Sentinel errors for common failure modes.
var (
	ErrNoFiles            = errors.New("no files supplied")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrEmptyInput         = errors.New("empty input")
	ErrEmptyOutput        = errors.New("encoder produced no output")
	ErrInvalidSettings    = errors.New("invalid settings")
	ErrWorkerPoolFull     = errors.New("worker pool queue full")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
