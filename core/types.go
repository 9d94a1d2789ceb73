package core

import (
	"context"
	"image"
	"time"
)

// MaxDimension caps each axis of a raster buffer.
const MaxDimension = 16384

// MaxRasterArea is the pixel budget implied by MaxDimension.
const MaxRasterArea = MaxDimension * MaxDimension

// SourceFile is one input tuple supplied by the caller.
type SourceFile struct {
	Data     []byte
	MIMEType string
	Name     string
	Size     int64 // declared size; len(Data) when <= 0
}

// DeclaredSize returns the caller-declared byte size of the file.
func (f SourceFile) DeclaredSize() int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Data))
}

// SourceImage is a decoded raster handle.  It is never mutated.
type SourceImage struct {
	Image    image.Image
	Width    int
	Height   int
	Format   Format
	HasAlpha bool
}

// Orientation is an EXIF orientation code with its transform.
type Orientation struct {
	Code     int
	Rotation int // degrees clockwise: 0, 90, 180 or 270
	Mirrored bool
}

// SwapsAxes reports whether applying o exchanges width and height.
func (o Orientation) SwapsAxes() bool { return o.Rotation == 90 || o.Rotation == 270 }

// Upright returns the dimensions of a w x h source after applying o.
func (o Orientation) Upright(w, h int) (int, int) {
	if o.SwapsAxes() {
		return h, w
	}
	return w, h
}

// Unit selects how DimensionRequest width/height are interpreted.
type Unit string

const (
	UnitPixels  Unit = "px"
	UnitPercent Unit = "percent"
)

// DimensionRequest describes the caller's resize policy.
type DimensionRequest struct {
	ResizeEnabled          bool
	Width                  int
	Height                 int
	Unit                   Unit
	MaintainAspectRatio    bool
	KeepOriginalDimensions bool
}

// TargetDimensions is the planned output size.
type TargetDimensions struct {
	Width  int
	Height int
}

// Area returns Width*Height.
func (d TargetDimensions) Area() int { return d.Width * d.Height }

// EncodingRequest selects format and quality (1-100) for a single encode.
type EncodingRequest struct {
	Format  Format
	Quality int
}

// EncodedResult is the output of one encode.
type EncodedResult struct {
	Bytes      []byte
	ByteLength int
	MIMEType   string
}

// NewEncodedResult wraps data produced for format f.
func NewEncodedResult(data []byte, f Format) EncodedResult {
	return EncodedResult{Bytes: data, ByteLength: len(data), MIMEType: f.MIMEType()}
}

// Settings is shared by every item of a batch run.
type Settings struct {
	Format  Format // jpeg, png, webp or auto
	Quality int    // 1-100; 0 lets the analyzer pick

	// TargetSizeKB > 0 enables the quality search.
	TargetSizeKB float64

	Resize DimensionRequest

	// Quality search bounds; zero values fall back to config defaults.
	MinQuality    int
	MaxQuality    int
	MaxIterations int
	Tolerance     float64
}

// Status is the lifecycle state of a batch item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// ProcessingResult is produced once per input file.
type ProcessingResult struct {
	OriginalName   string
	OriginalSize   int64
	NewName        string
	NewSize        int64
	Format         Format
	SavingsPercent float64
	EncodedBytes   []byte
	Status         Status
	ErrorMessage   string

	Width      int
	Height     int
	Quality    int
	Iterations int
	Duration   time.Duration
}

// BatchRun aggregates the results of one batch, in input order.
type BatchRun struct {
	ID                string
	Results           []*ProcessingResult
	TotalOriginalSize int64
	TotalNewSize      int64
	SuccessCount      int
	ErrorCount        int
	Cancelled         bool
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Progress is reported after every finished item.
type Progress struct {
	RunID     string
	Completed int
	Total     int
	Percent   float64
	Last      *ProcessingResult
}

// ProgressFunc receives batch progress updates.
type ProgressFunc func(Progress)

// Item is the per-file state threaded through the pipeline steps.  Each step
// returns a new *Item; the raster buffer moves forward with it.
type Item struct {
	File     SourceFile
	Settings Settings

	Format      Format // detected source format
	Source      *SourceImage
	Orientation Orientation
	Target      TargetDimensions
	Raster      *image.RGBA

	OutputFormat Format
	Quality      int
	Iterations   int
	Encoded      *EncodedResult
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *Item and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, item *Item) (*Item, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, item *Item)
	AfterStep(ctx context.Context, stepName string, item *Item, d time.Duration, err error)
}

// Job is an asynchronous batch submitted to the Processor's worker.
type Job struct {
	ID       string
	Ctx      context.Context //nolint:containedctx // intentional for async jobs
	Files    []SourceFile
	Settings Settings
	Progress ProgressFunc
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID string
	Run   *BatchRun
	Err   error
}

// StorageKey uniquely identifies a stored output.
type StorageKey struct {
	Bucket string
	Path   string
}

// NormalizeQuality maps a 1-100 quality onto [0.1, 1.0].
func NormalizeQuality(q int) float64 {
	return min(max(float64(q)/100, 0.1), 1.0)
}
