package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/image-optimizer/config"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, item *Item) (*Item, map[string]time.Duration, error)
}

// Processor is the batch orchestrator.  Items of a batch run strictly one at a
// time and Run admits one batch at a time, whether called directly or by the
// async worker, so at most one source image and one raster buffer are live per
// Processor.
type Processor struct {
	cfg     config.Config
	runner  PipelineRunner
	logger  Logger
	metrics MetricsCollector

	// running admits one batch at a time; callers wait on it.
	running chan struct{}

	// Single-worker queue for async batches.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor running every item through runner.  Call Start()
// before submitting async jobs; call Stop() when done.
func New(cfg config.Config, runner PipelineRunner) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Processor{
		cfg:      cfg,
		runner:   runner,
		logger:   NopLogger{},
		jobQueue: make(chan Job, queueSize),
		running:  make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	p.logger = l
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// Start launches the batch worker.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		p.wg.Add(1)
		go p.worker()
	})
}

// Stop shuts down the worker after its current batch.  Queued jobs that were
// not started are dropped.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// Submit enqueues an async batch.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	if len(job.Files) == 0 {
		return apperrors.New(apperrors.CategoryInput, "submit", apperrors.ErrNoFiles)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Run processes files sequentially with one shared Settings and returns the
// finished BatchRun.  Per-file failures are recorded on the run; only an empty
// file list or invalid settings are returned as errors before any item runs.
// Cancelling ctx stops the run at the next item boundary; the partial run is
// returned together with the cancellation error.
func (p *Processor) Run(ctx context.Context, files []SourceFile, settings Settings, progress ProgressFunc) (*BatchRun, error) {
	if len(files) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "run", apperrors.ErrNoFiles)
	}
	settings = p.resolveSettings(settings)
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	select {
	case p.running <- struct{}{}:
		defer func() { <-p.running }()
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "run", ctx.Err())
	}

	run := &BatchRun{
		ID:        uuid.NewString(),
		Results:   make([]*ProcessingResult, 0, len(files)),
		StartedAt: time.Now(),
	}
	p.logger.Info("batch.start", "run", run.ID, "files", len(files), "format", settings.Format)

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			run.Cancelled = true
			break
		}

		res := p.processItem(ctx, file, settings)
		p.record(run, res)
		if progress != nil {
			progress(Progress{
				RunID:     run.ID,
				Completed: i + 1,
				Total:     len(files),
				Percent:   float64(i+1) / float64(len(files)) * 100,
				Last:      res,
			})
		}

		if i < len(files)-1 {
			p.pause(ctx)
		}
	}

	run.FinishedAt = time.Now()
	p.logger.Info("batch.done",
		"run", run.ID,
		"succeeded", run.SuccessCount,
		"failed", run.ErrorCount,
		"cancelled", run.Cancelled,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)
	if run.Cancelled {
		return run, apperrors.Wrap(apperrors.CategoryPipeline, "run", ctx.Err())
	}
	return run, nil
}

// processItem runs one file to a terminal status.  The item itself is not
// interrupted by ctx; cancellation is honoured between items only.
func (p *Processor) processItem(ctx context.Context, file SourceFile, settings Settings) *ProcessingResult {
	res := &ProcessingResult{
		OriginalName: file.Name,
		OriginalSize: file.DeclaredSize(),
		Status:       StatusPending,
	}
	res.advance(StatusProcessing)

	start := time.Now()
	item, _, err := p.safeRun(context.WithoutCancel(ctx), &Item{File: file, Settings: settings})
	res.Duration = time.Since(start)

	if err == nil && (item == nil || item.Encoded == nil) {
		err = apperrors.New(apperrors.CategoryPipeline, "run", apperrors.ErrEmptyOutput)
	}
	if err != nil {
		res.ErrorMessage = err.Error()
		res.advance(StatusError)
		atomic.AddInt64(&p.errorCount, 1)
		p.logger.Warn("batch.item.error", "file", file.Name, "kind", string(apperrors.KindOf(err)), "error", err.Error())
		return res
	}

	enc := item.Encoded
	res.NewName = OutputFilename(file.Name, item.OutputFormat)
	res.NewSize = int64(enc.ByteLength)
	res.Format = item.OutputFormat
	res.EncodedBytes = enc.Bytes
	res.SavingsPercent = SavingsPercent(res.OriginalSize, res.NewSize)
	res.Width = item.Target.Width
	res.Height = item.Target.Height
	res.Quality = item.Quality
	res.Iterations = item.Iterations
	res.advance(StatusDone)
	atomic.AddInt64(&p.processedCount, 1)
	p.logger.Debug("batch.item.done",
		"file", file.Name,
		"output", res.NewName,
		"original_bytes", res.OriginalSize,
		"new_bytes", res.NewSize,
		"savings_pct", res.SavingsPercent,
	)
	return res
}

// safeRun converts a panic inside a step into an item error so one bad file
// never takes the batch down.
func (p *Processor) safeRun(ctx context.Context, item *Item) (out *Item, timings map[string]time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, timings = nil, nil
			err = apperrors.New(apperrors.CategoryPipeline, "run", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.runner.Run(ctx, item)
}

func (p *Processor) record(run *BatchRun, res *ProcessingResult) {
	run.Results = append(run.Results, res)
	if res.Status == StatusDone {
		run.SuccessCount++
		run.TotalOriginalSize += res.OriginalSize
		run.TotalNewSize += res.NewSize
	} else {
		run.ErrorCount++
	}
	if p.metrics != nil {
		p.metrics.RecordResult(res.Status, res.OriginalSize, res.NewSize)
	}
}

// pause yields between items so other goroutines get scheduled.
func (p *Processor) pause(ctx context.Context) {
	if p.cfg.ItemPause <= 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(p.cfg.ItemPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// resolveSettings fills unset search bounds and quality from the config.
func (p *Processor) resolveSettings(s Settings) Settings {
	if s.Format == "" {
		s.Format = FormatAuto
	}
	if s.Resize.Unit == "" {
		s.Resize.Unit = UnitPixels
	}
	if s.MinQuality == 0 {
		s.MinQuality = p.cfg.Search.MinQuality
	}
	if s.MaxQuality == 0 {
		s.MaxQuality = p.cfg.Search.MaxQuality
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = p.cfg.Search.MaxIterations
	}
	if s.Tolerance == 0 {
		s.Tolerance = p.cfg.Search.Tolerance
	}
	return s
}

// ValidateSettings reports structural problems with batch settings.
func ValidateSettings(s Settings) error {
	fail := func(format string, args ...any) error {
		return apperrors.New(apperrors.CategoryConfig, "settings",
			fmt.Errorf("%w: "+format, append([]any{apperrors.ErrInvalidSettings}, args...)...))
	}
	if !s.Format.IsOutput() {
		return fail("output format %q", s.Format)
	}
	if s.Quality < 0 || s.Quality > 100 {
		return fail("quality %d out of range", s.Quality)
	}
	if s.TargetSizeKB < 0 {
		return fail("negative target size")
	}
	if s.Resize.Unit != UnitPixels && s.Resize.Unit != UnitPercent {
		return fail("unit %q", s.Resize.Unit)
	}
	if s.Resize.Width < 0 || s.Resize.Height < 0 {
		return fail("negative resize dimension")
	}
	if s.MinQuality < 1 || s.MaxQuality > 100 || s.MinQuality > s.MaxQuality {
		return fail("quality bounds [%d, %d]", s.MinQuality, s.MaxQuality)
	}
	if s.MaxIterations <= 0 {
		return fail("max iterations %d", s.MaxIterations)
	}
	if s.Tolerance <= 0 || s.Tolerance >= 1 {
		return fail("tolerance %v", s.Tolerance)
	}
	return nil
}

// SavingsPercent returns the size reduction in percent, floored at 0.
func SavingsPercent(original, optimized int64) float64 {
	if original <= 0 || optimized >= original {
		return 0
	}
	return float64(original-optimized) / float64(original) * 100
}

// ── worker internals ──────────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job := <-p.jobQueue:
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := p.cfg.JobTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	run, err := p.Run(ctx, job.Files, job.Settings, job.Progress)
	if job.ResultCh != nil {
		select {
		case job.ResultCh <- JobResult{JobID: job.ID, Run: run, Err: err}:
		case <-p.shutdown:
			p.logger.Warn("batch.result.dropped", "job", job.ID)
		}
	}
}

// ProcessedCount returns the total number of successfully processed files.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of failed files.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
