// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each pipeline step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, item *core.Item) {
	h.logger.Debug("pipeline.step.start",
		"step", stepName,
		"file", item.File.Name,
		"format", item.Format,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, item *core.Item, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.step.error",
			"step", stepName,
			"duration_ms", d.Milliseconds(),
			"kind", string(apperrors.KindOf(err)),
			"error", err.Error(),
		)
		return
	}
	h.logger.Debug("pipeline.step.done",
		"step", stepName,
		"duration_ms", d.Milliseconds(),
		"output", describe(item),
	)
}

func describe(item *core.Item) string {
	switch {
	case item == nil:
		return "nil"
	case item.Encoded != nil:
		return fmt.Sprintf("%dx%d %s q=%d %dB", item.Target.Width, item.Target.Height,
			item.OutputFormat, item.Quality, item.Encoded.ByteLength)
	case item.Raster != nil:
		return fmt.Sprintf("raster %dx%d", item.Target.Width, item.Target.Height)
	case item.Source != nil:
		return fmt.Sprintf("source %dx%d %s orientation=%d", item.Source.Width, item.Source.Height,
			item.Source.Format, item.Orientation.Code)
	}
	return string(item.Format)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64 // call count per step
	stepErrors      map[string]int64
	results         map[core.Status]int64

	totalThroughputB int64
	originalB        int64
	optimizedB       int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
		results:         make(map[core.Status]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.stepDurationsMs[stepName] += ms
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordResult(status core.Status, originalSize, newSize int64) {
	m.mu.Lock()
	m.results[status]++
	m.mu.Unlock()
	if status == core.StatusDone {
		atomic.AddInt64(&m.originalB, originalSize)
		atomic.AddInt64(&m.optimizedB, newSize)
	}
}

func (m *InMemoryMetrics) RecordError(stepName string, _ string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StepDurationsMs:  make(map[string]int64, len(m.stepDurationsMs)),
		StepCalls:        make(map[string]int64, len(m.stepCalls)),
		StepErrors:       make(map[string]int64, len(m.stepErrors)),
		Results:          make(map[core.Status]int64, len(m.results)),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
		OriginalBytes:    atomic.LoadInt64(&m.originalB),
		OptimizedBytes:   atomic.LoadInt64(&m.optimizedB),
	}
	for k, v := range m.stepDurationsMs {
		snap.StepDurationsMs[k] = v
	}
	for k, v := range m.stepCalls {
		snap.StepCalls[k] = v
	}
	for k, v := range m.stepErrors {
		snap.StepErrors[k] = v
	}
	for k, v := range m.results {
		snap.Results[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs  map[string]int64
	StepCalls        map[string]int64
	StepErrors       map[string]int64
	Results          map[core.Status]int64
	TotalThroughputB int64
	OriginalBytes    int64
	OptimizedBytes   int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds pipeline events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.Item) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, item *core.Item, d time.Duration, err error) {
	h.collector.RecordProcessingTime(stepName, d)
	if err != nil {
		cat := string(apperrors.CategoryPipeline)
		var pe *apperrors.ProcessingError
		if errors.As(err, &pe) {
			cat = string(pe.Category)
		}
		h.collector.RecordError(stepName, cat)
		return
	}
	if stepName == "decode" && item != nil {
		h.collector.RecordThroughput(int64(len(item.File.Data)))
	}
}
