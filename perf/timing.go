// Package perf provides timing and counting utilities for file registration.
package perf

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks operation timing for performance analysis.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{
		name:      name,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}).Debug("operation completed")
	}
	return duration
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	fields := logrus.Fields{
		"operation":   t.name,
		"duration_ms": duration.Milliseconds(),
	}
	if t.logger != nil {
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}

// RunMetrics accumulates counts and timings over one CLI run (a directory
// registration or an S3 scan) for the end-of-run summary.
type RunMetrics struct {
	mu sync.Mutex

	TotalDuration    time.Duration
	DetectDuration   time.Duration
	ChecksumDuration time.Duration
	DBWriteDuration  time.Duration

	ChecksumBytes int64
	Registered    int
	Skipped       int
	Failed        int

	byType map[string]int
}

// NewRunMetrics creates a new metrics tracker.
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{byType: map[string]int{}}
}

// RecordFile records one successfully registered file of the given type.
func (m *RunMetrics) RecordFile(fileType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registered++
	m.byType[fileType]++
}

// RecordSkip records a file that was already registered.
func (m *RunMetrics) RecordSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Skipped++
}

// RecordFailure records a file that could not be registered.
func (m *RunMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed++
}

// RecordChecksum records one digest computation.
func (m *RunMetrics) RecordChecksum(bytes int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChecksumBytes += bytes
	m.ChecksumDuration += d
}

// RecordDetect records time spent classifying and parsing a name.
func (m *RunMetrics) RecordDetect(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetectDuration += d
}

// RecordDBWrite records time spent writing rows.
func (m *RunMetrics) RecordDBWrite(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DBWriteDuration += d
}

// ByType returns a copy of the per-file-type registration counts.
func (m *RunMetrics) ByType() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.byType))
	for k, v := range m.byType {
		out[k] = v
	}
	return out
}

// Summary returns a formatted summary of the metrics.
func (m *RunMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var throughput float64
	if m.ChecksumDuration > 0 {
		throughput = float64(m.ChecksumBytes) / m.ChecksumDuration.Seconds() / (1 << 20)
	}

	types := make([]string, 0, len(m.byType))
	for t := range m.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	var byType strings.Builder
	for _, t := range types {
		fmt.Fprintf(&byType, "  %-20s %d\n", t+":", m.byType[t])
	}

	return fmt.Sprintf(`
=== Registration Metrics ===
Total Duration:        %v

Files:
  Registered:          %d
  Already present:     %d
  Failed:              %d

By Type:
%s
Sub-Operation Timings:
  Detect/parse:        %v
  Checksum:            %v (%d bytes, %.1f MiB/s)
  DB Write:            %v
`,
		m.TotalDuration,
		m.Registered, m.Skipped, m.Failed,
		byType.String(),
		m.DetectDuration,
		m.ChecksumDuration, m.ChecksumBytes, throughput,
		m.DBWriteDuration,
	)
}

// contextKey is used to store metrics in context.
type contextKey struct{}

// WithMetrics adds metrics to context.
func WithMetrics(ctx context.Context, m *RunMetrics) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// MetricsFromContext retrieves metrics from context.
func MetricsFromContext(ctx context.Context) *RunMetrics {
	m, _ := ctx.Value(contextKey{}).(*RunMetrics)
	return m
}
