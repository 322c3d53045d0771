package flatdb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordGet is called after each point lookup.
	RecordGet(duration time.Duration, err error)

	// RecordAdd is called after each insert.
	RecordAdd(duration time.Duration, err error)

	// RecordUpdate is called after each in-place update.
	RecordUpdate(duration time.Duration, err error)

	// RecordRemove is called after each removal.
	RecordRemove(duration time.Duration, err error)

	// RecordLoad is called after each index rebuild with the number of live records.
	RecordLoad(records int, duration time.Duration, err error)

	// RecordOptimize is called after each compaction with the number of records kept.
	RecordOptimize(records int, duration time.Duration, err error)

	// RecordMerge is called after each merge with the number of records copied
	// and the number of conflicting keys.
	RecordMerge(copied, conflicts int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGet(time.Duration, error)             {}
func (NoopMetricsCollector) RecordAdd(time.Duration, error)             {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)          {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)          {}
func (NoopMetricsCollector) RecordLoad(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordOptimize(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordMerge(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	GetCount       atomic.Int64
	GetErrors      atomic.Int64
	GetTotalNanos  atomic.Int64
	AddCount       atomic.Int64
	AddErrors      atomic.Int64
	AddTotalNanos  atomic.Int64
	UpdateCount    atomic.Int64
	UpdateErrors   atomic.Int64
	RemoveCount    atomic.Int64
	RemoveErrors   atomic.Int64
	LoadCount      atomic.Int64
	LoadedRecords  atomic.Int64
	OptimizeCount  atomic.Int64
	OptimizeErrors atomic.Int64
	MergeCount     atomic.Int64
	MergedRecords  atomic.Int64
	MergeConflicts atomic.Int64
	MergeErrors    atomic.Int64
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(duration time.Duration, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(_ time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(records int, _ time.Duration, err error) {
	b.LoadCount.Add(1)
	if err == nil {
		b.LoadedRecords.Store(int64(records))
	}
}

// RecordOptimize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOptimize(_ int, _ time.Duration, err error) {
	b.OptimizeCount.Add(1)
	if err != nil {
		b.OptimizeErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(copied, conflicts int, _ time.Duration, err error) {
	b.MergeCount.Add(1)
	b.MergedRecords.Add(int64(copied))
	b.MergeConflicts.Add(int64(conflicts))
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GetCount:       b.GetCount.Load(),
		GetErrors:      b.GetErrors.Load(),
		GetAvgNanos:    avg(b.GetTotalNanos.Load(), b.GetCount.Load()),
		AddCount:       b.AddCount.Load(),
		AddErrors:      b.AddErrors.Load(),
		AddAvgNanos:    avg(b.AddTotalNanos.Load(), b.AddCount.Load()),
		UpdateCount:    b.UpdateCount.Load(),
		UpdateErrors:   b.UpdateErrors.Load(),
		RemoveCount:    b.RemoveCount.Load(),
		RemoveErrors:   b.RemoveErrors.Load(),
		LoadCount:      b.LoadCount.Load(),
		LoadedRecords:  b.LoadedRecords.Load(),
		OptimizeCount:  b.OptimizeCount.Load(),
		OptimizeErrors: b.OptimizeErrors.Load(),
		MergeCount:     b.MergeCount.Load(),
		MergedRecords:  b.MergedRecords.Load(),
		MergeConflicts: b.MergeConflicts.Load(),
		MergeErrors:    b.MergeErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GetCount       int64
	GetErrors      int64
	GetAvgNanos    int64
	AddCount       int64
	AddErrors      int64
	AddAvgNanos    int64
	UpdateCount    int64
	UpdateErrors   int64
	RemoveCount    int64
	RemoveErrors   int64
	LoadCount      int64
	LoadedRecords  int64
	OptimizeCount  int64
	OptimizeErrors int64
	MergeCount     int64
	MergedRecords  int64
	MergeConflicts int64
	MergeErrors    int64
}
