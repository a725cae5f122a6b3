package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ScanBuckets for reduced range scans over the live files
	ScanBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// CompactionBuckets for merging files through the reducer
	CompactionBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

	// FlushSizeBuckets for number of entries written per flush
	FlushSizeBuckets = []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000}
)

// Reduction Metrics
var (
	// NotificationsSurfacedTotal counts live notifications handed to consumers by scope
	NotificationsSurfacedTotal CounterVec = noopCounterVec

	// DeletesDroppedTotal counts delete markers the reducer discarded by scope
	DeletesDroppedTotal CounterVec = noopCounterVec

	// DeletesPropagatedTotal counts delete markers the reducer kept by scope
	DeletesPropagatedTotal CounterVec = noopCounterVec

	// VersionsSuppressedTotal counts superseded versions hidden by the reducer by scope
	VersionsSuppressedTotal CounterVec = noopCounterVec
)

// Store Metrics
var (
	// CompactionsTotal counts compactions by scope and result (success, failed, empty)
	CompactionsTotal CounterVec = noopCounterVec

	// CompactionDurationSeconds measures compaction latency by scope
	CompactionDurationSeconds HistogramVec = noopHistogramVec

	// FilesLive tracks the number of files visible to scans
	FilesLive Gauge = NoopStat{}

	// EntriesLive tracks the number of stored entries across live files
	EntriesLive Gauge = NoopStat{}

	// BytesLive tracks the encoded size of live files
	BytesLive Gauge = NoopStat{}

	// FlushEntries measures entries per flushed file
	FlushEntries Histogram = NoopStat{}

	// ScanDurationSeconds measures reduced scan latency
	ScanDurationSeconds Histogram = NoopStat{}

	// RowFilterChecks counts per-file row filter probes by result (skip, hit)
	RowFilterChecks CounterVec = noopCounterVec
)

// Publisher Metrics
var (
	// PublishTotal counts publish attempts by sink and result (success, failed, filtered, duplicate)
	PublishTotal CounterVec = noopCounterVec

	// PublisherRoundsTotal counts publisher scan rounds
	PublisherRoundsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Reduction Metrics
	NotificationsSurfacedTotal = NewCounterVec(
		"notifications_surfaced_total",
		"Live notifications surfaced by scope",
		[]string{"scope"},
	)
	DeletesDroppedTotal = NewCounterVec(
		"deletes_dropped_total",
		"Delete markers dropped by scope",
		[]string{"scope"},
	)
	DeletesPropagatedTotal = NewCounterVec(
		"deletes_propagated_total",
		"Delete markers propagated by scope",
		[]string{"scope"},
	)
	VersionsSuppressedTotal = NewCounterVec(
		"versions_suppressed_total",
		"Superseded versions suppressed by scope",
		[]string{"scope"},
	)

	// Store Metrics
	CompactionsTotal = NewCounterVec(
		"compactions_total",
		"Compactions by scope and result",
		[]string{"scope", "result"},
	)
	CompactionDurationSeconds = NewHistogramVec(
		"compaction_duration_seconds",
		"Compaction duration in seconds",
		[]string{"scope"},
		CompactionBuckets,
	)
	FilesLive = NewGauge(
		"files_live",
		"Number of files visible to scans",
	)
	EntriesLive = NewGauge(
		"entries_live",
		"Number of entries stored across live files",
	)
	BytesLive = NewGauge(
		"bytes_live",
		"Encoded bytes across live files",
	)
	FlushEntries = NewHistogramWithBuckets(
		"flush_entries",
		"Entries written per flushed file",
		FlushSizeBuckets,
	)
	ScanDurationSeconds = NewHistogramWithBuckets(
		"scan_duration_seconds",
		"Reduced scan duration in seconds",
		ScanBuckets,
	)
	RowFilterChecks = NewCounterVec(
		"row_filter_checks_total",
		"Per-file row filter probes by result",
		[]string{"result"},
	)

	// Publisher Metrics
	PublishTotal = NewCounterVec(
		"publish_total",
		"Publish attempts by sink and result",
		[]string{"sink", "result"},
	)
	PublisherRoundsTotal = NewCounter(
		"publisher_rounds_total",
		"Publisher scan rounds executed",
	)
}

// RecordReduction adds one reducer run's counters under the given scope label
func RecordReduction(scope string, surfaced, dropped, propagated, suppressed int) {
	NotificationsSurfacedTotal.With(scope).Add(float64(surfaced))
	DeletesDroppedTotal.With(scope).Add(float64(dropped))
	DeletesPropagatedTotal.With(scope).Add(float64(propagated))
	VersionsSuppressedTotal.With(scope).Add(float64(suppressed))
}
