// Package metrics defines the Prometheus instruments for the ingestion
// pipeline. All metrics live under the logsleuth namespace on a private
// registry, exposed through the server package's /metrics endpoint.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Swatto86/LogSleuth/pkg/types"
)

const namespace = "logsleuth"

// Collector owns every instrument the pipeline records into.
type Collector struct {
	// Scan metrics
	ScansTotal       *prometheus.CounterVec
	ScanPhaseSeconds *prometheus.HistogramVec
	FilesDiscovered  prometheus.Counter
	FilesParsed      *prometheus.CounterVec
	EntriesParsed    prometheus.Counter
	EntriesBySev     *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec

	// Detection metrics
	DetectionSeconds    prometheus.Histogram
	DetectionConfidence *prometheus.HistogramVec
	DetectionFallbacks  prometheus.Counter

	// Tail metrics
	TailTicks        prometheus.Counter
	TailBytesRead    prometheus.Counter
	TailEntries      prometheus.Counter
	TailRotations    prometheus.Counter
	TailFileErrors   prometheus.Counter
	TailBreakerTrips prometheus.Counter

	// Watch metrics
	WatchPolls        prometheus.Counter
	WatchNewFiles     prometheus.Counter
	WatchChangedFiles prometheus.Counter

	// Profile registry metrics
	ProfilesLoaded    *prometheus.GaugeVec
	ProfileLoadErrors prometheus.Counter
	ProfileReloads    prometheus.Counter

	// Progress queue metrics
	QueueDepth *prometheus.GaugeVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry

	mu      sync.Mutex
	started bool
	stop    chan struct{}
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{registry: registry}

	c.initScanMetrics()
	c.initDetectionMetrics()
	c.initTailMetrics()
	c.initWatchMetrics()
	c.initProfileMetrics()
	c.initQueueMetrics()
	c.initSystemMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initScanMetrics() {
	c.ScansTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Scan runs by terminal state",
		},
		[]string{"state"},
	)

	c.ScanPhaseSeconds = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each scan phase",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"phase"},
	)

	c.FilesDiscovered = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_discovered_total",
			Help:      "Files kept by discovery for parsing",
		},
	)

	c.FilesParsed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_parsed_total",
			Help:      "Files parsed by outcome",
		},
		[]string{"status"},
	)

	c.EntriesParsed = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "entries_total",
			Help:      "Log entries produced by scans",
		},
	)

	c.EntriesBySev = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "entries_by_severity_total",
			Help:      "Log entries produced, by normalized severity",
		},
		[]string{"severity"},
	)

	c.ParseErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "parse_errors_total",
			Help:      "Non-fatal parse errors by kind",
		},
		[]string{"kind"},
	)
}

func (c *Collector) initDetectionMetrics() {
	c.DetectionSeconds = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "duration_seconds",
			Help:      "Per-file sample-and-detect time",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
	)

	c.DetectionConfidence = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "confidence",
			Help:      "Winning detection confidence per profile",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"profile"},
	)

	c.DetectionFallbacks = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "fallbacks_total",
			Help:      "Files that fell back to the plain-text profile",
		},
	)
}

func (c *Collector) initTailMetrics() {
	c.TailTicks = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "ticks_total",
			Help:      "Tail poll ticks",
		},
	)

	c.TailBytesRead = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "bytes_read_total",
			Help:      "Bytes read from tailed files",
		},
	)

	c.TailEntries = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "entries_total",
			Help:      "Entries produced while tailing",
		},
	)

	c.TailRotations = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "rotations_total",
			Help:      "Rotation or truncation resets observed",
		},
	)

	c.TailFileErrors = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "file_errors_total",
			Help:      "Per-file stat/read errors while tailing",
		},
	)

	c.TailBreakerTrips = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "breaker_trips_total",
			Help:      "Circuit breaker trips on tailed files",
		},
	)
}

func (c *Collector) initWatchMetrics() {
	c.WatchPolls = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "polls_total",
			Help:      "Directory watch poll sweeps",
		},
	)

	c.WatchNewFiles = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "new_files_total",
			Help:      "New files reported by the directory watcher",
		},
	)

	c.WatchChangedFiles = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "changed_files_total",
			Help:      "Known files whose mtime moved",
		},
	)
}

func (c *Collector) initProfileMetrics() {
	c.ProfilesLoaded = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "profiles",
			Name:      "loaded",
			Help:      "Profiles in the active snapshot by source",
		},
		[]string{"source"},
	)

	c.ProfileLoadErrors = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profiles",
			Name:      "load_errors_total",
			Help:      "Profile documents skipped as invalid",
		},
	)

	c.ProfileReloads = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profiles",
			Name:      "reloads_total",
			Help:      "Registry reloads, including watcher-triggered ones",
		},
	)
}

func (c *Collector) initQueueMetrics() {
	c.QueueDepth = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "queue_depth",
			Help:      "Undrained progress messages per driver",
		},
		[]string{"driver"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_pause_seconds",
			Help:      "GC pause duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1 healthy, 0.5 degraded, 0 unhealthy)",
		},
		[]string{"component"},
	)
}

// ObserveSummary records the totals of a finished scan.
func (c *Collector) ObserveSummary(s types.ScanSummary) {
	c.FilesParsed.WithLabelValues("parsed").Add(float64(s.FilesParsed))
	c.FilesParsed.WithLabelValues("failed").Add(float64(s.FilesFailed))
	c.EntriesParsed.Add(float64(s.TotalEntries))
	for sev, n := range s.BySeverity {
		c.EntriesBySev.WithLabelValues(sev.String()).Add(float64(n))
	}
}

// Start begins periodic collection of runtime metrics.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true
	c.stop = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stop:
				return
			}
		}
	}(c.stop)
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false
	close(c.stop)
}

func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	if m.NumGC > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

var (
	globalCollector *Collector
	once            sync.Once
)

// Global returns the process-wide collector, creating and starting it
// on first use.
func Global() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
		globalCollector.Start()
	})
	return globalCollector
}
