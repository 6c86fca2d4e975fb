// Package metrics records per-run pipeline metrics in a private Prometheus
// registry that can be written out for the node-exporter textfile collector.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "territory"

// Recorder holds the run's collectors.
type Recorder struct {
	registry *prometheus.Registry

	storeRecords      *prometheus.CounterVec
	boundariesLoaded  *prometheus.CounterVec
	assignedStores    prometheus.Gauge
	exportBytes       prometheus.Gauge
	operationDuration *prometheus.GaugeVec
	operationFailures *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		storeRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_records_total",
			Help:      "Store input records by outcome (imported or a skip reason).",
		}, []string{"outcome"}),
		boundariesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundaries_loaded_total",
			Help:      "Boundaries written by ingestion, by class code.",
		}, []string{"class"}),
		assignedStores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assigned_stores",
			Help:      "Stores holding a boundary after the last assignment run.",
		}),
		exportBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "export_bytes",
			Help:      "Size of the last exported map document.",
		}),
		operationDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of the last run of each operation.",
		}, []string{"op"}),
		operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed operations by op and phase.",
		}, []string{"op", "phase"}),
	}
	r.registry.MustRegister(
		r.storeRecords,
		r.boundariesLoaded,
		r.assignedStores,
		r.exportBytes,
		r.operationDuration,
		r.operationFailures,
	)
	return r
}

// StoreImport records imported records and skips per reason.
func (r *Recorder) StoreImport(imported int, skipReasons map[string]int) {
	r.storeRecords.WithLabelValues("imported").Add(float64(imported))
	for reason, n := range skipReasons {
		r.storeRecords.WithLabelValues(reason).Add(float64(n))
	}
}

// BoundariesLoaded records ingested boundaries for one class code.
func (r *Recorder) BoundariesLoaded(class string, n int) {
	r.boundariesLoaded.WithLabelValues(class).Add(float64(n))
}

// Assigned sets the assigned-store gauge.
func (r *Recorder) Assigned(n int) {
	r.assignedStores.Set(float64(n))
}

// ExportBytes sets the exported document size.
func (r *Recorder) ExportBytes(n int64) {
	r.exportBytes.Set(float64(n))
}

// Duration records how long op took.
func (r *Recorder) Duration(op string, d time.Duration) {
	r.operationDuration.WithLabelValues(op).Set(d.Seconds())
}

// Failure counts a failed op; phase may be empty.
func (r *Recorder) Failure(op, phase string) {
	if phase == "" {
		phase = "none"
	}
	r.operationFailures.WithLabelValues(op, phase).Inc()
}

// WriteTextfile writes the registry to path in the text exposition format.
// The write is atomic, so a collector never reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "metrics: create dir for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
