// Package metrics holds the Prometheus registry shared by the poller,
// supervisor, discovery pipeline, and repositories, in the shape of the
// ingestion service's metrics registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every Prometheus metric this fleet emits.
type Registry struct {
	readingsWritten  prometheus.Counter
	readingsDropped  prometheus.Counter
	writeErrors      prometheus.Counter
	batchesFlushed   prometheus.Counter
	batchDuration    prometheus.Histogram
	pollCycles       prometheus.Counter
	pollErrors       *prometheus.CounterVec
	pollersRunning   prometheus.Gauge
	devicesOnline    prometheus.Gauge
	discoveryRuns    prometheus.Counter
	discoveryHosts   prometheus.Gauge
	discoveryPhaseMs *prometheus.HistogramVec
	readingsPruned   prometheus.Counter
}

// NewRegistry builds and registers every metric via promauto.
func NewRegistry() *Registry {
	return &Registry{
		readingsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_readings_written_total",
			Help: "Total number of readings durably written.",
		}),
		readingsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_readings_dropped_total",
			Help: "Total number of readings dropped after retry exhaustion.",
		}),
		writeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_write_errors_total",
			Help: "Total number of reading repository write errors.",
		}),
		batchesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_batches_flushed_total",
			Help: "Total number of reading batches flushed to storage.",
		}),
		batchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "plc_fleet_batch_write_duration_seconds",
			Help:    "Duration of reading batch write operations.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		pollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_poll_cycles_total",
			Help: "Total number of poller tick iterations across all devices.",
		}),
		pollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "plc_fleet_poll_errors_total",
			Help: "Total number of poll errors by classification.",
		}, []string{"kind"}),
		pollersRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "plc_fleet_pollers_running",
			Help: "Number of currently running per-device pollers.",
		}),
		devicesOnline: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "plc_fleet_devices_online",
			Help: "Number of devices currently marked online.",
		}),
		discoveryRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_discovery_runs_total",
			Help: "Total number of discovery pipeline runs.",
		}),
		discoveryHosts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "plc_fleet_discovery_hosts_found",
			Help: "Number of hosts found in the most recent discovery run.",
		}),
		discoveryPhaseMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plc_fleet_discovery_phase_duration_seconds",
			Help:    "Duration of each discovery pipeline phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		readingsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "plc_fleet_readings_pruned_total",
			Help: "Total number of readings deleted by the retention task.",
		}),
	}
}

func (r *Registry) AddReadingsWritten(n int64)  { r.readingsWritten.Add(float64(n)) }
func (r *Registry) IncReadingsDropped()         { r.readingsDropped.Inc() }
func (r *Registry) IncWriteErrors()             { r.writeErrors.Inc() }
func (r *Registry) IncBatchesFlushed()          { r.batchesFlushed.Inc() }
func (r *Registry) ObserveBatchDuration(s float64) { r.batchDuration.Observe(s) }
func (r *Registry) IncPollCycles()              { r.pollCycles.Inc() }
func (r *Registry) IncPollError(kind string)    { r.pollErrors.WithLabelValues(kind).Inc() }
func (r *Registry) SetPollersRunning(n int)     { r.pollersRunning.Set(float64(n)) }
func (r *Registry) SetDevicesOnline(n int)      { r.devicesOnline.Set(float64(n)) }
func (r *Registry) IncDiscoveryRuns()           { r.discoveryRuns.Inc() }
func (r *Registry) SetDiscoveryHosts(n int)     { r.discoveryHosts.Set(float64(n)) }
func (r *Registry) ObserveDiscoveryPhase(phase string, s float64) {
	r.discoveryPhaseMs.WithLabelValues(phase).Observe(s)
}
func (r *Registry) AddReadingsPruned(n int64) { r.readingsPruned.Add(float64(n)) }
