package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdapterFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25eval_adapter_fetches_total",
			Help: "Source adapter day fetches by outcome",
		},
		[]string{"source", "outcome"},
	)

	AdapterFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pm25eval_adapter_fetch_seconds",
			Help:    "Source adapter day fetch latency in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)

	CacheAccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25eval_cache_accesses_total",
			Help: "Forecast entity artifact accesses by result (memory, disk, built)",
		},
		[]string{"source", "artifact", "result"},
	)

	GridIndexPoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pm25eval_grid_index_points",
			Help: "Number of coordinates in a source's grid index",
		},
		[]string{"source"},
	)

	ExperimentDaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25eval_experiment_days_total",
			Help: "Experiment days by outcome",
		},
		[]string{"location", "outcome"},
	)

	RemoteGetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25eval_remote_gets_total",
			Help: "Remote object fetches by transport and status",
		},
		[]string{"transport", "status"},
	)
)

// WriteTextfile dumps the default registry in the node exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
