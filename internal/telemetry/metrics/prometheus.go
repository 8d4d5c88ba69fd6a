package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type RegistryParams struct {
	Namespace string
	// Version ends up as a label on <namespace>_version_info.
	Version    string
	Collectors []prometheus.Collector
}

// SetupPrometheus builds the registry served on /metrics: runtime GC and scheduler stats,
// process stats under the service namespace, a constant version gauge and the extra collectors
// (pgx pool stats in production).
func SetupPrometheus(params RegistryParams) *prometheus.Registry {
	promRegistry := prometheus.NewRegistry()

	version := params.Version
	if version == "" {
		version = "unknown"
	}

	promRegistry.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(
			collectors.WithGoCollectorRuntimeMetrics(collectors.MetricsGC, collectors.MetricsScheduler),
		),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: params.Namespace}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   params.Namespace,
			Name:        "version_info",
			Help:        "Always 1, the running version is in the label.",
			ConstLabels: prometheus.Labels{"version": version},
		}, func() float64 { return 1 }),
	)

	for _, c := range params.Collectors {
		promRegistry.MustRegister(c)
	}

	return promRegistry
}
