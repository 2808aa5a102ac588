// Package metrics owns the Prometheus registry exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "netplan"

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

type Config struct {
	// Namespace prefixes the build info gauge; "netplan" when empty.
	Namespace string
	Build     BuildInfo
	// RuntimeMetrics adds the scheduler and GC series from runtime/metrics.
	RuntimeMetrics bool
}

// Provider is a private registry, so tests and binaries never share
// collectors through the global default registry.
type Provider struct {
	reg *prometheus.Registry
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()

	gc := collectors.NewGoCollector()
	if cfg.RuntimeMetrics {
		gc = collectors.NewGoCollector(collectors.WithGoCollectorRuntimeMetrics(
			collectors.MetricsScheduler,
			collectors.MetricsGC,
		))
	}
	reg.MustRegister(
		gc,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)

	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	b := cfg.Build
	if b.Version == "" {
		b.Version = "dev"
	}
	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "build_info",
		Help:      "Build of the running binary (value is always 1).",
		ConstLabels: prometheus.Labels{
			"version":    b.Version,
			"revision":   b.Revision,
			"build_date": b.BuildDate,
		},
	})
	build.Set(1)
	reg.MustRegister(build)

	return &Provider{reg: reg}
}

// Handler serves the registry and counts its own scrapes.
func (p *Provider) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(p.reg,
		promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg}))
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
