package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	engineInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_invocations_total",
			Help: "Optimization engine invocations by outcome.",
		},
		[]string{"algorithm", "outcome"},
	)

	engineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_duration_seconds",
			Help:    "Wall time of optimization engine runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~5m
		},
		[]string{"algorithm"},
	)

	planCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_cache_results_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	planCacheAdmission = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_cache_admission_total",
			Help: "Fresh engine results offered to the cache, by admission decision.",
		},
		[]string{"decision"},
	)

	hotKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plan_hotness_tracked_keys",
			Help: "Fingerprints currently tracked by the hotness tracker.",
		},
	)

	planCacheShared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plan_cache_shared_total",
			Help: "Requests that joined an in-flight computation instead of starting one.",
		},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Latency of result cache backend operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend", "op"},
	)

	cacheOpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operation_errors_total",
			Help: "Result cache backend operation errors.",
		},
		[]string{"backend", "op"},
	)

	pipelineFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_failures_total",
			Help: "Requests that failed, by the last stage reached and error kind.",
		},
		[]string{"stage", "kind"},
	)

	spatialLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_lookups_total",
			Help: "Coordinate/cell conversions by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open WebSocket connections.",
		},
	)

	cacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Result cache entries evicted, by trigger.",
		},
		[]string{"source"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Invalidation consumer errors by kind.",
		},
		[]string{"kind"},
	)

	auditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Engine audit events dropped because the publish queue was full.",
		},
	)
)

var registerMu sync.Mutex

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		engineInvocationsTotal, engineDurationSeconds,
		planCacheResults, planCacheShared, planCacheAdmission, hotKeys,
		cacheOpDuration, cacheOpErrors,
		pipelineFailures, spatialLookups, wsConnections,
		cacheInvalidations, kafkaConsumerErrors, auditDropped,
	}
}

// Init registers the service collectors on reg. Calling it again with the
// same registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerMu.Lock()
	defer registerMu.Unlock()
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveEngine records one engine run; outcome is ok, error or timeout.
func ObserveEngine(algorithm, outcome string, durationSeconds float64) {
	engineInvocationsTotal.WithLabelValues(algorithm, outcome).Inc()
	engineDurationSeconds.WithLabelValues(algorithm).Observe(durationSeconds)
}

func IncCacheHit()  { planCacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { planCacheResults.WithLabelValues("miss").Inc() }

func IncCacheShared() { planCacheShared.Inc() }

func IncCacheAdmission(admitted bool) {
	if admitted {
		planCacheAdmission.WithLabelValues("admit").Inc()
		return
	}
	planCacheAdmission.WithLabelValues("bypass").Inc()
}

func SetHotKeys(n int) { hotKeys.Set(float64(n)) }

func ObserveCacheOp(backend, op string, err error, durationSeconds float64) {
	cacheOpDuration.WithLabelValues(backend, op).Observe(durationSeconds)
	if err != nil {
		cacheOpErrors.WithLabelValues(backend, op).Inc()
	}
}

func IncPipelineFailure(stage, kind string) {
	pipelineFailures.WithLabelValues(stage, kind).Inc()
}

func AddSpatialLookups(direction, outcome string, n int) {
	if n <= 0 {
		return
	}
	spatialLookups.WithLabelValues(direction, outcome).Add(float64(n))
}

func WSConnOpened() { wsConnections.Inc() }
func WSConnClosed() { wsConnections.Dec() }

func IncCacheInvalidation(source string) {
	cacheInvalidations.WithLabelValues(source).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func IncAuditDropped() { auditDropped.Inc() }
