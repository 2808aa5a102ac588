package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	t.Cleanup(func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.Fatalf("close body: %v", cerr)
		}
	})
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	return string(b)
}

func TestInit_IdempotentPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg)

	ObserveHTTP("POST", "/submitNetworkRawData", 200, 0.01)
	out := scrape(t, reg)
	if !strings.Contains(out, `http_requests_total{method="POST",route="/submitNetworkRawData",status="200"}`) {
		t.Fatalf("missing http_requests_total sample:\n%s", out)
	}
}

func TestEngineAndCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	before := testutil.ToFloat64(engineInvocationsTotal.WithLabelValues("Dummy Network", "timeout"))
	ObserveEngine("Dummy Network", "timeout", 1.5)
	if got := testutil.ToFloat64(engineInvocationsTotal.WithLabelValues("Dummy Network", "timeout")); got != before+1 {
		t.Fatalf("engine timeout counter=%v want %v", got, before+1)
	}

	errsBefore := testutil.ToFloat64(cacheOpErrors.WithLabelValues("redis", "get"))
	ObserveCacheOp("redis", "get", errors.New("down"), 0.001)
	ObserveCacheOp("redis", "get", nil, 0.001)
	if got := testutil.ToFloat64(cacheOpErrors.WithLabelValues("redis", "get")); got != errsBefore+1 {
		t.Fatalf("cache op errors=%v want %v", got, errsBefore+1)
	}

	IncCacheHit()
	IncCacheMiss()
	IncPipelineFailure("coordinates_converted", "resolution")
	AddSpatialLookups("to_cell", "ok", 3)
	AddSpatialLookups("to_cell", "ok", 0)

	out := scrape(t, reg)
	for _, s := range []string{
		`plan_cache_results_total{outcome="hit"}`,
		`plan_cache_results_total{outcome="miss"}`,
		`pipeline_failures_total{kind="resolution",stage="coordinates_converted"}`,
		`engine_duration_seconds_bucket{algorithm="Dummy Network"`,
		`cache_operation_duration_seconds_count{backend="redis",op="get"}`,
	} {
		if !strings.Contains(out, s) {
			t.Fatalf("expected %q in:\n%s", s, out)
		}
	}
}
