package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"
)

// Check reports whether one dependency can serve traffic.
type Check func(ctx context.Context) error

// ReadinessReporter is implemented by the invalidation consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Consumer adapts a ReadinessReporter to a Check.
func Consumer(rr ReadinessReporter) Check {
	return func(context.Context) error {
		if ready, _ := rr.Readiness(); !ready {
			return errors.New("no partitions assigned")
		}
		return nil
	}
}

const checkTimeout = 2 * time.Second

// Readiness runs every check and answers 503 unless all pass.
func Readiness(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		names := make([]string, 0, len(checks))
		for n := range checks {
			names = append(names, n)
		}
		sort.Strings(names)

		out := resp{Status: "ready", Checks: make(map[string]string, len(checks))}
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				out.Status = "not_ready"
				out.Checks[n] = err.Error()
				continue
			}
			out.Checks[n] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
