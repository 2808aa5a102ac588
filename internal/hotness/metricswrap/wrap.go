// Package metricswrap wraps a hotness tracker with Prometheus metrics and
// sampled logging of keys that turn hot.
package metricswrap

import (
	"fmt"
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	log       *slog.Logger
	threshold float64
	sample    float64
}

// New logs a key at most once per crossing of threshold, for roughly sample
// of all keys. threshold <= 0 disables the log.
func New(inner hotness.Interface, log *slog.Logger, threshold, sample float64) *WithMetrics {
	if log == nil {
		log = slog.Default()
	}
	return &WithMetrics{inner: inner, log: log, threshold: threshold, sample: sample}
}

func (w *WithMetrics) Inc(key string) {
	var before float64
	if w.threshold > 0 {
		before = w.inner.Score(key)
	}
	w.inner.Inc(key)
	if w.threshold > 0 && before < w.threshold {
		if score := w.inner.Score(key); score >= w.threshold && shouldLog(w.sample, key) {
			w.log.Info("request fingerprint turned hot",
				"score", score,
				"key_hash", fmt.Sprintf("%08x", xx.Sum64String(key)))
		}
	}
	w.report()
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	w.report()
}

func (w *WithMetrics) report() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeys(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
