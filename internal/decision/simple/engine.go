package simple

import (
	"github.com/mohammed-shakir/h3-netplan/internal/decision"
	"github.com/mohammed-shakir/h3-netplan/internal/hotness"
)

// Engine admits a result once its fingerprint has been requested often
// enough: the decayed request score must reach Threshold.
type Engine struct {
	Hot       hotness.Interface
	Threshold float64
}

var _ decision.Interface = (*Engine)(nil)

func (e *Engine) ShouldCache(fingerprint string) bool {
	if e.Threshold <= 0 {
		return true
	}
	if e.Hot == nil || fingerprint == "" {
		return false
	}
	return e.Hot.Score(fingerprint) >= e.Threshold
}
