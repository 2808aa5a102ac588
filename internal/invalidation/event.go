// Package invalidation defines the cluster-wide cache invalidation event.
package invalidation

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
)

const (
	OpEvict = "evict"
	OpClear = "clear"
)

// Event asks every replica to drop cached plans. An evict event names the
// fingerprints directly; a clear event carries the coordinate request and the
// algorithm it was run with, and each replica derives the fingerprint itself.
type Event struct {
	Version      uint64             `json:"version"`
	Op           string             `json:"op"`
	TS           time.Time          `json:"ts"`
	Source       string             `json:"source,omitempty"`
	Fingerprints []string           `json:"fingerprints,omitempty"`
	Request      *model.PlanRequest `json:"request,omitempty"`
	Algorithm    string             `json:"algorithm,omitempty"`
}

func NewEvict(version uint64, source string, fingerprints ...string) Event {
	return Event{
		Version:      version,
		Op:           OpEvict,
		TS:           time.Now().UTC(),
		Source:       source,
		Fingerprints: fingerprints,
	}
}

func NewClear(version uint64, source string, req model.PlanRequest, algorithm string) Event {
	return Event{
		Version:   version,
		Op:        OpClear,
		TS:        time.Now().UTC(),
		Source:    source,
		Request:   &req,
		Algorithm: algorithm,
	}
}

func (e Event) Validate() error {
	hasFP := len(e.Fingerprints) > 0
	hasReq := e.Request != nil
	if hasFP == hasReq {
		return fmt.Errorf("exactly one of fingerprints or request is required")
	}
	switch e.Op {
	case OpEvict:
		if !hasFP {
			return fmt.Errorf("op %q requires fingerprints", e.Op)
		}
		for i, fp := range e.Fingerprints {
			if !IsFingerprint(fp) {
				return fmt.Errorf("fingerprints[%d]: %q is not a sha-1 hex digest", i, fp)
			}
		}
	case OpClear:
		if !hasReq {
			return fmt.Errorf("op %q requires request", e.Op)
		}
		if strings.TrimSpace(e.Algorithm) == "" {
			return fmt.Errorf("algorithm is required")
		}
		if !model.IsEngineAlgorithm(e.Algorithm) {
			return fmt.Errorf("algorithm %q produces no cached results", e.Algorithm)
		}
	default:
		return fmt.Errorf("op must be evict|clear")
	}
	return nil
}

// IsFingerprint reports whether s looks like a result-cache key.
func IsFingerprint(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
