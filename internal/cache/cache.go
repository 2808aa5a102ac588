// Package cache memoizes plan results by request fingerprint.
package cache

import (
	"context"
	"crypto/sha1" //nolint:gosec // content key, not a security primitive
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
)

// Interface is a result store keyed by fingerprint. Operations on different
// digests must not block each other; concurrent writes to one digest resolve
// last-writer-wins. Entries live until evicted unless a backend says otherwise.
type Interface interface {
	Get(ctx context.Context, digest string) (model.PlanResult, bool, error)
	Put(ctx context.Context, digest string, res model.PlanResult) error
	Evict(ctx context.Context, digest string) error
}

// Canonical is the serialization that Fingerprint hashes: object keys sorted,
// integers as written, other numbers in shortest float64 form.
func Canonical(req model.PlanRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("canonical request: %w", err)
	}
	return b, nil
}

// Fingerprint is the hex SHA-1 of the canonical request, algorithm included:
// the same nodes planned by two engines must never share a cache entry.
func Fingerprint(req model.PlanRequest) (string, error) {
	b, err := Canonical(req)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}
