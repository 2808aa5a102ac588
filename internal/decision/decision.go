// Package decision decides which fresh engine results enter the cache.
package decision

type Interface interface {
	ShouldCache(fingerprint string) bool
}

// Always admits every result.
type Always struct{}

func (Always) ShouldCache(string) bool { return true }
