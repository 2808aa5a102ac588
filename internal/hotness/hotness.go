// Package hotness tracks how often each request fingerprint is asked for.
package hotness

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
