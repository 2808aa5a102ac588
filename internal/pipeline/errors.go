package pipeline

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/h3-netplan/internal/engine"
	"github.com/mohammed-shakir/h3-netplan/internal/transform"
)

var (
	// ErrMalformedInput marks requests rejected before any lookup or engine call.
	ErrMalformedInput = errors.New("malformed input")

	// ErrClosed is returned for cache misses once Drain has started.
	ErrClosed = errors.New("pipeline is shutting down")
)

// Kind names the class of a pipeline failure. Transports map kinds to status
// codes and metrics use them as labels.
type Kind string

const (
	KindMalformedInput   Kind = "malformed_input"
	KindUnknownAlgorithm Kind = "unknown_algorithm"
	KindResolution       Kind = "resolution"
	KindExecution        Kind = "execution"
	KindTimeout          Kind = "timeout"
	KindCanceled         Kind = "canceled"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
)

func Classify(err error) Kind {
	var re *transform.ResolutionError
	var ee *engine.ExecutionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClosed):
		return KindUnavailable
	case errors.Is(err, ErrMalformedInput),
		errors.Is(err, transform.ErrAlreadyCell),
		errors.Is(err, transform.ErrNoPosition):
		return KindMalformedInput
	case errors.Is(err, engine.ErrUnknownAlgorithm):
		return KindUnknownAlgorithm
	case errors.As(err, &re), errors.Is(err, transform.ErrResolution):
		return KindResolution
	case errors.As(err, &ee):
		return KindExecution
	case errors.Is(err, engine.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}
