// Package engine dispatches plan requests to the optimization engines. Every
// engine is an opaque function from a JSON document to a JSON document.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Algorithm is one optimization engine.
type Algorithm interface {
	Name() string
	Run(ctx context.Context, input []byte) ([]byte, error)
}

var (
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	ErrTimeout          = errors.New("engine timed out")
	ErrOutputTooLarge   = errors.New("engine output exceeds limit")
)

// DefaultMaxOutput bounds the bytes read from one engine run.
const DefaultMaxOutput int64 = 64 << 20

func outputLimit(n int64) int64 {
	if n <= 0 {
		return DefaultMaxOutput
	}
	return n
}

// Stages an ExecutionError can come from.
const (
	StageLaunch    = "launch"
	StageExit      = "exit"
	StageTransport = "transport"
	StageOutput    = "output"
)

// ExecutionError reports an engine that failed to start, exited non-zero or
// produced output that is not a plan.
type ExecutionError struct {
	Algorithm string
	Stage     string
	ExitCode  int
	Stderr    string
	Err       error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("engine %q failed at %s", e.Algorithm, e.Stage)
	if e.Stage == StageExit {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }
