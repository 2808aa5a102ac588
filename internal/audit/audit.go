// Package audit records every engine invocation with its raw input and output.
// Records are for operators only and never become part of a plan result.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id,omitempty"`
	Algorithm string        `json:"algorithm"`
	Input     string        `json:"input"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration_ns"`
}

func NewEvent(algorithm string, started time.Time) Event {
	return Event{ID: uuid.NewString(), Algorithm: algorithm, Started: started}
}

type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// LogRecorder writes events at debug level.
type LogRecorder struct {
	Log *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, ev Event) {
	if r.Log == nil {
		return
	}
	attrs := []any{
		"audit_id", ev.ID,
		"algorithm", ev.Algorithm,
		"duration", ev.Duration,
		"input", ev.Input,
	}
	if ev.Output != "" {
		attrs = append(attrs, "output", ev.Output)
	}
	if ev.Error != "" {
		attrs = append(attrs, "err", ev.Error)
	}
	r.Log.DebugContext(ctx, "engine invocation", attrs...)
}

type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) {
	for _, r := range m {
		r.Record(ctx, ev)
	}
}
