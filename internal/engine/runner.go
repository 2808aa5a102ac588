package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mohammed-shakir/h3-netplan/internal/audit"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/logger"
)

const DefaultTimeout = 2 * time.Minute

// Runner owns the registered engines. It applies the invocation timeout,
// decodes engine output and records every run for audit. It never retries.
type Runner struct {
	engines map[string]Algorithm
	timeout time.Duration
	rec     audit.Recorder
	log     *slog.Logger
}

type Option func(*Runner)

func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRecorder(rec audit.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.rec = rec
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRunner(engines []Algorithm, opts ...Option) (*Runner, error) {
	r := &Runner{
		engines: make(map[string]Algorithm, len(engines)),
		timeout: DefaultTimeout,
		rec:     audit.Nop{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	for _, e := range engines {
		if _, dup := r.engines[e.Name()]; dup {
			return nil, fmt.Errorf("engine %q registered twice", e.Name())
		}
		r.engines[e.Name()] = e
	}
	return r, nil
}

func (r *Runner) Has(name string) bool {
	_, ok := r.engines[name]
	return ok
}

func (r *Runner) Names() []string {
	out := make([]string, 0, len(r.engines))
	for n := range r.engines {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Timeout is the budget for one invocation of the named engine.
func (r *Runner) Timeout(name string) time.Duration {
	if t, ok := r.engines[name].(interface{ Timeout() time.Duration }); ok {
		if d := t.Timeout(); d > 0 {
			return d
		}
	}
	return r.timeout
}

// Run invokes the named engine once with input encoded as JSON and decodes
// its output. An unregistered name fails with ErrUnknownAlgorithm before any
// engine is touched.
func (r *Runner) Run(ctx context.Context, name string, input map[string]any) (model.PlanResult, error) {
	alg, ok := r.engines[name]
	if !ok {
		return model.PlanResult{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	in, err := json.Marshal(input)
	if err != nil {
		return model.PlanResult{}, fmt.Errorf("encode engine input: %w", err)
	}

	timeout := r.Timeout(name)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := r.log.With("engine", name)
	start := time.Now()
	log.DebugContext(ctx, "engine started", "timeout", timeout)
	out, err := alg.Run(runCtx, in)
	dur := time.Since(start)

	ev := audit.NewEvent(name, start)
	ev.RequestID = logger.RequestID(ctx)
	ev.Input = string(in)
	ev.Output = string(out)
	ev.Duration = dur

	var res model.PlanResult
	outcome := "ok"
	switch {
	case err == nil:
		if uerr := json.Unmarshal(out, &res); uerr != nil {
			err = &ExecutionError{Algorithm: name, Stage: StageOutput, Err: fmt.Errorf("decode output: %w", uerr)}
			outcome = "error"
		}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%s after %s: %w", name, timeout, ErrTimeout)
		outcome = "timeout"
	case ctx.Err() != nil:
		err = fmt.Errorf("engine %s: %w", name, ctx.Err())
		outcome = "canceled"
	default:
		var ee *ExecutionError
		if !errors.As(err, &ee) {
			err = &ExecutionError{Algorithm: name, Stage: StageLaunch, Err: err}
		}
		outcome = "error"
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.rec.Record(ctx, ev)
	observability.ObserveEngine(name, outcome, dur.Seconds())

	if err != nil {
		log.DebugContext(ctx, "engine failed", "duration", dur, "outcome", outcome, "err", err)
		return model.PlanResult{}, err
	}
	log.DebugContext(ctx, "engine finished", "duration", dur, "nodes", len(res.Nodes), "edges", len(res.Edges))
	return res, nil
}
