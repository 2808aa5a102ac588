// Package pipeline turns a plan request into a plan result: coordinates are
// converted to cells, the result cache is consulted, the engine runs on a miss
// and its output is post-processed back into coordinates before caching.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/decision"
	"github.com/mohammed-shakir/h3-netplan/internal/engine"
	"github.com/mohammed-shakir/h3-netplan/internal/hotness"
	"github.com/mohammed-shakir/h3-netplan/internal/logger"
	"github.com/mohammed-shakir/h3-netplan/internal/transform"
)

type State string

const (
	StateReceived             State = "received"
	StateCoordinatesConverted State = "coordinates_converted"
	StateCacheChecked         State = "cache_checked"
	StateCacheHit             State = "cache_hit"
	StateCacheMiss            State = "cache_miss"
	StateAlgorithmInvoked     State = "algorithm_invoked"
	StateOutputPostProcessed  State = "output_post_processed"
	StateCached               State = "cached"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Runner is the engine side of the pipeline; *engine.Runner satisfies it.
type Runner interface {
	Has(name string) bool
	Run(ctx context.Context, name string, input map[string]any) (model.PlanResult, error)
}

type Pipeline struct {
	tr     *transform.Transformer
	runner Runner
	cache  cache.Interface
	log    *slog.Logger
	flight singleflight.Group
	hot    hotness.Interface
	admit  decision.Interface

	// life bounds every engine run; Drain cancels it.
	life   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithAdmission records every submitted fingerprint in hot and caches fresh
// results only when admit agrees. Without it every result is cached.
func WithAdmission(hot hotness.Interface, admit decision.Interface) Option {
	return func(p *Pipeline) {
		p.hot = hot
		if admit != nil {
			p.admit = admit
		}
	}
}

func New(tr *transform.Transformer, runner Runner, c cache.Interface, opts ...Option) *Pipeline {
	p := &Pipeline{tr: tr, runner: runner, cache: c, log: slog.Default(), admit: decision.Always{}}
	p.life, p.stop = context.WithCancel(context.Background())
	for _, o := range opts {
		o(p)
	}
	return p
}

// Outcome is a successful submission.
type Outcome struct {
	Result      model.PlanResult
	Fingerprint string
	// Cached is set when the result came from the cache without running the
	// engine for this submission.
	Cached bool
	// Shared is set when the result came from a concurrent identical
	// submission's engine run.
	Shared bool
	// Path lists the states this submission passed through.
	Path []State
}

// run tracks one submission through the state machine.
type run struct {
	p     *Pipeline
	state State
	path  []State
}

func (p *Pipeline) newRun(ctx context.Context) *run {
	r := &run{p: p, state: StateReceived, path: []State{StateReceived}}
	p.log.DebugContext(ctx, "pipeline state", "state", StateReceived)
	return r
}

func (r *run) advance(ctx context.Context, next State) {
	r.p.log.DebugContext(ctx, "pipeline state", "from", r.state, "state", next)
	r.state = next
	r.path = append(r.path, next)
}

// fail records the failure against the state it happened in.
func (r *run) fail(ctx context.Context, err error) error {
	kind := Classify(err)
	observability.IncPipelineFailure(string(r.state), string(kind))
	r.p.log.DebugContext(ctx, "pipeline state", "from", r.state, "state", StateFailed, "kind", kind, "err", err)
	r.path = append(r.path, StateFailed)
	return err
}

// Submit runs req through the pipeline. Identical concurrent submissions share
// one engine run; callers that give up early do not abort it.
func (p *Pipeline) Submit(ctx context.Context, req model.PlanRequest) (Outcome, error) {
	ctx = logger.WithAlgorithm(ctx, req.Algorithm)
	r := p.newRun(ctx)

	if err := req.Validate(); err != nil {
		return Outcome{}, r.fail(ctx, fmt.Errorf("%w: %w", ErrMalformedInput, err))
	}
	if !p.runner.Has(req.Algorithm) {
		return Outcome{}, r.fail(ctx, fmt.Errorf("%w: %q", engine.ErrUnknownAlgorithm, req.Algorithm))
	}

	converted, digest, err := p.convert(ctx, req)
	if err != nil {
		return Outcome{}, r.fail(ctx, err)
	}
	ctx = logger.WithFingerprint(ctx, digest)
	r.advance(ctx, StateCoordinatesConverted)
	if p.hot != nil {
		p.hot.Inc(digest)
	}

	cached, ok := p.lookup(ctx, digest)
	r.advance(ctx, StateCacheChecked)
	if ok {
		observability.IncCacheHit()
		r.advance(ctx, StateCacheHit)
		r.advance(ctx, StateDone)
		return Outcome{Result: cached, Fingerprint: digest, Cached: true, Path: r.path}, nil
	}
	observability.IncCacheMiss()
	r.advance(ctx, StateCacheMiss)

	ch := p.flight.DoChan(digest, func() (any, error) {
		if !p.enter() {
			return nil, ErrClosed
		}
		defer p.active.Done()
		cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		defer context.AfterFunc(p.life, cancel)()
		return p.compute(cctx, converted, digest)
	})

	select {
	case <-ctx.Done():
		return Outcome{}, r.fail(ctx, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			// counted once by the flight, not once per waiting caller
			r.path = append(r.path, StateFailed)
			return Outcome{}, res.Err
		}
		c := res.Val.(computed)
		if res.Shared {
			observability.IncCacheShared()
		} else {
			r.path = append(r.path, c.path...)
		}
		r.advance(ctx, StateDone)
		return Outcome{
			Result:      c.res.Clone(),
			Fingerprint: digest,
			Cached:      c.fromCache,
			Shared:      res.Shared,
			Path:        r.path,
		}, nil
	}
}

func (p *Pipeline) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.active.Add(1)
	return true
}

// Drain refuses new engine runs and waits for the running ones. If ctx ends
// first the running engines are cancelled, and Drain still waits for them to
// return before reporting ctx's error. Cache hits are served throughout.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.stop()
		return nil
	case <-ctx.Done():
		p.stop()
		<-done
		return ctx.Err()
	}
}

type computed struct {
	res       model.PlanResult
	fromCache bool
	path      []State
}

// compute is the single-flight body. It tracks its own states so that callers
// abandoning the flight never race with it.
func (p *Pipeline) compute(ctx context.Context, req model.PlanRequest, digest string) (computed, error) {
	r := &run{p: p, state: StateCacheMiss}

	// a flight for this digest may have finished between lookup and DoChan
	if res, ok := p.lookup(ctx, digest); ok {
		return computed{res: res, fromCache: true}, nil
	}

	input, err := req.EngineInput()
	if err != nil {
		return computed{}, r.fail(ctx, fmt.Errorf("build engine input: %w", err))
	}
	out, err := p.runner.Run(ctx, req.Algorithm, input)
	if err != nil {
		return computed{}, r.fail(ctx, err)
	}
	r.advance(ctx, StateAlgorithmInvoked)

	res, err := p.postProcess(ctx, out, req.Algorithm)
	if err != nil {
		if errors.Is(err, transform.ErrNotCell) {
			err = &engine.ExecutionError{Algorithm: req.Algorithm, Stage: engine.StageOutput, Err: err}
		}
		return computed{}, r.fail(ctx, err)
	}
	r.advance(ctx, StateOutputPostProcessed)

	admitted := p.admit.ShouldCache(digest)
	observability.IncCacheAdmission(admitted)
	if !admitted {
		p.log.DebugContext(ctx, "result not admitted to cache")
	} else if err := p.cache.Put(ctx, digest, res); err != nil {
		p.log.WarnContext(ctx, "cache put failed; returning uncached result", "err", err)
	} else {
		r.advance(ctx, StateCached)
	}
	return computed{res: res, path: r.path}, nil
}

// Fingerprint returns the cache key req would be stored under without
// touching the cache or any engine.
func (p *Pipeline) Fingerprint(ctx context.Context, req model.PlanRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	_, digest, err := p.convert(ctx, req)
	return digest, err
}

// convert maps every node coordinate to its cell and fingerprints the
// converted request.
func (p *Pipeline) convert(ctx context.Context, req model.PlanRequest) (model.PlanRequest, string, error) {
	start := time.Now()
	nodes, err := p.tr.ToCells(ctx, req.Nodes)
	if err != nil {
		return model.PlanRequest{}, "", err
	}
	converted := req.Clone()
	converted.Nodes = nodes
	digest, err := cache.Fingerprint(converted)
	if err != nil {
		return model.PlanRequest{}, "", err
	}
	p.log.DebugContext(ctx, "coordinates converted", "nodes", len(nodes), "duration", time.Since(start))
	return converted, digest, nil
}

// lookup treats a failing cache as a miss.
func (p *Pipeline) lookup(ctx context.Context, digest string) (model.PlanResult, bool) {
	res, ok, err := p.cache.Get(ctx, digest)
	if err != nil {
		p.log.WarnContext(ctx, "cache get failed; treating as miss", "err", err)
		return model.PlanResult{}, false
	}
	return res, ok
}

// postProcess tags the output with the algorithm, copies each node's cell into
// nodeProperty.id and only then converts cells back to coordinates.
func (p *Pipeline) postProcess(ctx context.Context, out model.PlanResult, algorithm string) (model.PlanResult, error) {
	out = out.Clone()
	out.Algorithm = algorithm
	for i := range out.Nodes {
		cell, ok := out.Nodes[i].Node.Cell()
		if !ok {
			return model.PlanResult{}, fmt.Errorf("node %d (%s): %w", i, out.Nodes[i].Node, transform.ErrNotCell)
		}
		if out.Nodes[i].Property == nil {
			out.Nodes[i].Property = make(map[string]any, 1)
		}
		out.Nodes[i].Property["id"] = cell
	}
	return p.tr.ToCoordinates(ctx, out)
}

// ProcessDirect post-processes a ready-made engine output supplied by the
// caller. Nothing is cached.
func (p *Pipeline) ProcessDirect(ctx context.Context, raw []byte) (model.PlanResult, error) {
	ctx = logger.WithAlgorithm(ctx, model.AlgoInputJSON)
	r := p.newRun(ctx)

	var out model.PlanResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.PlanResult{}, r.fail(ctx, fmt.Errorf("%w: %w", ErrMalformedInput, err))
	}
	r.advance(ctx, StateAlgorithmInvoked)

	res, err := p.postProcess(ctx, out, model.AlgoInputJSON)
	if err != nil {
		if errors.Is(err, transform.ErrNotCell) {
			err = fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}
		return model.PlanResult{}, r.fail(ctx, err)
	}
	r.advance(ctx, StateOutputPostProcessed)
	r.advance(ctx, StateDone)
	return res, nil
}

// ClearCache evicts the entry that req would have produced under
// currentAlgorithm and returns its fingerprint. Evicting an absent entry is
// not an error.
func (p *Pipeline) ClearCache(ctx context.Context, req model.PlanRequest, currentAlgorithm string) (string, error) {
	req = req.Clone()
	req.Algorithm = currentAlgorithm
	ctx = logger.WithAlgorithm(ctx, currentAlgorithm)

	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	_, digest, err := p.convert(ctx, req)
	if err != nil {
		return "", err
	}
	if err := p.Evict(ctx, digest); err != nil {
		return "", err
	}
	observability.IncCacheInvalidation("clear_request")
	p.log.InfoContext(logger.WithFingerprint(ctx, digest), "cached result evicted")
	return digest, nil
}

// Evict drops a cached result by fingerprint.
func (p *Pipeline) Evict(ctx context.Context, digest string) error {
	if err := p.cache.Evict(ctx, digest); err != nil {
		return fmt.Errorf("evict %s: %w", digest, err)
	}
	if p.hot != nil {
		p.hot.Reset(digest)
	}
	return nil
}
