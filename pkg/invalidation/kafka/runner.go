// Package kafka consumes cache invalidation events so that every replica of
// the planner drops the same cached results.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/invalidation"
	"github.com/mohammed-shakir/h3-netplan/internal/logger"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

// Evicter drops cached plans. *pipeline.Pipeline implements it.
type Evicter interface {
	Evict(ctx context.Context, digest string) error
	ClearCache(ctx context.Context, req model.PlanRequest, currentAlgorithm string) (string, error)
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	ev       Evicter
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func New(cfg InvalidationConfig, ev Evicter, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		ev:     ev,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// Active reports whether Start will join a consumer group.
func (r *Runner) Active() bool {
	return r.cfg.Enabled && r.cfg.Driver == DriverKafka
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.Active() {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.ev == nil {
		return errors.New("kafka runner: evicter dependency is required")
	}
	if len(r.cfg.Brokers) == 0 {
		return errors.New("kafka runner: no brokers configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup:   r.onAssign,
		cleanup: func(sarama.ConsumerGroupSession) { r.onRevoke() },
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				observability.IncKafkaConsumerError("consume")
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			observability.IncKafkaConsumerError("group")
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) onAssign(sess sarama.ConsumerGroupSession) {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(true)
	r.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			r.assign[p] = struct{}{}
		}
	}
}

func (r *Runner) onRevoke() {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(false)
	r.assign = map[int32]struct{}{}
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// errSkip marks events that can never be applied. They are counted and
// committed instead of being redelivered forever.
var errSkip = errors.New("invalidation event skipped")

// handleMessage returns an error only when applying a valid event failed, in
// which case the session ends and the message is redelivered.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	ctx = logger.WithComponent(ctx, "invalidation")

	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.reject(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		r.reject(ctx, msg, "validate", err)
		return nil
	}

	err := r.apply(ctx, ev)
	r.observe(ev.Op, err, time.Since(start))
	if errors.Is(err, errSkip) {
		r.log.WarnContext(ctx, "invalidation event skipped",
			"op", ev.Op, "source", ev.Source, "offset", msg.Offset, "err", err)
		return nil
	}
	return err
}

func (r *Runner) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	r.ms.msgs.WithLabelValues("error").Inc()
	observability.IncKafkaConsumerError(kind)
	r.log.WarnContext(ctx, "invalidation message rejected",
		"kind", kind, "partition", msg.Partition, "offset", msg.Offset, "err", err)
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	switch {
	case err == nil:
		r.ms.msgs.WithLabelValues("ok").Inc()
	case errors.Is(err, errSkip):
		r.ms.msgs.WithLabelValues("skipped").Inc()
	default:
		r.ms.msgs.WithLabelValues("error").Inc()
		observability.IncKafkaConsumerError("apply")
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

func (r *Runner) apply(ctx context.Context, ev invalidation.Event) error {
	if ev.Op == invalidation.OpClear {
		return r.applyClear(ctx, ev)
	}

	applied := 0
	for _, fp := range ev.Fingerprints {
		if !r.ver.shouldApply(fp, ev.Version) {
			r.ms.apply.WithLabelValues("skip_version").Inc()
			continue
		}
		if err := r.ev.Evict(ctx, fp); err != nil {
			return fmt.Errorf("evict %s: %w", fp, err)
		}
		observability.IncCacheInvalidation("kafka")
		applied++
	}
	if applied > 0 {
		r.ms.apply.WithLabelValues("evict").Add(float64(applied))
		r.log.InfoContext(ctx, "cached results evicted",
			"count", applied, "source", ev.Source, "version", ev.Version)
	}
	return nil
}

func (r *Runner) applyClear(ctx context.Context, ev invalidation.Event) error {
	req := ev.Request.Clone()
	req.Algorithm = ev.Algorithm
	key, err := cache.Fingerprint(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errSkip, err)
	}
	if !r.ver.shouldApply("clear:"+key, ev.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		return nil
	}

	if _, err := r.ev.ClearCache(ctx, req, ev.Algorithm); err != nil {
		switch pipeline.Classify(err) {
		case pipeline.KindMalformedInput, pipeline.KindResolution:
			return fmt.Errorf("%w: %w", errSkip, err)
		}
		return err
	}
	r.ms.apply.WithLabelValues("clear").Inc()
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
