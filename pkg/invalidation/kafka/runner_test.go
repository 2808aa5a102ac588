package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/invalidation"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

const (
	fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type fakeEvicter struct {
	mu       sync.Mutex
	evicted  []string
	cleared  []string
	evictErr error
	clearErr error
}

func (f *fakeEvicter) Evict(_ context.Context, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evictErr != nil {
		return f.evictErr
	}
	f.evicted = append(f.evicted, digest)
	return nil
}

func (f *fakeEvicter) ClearCache(_ context.Context, req model.PlanRequest, algo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return "", f.clearErr
	}
	if req.Algorithm != algo {
		return "", fmt.Errorf("algorithm not substituted: %q", req.Algorithm)
	}
	f.cleared = append(f.cleared, algo)
	return fpA, nil
}

func (f *fakeEvicter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evicted), len(f.cleared)
}

func newRunner(t *testing.T, ev Evicter) *Runner {
	t.Helper()
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka, DedupeSize: 16}
	return New(cfg, ev, Options{Register: prometheus.NewRegistry()})
}

func message(t *testing.T, ev any, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "t", Offset: offset, Timestamp: time.Now().UTC(), Value: b}
}

func sampleRequest() model.PlanRequest {
	return model.PlanRequest{
		Nodes: []model.Node{{Node: model.AtCoordinate(model.Coordinate{Lng: 10, Lat: 20}), Role: model.RoleProvider}},
	}
}

func TestEvict_AppliesOncePerVersion(t *testing.T) {
	fe := &fakeEvicter{}
	r := newRunner(t, fe)
	ctx := context.Background()

	msg := message(t, invalidation.NewEvict(1, "test", fpA, fpB), 1)
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("redelivered handleMessage: %v", err)
	}
	if n, _ := fe.counts(); n != 2 {
		t.Fatalf("evictions=%d want 2", n)
	}
	if got := testutil.ToFloat64(r.ms.apply.WithLabelValues("skip_version")); got != 2 {
		t.Fatalf("skip_version=%v want 2", got)
	}

	if err := r.handleMessage(ctx, message(t, invalidation.NewEvict(2, "test", fpA), 2)); err != nil {
		t.Fatalf("handleMessage v2: %v", err)
	}
	if n, _ := fe.counts(); n != 3 {
		t.Fatalf("newer version not applied: evictions=%d", n)
	}
}

func TestEvict_UnversionedAlwaysApplies(t *testing.T) {
	fe := &fakeEvicter{}
	r := newRunner(t, fe)
	msg := message(t, invalidation.NewEvict(0, "test", fpA), 1)
	for range 3 {
		if err := r.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}
	if n, _ := fe.counts(); n != 3 {
		t.Fatalf("evictions=%d want 3", n)
	}
}

func TestClear_SubstitutesAlgorithmAndDedupes(t *testing.T) {
	fe := &fakeEvicter{}
	r := newRunner(t, fe)
	msg := message(t, invalidation.NewClear(5, "test", sampleRequest(), model.AlgoMinCostFlow), 1)

	for range 2 {
		if err := r.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}
	if _, n := fe.counts(); n != 1 {
		t.Fatalf("clears=%d want 1", n)
	}
	if fe.cleared[0] != model.AlgoMinCostFlow {
		t.Fatalf("cleared %q", fe.cleared[0])
	}
}

func TestPoisonMessagesAreSkipped(t *testing.T) {
	fe := &fakeEvicter{}
	r := newRunner(t, fe)
	ctx := context.Background()

	bad := &sarama.ConsumerMessage{Value: []byte("{not json")}
	if err := r.handleMessage(ctx, bad); err != nil {
		t.Fatalf("decode failure should be skipped, got %v", err)
	}
	invalid := message(t, invalidation.Event{Op: invalidation.OpEvict, Fingerprints: []string{"nope"}}, 2)
	if err := r.handleMessage(ctx, invalid); err != nil {
		t.Fatalf("invalid event should be skipped, got %v", err)
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("error")); got != 2 {
		t.Fatalf("error messages=%v want 2", got)
	}

	fe.clearErr = fmt.Errorf("%w: at least one node is required", pipeline.ErrMalformedInput)
	if err := r.handleMessage(ctx, message(t, invalidation.NewClear(1, "test", sampleRequest(), model.AlgoCPLEX), 3)); err != nil {
		t.Fatalf("unresolvable clear should be skipped, got %v", err)
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped=%v want 1", got)
	}
}

func TestApplyFailureIsRetried(t *testing.T) {
	fe := &fakeEvicter{evictErr: errors.New("redis down")}
	r := newRunner(t, fe)
	err := r.handleMessage(context.Background(), message(t, invalidation.NewEvict(1, "test", fpA), 1))
	if err == nil {
		t.Fatalf("expected error so the message is redelivered")
	}
}

type fakeSession struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return s.claims }
func (s *fakeSession) MemberID() string                         { return "m" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}

type fakeClaim struct{ ch chan *sarama.ConsumerMessage }

func (c fakeClaim) Topic() string                            { return "t" }
func (c fakeClaim) Partition() int32                         { return 0 }
func (c fakeClaim) InitialOffset() int64                     { return 0 }
func (c fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestGroupHandler_MarksAndTracksAssignment(t *testing.T) {
	fe := &fakeEvicter{}
	r := newRunner(t, fe)
	h := &groupHandler{
		setup:   r.onAssign,
		cleanup: func(sarama.ConsumerGroupSession) { r.onRevoke() },
		process: r.handleMessage,
	}
	sess := &fakeSession{ctx: context.Background(), claims: map[string][]int32{"t": {0, 3}}}

	if ready, _ := r.Readiness(); ready {
		t.Fatalf("ready before assignment")
	}
	if err := h.Setup(sess); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if ready, parts := r.Readiness(); !ready || len(parts) != 2 {
		t.Fatalf("readiness=%v parts=%v", ready, parts)
	}

	claim := fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	claim.ch <- message(t, invalidation.NewEvict(1, "test", fpA), 10)
	claim.ch <- &sarama.ConsumerMessage{Offset: 11, Value: []byte("garbage")}
	claim.ch <- message(t, invalidation.NewEvict(1, "test", fpB), 12)
	close(claim.ch)
	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(sess.marked) != 3 {
		t.Fatalf("marked=%v want all three offsets", sess.marked)
	}

	fe.evictErr = errors.New("boom")
	claim = fakeClaim{ch: make(chan *sarama.ConsumerMessage, 1)}
	claim.ch <- message(t, invalidation.NewEvict(2, "test", fpA), 13)
	close(claim.ch)
	if err := h.ConsumeClaim(sess, claim); err == nil {
		t.Fatalf("expected ConsumeClaim to stop on apply failure")
	}
	if len(sess.marked) != 3 {
		t.Fatalf("failed message was marked: %v", sess.marked)
	}

	if err := h.Cleanup(sess); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if ready, _ := r.Readiness(); ready {
		t.Fatalf("still ready after revoke")
	}
}

func TestStart_DisabledIsNoop(t *testing.T) {
	r := New(FromConfig(configDisabled()), &fakeEvicter{}, Options{})
	if r.Active() {
		t.Fatalf("runner should be inactive")
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}

func TestPublisher_SendsValidatedEvent(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(b []byte) error {
		var ev invalidation.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.Op != invalidation.OpEvict || len(ev.Fingerprints) != 1 || ev.Fingerprints[0] != fpA {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})
	p := &Publisher{topic: "netplan-cache-invalidation", prod: sp}

	if _, _, err := p.Publish(invalidation.Event{Op: "evict"}); err == nil {
		t.Fatalf("invalid event was published")
	}
	if _, _, err := p.Publish(invalidation.NewEvict(1, "test", fpA)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
