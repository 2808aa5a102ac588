package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/engine"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
	"github.com/mohammed-shakir/h3-netplan/internal/transform"
)

type fakePlanner struct {
	mu          sync.Mutex
	submitted   []model.PlanRequest
	cleared     []string
	clearedReq  model.PlanRequest
	submitErr   error
	directErr   error
	submitDelay map[string]time.Duration
}

func (f *fakePlanner) Submit(ctx context.Context, req model.PlanRequest) (pipeline.Outcome, error) {
	if d := f.submitDelay[req.Algorithm]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	f.mu.Unlock()
	if f.submitErr != nil {
		return pipeline.Outcome{}, f.submitErr
	}
	return pipeline.Outcome{Result: model.PlanResult{Algorithm: req.Algorithm}}, nil
}

func (f *fakePlanner) ProcessDirect(_ context.Context, raw []byte) (model.PlanResult, error) {
	if f.directErr != nil {
		return model.PlanResult{}, f.directErr
	}
	var res model.PlanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return model.PlanResult{}, err
	}
	res.Algorithm = model.AlgoInputJSON
	return res, nil
}

func (f *fakePlanner) ClearCache(_ context.Context, req model.PlanRequest, current string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, current)
	f.clearedReq = req
	return "digest", nil
}

func newHandler(p Planner) *Handler {
	return &Handler{
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Planner: p,
		Boundary: func(context.Context) []json.RawMessage {
			return []json.RawMessage{json.RawMessage(`{"lng":0,"lat":0}`)}
		},
	}
}

func reply(t *testing.T, v any) map[string]json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("reply is not an object: %s", b)
	}
	return m
}

const planArgs = `{"algorithm":"Dummy Network","nodes":[{"node":{"lng":10,"lat":20},"role":"provider"}],"budget":2}`

func TestHandle_EngineAlgorithm(t *testing.T) {
	fp := &fakePlanner{}
	h := newHandler(fp)

	m := reply(t, h.Handle(context.Background(), json.RawMessage(planArgs)))
	if string(m["algorithm"]) != `"Dummy Network"` || string(m["boundary"]) != `[{"lng":0,"lat":0}]` {
		t.Fatalf("reply=%v", m)
	}
	if !strings.Contains(string(m["input"]), `"budget":2`) || strings.Contains(string(m["input"]), "algorithm") {
		t.Fatalf("input=%s", m["input"])
	}
	if len(fp.submitted) != 1 || fp.submitted[0].Params["budget"] != json.Number("2") {
		t.Fatalf("submitted=%+v", fp.submitted)
	}
}

func TestHandle_ClearCache(t *testing.T) {
	fp := &fakePlanner{}
	h := newHandler(fp)

	args := `{"algorithm":"Clear the Cache of the Current Results","currentAlgorithm":"Min Cost Flow",` +
		`"nodes":[{"node":{"lng":10,"lat":20}}],"budget":2}`
	m := reply(t, h.Handle(context.Background(), json.RawMessage(args)))
	if string(m["algorithm"]) != `"Clear the Cache of the Current Results"` || len(m) != 1 {
		t.Fatalf("reply=%v", m)
	}
	if len(fp.cleared) != 1 || fp.cleared[0] != model.AlgoMinCostFlow {
		t.Fatalf("cleared=%v", fp.cleared)
	}
	if _, leaked := fp.clearedReq.Params["currentAlgorithm"]; leaked || fp.clearedReq.Params["budget"] != json.Number("2") {
		t.Fatalf("clear request params=%v", fp.clearedReq.Params)
	}

	m = reply(t, h.Handle(context.Background(), json.RawMessage(`{"algorithm":"Clear the Cache of the Current Results","nodes":[]}`)))
	if _, ok := m["errMsg"]; !ok {
		t.Fatalf("missing currentAlgorithm should be an error: %v", m)
	}
}

func TestHandle_DirectInput(t *testing.T) {
	fp := &fakePlanner{}
	h := newHandler(fp)

	args, _ := json.Marshal(map[string]any{
		"algorithm": model.AlgoInputJSON,
		"input":     `{"nodes":[{"node":"cellA"}],"edges":[]}`,
	})
	m := reply(t, h.Handle(context.Background(), args))
	if string(m["algorithm"]) != `"Input JSON Data Directly"` {
		t.Fatalf("reply=%v", m)
	}

	args, _ = json.Marshal(map[string]any{"algorithm": model.AlgoInputJSON, "input": "{not json"})
	m = reply(t, h.Handle(context.Background(), args))
	if string(m["errMsg"]) != `"Error: Invalid JSON data"` {
		t.Fatalf("reply=%v", m)
	}

	fp.directErr = &transform.ResolutionError{Where: "node 0", Ref: "cellZ"}
	args, _ = json.Marshal(map[string]any{"algorithm": model.AlgoInputJSON, "input": `{"nodes":[{"node":"cellZ"}]}`})
	m = reply(t, h.Handle(context.Background(), args))
	if string(m["errMsg"]) != `"Error: Invalid JSON data"` {
		t.Fatalf("reply=%v", m)
	}
}

func TestHandle_Errors(t *testing.T) {
	fp := &fakePlanner{submitErr: fmt.Errorf("%w: %q", engine.ErrUnknownAlgorithm, "Dummy Network")}
	h := newHandler(fp)

	m := reply(t, h.Handle(context.Background(), json.RawMessage(`[1,2]`)))
	if !strings.HasPrefix(string(m["errMsg"]), `"Error: `) {
		t.Fatalf("reply=%v", m)
	}
	m = reply(t, h.Handle(context.Background(), json.RawMessage(planArgs)))
	if !strings.Contains(string(m["errMsg"]), "unknown algorithm") {
		t.Fatalf("reply=%v", m)
	}
}

func TestServe_ConcurrentMessagesOnOneConnection(t *testing.T) {
	fp := &fakePlanner{submitDelay: map[string]time.Duration{model.AlgoCPLEX: 300 * time.Millisecond}}
	srv := httptest.NewServer(newHandler(fp))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()

	slow := strings.Replace(planArgs, "Dummy Network", model.AlgoCPLEX, 1)
	for _, data := range []string{slow, planArgs} {
		if err := wsjson.Write(ctx, c, Envelope{Event: EventCallAlgorithm, Data: json.RawMessage(data)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// an unrelated event is ignored
	_ = wsjson.Write(ctx, c, Envelope{Event: "ping"})

	var order []string
	for range 2 {
		var env Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Event != EventGetResults {
			t.Fatalf("event=%q", env.Event)
		}
		var body struct {
			Algorithm string `json:"algorithm"`
		}
		_ = json.Unmarshal(env.Data, &body)
		order = append(order, body.Algorithm)
	}
	if order[0] != model.AlgoDummyNetwork || order[1] != model.AlgoCPLEX {
		t.Fatalf("fast reply should not wait for the slow one: %v", order)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}
