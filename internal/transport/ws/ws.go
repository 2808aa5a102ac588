// Package ws is the message-based transport: clients send callAlgorithm
// events over a WebSocket and receive getResults events back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/core/router"
	"github.com/mohammed-shakir/h3-netplan/internal/logger"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

const (
	EventCallAlgorithm = "callAlgorithm"
	EventGetResults    = "getResults"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Planner is the pipeline surface the transport drives.
type Planner interface {
	Submit(ctx context.Context, req model.PlanRequest) (pipeline.Outcome, error)
	ProcessDirect(ctx context.Context, raw []byte) (model.PlanResult, error)
	ClearCache(ctx context.Context, req model.PlanRequest, currentAlgorithm string) (string, error)
}

type Handler struct {
	Log     *slog.Logger
	Planner Planner
	// Boundary supplies the boundary rows attached to plan replies.
	Boundary func(ctx context.Context) []json.RawMessage
	// OriginPatterns are passed to websocket.Accept; empty allows same-origin only.
	OriginPatterns []string
	// MaxInFlight bounds concurrently processed messages per connection.
	MaxInFlight int
	// ReadLimit caps a single inbound message in bytes.
	ReadLimit int64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// the server's write deadline is sized for one plan, not a session
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.Log.WarnContext(r.Context(), "websocket accept failed", "err", err)
		return
	}
	defer func() { _ = c.CloseNow() }()
	if h.ReadLimit > 0 {
		c.SetReadLimit(h.ReadLimit)
	}

	observability.WSConnOpened()
	defer observability.WSConnClosed()

	ctx := logger.WithComponent(r.Context(), "ws")
	h.Log.DebugContext(ctx, "websocket connected")
	err = h.serve(ctx, c)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		h.Log.DebugContext(ctx, "websocket closed")
	default:
		if !errors.Is(err, context.Canceled) {
			h.Log.WarnContext(ctx, "websocket closed with error", "err", err)
		}
	}
}

// serve reads until the connection ends. Each message is handled on its own
// goroutine so a slow engine run never holds up the next message.
func (h *Handler) serve(ctx context.Context, c *websocket.Conn) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := h.MaxInFlight
	if limit <= 0 {
		limit = 8
	}
	sem := make(chan struct{}, limit)

	for {
		var env Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			return err
		}
		if env.Event != EventCallAlgorithm {
			h.Log.DebugContext(ctx, "ignoring websocket event", "event", env.Event)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		wg.Add(1)
		go func(data json.RawMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			mctx := logger.WithRequestID(ctx, "")
			reply := h.Handle(mctx, data)
			if err := h.write(mctx, c, reply); err != nil {
				h.Log.DebugContext(mctx, "websocket write failed", "err", err)
			}
		}(env.Data)
	}
}

func (h *Handler) write(ctx context.Context, c *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	return wsjson.Write(ctx, c, Envelope{Event: EventGetResults, Data: b})
}

// Handle answers one callAlgorithm payload. The reply is a plan, the clear
// acknowledgement or an ErrorBody.
func (h *Handler) Handle(ctx context.Context, data json.RawMessage) any {
	var head struct {
		Algorithm        string          `json:"algorithm"`
		CurrentAlgorithm string          `json:"currentAlgorithm"`
		Input            json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return h.fail(ctx, fmt.Errorf("%w: %w", pipeline.ErrMalformedInput, err))
	}
	ctx = logger.WithAlgorithm(ctx, head.Algorithm)

	switch head.Algorithm {
	case model.AlgoInputJSON:
		return h.direct(ctx, head.Input)

	case model.AlgoClearCache:
		req, err := decodeRequest(data)
		if err != nil {
			return h.fail(ctx, err)
		}
		delete(req.Params, "currentAlgorithm")
		if head.CurrentAlgorithm == "" {
			return h.fail(ctx, fmt.Errorf("%w: currentAlgorithm is required", pipeline.ErrMalformedInput))
		}
		if _, err := h.Planner.ClearCache(ctx, req, head.CurrentAlgorithm); err != nil {
			return h.fail(ctx, err)
		}
		return map[string]string{"algorithm": model.AlgoClearCache}

	default:
		req, err := decodeRequest(data)
		if err != nil {
			return h.fail(ctx, err)
		}
		out, err := h.Planner.Submit(ctx, req)
		if err != nil {
			return h.fail(ctx, err)
		}
		var boundary []json.RawMessage
		if h.Boundary != nil {
			boundary = h.Boundary(ctx)
		}
		return router.PlanPayload(out.Result, req, boundary)
	}
}

// direct accepts the ready-made output as a JSON string, or inline.
func (h *Handler) direct(ctx context.Context, input json.RawMessage) any {
	raw := []byte(input)
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		raw = []byte(s)
	}
	res, err := h.Planner.ProcessDirect(ctx, raw)
	if err != nil {
		router.LogFailure(ctx, h.Log, err)
		return router.ErrorBody{ErrMsg: router.InvalidJSONMsg}
	}
	return res
}

func (h *Handler) fail(ctx context.Context, err error) router.ErrorBody {
	router.LogFailure(ctx, h.Log, err)
	return router.ErrorFor(err)
}

func decodeRequest(data json.RawMessage) (model.PlanRequest, error) {
	var req model.PlanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return model.PlanRequest{}, fmt.Errorf("%w: %w", pipeline.ErrMalformedInput, err)
	}
	return req, nil
}
