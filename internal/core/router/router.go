// Package router holds the HTTP handlers for plan submission and the
// reference data served next to plans.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

// Planner runs plan requests; *pipeline.Pipeline satisfies it.
type Planner interface {
	Submit(ctx context.Context, req model.PlanRequest) (pipeline.Outcome, error)
}

type BoundarySource interface {
	Boundary(ctx context.Context) ([]json.RawMessage, error)
}

type Handlers struct {
	Log          *slog.Logger
	Planner      Planner
	Boundary     BoundarySource // nil serves an empty boundary
	Examples     []json.RawMessage
	MaxBodyBytes int64
}

// SubmitPlan handles POST /submitNetworkRawData.
func (h *Handlers) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}

	req, err := ParsePlanRequest(r)
	if err != nil {
		LogFailure(ctx, h.Log, err)
		WriteError(w, err)
		return
	}

	out, err := h.Planner.Submit(ctx, req)
	if err != nil {
		LogFailure(ctx, h.Log, err)
		WriteError(w, err)
		return
	}

	w.Header().Set("X-Plan-Fingerprint", out.Fingerprint)
	w.Header().Set("X-Plan-Cache", cacheStatus(out))
	writeJSON(w, http.StatusOK, PlanPayload(out.Result, req, h.BoundaryFor(ctx)))
}

func cacheStatus(out pipeline.Outcome) string {
	switch {
	case out.Cached:
		return "hit"
	case out.Shared:
		return "shared"
	default:
		return "miss"
	}
}

// BoundaryFor returns the boundary rows, or none when they cannot be read.
// A plan is still worth returning without its backdrop.
func (h *Handlers) BoundaryFor(ctx context.Context) []json.RawMessage {
	if h.Boundary == nil {
		return []json.RawMessage{}
	}
	b, err := h.Boundary.Boundary(ctx)
	if err != nil {
		h.Log.WarnContext(ctx, "boundary unavailable", "err", err)
		return []json.RawMessage{}
	}
	return b
}

func (h *Handlers) GetBoundary(w http.ResponseWriter, r *http.Request) {
	if h.Boundary == nil {
		writeJSON(w, http.StatusOK, []json.RawMessage{})
		return
	}
	b, err := h.Boundary.Boundary(r.Context())
	if err != nil {
		LogFailure(r.Context(), h.Log, err)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) GetExamples(w http.ResponseWriter, _ *http.Request) {
	ex := h.Examples
	if ex == nil {
		ex = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, ex)
}

// PlanPayload is the success body on both transports: the plan, the request
// it answers without its algorithm field, and the boundary.
func PlanPayload(res model.PlanResult, input model.PlanRequest, boundary []json.RawMessage) map[string]any {
	out := make(map[string]any, len(res.Extra)+5)
	for k, v := range res.Extra {
		out[k] = v
	}
	nodes, edges := res.Nodes, res.Edges
	if nodes == nil {
		nodes = []model.Node{}
	}
	if edges == nil {
		edges = []model.Edge{}
	}
	input.Algorithm = ""
	if boundary == nil {
		boundary = []json.RawMessage{}
	}
	out["nodes"] = nodes
	out["edges"] = edges
	out["algorithm"] = res.Algorithm
	out["input"] = input
	out["boundary"] = boundary
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
