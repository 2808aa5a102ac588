package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

// ParsePlanRequest accepts a JSON body or a form post. A form carries nodes as
// a JSON string; every other form field except algorithm becomes a string
// parameter.
func ParsePlanRequest(r *http.Request) (model.PlanRequest, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		return parseJSON(r)
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return parseForm(r)
	default:
		return model.PlanRequest{}, fmt.Errorf("%w: unsupported content type %q", pipeline.ErrMalformedInput, ct)
	}
}

func parseJSON(r *http.Request) (model.PlanRequest, error) {
	var req model.PlanRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return model.PlanRequest{}, malformed(err)
	}
	if dec.More() {
		return model.PlanRequest{}, fmt.Errorf("%w: trailing data after request object", pipeline.ErrMalformedInput)
	}
	return req, nil
}

func parseForm(r *http.Request) (model.PlanRequest, error) {
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return model.PlanRequest{}, malformed(err)
	}
	raw := strings.TrimSpace(r.PostForm.Get("nodes"))
	if raw == "" {
		return model.PlanRequest{}, fmt.Errorf("%w: missing form field nodes", pipeline.ErrMalformedInput)
	}
	nodes, err := model.DecodeNodes([]byte(raw))
	if err != nil {
		return model.PlanRequest{}, malformed(err)
	}
	req := model.PlanRequest{Nodes: nodes, Algorithm: r.PostForm.Get("algorithm")}
	for k, vs := range r.PostForm {
		if k == "nodes" || k == "algorithm" || len(vs) == 0 {
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]any)
		}
		req.Params[k] = vs[0]
	}
	return req, nil
}

func malformed(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: body exceeds %d bytes", pipeline.ErrMalformedInput, mbe.Limit)
	}
	return fmt.Errorf("%w: %w", pipeline.ErrMalformedInput, err)
}
