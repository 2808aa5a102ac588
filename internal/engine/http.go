package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine posts the JSON input to a remote solver and reads the plan from
// the response body.
type HTTPEngine struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
	max     int64
}

func NewHTTP(name, url string, client *http.Client) *HTTPEngine {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEngine{name: name, url: url, client: client}
}

func (h *HTTPEngine) WithTimeout(d time.Duration) *HTTPEngine {
	h.timeout = d
	return h
}

// WithMaxOutput bounds the response body; n <= 0 means DefaultMaxOutput.
func (h *HTTPEngine) WithMaxOutput(n int64) *HTTPEngine {
	h.max = n
	return h
}

func (h *HTTPEngine) Name() string { return h.name }

func (h *HTTPEngine) Timeout() time.Duration { return h.timeout }

func (h *HTTPEngine) Run(ctx context.Context, input []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(input))
	if err != nil {
		return nil, &ExecutionError{Algorithm: h.name, Stage: StageLaunch, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ExecutionError{Algorithm: h.name, Stage: StageTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &ExecutionError{
			Algorithm: h.name,
			Stage:     StageExit,
			ExitCode:  resp.StatusCode,
			Stderr:    tail(string(b)),
			Err:       fmt.Errorf("upstream status %d", resp.StatusCode),
		}
	}
	limit := outputLimit(h.max)
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ExecutionError{Algorithm: h.name, Stage: StageTransport, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(b)) > limit {
		return nil, &ExecutionError{Algorithm: h.name, Stage: StageOutput, Err: fmt.Errorf("%w of %d bytes", ErrOutputTooLarge, limit)}
	}
	return b, nil
}
