package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/h3-netplan/internal/engine"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

// ErrorBody is the failure payload on both transports.
type ErrorBody struct {
	ErrMsg string `json:"errMsg"`
}

// InvalidJSONMsg is the message for direct input that is not a usable plan.
const InvalidJSONMsg = "Error: Invalid JSON data"

func StatusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindMalformedInput, pipeline.KindUnknownAlgorithm:
		return http.StatusBadRequest
	case pipeline.KindResolution:
		return http.StatusUnprocessableEntity
	case pipeline.KindExecution:
		return http.StatusBadGateway
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCanceled:
		return http.StatusRequestTimeout
	case pipeline.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFor is the client-facing body for err. Failures caused by the request
// carry their detail; engine and server failures only name the class, since
// their text can hold engine stderr and local paths. LogFailure has the rest.
func ErrorFor(err error) ErrorBody {
	var msg string
	switch pipeline.Classify(err) {
	case pipeline.KindMalformedInput, pipeline.KindUnknownAlgorithm, pipeline.KindResolution:
		msg = err.Error()
	case pipeline.KindExecution:
		msg = "algorithm failed"
		var ee *engine.ExecutionError
		if errors.As(err, &ee) && ee.Algorithm != "" {
			msg = fmt.Sprintf("algorithm %q failed", ee.Algorithm)
		}
	case pipeline.KindTimeout:
		msg = "algorithm timed out"
	case pipeline.KindCanceled:
		msg = "request cancelled"
	case pipeline.KindUnavailable:
		msg = "service is shutting down"
	default:
		msg = "internal error"
	}
	return ErrorBody{ErrMsg: "Error: " + msg}
}

func WriteError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(pipeline.Classify(err)), ErrorFor(err))
}

// LogFailure logs a failed request. The origin and request id come from ctx.
func LogFailure(ctx context.Context, l *slog.Logger, err error) {
	kind := pipeline.Classify(err)
	level := slog.LevelWarn
	if StatusFor(kind) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	l.Log(ctx, level, "request failed", "kind", kind, "at", time.Now().UTC(), "err", err)
}
