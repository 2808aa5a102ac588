package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
)

// Exit codes for planctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the request itself was rejected or failed
	ExitCommandError = 2 // bad flags, unreadable files, unreachable dependencies
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func commandError(format string, args ...any) error {
	return &ExitError{Code: ExitCommandError, Err: fmt.Errorf(format, args...)}
}

// GetExitCode maps an error from Execute to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	switch pipeline.Classify(err) {
	case pipeline.KindInternal, pipeline.KindCanceled, pipeline.KindUnavailable:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// emit prints v as indented JSON in json mode, or text otherwise.
func emit(cmd *cobra.Command, opts *RootOptions, v any, text string) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, commandError("read %s: %w", path, err)
	}
	return b, nil
}

func readRequest(cmd *cobra.Command, path, algorithm string) (model.PlanRequest, error) {
	b, err := readInput(cmd, path)
	if err != nil {
		return model.PlanRequest{}, err
	}
	var req model.PlanRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return model.PlanRequest{}, fmt.Errorf("%w: %s: %w", pipeline.ErrMalformedInput, path, err)
	}
	if algorithm != "" {
		req.Algorithm = algorithm
	}
	return req, nil
}
