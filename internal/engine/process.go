package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultWaitDelay = 2 * time.Second
	stderrTail       = 2048
)

// ProcessEngine runs a local executable per request. The JSON input is passed
// as the final argv element and stdout is the JSON output. When command is
// set (an interpreter such as python) the executable path becomes its first
// argument.
type ProcessEngine struct {
	name      string
	command   string
	path      string
	args      []string
	env       []string
	timeout   time.Duration
	waitDelay time.Duration
	max       int64
}

func NewProcess(name, command, path string, args ...string) *ProcessEngine {
	return &ProcessEngine{
		name:      name,
		command:   command,
		path:      path,
		args:      args,
		waitDelay: defaultWaitDelay,
	}
}

// WithEnv adds KEY=value pairs on top of the parent environment.
func (p *ProcessEngine) WithEnv(kv ...string) *ProcessEngine {
	p.env = append(p.env, kv...)
	return p
}

func (p *ProcessEngine) WithTimeout(d time.Duration) *ProcessEngine {
	p.timeout = d
	return p
}

// WithMaxOutput bounds the stdout kept from one run; n <= 0 means
// DefaultMaxOutput.
func (p *ProcessEngine) WithMaxOutput(n int64) *ProcessEngine {
	p.max = n
	return p
}

func (p *ProcessEngine) Name() string { return p.name }

func (p *ProcessEngine) Timeout() time.Duration { return p.timeout }

func (p *ProcessEngine) argv(input []byte) (string, []string) {
	var argv []string
	bin := p.path
	if p.command != "" {
		bin = p.command
		argv = append(argv, p.path)
	}
	argv = append(argv, p.args...)
	argv = append(argv, string(input))
	return bin, argv
}

func (p *ProcessEngine) Run(ctx context.Context, input []byte) ([]byte, error) {
	bin, argv := p.argv(input)
	cmd := exec.CommandContext(ctx, bin, argv...)
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}
	stdout := &cappedBuffer{max: outputLimit(p.max)}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = p.waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), ctxErr
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return stdout.Bytes(), &ExecutionError{
				Algorithm: p.name,
				Stage:     StageExit,
				ExitCode:  ee.ExitCode(),
				Stderr:    tail(stderr.String()),
				Err:       err,
			}
		}
		return nil, &ExecutionError{Algorithm: p.name, Stage: StageLaunch, Err: err}
	}
	if stdout.over {
		return nil, &ExecutionError{Algorithm: p.name, Stage: StageOutput, Err: fmt.Errorf("%w of %d bytes", ErrOutputTooLarge, stdout.max)}
	}
	return stdout.Bytes(), nil
}

// cappedBuffer keeps at most max bytes and discards the rest, so a chatty
// engine never blocks on a full pipe.
type cappedBuffer struct {
	bytes.Buffer
	max  int64
	over bool
}

func (c *cappedBuffer) Write(b []byte) (int, error) {
	if c.over || int64(c.Len()+len(b)) > c.max {
		c.over = true
		return len(b), nil
	}
	return c.Buffer.Write(b)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
