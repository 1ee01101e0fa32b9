package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// Executor implements types.SystemExecutor over os/exec. Every invocation is
// written to the log trail before the result reaches the caller, so a crash
// later in the caller still leaves a trace of what ran.
type Executor struct {
	logger types.Logger
}

// NewExecutor creates a new command executor
func NewExecutor(logger types.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs a command and returns its combined output
func (e *Executor) Execute(cmd string, args ...string) (string, error) {
	return e.run(context.Background(), cmd, "", args...)
}

// ExecuteContext runs a command bound to the given context
func (e *Executor) ExecuteContext(ctx context.Context, cmd string, args ...string) (string, error) {
	return e.run(ctx, cmd, "", args...)
}

// ExecuteWithTimeout runs a command with an explicit deadline
func (e *Executor) ExecuteWithTimeout(timeout time.Duration, cmd string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.run(ctx, cmd, "", args...)
}

// ExecuteWithInput runs a command feeding input on stdin
func (e *Executor) ExecuteWithInput(cmd string, input string, args ...string) (string, error) {
	return e.run(context.Background(), cmd, input, args...)
}

// ExecuteWithInputContext runs a command with stdin input bound to a context
func (e *Executor) ExecuteWithInputContext(ctx context.Context, cmd string, input string, args ...string) (string, error) {
	return e.run(ctx, cmd, input, args...)
}

// HasCommand reports whether the named binary is available in PATH
func (e *Executor) HasCommand(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

func (e *Executor) run(ctx context.Context, name, input string, args ...string) (string, error) {
	if _, err := exec.LookPath(name); err != nil {
		e.logger.Error("Command not found", "command", name)
		return "", fmt.Errorf("%w: %s", types.ErrProcessSpawn, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	// dhclient and friends report on stderr, so capture both streams together
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)
	out := output.String()

	cmdLine := name
	if len(args) > 0 {
		cmdLine = name + " " + strings.Join(args, " ")
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	// Record the invocation before the caller inspects anything
	e.logger.Debug("Command executed",
		"command", cmdLine,
		"duration", duration.Round(time.Millisecond).String(),
		"exit", exitCode,
		"output", strings.TrimSpace(out))

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("%w: %s", types.ErrExecutionTimeout, cmdLine)
		}
		return out, fmt.Errorf("command %q failed: %w", cmdLine, runErr)
	}
	return out, nil
}
