package system

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

func TestExecutorExecute(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	out, err := executor.Execute("echo", "hello")

	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestExecutorMissingBinary(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	_, err := executor.Execute("definitely-not-a-real-command-xyz")

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProcessSpawn))
}

func TestExecutorTimeout(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	start := time.Now()
	_, err := executor.ExecuteWithTimeout(100*time.Millisecond, "sleep", "5")

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExecutionTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecutorWithInput(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	out, err := executor.ExecuteWithInput("cat", "stdin payload")

	require.NoError(t, err)
	assert.Equal(t, "stdin payload", out)
}

func TestExecutorCapturesStderr(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	out, err := executor.Execute("sh", "-c", "echo on-stderr 1>&2")

	require.NoError(t, err)
	assert.Contains(t, out, "on-stderr")
}

func TestExecutorNonZeroExit(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	out, err := executor.Execute("sh", "-c", "echo partial; exit 3")

	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrExecutionTimeout))
	// Output survives a failed run for diagnostics
	assert.Contains(t, out, "partial")
}

func TestExecutorRecordsInvocation(t *testing.T) {
	logger := &testLogger{}
	executor := NewExecutor(logger)

	_, _ = executor.Execute("echo", "traced")

	require.Len(t, logger.debugMsgs, 1)
	assert.Contains(t, logger.debugMsgs[0], "Command executed")
}

func TestExecutorHasCommand(t *testing.T) {
	executor := NewExecutor(&testLogger{})

	assert.True(t, executor.HasCommand("sh"))
	assert.False(t, executor.HasCommand("definitely-not-a-real-command-xyz"))
}
