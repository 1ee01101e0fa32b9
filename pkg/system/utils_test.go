package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// testExecutor is a mock executor that tracks executed commands
type testExecutor struct {
	executedCommands []testCommand
	mockResponses    map[string]mockResponse
	hasCommands      map[string]bool
}

type testCommand struct {
	cmd   string
	args  []string
	input string
}

type mockResponse struct {
	output string
	err    error
}

func newTestExecutor() *testExecutor {
	return &testExecutor{
		mockResponses: make(map[string]mockResponse),
		hasCommands:   make(map[string]bool),
	}
}

func (e *testExecutor) Execute(cmd string, args ...string) (string, error) {
	e.executedCommands = append(e.executedCommands, testCommand{cmd: cmd, args: args})
	if resp, ok := e.mockResponses[cmd]; ok {
		return resp.output, resp.err
	}
	return "", nil
}

func (e *testExecutor) ExecuteContext(ctx context.Context, cmd string, args ...string) (string, error) {
	return e.Execute(cmd, args...)
}

func (e *testExecutor) ExecuteWithTimeout(timeout time.Duration, cmd string, args ...string) (string, error) {
	return e.Execute(cmd, args...)
}

func (e *testExecutor) ExecuteWithInput(cmd string, input string, args ...string) (string, error) {
	e.executedCommands = append(e.executedCommands, testCommand{cmd: cmd, args: args, input: input})
	if resp, ok := e.mockResponses[cmd]; ok {
		return resp.output, resp.err
	}
	return "", nil
}

func (e *testExecutor) ExecuteWithInputContext(ctx context.Context, cmd string, input string, args ...string) (string, error) {
	return e.ExecuteWithInput(cmd, input, args...)
}

func (e *testExecutor) HasCommand(cmd string) bool {
	if has, ok := e.hasCommands[cmd]; ok {
		return has
	}
	return true
}

// testLogger is a mock logger for testing
type testLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (l *testLogger) Debug(msg string, fields ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *testLogger) Info(msg string, fields ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *testLogger) Warn(msg string, fields ...interface{}) {
	l.warnMsgs = append(l.warnMsgs, msg)
}

func (l *testLogger) Error(msg string, fields ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

func TestKillProcessFast(t *testing.T) {
	t.Run("executes pkill with SIGKILL", func(t *testing.T) {
		executor := newTestExecutor()
		logger := &testLogger{}

		KillProcessFast(executor, logger, "wpa_supplicant")

		assert.Len(t, executor.executedCommands, 1)
		cmd := executor.executedCommands[0]
		assert.Equal(t, "pkill", cmd.cmd)
		assert.Contains(t, cmd.args, "-9")
		assert.Contains(t, cmd.args, "-f")
		assert.Contains(t, cmd.args, "wpa_supplicant")
	})

	t.Run("logs debug on pkill failure", func(t *testing.T) {
		executor := newTestExecutor()
		executor.mockResponses["pkill"] = mockResponse{err: assert.AnError}
		logger := &testLogger{}

		KillProcessFast(executor, logger, "nonexistent")

		assert.Len(t, logger.debugMsgs, 1)
		assert.Contains(t, logger.debugMsgs[0], "No process to kill")
	})
}

func TestWriteSecureFile(t *testing.T) {
	t.Run("calls install with correct arguments", func(t *testing.T) {
		executor := newTestExecutor()

		err := WriteSecureFile(executor, "/run/wifitest/wpa.conf", "network={}")

		assert.NoError(t, err)
		assert.Len(t, executor.executedCommands, 1)
		cmd := executor.executedCommands[0]
		assert.Equal(t, "install", cmd.cmd)
		assert.Contains(t, cmd.args, "-m")
		assert.Contains(t, cmd.args, "0600")
		assert.Contains(t, cmd.args, "/dev/stdin")
		assert.Contains(t, cmd.args, "/run/wifitest/wpa.conf")
		assert.Equal(t, "network={}", cmd.input)
	})

	t.Run("returns error on failure", func(t *testing.T) {
		executor := newTestExecutor()
		executor.mockResponses["install"] = mockResponse{err: assert.AnError}

		err := WriteSecureFile(executor, "/run/wifitest/wpa.conf", "content")

		assert.Error(t, err)
	})
}

func TestParseIPFromOutput(t *testing.T) {
	t.Run("parses valid IP address", func(t *testing.T) {
		output := `2: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc noqueue state UP
    link/ether 00:11:22:33:44:55 brd ff:ff:ff:ff:ff:ff
    inet 192.168.1.100/24 brd 192.168.1.255 scope global dynamic wlan0
       valid_lft 86400sec preferred_lft 86400sec`

		ip := ParseIPFromOutput(output)

		assert.NotNil(t, ip)
		assert.Equal(t, "192.168.1.100", ip.String())
	})

	t.Run("returns nil for no IP", func(t *testing.T) {
		output := `2: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500
    link/ether 00:11:22:33:44:55 brd ff:ff:ff:ff:ff:ff`

		assert.Nil(t, ParseIPFromOutput(output))
	})

	t.Run("returns nil for empty output", func(t *testing.T) {
		assert.Nil(t, ParseIPFromOutput(""))
	})

	t.Run("parses first IP when multiple present", func(t *testing.T) {
		output := `    inet 10.0.0.1/8 scope global wlan0
    inet 192.168.1.1/24 scope global wlan0`

		ip := ParseIPFromOutput(output)

		assert.NotNil(t, ip)
		assert.Equal(t, "10.0.0.1", ip.String())
	})

	t.Run("skips inet6 addresses", func(t *testing.T) {
		output := `    inet6 ::1/128 scope host
    inet 127.0.0.1/8 scope host lo`

		ip := ParseIPFromOutput(output)

		assert.NotNil(t, ip)
		assert.Equal(t, "127.0.0.1", ip.String())
	})
}

func TestParseGatewayFromOutput(t *testing.T) {
	t.Run("parses default gateway", func(t *testing.T) {
		output := `default via 192.168.1.1 dev wlan0 proto dhcp metric 600
192.168.1.0/24 dev wlan0 proto kernel scope link src 192.168.1.100`

		gateway := ParseGatewayFromOutput(output)

		assert.NotNil(t, gateway)
		assert.Equal(t, "192.168.1.1", gateway.String())
	})

	t.Run("returns nil for no default gateway", func(t *testing.T) {
		output := `192.168.1.0/24 dev wlan0 proto kernel scope link src 192.168.1.100
10.0.0.0/8 dev eth0 proto kernel scope link src 10.0.0.50`

		assert.Nil(t, ParseGatewayFromOutput(output))
	})

	t.Run("returns nil for empty output", func(t *testing.T) {
		assert.Nil(t, ParseGatewayFromOutput(""))
	})
}
