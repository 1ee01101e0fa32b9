package wifi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// Mock implementations

type mockSystemExecutor struct {
	commands       map[string]string
	errors         map[string]error
	executedCmds   []string
	inputsReceived []string
}

func (m *mockSystemExecutor) run(cmd string, args ...string) (string, error) {
	fullCmd := cmd
	for _, arg := range args {
		fullCmd += " " + arg
	}
	m.executedCmds = append(m.executedCmds, fullCmd)

	if err, hasErr := m.errors[fullCmd]; hasErr {
		return m.commands[fullCmd], err
	}
	if output, ok := m.commands[fullCmd]; ok {
		return output, nil
	}
	return "", nil
}

func (m *mockSystemExecutor) Execute(cmd string, args ...string) (string, error) {
	return m.run(cmd, args...)
}

func (m *mockSystemExecutor) ExecuteContext(ctx context.Context, cmd string, args ...string) (string, error) {
	return m.run(cmd, args...)
}

func (m *mockSystemExecutor) ExecuteWithTimeout(timeout time.Duration, cmd string, args ...string) (string, error) {
	return m.run(cmd, args...)
}

func (m *mockSystemExecutor) ExecuteWithInput(cmd string, input string, args ...string) (string, error) {
	m.inputsReceived = append(m.inputsReceived, input)
	return m.run(cmd, args...)
}

func (m *mockSystemExecutor) ExecuteWithInputContext(ctx context.Context, cmd string, input string, args ...string) (string, error) {
	return m.ExecuteWithInput(cmd, input, args...)
}

func (m *mockSystemExecutor) HasCommand(cmd string) bool { return true }

func (m *mockSystemExecutor) commandsContaining(substr string) []string {
	var matched []string
	for _, cmd := range m.executedCmds {
		if strings.Contains(cmd, substr) {
			matched = append(matched, cmd)
		}
	}
	return matched
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{}) {}
func (m *mockLogger) Info(msg string, fields ...interface{})  {}
func (m *mockLogger) Warn(msg string, fields ...interface{})  {}
func (m *mockLogger) Error(msg string, fields ...interface{}) {}

// mockProcess is a scriptable ProcessHandle
type mockProcess struct {
	mu         sync.Mutex
	pid        int
	alive      bool
	output     string
	terminated bool
}

func (p *mockProcess) PID() int { return p.pid }

func (p *mockProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *mockProcess) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

func (p *mockProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	p.alive = false
	return nil
}

func (p *mockProcess) emit(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output += s
}

func (p *mockProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// mockSpawner hands out pre-scripted processes in order
type mockSpawner struct {
	procs      []*mockProcess
	spawnCount int
	spawnErr   error
	spawned    []string
}

func (s *mockSpawner) Spawn(cmd string, args ...string) (types.ProcessHandle, error) {
	full := cmd + " " + strings.Join(args, " ")
	s.spawned = append(s.spawned, full)
	s.spawnCount++
	if s.spawnErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProcessSpawn, s.spawnErr)
	}
	if s.spawnCount > len(s.procs) {
		return nil, fmt.Errorf("%w: no process scripted for spawn %d", types.ErrProcessSpawn, s.spawnCount)
	}
	return s.procs[s.spawnCount-1], nil
}

// fastTimeouts keeps the state machine quick under test
func fastTimeouts() *types.TimeoutConfig {
	return &types.TimeoutConfig{
		Association:  1,
		SpawnGrace:   1,
		PollInterval: 10,
	}
}

func newTestManager(executor *mockSystemExecutor, spawner *mockSpawner) *Manager {
	return NewManager(executor, spawner, &mockLogger{}, fastTimeouts())
}

// associatedExecutor answers the link and status probes the way a connected
// interface would
func associatedExecutor(dev, ssid string) *mockSystemExecutor {
	return &mockSystemExecutor{
		commands: map[string]string{
			fmt.Sprintf("iw dev %s link", dev):      fmt.Sprintf("Connected to aa:bb:cc:dd:ee:ff (on %s)\n\tSSID: %s\n\tsignal: -52 dBm", dev, ssid),
			fmt.Sprintf("wpa_cli -i %s status", dev): fmt.Sprintf("bssid=aa:bb:cc:dd:ee:ff\nssid=%s\nwpa_state=COMPLETED", ssid),
		},
	}
}

func TestNewManager(t *testing.T) {
	manager := NewManager(&mockSystemExecutor{}, &mockSpawner{}, &mockLogger{}, nil)
	assert.NotNil(t, manager)
	assert.NotNil(t, manager.timeouts)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want AssociationEvent
	}{
		{"connected event", "wlan0: CTRL-EVENT-CONNECTED - Connection to aa:bb:cc:dd:ee:ff completed", EventConnected},
		{"key negotiation", "wlan0: WPA: Key negotiation completed with aa:bb:cc:dd:ee:ff [PTK=CCMP GTK=CCMP]", EventConnected},
		{"handshake failed", "wlan0: WPA: 4-Way Handshake failed - pre-shared key may be incorrect", EventAuthFailure},
		{"handshake failed constant", "wlan0: 4WAY_HANDSHAKE_FAILED", EventAuthFailure},
		{"generic handshake failure", "HANDSHAKE_FAILED", EventAuthFailure},
		{"assoc reject", "wlan0: CTRL-EVENT-ASSOC-REJECT bssid=aa:bb:cc:dd:ee:ff status_code=1", EventAuthFailure},
		{"auth reject", "wlan0: CTRL-EVENT-AUTH-REJECT aa:bb:cc:dd:ee:ff auth_type=0", EventAuthFailure},
		{"authentication failed", "AUTHENTICATION_FAILED", EventAuthFailure},
		{"temp disabled wrong key", `wlan0: CTRL-EVENT-SSID-TEMP-DISABLED id=0 ssid="Lab" auth_failures=1 duration=10 reason=WRONG_KEY`, EventAuthFailure},
		{"temp disabled conn failed", `wlan0: CTRL-EVENT-SSID-TEMP-DISABLED id=0 ssid="Lab" auth_failures=1 duration=10 reason=CONN_FAILED`, EventNone},
		{"disconnect reason 15", "wlan0: CTRL-EVENT-DISCONNECTED bssid=aa:bb:cc:dd:ee:ff reason=15", EventAuthFailure},
		{"disconnect other reason", "wlan0: CTRL-EVENT-DISCONNECTED bssid=aa:bb:cc:dd:ee:ff reason=3 locally_generated=1", EventNone},
		{"scanning noise", "wlan0: CTRL-EVENT-SCAN-STARTED", EventNone},
		{"trying to associate", "wlan0: Trying to associate with aa:bb:cc:dd:ee:ff (SSID='Lab' freq=2412 MHz)", EventNone},
		{"empty line", "", EventNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.line))
		})
	}
}

func TestClassify_AuthWinsOverSuccess(t *testing.T) {
	// A pathological line carrying both kinds of marker must never count as
	// success
	line := "CTRL-EVENT-CONNECTED after WRONG_KEY"
	assert.Equal(t, EventAuthFailure, classify(line))
}

func TestScanLines(t *testing.T) {
	t.Run("auth short-circuits batch", func(t *testing.T) {
		ev, line := scanLines([]string{
			"wlan0: Trying to associate",
			"wlan0: CTRL-EVENT-ASSOC-REJECT status_code=1",
			"wlan0: CTRL-EVENT-CONNECTED - Connection completed",
		})
		assert.Equal(t, EventAuthFailure, ev)
		assert.Contains(t, line, "ASSOC-REJECT")
	})

	t.Run("connected reported with its line", func(t *testing.T) {
		ev, line := scanLines([]string{
			"wlan0: Associated with aa:bb:cc:dd:ee:ff",
			"wlan0: WPA: Key negotiation completed with aa:bb:cc:dd:ee:ff",
		})
		assert.Equal(t, EventConnected, ev)
		assert.Contains(t, line, "Key negotiation completed")
	})

	t.Run("no markers", func(t *testing.T) {
		ev, _ := scanLines([]string{"noise", "more noise"})
		assert.Equal(t, EventNone, ev)
	})
}

func TestDerivePSK(t *testing.T) {
	// Reference vectors from IEEE Std 802.11i Annex H.4
	tests := []struct {
		passphrase string
		ssid       string
		want       string
	}{
		{"password", "IEEE", "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e"},
		{"ThisIsAPassword", "ThisIsASSID", "0dc0d6eb90555ed6419756b9a15ec3e3209b63df707dd508d14581f8982721af"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, derivePSK(tt.passphrase, tt.ssid))
	}
}

func TestBuildSupplicantConfig(t *testing.T) {
	t.Run("derives PSK instead of embedding passphrase", func(t *testing.T) {
		config := buildSupplicantConfig("IEEE", "password", false)
		assert.Contains(t, config, "ctrl_interface=/var/run/wpa_supplicant")
		assert.Contains(t, config, `ssid="IEEE"`)
		assert.Contains(t, config, "key_mgmt=WPA-PSK")
		assert.Contains(t, config, "psk=f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e")
		assert.NotContains(t, config, "password")
	})

	t.Run("raw PSK passes through verbatim", func(t *testing.T) {
		raw := strings.Repeat("ab", 32)
		config := buildSupplicantConfig("Lab", raw, false)
		assert.Contains(t, config, "psk="+raw)
	})

	t.Run("open network", func(t *testing.T) {
		config := buildSupplicantConfig("OpenNet", "", false)
		assert.Contains(t, config, "key_mgmt=NONE")
		assert.NotContains(t, config, "psk=")
	})

	t.Run("hidden scan flag", func(t *testing.T) {
		config := buildSupplicantConfig("HiddenNet", "password123", true)
		assert.Contains(t, config, "scan_ssid=1")
	})

	t.Run("normal scan omits scan_ssid", func(t *testing.T) {
		config := buildSupplicantConfig("VisibleNet", "password123", false)
		assert.NotContains(t, config, "scan_ssid")
	})

	t.Run("escapes special characters in SSID", func(t *testing.T) {
		config := buildSupplicantConfig(`Cafe "Wlan"\5G`, "password123", false)
		assert.Contains(t, config, `ssid="Cafe \"Wlan\"\\5G"`)
	})

	t.Run("escapes newlines to prevent config injection", func(t *testing.T) {
		config := buildSupplicantConfig("Evil\nnetwork={\nssid=\"injected\"", "password123", false)
		lines := strings.Split(config, "\n")
		var ssidLine string
		for _, line := range lines {
			if strings.Contains(line, "ssid=") {
				ssidLine = line
				break
			}
		}
		// The injected newlines must stay on the quoted single line
		assert.Contains(t, ssidLine, `Evil\nnetwork=`)
	})
}

func TestGenerateConfig(t *testing.T) {
	executor := &mockSystemExecutor{}
	manager := newTestManager(executor, &mockSpawner{})

	path, err := manager.GenerateConfig(types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "supersecret1",
	}, false)

	require.NoError(t, err)
	assert.Equal(t, "/run/wifitest/wpa_wlan0.conf", path)
	assert.Contains(t, executor.executedCmds, "mkdir -p /run/wifitest")
	assert.Contains(t, executor.executedCmds, "install -m 0600 /dev/stdin /run/wifitest/wpa_wlan0.conf")

	require.Len(t, executor.inputsReceived, 1)
	written := executor.inputsReceived[0]
	assert.Regexp(t, `psk=[0-9a-f]{64}`, written)
	assert.NotContains(t, written, "supersecret1")
}

func TestGenerateConfig_WriteFailure(t *testing.T) {
	executor := &mockSystemExecutor{
		errors: map[string]error{
			"install -m 0600 /dev/stdin /run/wifitest/wpa_wlan0.conf": assert.AnError,
		},
	}
	manager := newTestManager(executor, &mockSpawner{})

	_, err := manager.GenerateConfig(types.AssociateOptions{Device: "wlan0", SSID: "Lab", Passphrase: "password123"}, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write supplicant config")
}

func TestAssociate_Success(t *testing.T) {
	executor := associatedExecutor("wlan0", "Lab")
	proc := &mockProcess{pid: 4242, alive: true}
	proc.emit("wlan0: Trying to associate with aa:bb:cc:dd:ee:ff (SSID='Lab' freq=2412 MHz)\n")
	proc.emit("wlan0: CTRL-EVENT-CONNECTED - Connection to aa:bb:cc:dd:ee:ff completed\n")
	spawner := &mockSpawner{procs: []*mockProcess{proc}}
	manager := newTestManager(executor, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "password123",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, spawner.spawnCount)
	assert.Equal(t, []string{"wpa_supplicant -i wlan0 -c /run/wifitest/wpa_wlan0.conf -D nl80211,wext"}, spawner.spawned)
	// The supplicant must keep running for the DHCP exchange that follows
	assert.False(t, proc.wasTerminated())
	// The config file never outlives the attempt
	assert.Contains(t, executor.executedCmds, "rm -f /run/wifitest/wpa_wlan0.conf")
}

func TestAssociate_AuthFailure(t *testing.T) {
	executor := &mockSystemExecutor{
		commands: map[string]string{
			"iw dev wlan0 link": "Not connected.",
		},
	}
	proc := &mockProcess{pid: 4242, alive: true}
	proc.emit("wlan0: Trying to associate with aa:bb:cc:dd:ee:ff (SSID='Lab' freq=2412 MHz)\n")
	proc.emit("wlan0: WPA: 4-Way Handshake failed - pre-shared key may be incorrect\n")
	spawner := &mockSpawner{procs: []*mockProcess{proc}}
	manager := newTestManager(executor, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "wrongpassword",
	})

	var authErr *types.AuthFailureError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Lab", authErr.SSID)
	assert.Contains(t, authErr.Marker, "4-Way Handshake failed")

	// A rejected secret is never retried, with any strategy
	assert.Equal(t, 1, spawner.spawnCount)
	assert.True(t, proc.wasTerminated())
	// And nothing DHCP-shaped ever ran
	assert.Empty(t, executor.commandsContaining("dhclient"))
}

func TestAssociate_AuthFailureFromDeadProcess(t *testing.T) {
	// Supplicant prints the rejection and exits before the first poll
	proc := &mockProcess{pid: 4242, alive: false}
	proc.emit("wlan0: CTRL-EVENT-ASSOC-REJECT bssid=aa:bb:cc:dd:ee:ff status_code=1")
	spawner := &mockSpawner{procs: []*mockProcess{proc}}
	manager := newTestManager(&mockSystemExecutor{}, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "wrongpassword",
	})

	var authErr *types.AuthFailureError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, spawner.spawnCount)
}

func TestAssociate_ProcessErrorRetriesWithHiddenScan(t *testing.T) {
	executor := associatedExecutor("wlan0", "Lab")
	dead := &mockProcess{pid: 4242, alive: false}
	live := &mockProcess{pid: 4243, alive: true}
	live.emit("wlan0: CTRL-EVENT-CONNECTED - Connection to aa:bb:cc:dd:ee:ff completed\n")
	spawner := &mockSpawner{procs: []*mockProcess{dead, live}}
	manager := newTestManager(executor, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "password123",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, spawner.spawnCount)

	// First attempt asks normally, the retry probes for a hidden network
	require.Len(t, executor.inputsReceived, 2)
	assert.NotContains(t, executor.inputsReceived[0], "scan_ssid=1")
	assert.Contains(t, executor.inputsReceived[1], "scan_ssid=1")
}

func TestAssociate_Timeout(t *testing.T) {
	executor := &mockSystemExecutor{
		commands: map[string]string{
			"iw dev wlan0 link": "Not connected.",
		},
	}
	// Alive but silent: the network does not exist
	spawner := &mockSpawner{procs: []*mockProcess{
		{pid: 1, alive: true},
		{pid: 2, alive: true},
	}}
	manager := newTestManager(executor, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "NoSuchNet",
		Passphrase: "password123",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAssociationTimeout)
	// Both strategies were tried before giving up
	assert.Equal(t, 2, spawner.spawnCount)
}

func TestAssociate_HiddenSkipsNormalStrategy(t *testing.T) {
	executor := associatedExecutor("wlan0", "HiddenLab")
	proc := &mockProcess{pid: 4242, alive: true}
	proc.emit("wlan0: CTRL-EVENT-CONNECTED - Connection to aa:bb:cc:dd:ee:ff completed\n")
	spawner := &mockSpawner{procs: []*mockProcess{proc}}
	manager := newTestManager(executor, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "HiddenLab",
		Passphrase: "password123",
		Hidden:     true,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, spawner.spawnCount)
	require.Len(t, executor.inputsReceived, 1)
	assert.Contains(t, executor.inputsReceived[0], "scan_ssid=1")
}

func TestAssociate_SpawnFailure(t *testing.T) {
	spawner := &mockSpawner{spawnErr: fmt.Errorf("executable not found")}
	manager := newTestManager(&mockSystemExecutor{}, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "password123",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProcessSpawn)
}

func TestAssociate_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spawner := &mockSpawner{procs: []*mockProcess{{pid: 1, alive: true}}}
	manager := newTestManager(&mockSystemExecutor{}, spawner)

	err := manager.Associate(ctx, types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "password123",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	// A canceled run must not fall through to the hidden retry
	assert.LessOrEqual(t, spawner.spawnCount, 1)
}

func TestAssociate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		opts types.AssociateOptions
	}{
		{"bad device name", types.AssociateOptions{Device: "wlan0; rm -rf /", SSID: "Lab", Passphrase: "password123"}},
		{"empty ssid", types.AssociateOptions{Device: "wlan0", SSID: "", Passphrase: "password123"}},
		{"short passphrase", types.AssociateOptions{Device: "wlan0", SSID: "Lab", Passphrase: "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &mockSystemExecutor{}
			spawner := &mockSpawner{}
			manager := newTestManager(executor, spawner)

			err := manager.Associate(context.Background(), tt.opts)
			assert.Error(t, err)
			assert.Empty(t, executor.executedCmds)
			assert.Zero(t, spawner.spawnCount)
		})
	}
}

func TestConsumeOutput_PartialLines(t *testing.T) {
	proc := &mockProcess{alive: true}
	att := &attempt{proc: proc}

	// A marker split across reads must not be classified until its line
	// completes
	proc.emit("wlan0: CTRL-EVENT")
	ev, _ := att.consumeOutput()
	assert.Equal(t, EventNone, ev)

	proc.emit("-CONNECTED - Connection to aa:bb:cc:dd:ee:ff completed\n")
	ev, line := att.consumeOutput()
	assert.Equal(t, EventConnected, ev)
	assert.Contains(t, line, "CTRL-EVENT-CONNECTED")

	// Already-consumed output stays consumed
	ev, _ = att.consumeOutput()
	assert.Equal(t, EventNone, ev)
}

func TestFlushOutput_UnterminatedTail(t *testing.T) {
	proc := &mockProcess{alive: false}
	proc.emit("wlan0: WPA: 4-Way Handshake failed - pre-shared key may be incorrect")
	att := &attempt{proc: proc}

	ev, line := att.flushOutput()
	assert.Equal(t, EventAuthFailure, ev)
	assert.Contains(t, line, "pre-shared key may be incorrect")
}

func TestIsAssociated(t *testing.T) {
	tests := []struct {
		name       string
		linkOutput string
		linkErr    error
		status     string
		statusErr  error
		want       bool
	}{
		{
			name:       "connected and completed",
			linkOutput: "Connected to aa:bb:cc:dd:ee:ff (on wlan0)\n\tSSID: Lab",
			status:     "ssid=Lab\nwpa_state=COMPLETED",
			want:       true,
		},
		{
			name:       "link up but supplicant still negotiating",
			linkOutput: "Connected to aa:bb:cc:dd:ee:ff (on wlan0)",
			status:     "ssid=Lab\nwpa_state=4WAY_HANDSHAKE",
			want:       false,
		},
		{
			name:       "completed but wrong ssid",
			linkOutput: "Connected to aa:bb:cc:dd:ee:ff (on wlan0)",
			status:     "ssid=Neighbor\nwpa_state=COMPLETED",
			want:       false,
		},
		{
			name:       "not connected",
			linkOutput: "Not connected.",
			status:     "ssid=Lab\nwpa_state=COMPLETED",
			want:       false,
		},
		{
			name:    "iw failure",
			linkErr: assert.AnError,
			want:    false,
		},
		{
			name:       "wpa_cli failure",
			linkOutput: "Connected to aa:bb:cc:dd:ee:ff (on wlan0)",
			statusErr:  assert.AnError,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &mockSystemExecutor{
				commands: map[string]string{
					"iw dev wlan0 link":       tt.linkOutput,
					"wpa_cli -i wlan0 status": tt.status,
				},
				errors: map[string]error{},
			}
			if tt.linkErr != nil {
				executor.errors["iw dev wlan0 link"] = tt.linkErr
			}
			if tt.statusErr != nil {
				executor.errors["wpa_cli -i wlan0 status"] = tt.statusErr
			}
			manager := newTestManager(executor, &mockSpawner{})

			assert.Equal(t, tt.want, manager.isAssociated("wlan0", "Lab"))
		})
	}
}

func TestDisconnect(t *testing.T) {
	t.Run("graceful termination via wpa_cli", func(t *testing.T) {
		executor := &mockSystemExecutor{
			commands: map[string]string{
				"wpa_cli -i wlan0 terminate": "OK",
			},
		}
		manager := newTestManager(executor, &mockSpawner{})

		err := manager.Disconnect("wlan0")
		assert.NoError(t, err)
		assert.Contains(t, executor.executedCmds, "wpa_cli -i wlan0 terminate")
		assert.Contains(t, executor.executedCmds, "rm -f /run/wifitest/wpa_wlan0.conf")
		// Graceful path must not escalate
		assert.Empty(t, executor.commandsContaining("pkill"))
	})

	t.Run("falls back to pkill scoped to the interface", func(t *testing.T) {
		executor := &mockSystemExecutor{
			errors: map[string]error{
				"wpa_cli -i wlan0 terminate": assert.AnError,
			},
		}
		manager := newTestManager(executor, &mockSpawner{})

		err := manager.Disconnect("wlan0")
		assert.NoError(t, err)
		assert.Contains(t, executor.executedCmds, "pkill -9 -f wpa_supplicant.*-i[[:space:]]+wlan0")
	})

	t.Run("rejects invalid device names", func(t *testing.T) {
		executor := &mockSystemExecutor{}
		manager := newTestManager(executor, &mockSpawner{})

		err := manager.Disconnect("wlan0; reboot")
		assert.Error(t, err)
		assert.Empty(t, executor.executedCmds)
	})
}

func TestConnStateString(t *testing.T) {
	states := map[connState]string{
		stateIdle:            "Idle",
		stateConfigGenerated: "ConfigGenerated",
		stateLaunching:       "Launching",
		stateConnecting:      "Connecting",
		stateAssociated:      "Associated",
		stateAuthFailed:      "AuthFailed",
		stateTimeout:         "Timeout",
		stateProcessError:    "ProcessError",
	}
	for state, want := range states {
		assert.Equal(t, want, state.String())
	}
	assert.Equal(t, "Unknown", connState(99).String())
}

// The auth verdict must come from the supplicant stream alone: even if a
// stale link report claims a connection, a rejection marker wins and the
// attempt ends AuthFailed rather than proceeding as connected.
func TestAssociate_AuthMarkerBeatsStaleLinkState(t *testing.T) {
	executor := associatedExecutor("wlan0", "Lab")
	proc := &mockProcess{pid: 4242, alive: true}
	proc.emit("wlan0: WPA: 4-Way Handshake failed - pre-shared key may be incorrect\n")
	proc.emit("wlan0: CTRL-EVENT-CONNECTED - Connection to aa:bb:cc:dd:ee:ff completed\n")
	spawner := &mockSpawner{procs: []*mockProcess{proc}}
	manager := newTestManager(executor, spawner)

	err := manager.Associate(context.Background(), types.AssociateOptions{
		Device:     "wlan0",
		SSID:       "Lab",
		Passphrase: "wrongpassword",
	})

	var authErr *types.AuthFailureError
	require.ErrorAs(t, err, &authErr)
}
