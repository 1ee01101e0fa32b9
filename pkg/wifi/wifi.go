package wifi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/system"
	"github.com/neuralconfig/wifi-test/pkg/types"
)

// connState tracks an association attempt through its lifecycle. Every
// attempt starts at stateIdle and ends in exactly one terminal state.
type connState int

const (
	stateIdle connState = iota
	stateConfigGenerated
	stateLaunching
	stateConnecting
	stateAssociated
	stateAuthFailed
	stateTimeout
	stateProcessError
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateConfigGenerated:
		return "ConfigGenerated"
	case stateLaunching:
		return "Launching"
	case stateConnecting:
		return "Connecting"
	case stateAssociated:
		return "Associated"
	case stateAuthFailed:
		return "AuthFailed"
	case stateTimeout:
		return "Timeout"
	case stateProcessError:
		return "ProcessError"
	}
	return "Unknown"
}

// scanStrategy selects how the supplicant config asks for the network
type scanStrategy int

const (
	// strategyNormal relies on the AP broadcasting its SSID
	strategyNormal scanStrategy = iota
	// strategyHiddenScan adds scan_ssid=1 to probe for hidden networks
	strategyHiddenScan
)

func (s scanStrategy) String() string {
	if s == strategyHiddenScan {
		return "hidden-scan"
	}
	return "normal"
}

// Manager associates a wireless interface with a network by driving
// wpa_supplicant: it generates the config, launches the process, watches its
// output for association and auth-failure markers, and confirms the link
// against the driver. It implements types.Associator.
type Manager struct {
	executor types.SystemExecutor
	spawner  types.Spawner
	logger   types.Logger
	timeouts *types.TimeoutConfig
}

// NewManager creates a new wifi manager
func NewManager(executor types.SystemExecutor, spawner types.Spawner, logger types.Logger, timeouts *types.TimeoutConfig) *Manager {
	if timeouts == nil {
		timeouts = &types.TimeoutConfig{}
	}
	return &Manager{
		executor: executor,
		spawner:  spawner,
		logger:   logger,
		timeouts: timeouts,
	}
}

// Associate connects the device to the network described by opts. A network
// that is not found within the association timeout is retried once with a
// hidden-network scan; opts.Hidden skips straight to that strategy. Credential
// rejection is terminal: an auth failure is returned immediately and never
// retried, so a wrong passphrase fails the attempt before any DHCP exchange.
// On success the supplicant keeps running until Disconnect.
func (m *Manager) Associate(ctx context.Context, opts types.AssociateOptions) error {
	if err := types.ValidateInterfaceName(opts.Device); err != nil {
		return err
	}
	if err := types.ValidateSSID(opts.SSID); err != nil {
		return err
	}
	if opts.Passphrase != "" {
		if err := types.ValidatePassphrase(opts.Passphrase); err != nil {
			return err
		}
	}

	strategies := []scanStrategy{strategyNormal, strategyHiddenScan}
	if opts.Hidden {
		strategies = []scanStrategy{strategyHiddenScan}
	}

	var lastErr error
	for i, strategy := range strategies {
		if i > 0 {
			m.logger.Info("Retrying association with hidden network scan", "ssid", opts.SSID)
		}
		err := m.runAttempt(ctx, opts, strategy)
		if err == nil {
			m.logger.Info("Association established", "device", opts.Device, "ssid", opts.SSID, "strategy", strategy.String())
			return nil
		}

		var authErr *types.AuthFailureError
		if errors.As(err, &authErr) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
		m.logger.Warn("Association attempt failed", "device", opts.Device, "ssid", opts.SSID, "strategy", strategy.String(), "error", err)
	}
	return lastErr
}

// attempt carries the mutable state of one association attempt
type attempt struct {
	opts     types.AssociateOptions
	strategy scanStrategy
	state    connState
	confPath string
	proc     types.ProcessHandle
	marker   string
	// seen is the supplicant output offset already classified
	seen int
}

// runAttempt drives a single attempt through the state machine until it
// reaches a terminal state. The config file is removed on every path; the
// supplicant process is terminated on every path except success.
func (m *Manager) runAttempt(ctx context.Context, opts types.AssociateOptions, strategy scanStrategy) (err error) {
	att := &attempt{opts: opts, strategy: strategy, state: stateIdle}

	defer func() {
		if att.confPath != "" {
			m.removeConfig(att.confPath)
		}
		if err != nil && att.proc != nil {
			if termErr := att.proc.Terminate(); termErr != nil {
				m.logger.Warn("Failed to terminate supplicant", "device", opts.Device, "error", termErr)
			}
		}
	}()

	for {
		m.logger.Debug("Association state", "device", opts.Device, "state", att.state.String(), "strategy", strategy.String())

		switch att.state {
		case stateIdle:
			path, genErr := m.GenerateConfig(opts, strategy == strategyHiddenScan)
			if genErr != nil {
				return genErr
			}
			att.confPath = path
			att.state = stateConfigGenerated

		case stateConfigGenerated:
			// A supplicant left over from an earlier run would hold the
			// interface and fight ours for it
			m.terminateSupplicant(opts.Device)
			proc, spawnErr := m.launchSupplicant(opts.Device, att.confPath)
			if spawnErr != nil {
				return spawnErr
			}
			att.proc = proc
			att.state = stateLaunching

		case stateLaunching:
			if sleepErr := sleepCtx(ctx, m.timeouts.GetSpawnGrace()); sleepErr != nil {
				return fmt.Errorf("association interrupted: %w", sleepErr)
			}
			if !att.proc.Alive() {
				if ev, marker := att.flushOutput(); ev == EventAuthFailure {
					att.marker = marker
					att.state = stateAuthFailed
					continue
				}
				att.state = stateProcessError
				continue
			}
			if !m.waitForSupplicantReady(opts.Device, 2*time.Second) {
				m.logger.Warn("Supplicant control interface not responding yet", "device", opts.Device)
			}
			att.state = stateConnecting

		case stateConnecting:
			next, pollErr := m.pollAssociation(ctx, att)
			if pollErr != nil {
				return pollErr
			}
			att.state = next

		case stateAssociated:
			return nil

		case stateAuthFailed:
			return &types.AuthFailureError{SSID: opts.SSID, Marker: att.marker}

		case stateTimeout:
			return fmt.Errorf("%w: no association with network %q within %s",
				types.ErrAssociationTimeout, opts.SSID, m.timeouts.GetAssociationTimeout())

		case stateProcessError:
			return fmt.Errorf("%w: wpa_supplicant exited during association with network %q (pid %d)",
				types.ErrSupplicantExited, opts.SSID, att.proc.PID())

		default:
			return fmt.Errorf("association reached unknown state %d", att.state)
		}
	}
}

// launchSupplicant starts wpa_supplicant in the foreground so its output
// stream can be watched for association events
func (m *Manager) launchSupplicant(dev, confPath string) (types.ProcessHandle, error) {
	if _, err := m.executor.ExecuteWithTimeout(5*time.Second, "mkdir", "-p", "/var/run/wpa_supplicant"); err != nil {
		m.logger.Warn("Failed to create supplicant control directory", "error", err)
	}

	proc, err := m.spawner.Spawn("wpa_supplicant", "-i", dev, "-c", confPath, "-D", "nl80211,wext")
	if err != nil {
		return nil, fmt.Errorf("failed to launch wpa_supplicant on %s: %w", dev, err)
	}
	m.logger.Info("Launched wpa_supplicant", "device", dev, "pid", proc.PID())
	return proc, nil
}

// pollAssociation watches the attempt until it resolves. It returns the
// terminal state, or an error if the context was canceled.
func (m *Manager) pollAssociation(ctx context.Context, att *attempt) (connState, error) {
	deadline := time.NewTimer(m.timeouts.GetAssociationTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(m.timeouts.GetPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return att.state, fmt.Errorf("association interrupted: %w", ctx.Err())

		case <-deadline.C:
			return stateTimeout, nil

		case <-ticker.C:
			ev, marker := att.consumeOutput()
			if ev == EventAuthFailure {
				m.logger.Debug("Auth failure marker in supplicant output", "device", att.opts.Device, "marker", marker)
				att.marker = marker
				return stateAuthFailed, nil
			}
			if ev == EventConnected {
				m.logger.Debug("Supplicant reported connection, confirming link", "device", att.opts.Device)
			}

			// Events alone are not trusted; the driver link and the
			// supplicant state must both agree
			if m.isAssociated(att.opts.Device, att.opts.SSID) {
				return stateAssociated, nil
			}

			if !att.proc.Alive() {
				if ev, marker := att.flushOutput(); ev == EventAuthFailure {
					att.marker = marker
					return stateAuthFailed, nil
				}
				return stateProcessError, nil
			}
		}
	}
}

// consumeOutput classifies supplicant output lines that completed since the
// last call. A trailing partial line stays buffered until its newline
// arrives, so markers are never split across reads.
func (a *attempt) consumeOutput() (AssociationEvent, string) {
	output := a.proc.Output()
	chunk := output[a.seen:]
	idx := strings.LastIndexByte(chunk, '\n')
	if idx < 0 {
		return EventNone, ""
	}
	complete := chunk[:idx]
	a.seen += idx + 1
	return scanLines(strings.Split(complete, "\n"))
}

// flushOutput classifies everything unread, including a final unterminated
// line. Used once the process has exited and no more output can arrive.
func (a *attempt) flushOutput() (AssociationEvent, string) {
	output := a.proc.Output()
	chunk := output[a.seen:]
	a.seen = len(output)
	if chunk == "" {
		return EventNone, ""
	}
	return scanLines(strings.Split(chunk, "\n"))
}

// isAssociated reports whether the device is genuinely connected to the
// network: the driver must show an active link and the supplicant must
// report wpa_state=COMPLETED for the expected SSID.
func (m *Manager) isAssociated(dev, ssid string) bool {
	linkOutput, err := m.executor.ExecuteWithTimeout(2*time.Second, "iw", "dev", dev, "link")
	if err != nil || !strings.Contains(linkOutput, "Connected to") {
		return false
	}

	status, err := m.executor.ExecuteWithTimeout(2*time.Second, "wpa_cli", "-i", dev, "status")
	if err != nil {
		return false
	}

	ssidMatch := false
	completed := false
	for _, line := range strings.Split(status, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "ssid="); ok && after == ssid {
			ssidMatch = true
		}
		if line == "wpa_state=COMPLETED" {
			completed = true
		}
	}
	return ssidMatch && completed
}

// waitForSupplicantReady polls until the control interface answers or the
// timeout passes
func (m *Manager) waitForSupplicantReady(dev string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := m.executor.ExecuteWithTimeout(1*time.Second, "wpa_cli", "-i", dev, "status"); err == nil {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// Disconnect tears down the supplicant for a device and removes its config.
// It is best-effort and idempotent: a device with no running supplicant is
// not an error.
func (m *Manager) Disconnect(dev string) error {
	if err := types.ValidateInterfaceName(dev); err != nil {
		return err
	}
	m.terminateSupplicant(dev)
	m.removeConfig(configPath(dev))
	return nil
}

// terminateSupplicant asks the supplicant on a device to exit cleanly, then
// falls back to killing it. Only processes bound to this interface are
// touched.
func (m *Manager) terminateSupplicant(dev string) {
	if _, err := m.executor.ExecuteWithTimeout(2*time.Second, "wpa_cli", "-i", dev, "terminate"); err == nil {
		m.logger.Debug("Supplicant terminated via control interface", "device", dev)
		return
	}

	pattern := fmt.Sprintf("wpa_supplicant.*-i[[:space:]]+%s", dev)
	system.KillProcessFast(m.executor, m.logger, pattern)
}

// sleepCtx sleeps for d unless the context is canceled first
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
