// Package session orchestrates one end-to-end connection test: claim an
// interface, rewrite its MAC, associate, pull a DHCP lease, optionally
// isolate the routing, run the requested traffic tests, and tear everything
// back down. Every stage that mutates host state registers its own undo on a
// rollback stack, and the stack is unwound in strict reverse order no matter
// how far the run got.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/neuralconfig/wifi-test/pkg/system"
	"github.com/neuralconfig/wifi-test/pkg/types"
)

// Managers bundles the injected subsystem implementations. Tests substitute
// mocks; production wiring lives in cmd/wifitest.
type Managers struct {
	Executor   types.SystemExecutor
	NetState   types.NetState
	Interfaces types.InterfaceManager
	WiFi       types.Associator
	Lease      types.LeaseClient
	Routes     types.RouteIsolator
	Ping       types.Pinger
	Iperf      types.BandwidthTester
}

// Options selects the target network and the tests to run against it
type Options struct {
	Device      string // empty means pick the first wireless interface
	SSID        string
	Passphrase  string // empty means open network
	Hidden      bool
	MAC         string // empty means keep the current address
	VRF         bool
	PingTargets []string
	PingCount   int
	Iperf       *types.IperfConfig // nil means no bandwidth test
}

// rollbackStep is one registered undo action. Steps must tolerate being run
// after a partial failure and must never panic.
type rollbackStep struct {
	name string
	fn   func()
}

// Session drives a single connection test run
type Session struct {
	managers Managers
	logger   types.Logger
	timeouts *types.TimeoutConfig
	opts     Options
	out      io.Writer

	runID    string
	rollback []rollbackStep
}

// The device registry prevents two concurrent sessions from fighting over
// the same interface within one process.
var (
	registryMu     sync.Mutex
	claimedDevices = make(map[string]string)
)

func claimDevice(dev, runID string) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if owner, taken := claimedDevices[dev]; taken {
		return fmt.Errorf("interface %s is already in use by run %s", dev, owner)
	}
	claimedDevices[dev] = runID
	return nil
}

func releaseDevice(dev string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(claimedDevices, dev)
}

// New creates a session from injected managers. A nil timeouts falls back to
// the built-in defaults.
func New(managers Managers, logger types.Logger, timeouts *types.TimeoutConfig, opts Options) *Session {
	if timeouts == nil {
		timeouts = &types.TimeoutConfig{}
	}
	return &Session{
		managers: managers,
		logger:   logger,
		timeouts: timeouts,
		opts:     opts,
		out:      os.Stdout,
		runID:    uuid.New().String(),
	}
}

// SetOutput redirects the session's result and error-token output, which
// goes to stdout by default
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

// RunID returns the unique id attached to this session's log records
func (s *Session) RunID() string {
	return s.runID
}

// Run executes the full stage sequence and returns the summary together with
// the process exit code. Host state touched by completed stages is rolled
// back before Run returns, on success and on every failure path alike.
// SIGINT and SIGTERM cancel the stage loop; teardown still runs.
func (s *Session) Run(ctx context.Context) (*types.Summary, int) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := &types.Summary{
		RunID: s.runID,
		SSID:  s.opts.SSID,
	}

	s.logger.Info("Starting connection test", "run_id", s.runID, "ssid", s.opts.SSID)

	outcome, err := s.execute(ctx, summary)
	s.unwind()

	summary.Outcome = outcome
	if err != nil {
		summary.Err = err.Error()
		s.logger.Error("Connection test failed", "run_id", s.runID, "outcome", outcome.String(), "error", err)
	} else {
		s.logger.Info("Connection test finished", "run_id", s.runID, "outcome", outcome.String())
	}

	s.report(summary)
	return summary, outcome.ExitCode()
}

// execute runs the stages in order and stops at the first fatal error.
// Traffic test failures are recorded in the summary but are never fatal.
func (s *Session) execute(ctx context.Context, summary *types.Summary) (types.Outcome, error) {
	if err := s.checkTools(); err != nil {
		return types.OutcomeConnFailure, err
	}

	dev, err := s.pickInterface()
	if err != nil {
		return types.OutcomeNoInterface, err
	}
	summary.Interface = dev

	if err := claimDevice(dev, s.runID); err != nil {
		return types.OutcomeConnFailure, err
	}
	s.push("release interface claim", func() {
		releaseDevice(dev)
	})

	if err := s.interrupted(ctx); err != nil {
		return types.OutcomeConnFailure, err
	}

	// NetworkManager resets addresses and supplicant state behind our back,
	// so its radio goes off before the interface is touched and comes back
	// in teardown after the MAC is restored.
	s.silenceNetworkManager()

	if err := s.applyMAC(dev, summary); err != nil {
		return types.OutcomeConnFailure, err
	}

	if err := s.managers.Interfaces.BringUp(dev); err != nil {
		return types.OutcomeConnFailure, fmt.Errorf("bringing up %s: %w", dev, err)
	}

	if err := s.interrupted(ctx); err != nil {
		return types.OutcomeConnFailure, err
	}

	if err := s.managers.WiFi.Associate(ctx, types.AssociateOptions{
		Device:     dev,
		SSID:       s.opts.SSID,
		Passphrase: s.opts.Passphrase,
		Hidden:     s.opts.Hidden,
	}); err != nil {
		if types.IsAuthFailure(err) {
			return types.OutcomeAuthFailure, err
		}
		return types.OutcomeConnFailure, err
	}
	s.push("disconnect from network", func() {
		if err := s.managers.WiFi.Disconnect(dev); err != nil {
			s.logger.Warn("Disconnect failed during teardown", "interface", dev, "error", err)
		}
	})

	if !s.managers.Interfaces.WaitCarrier(dev, s.timeouts.GetCarrierTimeout()) {
		s.logger.Warn("No carrier after association, continuing anyway", "interface", dev)
	}

	if err := s.interrupted(ctx); err != nil {
		return types.OutcomeConnFailure, err
	}

	lease, err := s.managers.Lease.Acquire(ctx, dev, s.timeouts.GetDHCPTimeout())
	if err != nil {
		return types.OutcomeConnFailure, err
	}
	summary.Lease = lease
	s.push("release DHCP lease", func() {
		if err := s.managers.Lease.Release(dev); err != nil {
			s.logger.Warn("Lease release failed during teardown", "interface", dev, "error", err)
		}
	})
	s.logger.Info("Lease acquired", "interface", dev, "address", lease.IP.String(), "prefix_len", lease.PrefixLen)

	bindAddr := s.installOverlay(dev, lease)

	if sig, err := s.managers.Interfaces.QuerySignal(dev); err != nil {
		s.logger.Warn("Signal query failed", "interface", dev, "error", err)
	} else if sig == nil {
		s.logger.Warn("No link reported after association", "interface", dev)
	} else {
		summary.Signal = sig
		s.logger.Info("Link established",
			"interface", dev, "ssid", sig.SSID, "bssid", sig.BSSID, "signal_dbm", sig.SignalDBM)
	}

	if err := s.interrupted(ctx); err != nil {
		return types.OutcomeConnFailure, err
	}

	s.runTests(ctx, dev, bindAddr, summary)

	if err := s.interrupted(ctx); err != nil {
		return types.OutcomeConnFailure, err
	}

	return types.OutcomeSuccess, nil
}

// checkTools verifies the external tools before any host state is touched.
// iperf3 is only required when a bandwidth test was requested.
func (s *Session) checkTools() error {
	reqs := make([]system.Requirement, len(system.BaseRequirements))
	copy(reqs, system.BaseRequirements)
	if s.opts.Iperf != nil && s.opts.Iperf.Server != "" {
		reqs = append(reqs, system.IperfRequirement)
	}
	return system.CheckTools(s.managers.Executor, s.logger, reqs...)
}

// pickInterface resolves the target interface. An explicitly requested
// device must actually be a wireless interface on this host.
func (s *Session) pickInterface() (string, error) {
	wireless, err := s.managers.Interfaces.ListWireless()
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrNoInterface, err)
	}
	if len(wireless) == 0 {
		return "", types.ErrNoInterface
	}

	if s.opts.Device == "" {
		s.logger.Info("Auto-selected wireless interface", "interface", wireless[0])
		return wireless[0], nil
	}

	for _, dev := range wireless {
		if dev == s.opts.Device {
			return dev, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not a wireless interface", types.ErrNoInterface, s.opts.Device)
}

// silenceNetworkManager turns the NetworkManager radio off for the duration
// of the run. Best effort: hosts without nmcli skip this entirely.
func (s *Session) silenceNetworkManager() {
	if !s.managers.Executor.HasCommand("nmcli") {
		return
	}

	if _, err := s.managers.Executor.ExecuteWithTimeout(5*time.Second, "nmcli", "radio", "wifi", "off"); err != nil {
		s.logger.Warn("Could not disable NetworkManager radio", "error", err)
		return
	}
	s.logger.Debug("NetworkManager radio disabled")
	s.push("re-enable NetworkManager radio", func() {
		if _, err := s.managers.Executor.ExecuteWithTimeout(5*time.Second, "nmcli", "radio", "wifi", "on"); err != nil {
			s.logger.Warn("Could not re-enable NetworkManager radio", "error", err)
		}
	})
}

// applyMAC rewrites the interface MAC when one was requested and records the
// effective address in the summary. The rollback restores the original
// address and downs the interface so the host returns to a quiet state.
func (s *Session) applyMAC(dev string, summary *types.Summary) error {
	if s.opts.MAC == "" {
		if mac, err := s.managers.Interfaces.GetMAC(dev); err == nil {
			summary.MAC = mac
		}
		return nil
	}

	if err := s.managers.Interfaces.SetMAC(dev, s.opts.MAC); err != nil {
		return err
	}
	s.push("restore original MAC", func() {
		if err := s.managers.Interfaces.RestoreMAC(dev); err != nil {
			s.logger.Warn("MAC restore failed during teardown", "interface", dev, "error", err)
		}
		if err := s.managers.Interfaces.BringDown(dev); err != nil {
			s.logger.Warn("Interface down failed during teardown", "interface", dev, "error", err)
		}
	})

	if mac, err := s.managers.Interfaces.GetMAC(dev); err == nil {
		summary.MAC = mac
		s.logger.Info("MAC address set", "interface", dev, "mac", mac)
	}
	return nil
}

// installOverlay sets up the routing isolation when requested and returns
// the address traffic tests must bind to. A failed install degrades to
// unisolated tests rather than aborting a session that is otherwise up.
func (s *Session) installOverlay(dev string, lease *types.Lease) net.IP {
	if !s.opts.VRF {
		return nil
	}

	gateway, err := s.managers.NetState.DefaultGateway(dev)
	if err != nil {
		s.logger.Warn("No default gateway for routing overlay, tests run unisolated", "interface", dev, "error", err)
		return nil
	}

	overlay, err := s.managers.Routes.Install(dev, lease.IP, gateway)
	if err != nil {
		s.logger.Warn("Routing overlay install failed, tests run unisolated", "interface", dev, "error", err)
		return nil
	}
	s.push("remove routing overlay", func() {
		if err := s.managers.Routes.Remove(overlay); err != nil {
			s.logger.Warn("Overlay removal failed during teardown", "table", overlay.Table, "error", err)
		}
	})
	s.logger.Info("Routing overlay installed", "interface", dev, "table", overlay.Table, "gateway", gateway.String())
	return lease.IP
}

// runTests executes the requested ping and iperf tests. Individual test
// failures land in the summary; they never change the session outcome.
func (s *Session) runTests(ctx context.Context, dev string, bindAddr net.IP, summary *types.Summary) {
	for _, target := range s.opts.PingTargets {
		if ctx.Err() != nil {
			return
		}
		result := s.managers.Ping.Run(ctx, target, types.PingOptions{
			Device:      dev,
			Count:       s.opts.PingCount,
			BindAddress: bindAddr,
		})
		summary.Ping = append(summary.Ping, result)
		if result.Err != "" {
			s.logger.Warn("Ping test failed", "target", target, "error", result.Err)
		} else {
			s.logger.Info("Ping test finished",
				"target", target, "sent", result.Sent, "received", result.Received,
				"loss_percent", result.LossPercent, "avg_rtt", result.AvgRTT.String())
		}
	}

	if s.opts.Iperf == nil || s.opts.Iperf.Server == "" || ctx.Err() != nil {
		return
	}
	result := s.managers.Iperf.Run(ctx, *s.opts.Iperf, bindAddr)
	summary.Iperf = &result
	if result.Err != "" {
		s.logger.Warn("Bandwidth test failed", "server", s.opts.Iperf.Server, "error", result.Err)
	} else {
		s.logger.Info("Bandwidth test finished",
			"server", s.opts.Iperf.Server, "protocol", result.Protocol,
			"mbits_per_second", result.BitsPerSecond/1e6)
	}
}

// push registers an undo action for a completed stage
func (s *Session) push(name string, fn func()) {
	s.rollback = append(s.rollback, rollbackStep{name: name, fn: fn})
}

// unwind runs the rollback stack in reverse order of registration. Each step
// gets a bounded slice of time; a stuck step is abandoned with a warning so
// the remaining steps still run.
func (s *Session) unwind() {
	budget := s.timeouts.GetTeardownTimeout()
	for i := len(s.rollback) - 1; i >= 0; i-- {
		step := s.rollback[i]
		s.logger.Debug("Teardown", "step", step.name)

		done := make(chan struct{})
		go func() {
			defer close(done)
			step.fn()
		}()
		select {
		case <-done:
		case <-time.After(budget):
			s.logger.Warn("Teardown step exceeded budget, abandoning it", "step", step.name, "budget", budget.String())
		}
	}
	s.rollback = nil
}

// interrupted translates a canceled context into a session error
func (s *Session) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session interrupted: %w", err)
	}
	return nil
}

// report writes the machine-readable outcome to the session output. Failure
// tokens are stable strings for automation that drives this tool.
func (s *Session) report(summary *types.Summary) {
	switch summary.Outcome {
	case types.OutcomeSuccess:
		s.reportSuccess(summary)
	case types.OutcomeNoInterface:
		fmt.Fprintln(s.out, "ERROR_CODE=NO_INTERFACE: No valid wireless interfaces found")
	case types.OutcomeAuthFailure:
		fmt.Fprintf(s.out, "ERROR_CODE=AUTH_FAILURE: Incorrect password for network '%s'\n", summary.SSID)
	default:
		fmt.Fprintf(s.out, "ERROR_CODE=CONN_FAILURE: Connection failed to network '%s'\n", summary.SSID)
	}
}

func (s *Session) reportSuccess(summary *types.Summary) {
	fmt.Fprintf(s.out, "Connected to '%s' on %s\n", summary.SSID, summary.Interface)
	if summary.Lease != nil {
		fmt.Fprintf(s.out, "  address: %s/%d\n", summary.Lease.IP, summary.Lease.PrefixLen)
	}
	if summary.Signal != nil {
		fmt.Fprintf(s.out, "  signal: %d dBm from %s\n", summary.Signal.SignalDBM, summary.Signal.BSSID)
	}
	for _, p := range summary.Ping {
		if p.Err != "" {
			fmt.Fprintf(s.out, "  ping %s: failed (%s)\n", p.Target, p.Err)
			continue
		}
		fmt.Fprintf(s.out, "  ping %s: %d/%d received, %.1f%% loss, avg %s\n",
			p.Target, p.Received, p.Sent, p.LossPercent, p.AvgRTT)
	}
	if summary.Iperf != nil {
		if summary.Iperf.Succeeded() {
			fmt.Fprintf(s.out, "  iperf3 %s: %.1f Mbit/s\n", summary.Iperf.Protocol, summary.Iperf.BitsPerSecond/1e6)
		} else {
			fmt.Fprintf(s.out, "  iperf3: failed (%s)\n", summary.Iperf.Err)
		}
	}
}
