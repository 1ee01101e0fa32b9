// Package dhcpclient obtains IPv4 leases by running dhclient and confirming
// the resulting address against live kernel state. A lease only counts once
// a usable (non link-local) address is actually bound to the interface.
package dhcpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/system"
	"github.com/neuralconfig/wifi-test/pkg/types"
)

const (
	// CleanupTimeout bounds rm during lease teardown
	CleanupTimeout = 500 * time.Millisecond

	// ReleaseTimeout bounds the DHCPRELEASE exchange
	ReleaseTimeout = 5 * time.Second
)

// Manager implements the LeaseClient interface around dhclient
type Manager struct {
	executor types.SystemExecutor
	netstate types.NetState
	logger   types.Logger
	timeouts *types.TimeoutConfig
}

// NewManager creates a new DHCP lease client
func NewManager(executor types.SystemExecutor, netstate types.NetState, logger types.Logger, timeouts *types.TimeoutConfig) *Manager {
	if timeouts == nil {
		timeouts = &types.TimeoutConfig{}
	}
	return &Manager{
		executor: executor,
		netstate: netstate,
		logger:   logger,
		timeouts: timeouts,
	}
}

// Acquire runs dhclient on the device and waits until the kernel reports a
// usable IPv4 address. The timeout covers the whole exchange; zero selects
// the configured default. A deadline without an address yields
// LeaseTimeoutError so callers can tell a slow DHCP server from a broken
// client.
func (m *Manager) Acquire(ctx context.Context, dev string, timeout time.Duration) (*types.Lease, error) {
	if err := types.ValidateInterfaceName(dev); err != nil {
		return nil, fmt.Errorf("invalid interface: %w", err)
	}
	if timeout <= 0 {
		timeout = m.timeouts.GetDHCPTimeout()
	}

	m.logger.Info("Acquiring DHCP lease", "device", dev, "timeout", timeout.String())
	deadline := time.Now().Add(timeout)

	// A leftover client would renew a stale lease behind our back
	m.stopClients(dev)

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if _, err := m.executor.ExecuteContext(runCtx, "dhclient", "-v", dev); err != nil {
		m.stopClients(dev)
		if errors.Is(err, types.ErrExecutionTimeout) || runCtx.Err() == context.DeadlineExceeded {
			return nil, &types.LeaseTimeoutError{Device: dev, Timeout: timeout}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lease acquisition interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("dhclient failed on %s: %w", dev, err)
	}

	lease, err := m.waitForAddress(ctx, dev, deadline, timeout)
	if err != nil {
		m.stopClients(dev)
		return nil, err
	}

	m.logger.Info("DHCP lease acquired", "device", dev, "ip", lease.IP.String(), "prefix_len", lease.PrefixLen)
	return lease, nil
}

// waitForAddress polls kernel state until the interface carries a usable
// IPv4 address. dhclient exiting zero is not proof of a bound address, so
// the kernel is the authority here.
func (m *Manager) waitForAddress(ctx context.Context, dev string, deadline time.Time, timeout time.Duration) (*types.Lease, error) {
	ticker := time.NewTicker(m.timeouts.GetPollInterval())
	defer ticker.Stop()

	for {
		ip, prefixLen, err := m.netstate.InterfaceIPv4(dev)
		if err == nil && usableAddress(ip) {
			return &types.Lease{
				Interface:  dev,
				IP:         ip,
				PrefixLen:  prefixLen,
				AcquiredAt: time.Now(),
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, &types.LeaseTimeoutError{Device: dev, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lease wait interrupted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release sends DHCPRELEASE, kills any client still bound to the interface
// and removes its lease files. Best-effort: failures are logged, never
// returned, so teardown can always continue.
func (m *Manager) Release(dev string) error {
	if err := types.ValidateInterfaceName(dev); err != nil {
		return fmt.Errorf("invalid interface: %w", err)
	}

	m.logger.Debug("Releasing DHCP lease", "device", dev)

	if _, err := m.executor.ExecuteWithTimeout(ReleaseTimeout, "dhclient", "-r", dev); err != nil {
		m.logger.Debug("dhclient release failed", "device", dev, "error", err)
	}

	m.stopClients(dev)
	m.removeLeaseFiles(dev)
	return nil
}

// stopClients kills dhclient processes bound to this interface only
func (m *Manager) stopClients(dev string) {
	// Interface names can contain regex metacharacters (eth-0)
	system.KillProcessFast(m.executor, m.logger, "dhclient.*"+regexp.QuoteMeta(dev))
}

func (m *Manager) removeLeaseFiles(dev string) {
	leaseFiles := []string{
		"/var/lib/dhcp/dhclient." + dev + ".leases",
		types.RuntimeDir + "/dhclient." + dev + ".leases",
	}
	for _, f := range leaseFiles {
		if _, err := m.executor.ExecuteWithTimeout(CleanupTimeout, "rm", "-f", f); err != nil {
			m.logger.Debug("Failed to remove lease file", "file", f, "error", err)
		}
	}
}

// usableAddress rejects addresses that mean DHCP did not actually succeed:
// a 169.254/16 address is the kernel's fallback, not a lease
func usableAddress(ip net.IP) bool {
	return ip != nil && !ip.IsLinkLocalUnicast() && !ip.IsLoopback()
}
