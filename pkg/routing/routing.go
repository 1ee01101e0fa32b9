// Package routing pins test traffic to the interface under test with a
// VRF-like overlay: a dedicated routing table holding a default route out of
// the device, plus a policy rule steering the device's source address into
// that table. The main table is never touched, so the host's own
// connectivity survives the test run.
package routing

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

const (
	// Claimable table id range. Tables below 100 are left for other tooling;
	// 253-255 are reserved by the kernel (default, main, local).
	tableMin = 100
	tableMax = 252

	commandTimeout = 5 * time.Second
)

// Manager implements the RouteIsolator interface
type Manager struct {
	executor types.SystemExecutor
	logger   types.Logger
}

// NewManager creates a new routing overlay manager
func NewManager(executor types.SystemExecutor, logger types.Logger) *Manager {
	return &Manager{
		executor: executor,
		logger:   logger,
	}
}

// Install claims a free routing table, adds a default route through the
// device's gateway and a source-address rule for the device's IP. On partial
// failure everything already installed is rolled back before returning, so
// an error never leaves a half-claimed table behind.
func (m *Manager) Install(dev string, sourceIP, gateway net.IP) (*types.RoutingOverlay, error) {
	if err := types.ValidateInterfaceName(dev); err != nil {
		return nil, fmt.Errorf("invalid interface: %w", err)
	}
	if sourceIP == nil {
		return nil, fmt.Errorf("routing isolation requires a source address")
	}
	if gateway == nil {
		return nil, fmt.Errorf("routing isolation requires a gateway")
	}

	table, err := m.freeTable()
	if err != nil {
		return nil, err
	}
	tableStr := strconv.Itoa(table)

	if _, err := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "route", "add",
		"default", "via", gateway.String(), "dev", dev, "table", tableStr); err != nil {
		return nil, fmt.Errorf("failed to add default route to table %d: %w", table, err)
	}

	if _, err := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "rule", "add",
		"from", sourceIP.String()+"/32", "lookup", tableStr); err != nil {
		// Give the table back rather than leaving it half-claimed
		if _, flushErr := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "route", "flush", "table", tableStr); flushErr != nil {
			m.logger.Warn("Failed to flush table after partial install", "table", table, "error", flushErr)
		}
		return nil, fmt.Errorf("failed to add policy rule for %s: %w", sourceIP, err)
	}

	m.logger.Info("Routing overlay installed",
		"device", dev, "table", table, "source", sourceIP.String(), "gateway", gateway.String())

	return &types.RoutingOverlay{
		Table:    table,
		Device:   dev,
		SourceIP: sourceIP,
		Gateway:  gateway,
	}, nil
}

// Remove tears down an overlay from its recorded ids. It works even after
// the interface is gone, and pieces that already disappeared produce
// warnings rather than errors so teardown always runs to the end. Removing
// the same overlay twice is harmless.
func (m *Manager) Remove(overlay *types.RoutingOverlay) error {
	if overlay == nil {
		return nil
	}
	tableStr := strconv.Itoa(overlay.Table)

	if _, err := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "rule", "del",
		"from", overlay.SourceIP.String()+"/32", "lookup", tableStr); err != nil {
		m.logger.Warn("Policy rule already removed", "table", overlay.Table, "source", overlay.SourceIP.String(), "error", err)
	}

	if _, err := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "route", "flush", "table", tableStr); err != nil {
		m.logger.Warn("Routing table already empty", "table", overlay.Table, "error", err)
	}

	m.logger.Info("Routing overlay removed", "device", overlay.Device, "table", overlay.Table)
	return nil
}

// freeTable finds an unclaimed table id by checking policy rules first and
// probing the table's routes second. A table nobody references and with no
// routes is free to claim.
func (m *Manager) freeTable() (int, error) {
	rules, err := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "rule", "show")
	if err != nil {
		return 0, fmt.Errorf("failed to list routing rules: %w", err)
	}

	for table := tableMin; table <= tableMax; table++ {
		if ruleReferencesTable(rules, table) {
			continue
		}
		// An error here typically means the table was never created, which
		// makes it free as far as we are concerned
		routes, err := m.executor.ExecuteWithTimeout(commandTimeout, "ip", "route", "show", "table", strconv.Itoa(table))
		if err != nil || strings.TrimSpace(routes) == "" {
			return table, nil
		}
	}

	return 0, fmt.Errorf("no free routing table in range %d-%d", tableMin, tableMax)
}

// ruleReferencesTable reports whether any policy rule points at the table.
// Matches on the exact lookup target so table 100 does not shadow 1000.
func ruleReferencesTable(rules string, table int) bool {
	target := strconv.Itoa(table)
	for _, line := range strings.Split(rules, "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "lookup" && i+1 < len(fields) && fields[i+1] == target {
				return true
			}
		}
	}
	return false
}
