package network

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// linkTimeout bounds individual ip link operations
const linkTimeout = 5 * time.Second

// wirelessPrefixes are the interface naming conventions the link-list fallback
// accepts when `iw dev` yields nothing. Patterns: wlan* (traditional),
// wlp*/wlo*/wlx* via wl* (systemd predictable), ath* (Atheros), wcn* (some ARM
// SoCs), mlan* (Marvell)
var wirelessPrefixes = []string{"wlan", "wlp", "wl", "ath", "wcn", "mlan"}

// Manager implements the InterfaceManager interface
type Manager struct {
	executor types.SystemExecutor
	netstate types.NetState
	logger   types.Logger

	mu           sync.Mutex
	originalMACs map[string]string
}

// NewManager creates a new interface manager
func NewManager(executor types.SystemExecutor, netstate types.NetState, logger types.Logger) *Manager {
	return &Manager{
		executor:     executor,
		netstate:     netstate,
		logger:       logger,
		originalMACs: make(map[string]string),
	}
}

// ListWireless returns the names of all wireless interfaces. The primary
// source is `iw dev`; if that fails or reports nothing, the kernel link list
// filtered by wireless naming conventions is used instead. An empty result is
// a valid answer, never an error.
func (m *Manager) ListWireless() ([]string, error) {
	output, err := m.executor.ExecuteWithTimeout(5*time.Second, "iw", "dev")
	if err != nil {
		m.logger.Debug("Failed to list wireless devices via iw, falling back to link list", "error", err)
	} else {
		if devs := parseIwDevices(output); len(devs) > 0 {
			m.logger.Debug("Found wireless interfaces", "interfaces", strings.Join(devs, ","))
			return devs, nil
		}
		m.logger.Debug("iw dev reported no interfaces, falling back to link list")
	}

	names, err := m.netstate.LinkNames()
	if err != nil {
		return nil, fmt.Errorf("failed to list network links: %w", err)
	}

	var devs []string
	for _, name := range names {
		if hasWirelessName(name) {
			m.logger.Debug("Found wireless interface candidate", "interface", name)
			devs = append(devs, name)
		}
	}
	return devs, nil
}

// parseIwDevices extracts interface names from `iw dev` output
func parseIwDevices(output string) []string {
	var devs []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Interface ") {
			devs = append(devs, strings.TrimPrefix(line, "Interface "))
		}
	}
	return devs
}

func hasWirelessName(name string) bool {
	for _, prefix := range wirelessPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// SetMAC sets the MAC address for an interface. The address is validated
// before any command runs, so a malformed value never reaches the driver.
// The current address is snapshotted on first change so RestoreMAC can put
// it back at teardown.
func (m *Manager) SetMAC(dev, mac string) error {
	if err := types.ValidateInterfaceName(dev); err != nil {
		return fmt.Errorf("invalid interface: %w", err)
	}

	if mac == "" || mac == "random" {
		mac = m.generateRandomMAC()
	}

	if err := types.ValidateMAC(mac); err != nil {
		return fmt.Errorf("invalid MAC address: %w", err)
	}

	m.recordOriginalMAC(dev)

	m.logger.Info("Setting MAC address", "interface", dev, "mac", mac)

	// The driver only accepts address changes while the link is down
	if _, err := m.executor.ExecuteWithTimeout(linkTimeout, "ip", "link", "set", dev, "down"); err != nil {
		return fmt.Errorf("failed to bring interface down: %w", err)
	}

	output, err := m.executor.ExecuteWithTimeout(linkTimeout, "ip", "link", "set", dev, "address", mac)
	if err != nil {
		// Leave the interface usable even when the driver refuses the address
		if _, upErr := m.executor.ExecuteWithTimeout(linkTimeout, "ip", "link", "set", dev, "up"); upErr != nil {
			m.logger.Warn("Failed to bring interface back up after rejected MAC", "interface", dev, "error", upErr)
		}
		return &types.MacAssignmentError{Device: dev, MAC: mac, Output: strings.TrimSpace(output)}
	}

	if _, err := m.executor.ExecuteWithTimeout(linkTimeout, "ip", "link", "set", dev, "up"); err != nil {
		return fmt.Errorf("failed to bring interface up: %w", err)
	}

	return nil
}

// recordOriginalMAC snapshots the current hardware address once per device
func (m *Manager) recordOriginalMAC(dev string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.originalMACs[dev]; ok {
		return
	}
	hw, err := m.netstate.HardwareAddr(dev)
	if err != nil {
		m.logger.Debug("Could not record original MAC", "interface", dev, "error", err)
		return
	}
	m.originalMACs[dev] = hw
	m.logger.Debug("Recorded original MAC", "interface", dev, "mac", hw)
}

// OriginalMAC returns the address the interface had before any SetMAC call,
// falling back to the live hardware address when nothing was recorded
func (m *Manager) OriginalMAC(dev string) (string, error) {
	m.mu.Lock()
	orig, ok := m.originalMACs[dev]
	m.mu.Unlock()

	if ok {
		return orig, nil
	}
	return m.netstate.HardwareAddr(dev)
}

// RestoreMAC puts back the address recorded before the first SetMAC call.
// A no-op when the address was never changed.
func (m *Manager) RestoreMAC(dev string) error {
	m.mu.Lock()
	orig, ok := m.originalMACs[dev]
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("No original MAC recorded, nothing to restore", "interface", dev)
		return nil
	}

	m.logger.Info("Restoring original MAC address", "interface", dev, "mac", orig)
	return m.SetMAC(dev, orig)
}

// GetMAC gets the current MAC address
func (m *Manager) GetMAC(dev string) (string, error) {
	output, err := m.executor.ExecuteWithTimeout(2*time.Second, "ip", "link", "show", dev)
	if err != nil {
		return "", fmt.Errorf("failed to get interface info: %w", err)
	}

	// Parse MAC from output like: "link/ether 00:11:22:33:44:55 brd ff:ff:ff:ff:ff:ff"
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "link/ether") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				return parts[1], nil
			}
		}
	}

	return "", fmt.Errorf("MAC address not found in interface output")
}

// BringUp brings an interface up. ip link is idempotent here, so calling it
// on an already-up interface succeeds.
func (m *Manager) BringUp(dev string) error {
	if _, err := m.executor.ExecuteWithTimeout(linkTimeout, "ip", "link", "set", dev, "up"); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", dev, err)
	}
	return nil
}

// BringDown brings an interface down
func (m *Manager) BringDown(dev string) error {
	if _, err := m.executor.ExecuteWithTimeout(linkTimeout, "ip", "link", "set", dev, "down"); err != nil {
		return fmt.Errorf("failed to bring %s down: %w", dev, err)
	}
	return nil
}

// WaitCarrier polls for carrier detection on an interface.
// Returns true if carrier is detected within the timeout, false otherwise.
func (m *Manager) WaitCarrier(dev string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	pollInterval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		carrier, err := m.executor.Execute("cat", "/sys/class/net/"+dev+"/carrier")
		if err == nil && strings.TrimSpace(carrier) == "1" {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}

// QuerySignal reports link-level state from `iw dev X link`. An interface
// that is not associated yields (nil, nil): absence of a link is a valid
// answer, not an error.
func (m *Manager) QuerySignal(dev string) (*types.SignalInfo, error) {
	output, err := m.executor.ExecuteWithTimeout(5*time.Second, "iw", "dev", dev, "link")
	if err != nil {
		return nil, fmt.Errorf("failed to query link state: %w", err)
	}

	if strings.Contains(output, "Not connected.") {
		return nil, nil
	}

	info := parseLinkInfo(output)
	if info == nil {
		return nil, fmt.Errorf("unrecognized iw link output for %s", dev)
	}

	m.logger.Debug("Link state",
		"interface", dev,
		"ssid", info.SSID,
		"bssid", info.BSSID,
		"signal", info.SignalDBM)
	return info, nil
}

// parseLinkInfo parses `iw dev X link` output for an associated interface
func parseLinkInfo(output string) *types.SignalInfo {
	info := &types.SignalInfo{}
	connected := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Connected to "):
			connected = true
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				info.BSSID = fields[2]
			}
		case strings.HasPrefix(line, "SSID: "):
			info.SSID = strings.TrimPrefix(line, "SSID: ")
		case strings.HasPrefix(line, "freq: "):
			// Newer iw prints fractional frequencies like "freq: 5180.0"
			val := strings.TrimPrefix(line, "freq: ")
			if idx := strings.Index(val, "."); idx != -1 {
				val = val[:idx]
			}
			if freq, err := strconv.Atoi(val); err == nil {
				info.Frequency = freq
			}
		case strings.HasPrefix(line, "signal: "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if dbm, err := strconv.Atoi(fields[1]); err == nil {
					info.SignalDBM = dbm
				}
			}
		case strings.HasPrefix(line, "rx bitrate: "):
			info.RxBitrate = strings.TrimPrefix(line, "rx bitrate: ")
		case strings.HasPrefix(line, "tx bitrate: "):
			info.TxBitrate = strings.TrimPrefix(line, "tx bitrate: ")
		}
	}

	if !connected {
		return nil
	}
	return info
}

func (m *Manager) generateRandomMAC() string {
	// Use crypto/rand for secure random bytes
	mac := make([]byte, 6)
	_, err := rand.Read(mac)
	if err != nil {
		m.logger.Warn("Failed to generate random MAC, using fallback", "error", err)
		// Fallback to simple pattern
		return "02:00:00:00:00:01"
	}
	// Set local bit and clear multicast bit (makes it a valid unicast local MAC)
	mac[0] = (mac[0] | 0x02) & 0xfe
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
