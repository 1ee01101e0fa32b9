package wifi

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/neuralconfig/wifi-test/pkg/system"
	"github.com/neuralconfig/wifi-test/pkg/types"
)

// GenerateConfig writes a wpa_supplicant configuration for the given network
// to the runtime directory and returns its path. The file is created with
// mode 0600 and carries the derived PSK, never the plain text passphrase.
// hiddenScan adds scan_ssid=1 so the supplicant probes for networks that do
// not broadcast their SSID.
func (m *Manager) GenerateConfig(opts types.AssociateOptions, hiddenScan bool) (string, error) {
	path := configPath(opts.Device)
	contents := buildSupplicantConfig(opts.SSID, opts.Passphrase, hiddenScan)

	if _, err := m.executor.ExecuteWithTimeout(5*time.Second, "mkdir", "-p", types.RuntimeDir); err != nil {
		return "", fmt.Errorf("failed to create runtime directory: %w", err)
	}

	if err := system.WriteSecureFile(m.executor, path, contents); err != nil {
		return "", fmt.Errorf("failed to write supplicant config: %w", err)
	}

	m.logger.Debug("Generated supplicant config", "path", path, "ssid", opts.SSID, "hidden_scan", hiddenScan)
	return path, nil
}

// configPath returns the supplicant config location for a device. One file
// per device keeps concurrent sessions on different interfaces apart.
func configPath(dev string) string {
	return fmt.Sprintf("%s/wpa_%s.conf", types.RuntimeDir, dev)
}

func (m *Manager) removeConfig(path string) {
	if _, err := m.executor.ExecuteWithTimeout(5*time.Second, "rm", "-f", path); err != nil {
		m.logger.Warn("Failed to remove supplicant config", "path", path, "error", err)
	}
}

// buildSupplicantConfig renders the wpa_supplicant configuration. An empty
// passphrase produces an open network block (key_mgmt=NONE).
func buildSupplicantConfig(ssid, passphrase string, hiddenScan bool) string {
	var b strings.Builder
	b.WriteString("ctrl_interface=/var/run/wpa_supplicant\n\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=\"%s\"\n", escapeWPAString(ssid))
	if hiddenScan {
		b.WriteString("\tscan_ssid=1\n")
	}
	if passphrase == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		b.WriteString("\tkey_mgmt=WPA-PSK\n")
		fmt.Fprintf(&b, "\tpsk=%s\n", supplicantPSK(passphrase, ssid))
	}
	b.WriteString("}\n")
	return b.String()
}

// supplicantPSK returns the 64-hex-digit PSK to place in the config. A
// passphrase that is already a raw 256-bit key passes through verbatim;
// anything else is derived.
func supplicantPSK(passphrase, ssid string) string {
	if types.IsRawPSK(passphrase) {
		return passphrase
	}
	return derivePSK(passphrase, ssid)
}

// derivePSK computes the WPA PSK from a passphrase and SSID using
// PBKDF2-HMAC-SHA1 with 4096 iterations and a 256-bit output, matching
// wpa_passphrase. Writing the derived key keeps the plain text secret out
// of config files and anything that reads them.
func derivePSK(passphrase, ssid string) string {
	key := pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New)
	return hex.EncodeToString(key)
}

// escapeWPAString escapes characters with special meaning inside a quoted
// wpa_supplicant config value
func escapeWPAString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
