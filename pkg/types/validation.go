package types

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Validation regexes - compiled once at package init
var (
	// Interface names: start with letter, alphanumeric + underscore/dash, max 15 chars
	interfaceRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,14}$`)

	// MAC address: 6 hex pairs separated by colons
	macRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

	// Hostname: RFC 1123 compliant
	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

	// Raw 256-bit PSK given as 64 hex characters
	rawPSKRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters)")
	}
	if !interfaceRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: must start with letter, contain only alphanumeric, underscore, or dash")
	}
	return nil
}

// ValidateMAC validates a MAC address format. Validation happens before any
// external command runs, so a malformed address never reaches the driver.
func ValidateMAC(mac string) error {
	if mac == "" {
		return nil // Empty is allowed (means don't change)
	}
	if mac == "random" {
		return nil
	}
	if !macRegex.MatchString(mac) {
		return fmt.Errorf("invalid MAC address format: expected XX:XX:XX:XX:XX:XX")
	}
	return nil
}

// ValidateSSID validates a WiFi SSID
func ValidateSSID(ssid string) error {
	if ssid == "" {
		return fmt.Errorf("SSID cannot be empty")
	}
	if len(ssid) > 32 {
		return fmt.Errorf("SSID too long (max 32 bytes)")
	}
	if strings.ContainsAny(ssid, "\x00") {
		return fmt.Errorf("SSID cannot contain null bytes")
	}
	return nil
}

// ValidatePassphrase validates a WPA passphrase. Accepts 8-63 printable ASCII
// characters, or exactly 64 hex characters for a pre-derived PSK. Empty means
// an open network.
func ValidatePassphrase(passphrase string) error {
	if passphrase == "" {
		return nil // Open network
	}
	if rawPSKRegex.MatchString(passphrase) {
		return nil
	}
	if len(passphrase) < 8 {
		return fmt.Errorf("passphrase too short (minimum 8 characters)")
	}
	if len(passphrase) > 63 {
		return fmt.Errorf("passphrase too long (maximum 63 characters, or 64 hex for raw PSK)")
	}
	for _, c := range passphrase {
		if c < 32 || c > 126 {
			return fmt.Errorf("passphrase must contain only printable ASCII characters")
		}
	}
	return nil
}

// IsRawPSK reports whether the passphrase is a pre-derived 64-hex PSK
func IsRawPSK(passphrase string) bool {
	return rawPSKRegex.MatchString(passphrase)
}

// ValidateHostname validates a hostname (RFC 1123)
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if len(hostname) > 253 {
		return fmt.Errorf("hostname too long (max 253 characters)")
	}
	// Check each label
	labels := strings.Split(hostname, ".")
	for _, label := range labels {
		if len(label) > 63 {
			return fmt.Errorf("hostname label too long (max 63 characters)")
		}
		if !hostnameRegex.MatchString(label) {
			return fmt.Errorf("invalid hostname format: must be alphanumeric with dashes")
		}
	}
	return nil
}

// ValidateTarget validates a ping or iperf target (IP address or hostname)
func ValidateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	if ip := net.ParseIP(target); ip != nil {
		return nil
	}
	return ValidateHostname(target)
}
