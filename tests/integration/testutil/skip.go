//go:build integration

// Package testutil provides scaffolding for integration tests that exercise
// real kernel interfaces: virtual radios via mac80211_hwsim, hostapd access
// points, dnsmasq DHCP service, and network namespaces.
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// SkipIfNotRoot skips the test if not running as root. Interface and routing
// mutation needs CAP_NET_ADMIN, which in practice means root.
func SkipIfNotRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("skipping: test requires root privileges")
	}
}

// SkipIfNoHWSim skips the test if the mac80211_hwsim kernel module is not
// available. The module provides virtual Wi-Fi radios.
func SkipIfNoHWSim(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/sys/module/mac80211_hwsim"); err == nil {
		return
	}
	if err := exec.Command("modprobe", "mac80211_hwsim").Run(); err != nil {
		t.Skip("skipping: mac80211_hwsim kernel module not available")
	}
}

// SkipIfNoNetNS skips the test if network namespaces are not supported
func SkipIfNoNetNS(t *testing.T) {
	t.Helper()
	if err := exec.Command("ip", "netns", "list").Run(); err != nil {
		t.Skip("skipping: network namespaces not supported")
	}
}

// SkipIfMissingCmd skips the test if a required command is not installed
func SkipIfMissingCmd(t *testing.T, cmd string) {
	t.Helper()
	if _, err := exec.LookPath(cmd); err != nil {
		t.Skipf("skipping: required command %q not found in PATH", cmd)
	}
}

// RequireCommands fails the test if any of the required commands are missing
func RequireCommands(t *testing.T, cmds ...string) {
	t.Helper()
	for _, cmd := range cmds {
		if _, err := exec.LookPath(cmd); err != nil {
			t.Fatalf("required command %q not found in PATH", cmd)
		}
	}
}
