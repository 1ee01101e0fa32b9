//go:build integration

package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// TestAPConfig configures a hostapd access point for one test
type TestAPConfig struct {
	SSID    string
	PSK     string // empty for an open network
	Channel int    // default: 1
	HWMode  string // default: "g" (2.4 GHz)
	Hidden  bool   // suppress SSID broadcast
}

// TestAP is a running hostapd instance on a hwsim radio
type TestAP struct {
	Config    TestAPConfig
	Radio     *HWSimRadio
	Interface string
	cmd       *exec.Cmd
	confFile  string
	t         *testing.T
}

// StartTestAP puts the radio in AP mode and starts hostapd on it. The AP is
// stopped and the radio returned to managed mode when the test finishes.
func StartTestAP(t *testing.T, radio *HWSimRadio, cfg TestAPConfig) *TestAP {
	t.Helper()
	SkipIfNotRoot(t)
	SkipIfMissingCmd(t, "hostapd")

	if cfg.Channel == 0 {
		cfg.Channel = 1
	}
	if cfg.HWMode == "" {
		cfg.HWMode = "g"
	}

	ap := &TestAP{
		Config:    cfg,
		Radio:     radio,
		Interface: radio.Interface,
		t:         t,
	}

	if err := SetInterfaceMode(t, radio.Interface, "ap"); err != nil {
		// Some drivers expose AP mode as __ap
		if err2 := SetInterfaceMode(t, radio.Interface, "__ap"); err2 != nil {
			t.Fatalf("failed to set AP mode: %v (also tried __ap: %v)", err, err2)
		}
	}

	confFile, err := os.CreateTemp("", "hostapd-*.conf")
	if err != nil {
		t.Fatalf("failed to create hostapd config file: %v", err)
	}
	ap.confFile = confFile.Name()

	if _, err := confFile.WriteString(ap.generateConfig()); err != nil {
		confFile.Close()
		os.Remove(confFile.Name())
		t.Fatalf("failed to write hostapd config: %v", err)
	}
	confFile.Close()

	ap.cmd = exec.Command("hostapd", ap.confFile)
	if err := ap.cmd.Start(); err != nil {
		os.Remove(ap.confFile)
		t.Fatalf("failed to start hostapd: %v", err)
	}
	t.Cleanup(ap.Stop)

	// Wait for the AP to start beaconing
	time.Sleep(1 * time.Second)

	if ap.cmd.ProcessState != nil && ap.cmd.ProcessState.Exited() {
		t.Fatalf("hostapd exited unexpectedly")
	}

	t.Logf("Started test AP: SSID=%s, Interface=%s, Channel=%d", cfg.SSID, radio.Interface, cfg.Channel)
	return ap
}

func (ap *TestAP) generateConfig() string {
	cfg := ap.Config

	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", ap.Interface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid=%s\n", cfg.SSID)
	fmt.Fprintf(&b, "hw_mode=%s\n", cfg.HWMode)
	fmt.Fprintf(&b, "channel=%d\n", cfg.Channel)
	b.WriteString("ieee80211n=1\n")
	b.WriteString("wmm_enabled=1\n")

	if cfg.Hidden {
		b.WriteString("ignore_broadcast_ssid=1\n")
	}

	if cfg.PSK != "" {
		b.WriteString("auth_algs=1\n")
		b.WriteString("wpa=2\n")
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", cfg.PSK)
	} else {
		b.WriteString("auth_algs=1\n")
	}

	return b.String()
}

// Stop kills hostapd and returns the radio to managed mode
func (ap *TestAP) Stop() {
	if ap.cmd != nil && ap.cmd.Process != nil {
		_ = ap.cmd.Process.Kill()
		_ = ap.cmd.Wait()
	}
	if ap.confFile != "" {
		_ = os.Remove(ap.confFile)
	}

	_ = exec.Command("ip", "link", "set", ap.Interface, "down").Run()
	_ = exec.Command("iw", "dev", ap.Interface, "set", "type", "managed").Run()
	_ = exec.Command("ip", "link", "set", ap.Interface, "up").Run()
}

// BSSID returns the MAC address hostapd is beaconing with
func (ap *TestAP) BSSID() (string, error) {
	output, err := exec.Command("iw", "dev", ap.Interface, "info").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to get AP info: %v", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "addr" && i+1 < len(fields) {
				return fields[i+1], nil
			}
		}
	}

	return "", fmt.Errorf("no addr field in iw output")
}

// IsRunning reports whether hostapd is still alive
func (ap *TestAP) IsRunning() bool {
	if ap.cmd == nil || ap.cmd.Process == nil {
		return false
	}
	return ap.cmd.ProcessState == nil || !ap.cmd.ProcessState.Exited()
}
