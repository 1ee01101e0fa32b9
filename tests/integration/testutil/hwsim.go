//go:build integration

package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// HWSimRadio is one virtual Wi-Fi radio created by mac80211_hwsim
type HWSimRadio struct {
	PHY       string // phy name, e.g. "phy0"
	Interface string // interface name, e.g. "wlan0"
	Index     int
}

var hwsimLoaded bool

// LoadHWSim (re)loads mac80211_hwsim with the requested number of radios and
// returns them. The module is unloaded again when the test finishes.
func LoadHWSim(t *testing.T, numRadios int) []*HWSimRadio {
	t.Helper()
	SkipIfNotRoot(t)
	SkipIfNoHWSim(t)

	// Reload for a clean state if already present
	if _, err := os.Stat("/sys/module/mac80211_hwsim"); err == nil {
		if err := exec.Command("modprobe", "-r", "mac80211_hwsim").Run(); err != nil {
			t.Logf("Warning: failed to unload existing mac80211_hwsim: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := exec.Command("modprobe", "mac80211_hwsim", fmt.Sprintf("radios=%d", numRadios)).Run(); err != nil {
		t.Fatalf("failed to load mac80211_hwsim: %v", err)
	}
	hwsimLoaded = true
	t.Cleanup(UnloadHWSim)

	// Give the kernel a moment to register the interfaces
	time.Sleep(500 * time.Millisecond)

	radios, err := findHWSimRadios(numRadios)
	if err != nil {
		t.Fatalf("failed to find hwsim radios: %v", err)
	}
	if len(radios) < numRadios {
		t.Fatalf("expected %d radios, found %d", numRadios, len(radios))
	}

	return radios
}

// UnloadHWSim removes the mac80211_hwsim module if this process loaded it
func UnloadHWSim() {
	if hwsimLoaded {
		_ = exec.Command("modprobe", "-r", "mac80211_hwsim").Run()
		hwsimLoaded = false
	}
}

func findHWSimRadios(expected int) ([]*HWSimRadio, error) {
	var radios []*HWSimRadio

	phyDir := "/sys/class/ieee80211"
	entries, err := os.ReadDir(phyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", phyDir, err)
	}

	for i, entry := range entries {
		phyName := entry.Name()

		driverPath := filepath.Join(phyDir, phyName, "device", "driver")
		if target, err := os.Readlink(driverPath); err == nil {
			if !strings.Contains(target, "hwsim") {
				continue
			}
		}

		ifaceName, err := interfaceForPhy(phyName)
		if err != nil {
			continue
		}

		radios = append(radios, &HWSimRadio{PHY: phyName, Interface: ifaceName, Index: i})
		if len(radios) >= expected {
			break
		}
	}

	return radios, nil
}

func interfaceForPhy(phyName string) (string, error) {
	entries, err := os.ReadDir("/sys/class/net")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		ifaceName := entry.Name()
		phyPath := filepath.Join("/sys/class/net", ifaceName, "phy80211", "name")
		if data, err := os.ReadFile(phyPath); err == nil {
			if strings.TrimSpace(string(data)) == phyName {
				return ifaceName, nil
			}
		}
	}

	return "", fmt.Errorf("no interface found for phy %s", phyName)
}

// SetInterfaceMode switches a wireless interface between managed/ap/monitor.
// The interface must be down for the mode change to take.
func SetInterfaceMode(t *testing.T, ifaceName, mode string) error {
	t.Helper()

	if err := exec.Command("ip", "link", "set", ifaceName, "down").Run(); err != nil {
		return fmt.Errorf("failed to bring down %s: %v", ifaceName, err)
	}
	if err := exec.Command("iw", "dev", ifaceName, "set", "type", mode).Run(); err != nil {
		return fmt.Errorf("failed to set %s mode to %s: %v", ifaceName, mode, err)
	}
	if err := exec.Command("ip", "link", "set", ifaceName, "up").Run(); err != nil {
		return fmt.Errorf("failed to bring up %s: %v", ifaceName, err)
	}

	return nil
}

// Scan runs an iw scan on this radio and returns the raw output
func (r *HWSimRadio) Scan(ns *TestNamespace) (string, error) {
	if ns != nil {
		return ns.ExecOutput("iw", "dev", r.Interface, "scan")
	}
	output, err := exec.Command("iw", "dev", r.Interface, "scan").CombinedOutput()
	return string(output), err
}

// Info returns the iw info output for this radio's interface
func (r *HWSimRadio) Info(ns *TestNamespace) (string, error) {
	if ns != nil {
		return ns.ExecOutput("iw", "dev", r.Interface, "info")
	}
	output, err := exec.Command("iw", "dev", r.Interface, "info").CombinedOutput()
	return string(output), err
}
