//go:build integration

package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"
)

// DHCPServerConfig configures a dnsmasq instance serving leases on one
// interface
type DHCPServerConfig struct {
	Interface  string
	RangeStart string // e.g. "192.168.100.10"
	RangeEnd   string // e.g. "192.168.100.50"
	Gateway    string // e.g. "192.168.100.1"
	Netmask    string // default: "255.255.255.0"
	LeaseTime  string // default: "1h"
	DNS        string // default: "8.8.8.8"

	// NS, when set, runs dnsmasq inside that namespace.
	NS *TestNamespace
}

// TestDHCPServer is a running dnsmasq instance
type TestDHCPServer struct {
	Config    DHCPServerConfig
	cmd       *exec.Cmd
	confFile  string
	leaseFile string
	pidFile   string
	t         *testing.T
}

// StartDHCPServer starts dnsmasq in DHCP-only mode. It is stopped and its
// temp files removed when the test finishes.
func StartDHCPServer(t *testing.T, cfg DHCPServerConfig) *TestDHCPServer {
	t.Helper()
	SkipIfNotRoot(t)
	SkipIfMissingCmd(t, "dnsmasq")

	if cfg.Netmask == "" {
		cfg.Netmask = "255.255.255.0"
	}
	if cfg.LeaseTime == "" {
		cfg.LeaseTime = "1h"
	}
	if cfg.DNS == "" {
		cfg.DNS = "8.8.8.8"
	}

	server := &TestDHCPServer{Config: cfg, t: t}

	confFile, err := os.CreateTemp("", "dnsmasq-*.conf")
	if err != nil {
		t.Fatalf("failed to create dnsmasq config file: %v", err)
	}
	server.confFile = confFile.Name()

	leaseFile, err := os.CreateTemp("", "dnsmasq-leases-*")
	if err != nil {
		os.Remove(server.confFile)
		t.Fatalf("failed to create lease file: %v", err)
	}
	server.leaseFile = leaseFile.Name()
	leaseFile.Close()

	pidFile, err := os.CreateTemp("", "dnsmasq-pid-*")
	if err != nil {
		os.Remove(server.confFile)
		os.Remove(server.leaseFile)
		t.Fatalf("failed to create pid file: %v", err)
	}
	server.pidFile = pidFile.Name()
	pidFile.Close()

	if _, err := confFile.WriteString(server.generateConfig()); err != nil {
		confFile.Close()
		server.removeFiles()
		t.Fatalf("failed to write dnsmasq config: %v", err)
	}
	confFile.Close()

	args := []string{
		"--conf-file=" + server.confFile,
		"--keep-in-foreground",
		"--no-daemon",
		"--log-dhcp",
	}
	if cfg.NS != nil {
		// ip netns exec setns's and then execs dnsmasq, so cmd.Process
		// is the dnsmasq process itself and Stop can kill it directly.
		nsArgs := append([]string{"netns", "exec", cfg.NS.Name, "dnsmasq"}, args...)
		server.cmd = exec.Command("ip", nsArgs...)
	} else {
		server.cmd = exec.Command("dnsmasq", args...)
	}
	if err := server.cmd.Start(); err != nil {
		server.removeFiles()
		t.Fatalf("failed to start dnsmasq: %v", err)
	}
	t.Cleanup(server.Stop)

	time.Sleep(500 * time.Millisecond)

	if server.cmd.ProcessState != nil && server.cmd.ProcessState.Exited() {
		t.Fatalf("dnsmasq exited unexpectedly")
	}

	t.Logf("Started DHCP server: interface=%s, range=%s-%s", cfg.Interface, cfg.RangeStart, cfg.RangeEnd)
	return server
}

func (s *TestDHCPServer) generateConfig() string {
	cfg := s.Config
	// port=0 disables the DNS side; only DHCP is wanted here
	return fmt.Sprintf(`interface=%s
bind-interfaces
dhcp-range=%s,%s,%s,%s
dhcp-option=option:router,%s
dhcp-option=option:dns-server,%s
dhcp-leasefile=%s
pid-file=%s
port=0
`, cfg.Interface, cfg.RangeStart, cfg.RangeEnd, cfg.Netmask, cfg.LeaseTime,
		cfg.Gateway, cfg.DNS, s.leaseFile, s.pidFile)
}

// Stop kills dnsmasq and removes its temp files
func (s *TestDHCPServer) Stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.removeFiles()
}

func (s *TestDHCPServer) removeFiles() {
	if s.confFile != "" {
		_ = os.Remove(s.confFile)
	}
	if s.leaseFile != "" {
		_ = os.Remove(s.leaseFile)
	}
	if s.pidFile != "" {
		_ = os.Remove(s.pidFile)
	}
}

// Leases returns the raw dnsmasq lease file contents
func (s *TestDHCPServer) Leases() (string, error) {
	content, err := os.ReadFile(s.leaseFile)
	if err != nil {
		return "", fmt.Errorf("failed to read lease file: %v", err)
	}
	return string(content), nil
}

// IsRunning reports whether dnsmasq is still alive
func (s *TestDHCPServer) IsRunning() bool {
	if s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	return s.cmd.ProcessState == nil || !s.cmd.ProcessState.Exited()
}
