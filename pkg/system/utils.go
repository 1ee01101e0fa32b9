package system

import (
	"net"
	"strings"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// KillProcessFast sends SIGKILL to every process whose command line matches
// pattern. Meant for daemons that hold no state worth saving: a leftover
// wpa_supplicant or dhclient only needs to be gone before the next one
// starts, not shut down politely.
func KillProcessFast(executor types.SystemExecutor, logger types.Logger, pattern string) {
	if _, err := executor.ExecuteWithTimeout(500*time.Millisecond, "pkill", "-9", "-f", pattern); err != nil {
		logger.Debug("No process to kill", "pattern", pattern)
	}
}

// WriteSecureFile writes content to path with mode 0600. install(1) applies
// the mode at creation, so the file is never observable with wider
// permissions, and the content arrives over stdin so it never appears in a
// process listing.
func WriteSecureFile(executor types.SystemExecutor, path, content string) error {
	_, err := executor.ExecuteWithInput("install", content, "-m", "0600", "/dev/stdin", path)
	return err
}

// ParseIPFromOutput extracts the first IPv4 address from `ip addr show`
// output, or nil when the interface has none. inet6 lines are skipped.
func ParseIPFromOutput(output string) net.IP {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "inet" {
			continue
		}
		if ip, _, err := net.ParseCIDR(fields[1]); err == nil {
			return ip
		}
	}
	return nil
}

// ParseGatewayFromOutput extracts the default gateway from `ip route show`
// output, or nil when no default route exists.
func ParseGatewayFromOutput(output string) net.IP {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "default" && fields[1] == "via" {
			return net.ParseIP(fields[2])
		}
	}
	return nil
}
