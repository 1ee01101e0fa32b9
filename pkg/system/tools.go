package system

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// Requirement names an external tool and optionally a minimum version
type Requirement struct {
	Name       string
	MinVersion string
}

// versionPattern extracts a dotted version number from --version output
var versionPattern = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// BaseRequirements are the tools every session needs before any host state
// is touched
var BaseRequirements = []Requirement{
	{Name: "iw"},
	{Name: "ip"},
	{Name: "wpa_supplicant"},
	{Name: "wpa_cli"},
	{Name: "dhclient"},
	{Name: "ping"},
}

// IperfRequirement is checked only when a bandwidth test is requested.
// JSON output (-J) needs the iperf3 rewrite, not the 2.x series.
var IperfRequirement = Requirement{Name: "iperf3", MinVersion: "3.0"}

// CheckTools verifies every required external tool is present and, where a
// minimum version is given, that the installed version satisfies it. A failed
// version probe on a present tool is not fatal; presence wins.
func CheckTools(executor types.SystemExecutor, logger types.Logger, reqs ...Requirement) error {
	var missing []string

	for _, req := range reqs {
		if !executor.HasCommand(req.Name) {
			missing = append(missing, req.Name)
			continue
		}

		if req.MinVersion == "" {
			continue
		}

		out, err := executor.ExecuteWithTimeout(5*time.Second, req.Name, "--version")
		if err != nil {
			logger.Debug("Version probe failed, accepting tool by presence", "tool", req.Name, "error", err)
			continue
		}

		match := versionPattern.FindString(out)
		if match == "" {
			logger.Debug("No version number in probe output", "tool", req.Name)
			continue
		}

		have, err := version.NewVersion(match)
		if err != nil {
			continue
		}
		want, err := version.NewVersion(req.MinVersion)
		if err != nil {
			continue
		}
		if have.LessThan(want) {
			return fmt.Errorf("%s version %s is older than required %s", req.Name, have, want)
		}
		logger.Debug("Tool version ok", "tool", req.Name, "version", have.String())
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
	return nil
}
