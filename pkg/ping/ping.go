// Package ping measures reachability through the interface under test.
// Results are always returned, never errors: an unreachable target is a
// valid measurement (100% loss), not a reason to abort the test run.
package ping

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// DefaultCount is the number of echo requests when the caller does not say
const DefaultCount = 3

// graceTimeout pads the per-run deadline beyond one second per packet
const graceTimeout = 10 * time.Second

// Compiled regexes for parsing - initialized once at package load
var (
	// "3 packets transmitted, 2 received, +1 errors, 33.3333% packet loss, time 2003ms"
	statsRegex = regexp.MustCompile(`(\d+) packets transmitted, (\d+)(?: packets)? received(?:, \+\d+ errors)?, ([\d.]+)% packet loss`)

	// "rtt min/avg/max/mdev = 11.992/12.406/12.813/0.335 ms" (iputils) or
	// "round-trip min/avg/max/stddev = ..." (BSD)
	rttRegex = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max(?:/[a-z]+)? = ([\d.]+)/([\d.]+)/([\d.]+)`)
)

// Manager implements the Pinger interface around the system ping binary
type Manager struct {
	executor types.SystemExecutor
	logger   types.Logger
}

// NewManager creates a new ping runner
func NewManager(executor types.SystemExecutor, logger types.Logger) *Manager {
	return &Manager{
		executor: executor,
		logger:   logger,
	}
}

// Run pings the target through the device (or bound to a specific source
// address when opts.BindAddress is set, which keeps the traffic inside a
// routing overlay). The returned result is usable even on total loss; Err
// carries detail only when ping itself could not run or report.
func (m *Manager) Run(ctx context.Context, target string, opts types.PingOptions) types.PingResult {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	result := types.PingResult{
		Target:      target,
		Sent:        count,
		LossPercent: 100,
	}

	if err := types.ValidateTarget(target); err != nil {
		result.Err = err.Error()
		return result
	}

	args := []string{"-c", strconv.Itoa(count)}
	if opts.BindAddress != nil {
		args = append(args, "-I", opts.BindAddress.String())
	} else if opts.Device != "" {
		args = append(args, "-I", opts.Device)
	}
	args = append(args, target)

	m.logger.Info("Running ping test", "target", target, "count", count, "device", opts.Device)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(count)*time.Second+graceTimeout)
	defer cancel()

	output, err := m.executor.ExecuteContext(runCtx, "ping", args...)
	result.Raw = output

	// ping exits non-zero on any lost packet but still prints statistics,
	// so parse before deciding anything from the error
	if parsed := parseStats(output, &result); !parsed {
		if err != nil {
			result.Err = fmt.Sprintf("ping failed: %v", err)
		} else {
			result.Err = "ping produced no statistics"
		}
		m.logger.Warn("Ping produced no statistics", "target", target, "error", result.Err)
		return result
	}

	m.logger.Info("Ping test complete",
		"target", target,
		"sent", result.Sent,
		"received", result.Received,
		"loss_percent", result.LossPercent,
		"avg_rtt", result.AvgRTT.String())
	return result
}

// parseStats fills result from the statistics block, reporting whether one
// was found
func parseStats(output string, result *types.PingResult) bool {
	stats := statsRegex.FindStringSubmatch(output)
	if stats == nil {
		return false
	}

	if sent, err := strconv.Atoi(stats[1]); err == nil {
		result.Sent = sent
	}
	if received, err := strconv.Atoi(stats[2]); err == nil {
		result.Received = received
	}
	if loss, err := strconv.ParseFloat(stats[3], 64); err == nil {
		result.LossPercent = loss
	}

	// The rtt line only appears when at least one reply came back
	if rtt := rttRegex.FindStringSubmatch(output); rtt != nil {
		result.MinRTT = parseMillis(rtt[1])
		result.AvgRTT = parseMillis(rtt[2])
		result.MaxRTT = parseMillis(rtt[3])
	}
	return true
}

func parseMillis(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Millisecond)))
}
