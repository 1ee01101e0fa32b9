// Package iperf measures throughput against a remote iperf3 server. Like
// the ping runner it always returns a result: a refused connection or a
// timed-out run is a failed measurement for the report, not a fatal error
// for the session.
package iperf

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// graceTimeout pads the per-run deadline beyond the configured test length
const graceTimeout = 10 * time.Second

// Manager implements the BandwidthTester interface around iperf3
type Manager struct {
	executor types.SystemExecutor
	logger   types.Logger
}

// NewManager creates a new iperf3 runner
func NewManager(executor types.SystemExecutor, logger types.Logger) *Manager {
	return &Manager{
		executor: executor,
		logger:   logger,
	}
}

// sumStats mirrors one summary object in iperf3's JSON output. TCP and UDP
// runs populate different subsets of it.
type sumStats struct {
	BitsPerSecond float64 `json:"bits_per_second"`
	Retransmits   int64   `json:"retransmits"`
	JitterMs      float64 `json:"jitter_ms"`
	LostPackets   int64   `json:"lost_packets"`
	Packets       int64   `json:"packets"`
	LostPercent   float64 `json:"lost_percent"`
}

// report is the subset of iperf3 -J output we read
type report struct {
	End struct {
		Sum         *sumStats `json:"sum"`
		SumSent     *sumStats `json:"sum_sent"`
		SumReceived *sumStats `json:"sum_received"`
	} `json:"end"`
	Error string `json:"error"`
}

// Run performs one iperf3 test against the configured server. bindAddress,
// when set, pins the connection's source address so a routing overlay can
// steer it; nil lets the kernel choose.
func (m *Manager) Run(ctx context.Context, cfg types.IperfConfig, bindAddress net.IP) types.IperfResult {
	protocol := cfg.GetProtocol()
	result := types.IperfResult{Protocol: protocol}

	if cfg.Server == "" {
		result.Err = "no iperf server configured"
		return result
	}
	if err := types.ValidateTarget(cfg.Server); err != nil {
		result.Err = err.Error()
		return result
	}

	args := []string{
		"-c", cfg.Server,
		"-p", strconv.Itoa(cfg.GetPort()),
		"-t", strconv.Itoa(int(cfg.GetDuration().Seconds())),
		"-J",
	}
	if protocol == "udp" {
		args = append(args, "-u", "-b", cfg.GetBandwidth())
	}
	if parallel := cfg.GetParallel(); parallel > 1 {
		args = append(args, "-P", strconv.Itoa(parallel))
	}
	if cfg.Reverse {
		args = append(args, "-R")
	}
	if bindAddress != nil {
		args = append(args, "-B", bindAddress.String())
	}

	m.logger.Info("Running iperf3 test",
		"server", cfg.Server,
		"port", cfg.GetPort(),
		"protocol", protocol,
		"duration", cfg.GetDuration().String(),
		"reverse", cfg.Reverse)

	runCtx, cancel := context.WithTimeout(ctx, cfg.GetDuration()+graceTimeout)
	defer cancel()

	output, err := m.executor.ExecuteContext(runCtx, "iperf3", args...)
	result.Raw = output

	// iperf3 -J reports its own failures inside the JSON, so parse before
	// looking at the exit status
	if parseErr := parseReport(output, protocol, &result); parseErr != nil {
		if err != nil {
			result.Err = fmt.Sprintf("iperf3 failed: %v", err)
		} else {
			result.Err = parseErr.Error()
		}
	}
	if result.Err != "" {
		m.logger.Warn("iperf3 test failed", "server", cfg.Server, "error", result.Err)
		return result
	}

	m.logger.Info("iperf3 test complete",
		"server", cfg.Server,
		"protocol", protocol,
		"mbits_per_second", result.BitsPerSecond/1e6)
	return result
}

// parseReport extracts the end-of-run summary. For TCP the receiving side's
// rate is the one that matters; sender retransmits ride along. UDP carries
// jitter and loss in the combined sum.
func parseReport(output string, protocol string, result *types.IperfResult) error {
	var rep report
	if err := json.Unmarshal([]byte(output), &rep); err != nil {
		return fmt.Errorf("unparseable iperf3 output: %w", err)
	}
	if rep.Error != "" {
		result.Err = rep.Error
		return nil
	}

	if protocol == "udp" {
		if rep.End.Sum == nil {
			return fmt.Errorf("iperf3 output missing udp summary")
		}
		result.BitsPerSecond = rep.End.Sum.BitsPerSecond
		result.JitterMs = rep.End.Sum.JitterMs
		result.LostPackets = rep.End.Sum.LostPackets
		result.Packets = rep.End.Sum.Packets
		result.LossPercent = rep.End.Sum.LostPercent
		return nil
	}

	switch {
	case rep.End.SumReceived != nil && rep.End.SumReceived.BitsPerSecond > 0:
		result.BitsPerSecond = rep.End.SumReceived.BitsPerSecond
	case rep.End.Sum != nil:
		result.BitsPerSecond = rep.End.Sum.BitsPerSecond
	case rep.End.SumSent != nil:
		result.BitsPerSecond = rep.End.SumSent.BitsPerSecond
	default:
		return fmt.Errorf("iperf3 output missing throughput summary")
	}
	if rep.End.SumSent != nil {
		result.Retransmits = rep.End.SumSent.Retransmits
	}
	return nil
}
