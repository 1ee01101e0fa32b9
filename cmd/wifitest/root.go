package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuralconfig/wifi-test/pkg/session"
	"github.com/neuralconfig/wifi-test/pkg/system"
	"github.com/neuralconfig/wifi-test/pkg/types"
)

var (
	flagConfigPath string
	flagLogFile    string
	flagDebug      bool

	flagDevice      string
	flagSSID        string
	flagPassword    string
	flagMAC         string
	flagHidden      bool
	flagVRF         bool
	flagTimeout     int
	flagPingTargets []string
	flagPingCount   int

	flagIperfServer    string
	flagIperfPort      int
	flagIperfProtocol  string
	flagIperfDuration  int
	flagIperfBandwidth string
	flagIperfParallel  int
	flagIperfReverse   bool
)

var rootCmd = &cobra.Command{
	Use:   "wifitest [profile]",
	Short: "Wi-Fi connection test automation",
	Long: `Automated Wi-Fi connection testing for lab and field use.

Associates with a network via wpa_supplicant, acquires a DHCP lease, runs
the requested reachability and bandwidth tests, and restores every piece of
host state it touched before exiting. Failures map to stable exit codes and
ERROR_CODE tokens so the tool can drive unattended test rigs.

Exit codes:
  0  connection and tests completed
  2  no usable wireless interface
  3  network rejected the credentials
  4  association, DHCP, or routing failed

Examples:
  wifitest --ssid HomeNet --password secret123
  wifitest --ssid Lab --password s3cret --ping-targets 8.8.8.8,1.1.1.1
  wifitest --ssid Lab --password s3cret --iperf-server 10.0.0.2 --vrf
  wifitest office            Use profile "office" from the config file
  wifitest interfaces        List wireless interfaces without touching them`,
	Args: cobra.MaximumNArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) != 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return profileNames(), cobra.ShellCompDirectiveNoFileComp
	},
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runRoot(cmd, args))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Configuration file (default ~/.wifitest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "wifi_test.log", "Append the log trail to this file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	rootCmd.Flags().StringVar(&flagDevice, "device", "", "Wireless interface (default: first discovered)")
	rootCmd.Flags().StringVar(&flagSSID, "ssid", "", "Target network SSID")
	rootCmd.Flags().StringVar(&flagPassword, "password", "", "Network passphrase or 64-hex PSK (omit for open networks)")
	rootCmd.Flags().StringVar(&flagMAC, "mac", "", "MAC address to set, or \"random\" (default: keep current)")
	rootCmd.Flags().BoolVar(&flagHidden, "hidden", false, "Network does not broadcast its SSID")
	rootCmd.Flags().BoolVar(&flagVRF, "vrf", false, "Isolate test traffic in a dedicated routing table")
	rootCmd.Flags().IntVar(&flagTimeout, "timeout", 0, "Association timeout in seconds (overrides config)")
	rootCmd.Flags().StringSliceVar(&flagPingTargets, "ping-targets", nil, "Comma-separated ping targets")
	rootCmd.Flags().IntVar(&flagPingCount, "count", 3, "Packets per ping target")

	rootCmd.Flags().StringVar(&flagIperfServer, "iperf-server", "", "iperf3 server for the bandwidth test")
	rootCmd.Flags().IntVar(&flagIperfPort, "iperf-port", 5201, "iperf3 server port")
	rootCmd.Flags().StringVar(&flagIperfProtocol, "iperf-protocol", "tcp", "iperf3 protocol (tcp or udp)")
	rootCmd.Flags().IntVar(&flagIperfDuration, "iperf-duration", 10, "iperf3 test duration in seconds")
	rootCmd.Flags().StringVar(&flagIperfBandwidth, "iperf-bandwidth", "100M", "UDP target bandwidth")
	rootCmd.Flags().IntVar(&flagIperfParallel, "iperf-parallel", 1, "Parallel iperf3 streams")
	rootCmd.Flags().BoolVar(&flagIperfReverse, "iperf-reverse", false, "Measure download instead of upload")
}

func runRoot(cmd *cobra.Command, args []string) int {
	logger, err := system.NewLogger(flagDebug, flagLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Close()

	if err := os.MkdirAll(types.RuntimeDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create runtime directory %s: %v\n", types.RuntimeDir, err)
		if os.Geteuid() != 0 {
			fmt.Fprintln(os.Stderr, "Hint: run as root, or let the auto-sudo mechanism do it")
		}
		return 1
	}

	app := newApp(logger)
	cfg := app.loadConfig(flagConfigPath)

	opts, err := buildOptions(cmd, app, cfg, args)
	if err != nil {
		app.errorf("Error: %v\n", err)
		return 1
	}

	timeouts := cfg.Timeouts
	if flagTimeout > 0 {
		timeouts.Association = flagTimeout
	}

	logger.Debug("Session options resolved",
		"device", opts.Device,
		"ssid", opts.SSID,
		"passphrase", system.MaskSecret(opts.Passphrase),
		"mac", opts.MAC,
		"hidden", opts.Hidden,
		"vrf", opts.VRF,
		"ping_targets", opts.PingTargets,
		"iperf", opts.Iperf != nil)

	return app.RunSession(context.Background(), opts, &timeouts)
}

// buildOptions assembles the session options from flags, the optional profile
// argument, and the config file. Explicit flags win over profile and config
// values.
func buildOptions(cmd *cobra.Command, app *App, cfg *types.Config, args []string) (session.Options, error) {
	opts := session.Options{
		Device:     flagDevice,
		SSID:       flagSSID,
		Passphrase: flagPassword,
		Hidden:     flagHidden,
		MAC:        flagMAC,
		VRF:        flagVRF,
	}

	if len(args) == 1 {
		profile, err := app.ConfigMgr.GetProfile(args[0])
		if err != nil {
			return opts, err
		}
		applyProfile(&opts, profile)
	}

	if opts.SSID == "" {
		return opts, errors.New("no SSID given: use --ssid or name a configured profile")
	}

	opts.PingTargets = cfg.Tests.PingTargets
	if cmd.Flags().Changed("ping-targets") {
		opts.PingTargets = flagPingTargets
	}
	opts.PingCount = cfg.Tests.GetPingCount()
	if cmd.Flags().Changed("count") {
		opts.PingCount = flagPingCount
	}

	if cmd.Flags().Changed("iperf-server") {
		opts.Iperf = &types.IperfConfig{
			Server:    flagIperfServer,
			Port:      flagIperfPort,
			Protocol:  flagIperfProtocol,
			Duration:  flagIperfDuration,
			Bandwidth: flagIperfBandwidth,
			Parallel:  flagIperfParallel,
			Reverse:   flagIperfReverse,
		}
	} else if cfg.Tests.Iperf.Server != "" {
		iperf := cfg.Tests.Iperf
		opts.Iperf = &iperf
	}

	return opts, nil
}

// applyProfile fills options the flags left unset from a config profile
func applyProfile(opts *session.Options, profile *types.NetworkProfile) {
	if opts.Device == "" {
		opts.Device = profile.Device
	}
	if opts.SSID == "" {
		opts.SSID = profile.SSID
	}
	if opts.Passphrase == "" {
		opts.Passphrase = profile.Password
	}
	if opts.MAC == "" {
		opts.MAC = profile.MAC
	}
	opts.Hidden = opts.Hidden || profile.Hidden
	opts.VRF = opts.VRF || profile.VRF
}
