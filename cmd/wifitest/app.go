package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neuralconfig/wifi-test/pkg/config"
	"github.com/neuralconfig/wifi-test/pkg/dhcpclient"
	"github.com/neuralconfig/wifi-test/pkg/iperf"
	"github.com/neuralconfig/wifi-test/pkg/netstate"
	"github.com/neuralconfig/wifi-test/pkg/network"
	"github.com/neuralconfig/wifi-test/pkg/ping"
	"github.com/neuralconfig/wifi-test/pkg/routing"
	"github.com/neuralconfig/wifi-test/pkg/session"
	"github.com/neuralconfig/wifi-test/pkg/system"
	"github.com/neuralconfig/wifi-test/pkg/types"
	"github.com/neuralconfig/wifi-test/pkg/wifi"
)

// App bundles the wired managers behind their interfaces so command bodies
// can be tested with mock implementations.
type App struct {
	Logger    types.Logger
	Executor  types.SystemExecutor
	NetState  types.NetState
	ConfigMgr types.ConfigManager
	Ifaces    types.InterfaceManager
	WiFi      types.Associator
	Lease     types.LeaseClient
	Routes    types.RouteIsolator
	Ping      types.Pinger
	Iperf     types.BandwidthTester

	Timeouts *types.TimeoutConfig

	Stdout io.Writer
	Stderr io.Writer
}

// newApp wires the production managers. The timeouts start at defaults and
// are replaced once the config file is loaded.
func newApp(logger types.Logger) *App {
	executor := system.NewExecutor(logger)
	spawner := system.NewSpawner(logger)
	state := netstate.New()
	timeouts := &types.TimeoutConfig{}

	return &App{
		Logger:    logger,
		Executor:  executor,
		NetState:  state,
		ConfigMgr: config.NewManager(logger),
		Ifaces:    network.NewManager(executor, state, logger),
		WiFi:      wifi.NewManager(executor, spawner, logger, timeouts),
		Lease:     dhcpclient.NewManager(executor, state, logger, timeouts),
		Routes:    routing.NewManager(executor, logger),
		Ping:      ping.NewManager(executor, logger),
		Iperf:     iperf.NewManager(executor, logger),
		Timeouts:  timeouts,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

func (a *App) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.Stdout, format, args...)
}

func (a *App) errorf(format string, args ...interface{}) {
	fmt.Fprintf(a.Stderr, format, args...)
}

// loadConfig loads the config file and surfaces plaintext credential warnings.
// A missing or broken config is not fatal: the tool still runs on flags alone.
func (a *App) loadConfig(path string) *types.Config {
	cfg, err := a.ConfigMgr.LoadConfig(path)
	if err != nil {
		a.Logger.Warn("Config not loaded, continuing on flags only", "error", err)
		return &types.Config{Networks: make(map[string]types.NetworkProfile)}
	}
	a.ConfigMgr.WarnAboutPlainTextCredentials()
	*a.Timeouts = cfg.Timeouts
	return cfg
}

// RunSession executes one connection test and returns the process exit code
func (a *App) RunSession(ctx context.Context, opts session.Options, timeouts *types.TimeoutConfig) int {
	*a.Timeouts = *timeouts

	s := session.New(session.Managers{
		Executor:   a.Executor,
		NetState:   a.NetState,
		Interfaces: a.Ifaces,
		WiFi:       a.WiFi,
		Lease:      a.Lease,
		Routes:     a.Routes,
		Ping:       a.Ping,
		Iperf:      a.Iperf,
	}, a.Logger, a.Timeouts, opts)
	s.SetOutput(a.Stdout)

	_, code := s.Run(ctx)
	return code
}

// RunInterfaces lists the wireless interfaces with their current state.
// Read-only, safe without root.
func (a *App) RunInterfaces() error {
	wireless, err := a.Ifaces.ListWireless()
	if err != nil {
		a.errorf("Error: %v\n", err)
		return err
	}
	if len(wireless) == 0 {
		a.printf("No wireless interfaces found\n")
		return nil
	}

	for _, dev := range wireless {
		mac, err := a.Ifaces.GetMAC(dev)
		if err != nil {
			a.printf("%-12s (mac unavailable: %v)\n", dev, err)
			continue
		}
		a.printf("%-12s %s\n", dev, mac)
	}
	return nil
}

// RunCheck verifies the external tools this program shells out to. Base
// tools are required; iperf3 is reported but optional.
func (a *App) RunCheck() error {
	var missing int
	for _, req := range system.BaseRequirements {
		if a.Executor.HasCommand(req.Name) {
			a.printf("%-16s ok\n", req.Name)
		} else {
			a.printf("%-16s MISSING\n", req.Name)
			missing++
		}
	}

	if a.Executor.HasCommand(system.IperfRequirement.Name) {
		a.printf("%-16s ok (optional)\n", system.IperfRequirement.Name)
	} else {
		a.printf("%-16s missing (optional, needed for --iperf-server)\n", system.IperfRequirement.Name)
	}

	if missing > 0 {
		return fmt.Errorf("%d required tools missing", missing)
	}

	// A tool that is present but broken should fail here, not mid-session,
	// so drive ip(8) for real rather than trusting the PATH lookup.
	if out, err := a.Executor.ExecuteWithTimeout(5*time.Second, "ip", "route", "show"); err == nil {
		if gw := system.ParseGatewayFromOutput(out); gw != nil {
			a.printf("%-16s default via %s\n", "uplink", gw)
		} else {
			a.printf("%-16s no default route\n", "uplink")
		}
	}
	if wireless, err := a.Ifaces.ListWireless(); err == nil {
		for _, dev := range wireless {
			out, err := a.Executor.ExecuteWithTimeout(5*time.Second, "ip", "addr", "show", dev)
			if err != nil {
				continue
			}
			if addr := system.ParseIPFromOutput(out); addr != nil {
				a.printf("%-16s %s\n", dev, addr)
			} else {
				a.printf("%-16s no address\n", dev)
			}
		}
	}
	return nil
}

// profileNames returns the configured profile names for shell completion.
// Reads the file directly so completion stays quiet and fast.
func profileNames() []string {
	path := flagConfigPath
	if path == "" {
		home := os.Getenv("HOME")
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
			home = filepath.Join("/home", sudoUser)
		}
		if home == "" {
			return nil
		}
		path = filepath.Join(home, ".wifitest", "config.yaml")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	var names []string
	for key := range doc {
		if key == "timeouts" || key == "tests" {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}
