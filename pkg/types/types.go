package types

import (
	"context"
	"net"
	"time"
)

// RuntimeDir is the directory for transient runtime files (supplicant configs,
// pid files). Using /run/wifitest/ instead of /tmp/ to avoid symlink attacks
const RuntimeDir = "/run/wifitest"

// Config represents the main configuration structure
type Config struct {
	Timeouts TimeoutConfig             `yaml:"timeouts" mapstructure:"timeouts"`
	Tests    TestConfig                `yaml:"tests" mapstructure:"tests"`
	Networks map[string]NetworkProfile `yaml:",inline" mapstructure:",inline"`
}

// TimeoutConfig holds configurable timeout values (in seconds unless noted)
// All values default to sensible values if not specified
type TimeoutConfig struct {
	Association  int `yaml:"association" mapstructure:"association"`     // WiFi association (default: 45s)
	DHCP         int `yaml:"dhcp" mapstructure:"dhcp"`                   // DHCP lease acquisition (default: 60s)
	Command      int `yaml:"command" mapstructure:"command"`             // General command timeout (default: 30s)
	Carrier      int `yaml:"carrier" mapstructure:"carrier"`             // Carrier detection (default: 5s)
	SpawnGrace   int `yaml:"spawn_grace" mapstructure:"spawn_grace"`     // Supplicant startup grace (default: 2s)
	PollInterval int `yaml:"poll_interval" mapstructure:"poll_interval"` // Marker poll interval in milliseconds (default: 500ms)
	Teardown     int `yaml:"teardown" mapstructure:"teardown"`           // Per-step teardown budget (default: 10s)
}

// GetAssociationTimeout returns association timeout with default fallback
func (t *TimeoutConfig) GetAssociationTimeout() time.Duration {
	if t.Association > 0 {
		return time.Duration(t.Association) * time.Second
	}
	return 45 * time.Second
}

// GetDHCPTimeout returns DHCP timeout with default fallback
func (t *TimeoutConfig) GetDHCPTimeout() time.Duration {
	if t.DHCP > 0 {
		return time.Duration(t.DHCP) * time.Second
	}
	return 60 * time.Second
}

// GetCommandTimeout returns command timeout with default fallback
func (t *TimeoutConfig) GetCommandTimeout() time.Duration {
	if t.Command > 0 {
		return time.Duration(t.Command) * time.Second
	}
	return 30 * time.Second
}

// GetCarrierTimeout returns carrier detection timeout with default fallback
func (t *TimeoutConfig) GetCarrierTimeout() time.Duration {
	if t.Carrier > 0 {
		return time.Duration(t.Carrier) * time.Second
	}
	return 5 * time.Second
}

// GetSpawnGrace returns the supplicant startup grace period with default fallback
func (t *TimeoutConfig) GetSpawnGrace() time.Duration {
	if t.SpawnGrace > 0 {
		return time.Duration(t.SpawnGrace) * time.Second
	}
	return 2 * time.Second
}

// GetPollInterval returns the marker poll interval with default fallback
func (t *TimeoutConfig) GetPollInterval() time.Duration {
	if t.PollInterval > 0 {
		return time.Duration(t.PollInterval) * time.Millisecond
	}
	return 500 * time.Millisecond
}

// GetTeardownTimeout returns the per-step teardown budget with default fallback
func (t *TimeoutConfig) GetTeardownTimeout() time.Duration {
	if t.Teardown > 0 {
		return time.Duration(t.Teardown) * time.Second
	}
	return 10 * time.Second
}

// TestConfig holds defaults for the reachability and bandwidth tests
type TestConfig struct {
	PingTargets []string    `yaml:"ping_targets" mapstructure:"ping_targets"`
	PingCount   int         `yaml:"ping_count" mapstructure:"ping_count"`
	Iperf       IperfConfig `yaml:"iperf" mapstructure:"iperf"`
}

// GetPingCount returns the ping packet count with default fallback
func (t *TestConfig) GetPingCount() int {
	if t.PingCount > 0 {
		return t.PingCount
	}
	return 3
}

// IperfConfig holds iperf3 client settings
type IperfConfig struct {
	Server    string `yaml:"server" mapstructure:"server"`
	Port      int    `yaml:"port" mapstructure:"port"`           // default: 5201
	Protocol  string `yaml:"protocol" mapstructure:"protocol"`   // "tcp" or "udp"
	Duration  int    `yaml:"duration" mapstructure:"duration"`   // seconds, default: 10
	Bandwidth string `yaml:"bandwidth" mapstructure:"bandwidth"` // UDP target rate, default: "100M"
	Parallel  int    `yaml:"parallel" mapstructure:"parallel"`   // parallel streams, default: 1
	Reverse   bool   `yaml:"reverse" mapstructure:"reverse"`
}

// GetPort returns the iperf server port with default fallback
func (c *IperfConfig) GetPort() int {
	if c.Port > 0 {
		return c.Port
	}
	return 5201
}

// GetProtocol returns the iperf protocol with default fallback
func (c *IperfConfig) GetProtocol() string {
	if c.Protocol != "" {
		return c.Protocol
	}
	return "tcp"
}

// GetDuration returns the iperf test duration with default fallback
func (c *IperfConfig) GetDuration() time.Duration {
	if c.Duration > 0 {
		return time.Duration(c.Duration) * time.Second
	}
	return 10 * time.Second
}

// GetBandwidth returns the UDP target bandwidth with default fallback
func (c *IperfConfig) GetBandwidth() string {
	if c.Bandwidth != "" {
		return c.Bandwidth
	}
	return "100M"
}

// GetParallel returns the parallel stream count with default fallback
func (c *IperfConfig) GetParallel() int {
	if c.Parallel > 0 {
		return c.Parallel
	}
	return 1
}

// NetworkProfile represents a named network test profile
type NetworkProfile struct {
	Device   string `yaml:"device" mapstructure:"device"`
	SSID     string `yaml:"ssid" mapstructure:"ssid"`
	Password string `yaml:"password" mapstructure:"password"`
	Hidden   bool   `yaml:"hidden" mapstructure:"hidden"`
	MAC      string `yaml:"mac" mapstructure:"mac"`
	VRF      bool   `yaml:"vrf" mapstructure:"vrf"`
}

// Lease is an IPv4 address assignment obtained via DHCP
type Lease struct {
	Interface  string
	IP         net.IP
	PrefixLen  int
	AcquiredAt time.Time
}

// RoutingOverlay is a dedicated routing table plus a source-address policy
// rule. Removal works from the recorded ids alone, so it stays valid after
// the interface itself is gone.
type RoutingOverlay struct {
	Table    int
	Device   string
	SourceIP net.IP
	Gateway  net.IP
}

// SignalInfo holds link-level state reported by the driver once associated
type SignalInfo struct {
	SSID      string
	BSSID     string
	SignalDBM int
	RxBitrate string
	TxBitrate string
	Frequency int
}

// PingResult holds parsed statistics for one ping target.
// An unreachable target is a valid result with 100% loss, not an error.
type PingResult struct {
	Target      string
	Sent        int
	Received    int
	LossPercent float64
	MinRTT      time.Duration
	AvgRTT      time.Duration
	MaxRTT      time.Duration
	Raw         string
	Err         string
}

// IperfResult holds parsed statistics for one iperf3 run.
// A refused or timed-out server connection is a failed result, not a fatal
// session error.
type IperfResult struct {
	Protocol      string
	BitsPerSecond float64
	Retransmits   int64
	JitterMs      float64
	LostPackets   int64
	Packets       int64
	LossPercent   float64
	Raw           string
	Err           string
}

// Succeeded reports whether the iperf run produced a usable measurement
func (r *IperfResult) Succeeded() bool {
	return r.Err == "" && r.BitsPerSecond > 0
}

// Outcome is the terminal classification of a session
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoInterface
	OutcomeAuthFailure
	OutcomeConnFailure
)

// String returns the automation token name for the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeNoInterface:
		return "NO_INTERFACE"
	case OutcomeAuthFailure:
		return "AUTH_FAILURE"
	case OutcomeConnFailure:
		return "CONN_FAILURE"
	}
	return "UNKNOWN"
}

// ExitCode maps the outcome to its process exit code.
// Each failure class gets a distinct code so harnesses can branch without
// parsing output.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeNoInterface:
		return 2
	case OutcomeAuthFailure:
		return 3
	case OutcomeConnFailure:
		return 4
	}
	return 1
}

// Summary is the full record of one session
type Summary struct {
	RunID     string
	Outcome   Outcome
	Interface string
	SSID      string
	MAC       string
	Lease     *Lease
	Signal    *SignalInfo
	Ping      []PingResult
	Iperf     *IperfResult
	Err       string
}

// Interfaces for dependency injection and testing

// SystemExecutor handles system command execution
type SystemExecutor interface {
	Execute(cmd string, args ...string) (string, error)
	ExecuteContext(ctx context.Context, cmd string, args ...string) (string, error)
	ExecuteWithTimeout(timeout time.Duration, cmd string, args ...string) (string, error)
	ExecuteWithInput(cmd string, input string, args ...string) (string, error)
	ExecuteWithInputContext(ctx context.Context, cmd string, input string, args ...string) (string, error)
	HasCommand(cmd string) bool
}

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// ProcessHandle supervises a detached long-lived process
type ProcessHandle interface {
	PID() int
	Alive() bool
	Output() string
	Terminate() error
}

// Spawner starts detached processes for supervision
type Spawner interface {
	Spawn(cmd string, args ...string) (ProcessHandle, error)
}

// NetState provides read-only views of live kernel network state
type NetState interface {
	LinkExists(dev string) bool
	LinkNames() ([]string, error)
	HardwareAddr(dev string) (string, error)
	InterfaceIPv4(dev string) (net.IP, int, error)
	DefaultGateway(dev string) (net.IP, error)
}

// ConfigManager loads and serves the YAML configuration
type ConfigManager interface {
	LoadConfig(path string) (*Config, error)
	GetProfile(name string) (*NetworkProfile, error)
	GetConfig() *Config
	WarnAboutPlainTextCredentials()
}

// InterfaceManager handles wireless interface discovery and link state
type InterfaceManager interface {
	ListWireless() ([]string, error)
	SetMAC(dev, mac string) error
	GetMAC(dev string) (string, error)
	OriginalMAC(dev string) (string, error)
	RestoreMAC(dev string) error
	BringUp(dev string) error
	BringDown(dev string) error
	WaitCarrier(dev string, timeout time.Duration) bool
	QuerySignal(dev string) (*SignalInfo, error)
}

// Associator drives wpa_supplicant through one association attempt
type Associator interface {
	Associate(ctx context.Context, opts AssociateOptions) error
	Disconnect(dev string) error
}

// AssociateOptions selects the target network and association behavior
type AssociateOptions struct {
	Device     string
	SSID       string
	Passphrase string
	Hidden     bool
}

// LeaseClient acquires and releases DHCP leases
type LeaseClient interface {
	Acquire(ctx context.Context, dev string, timeout time.Duration) (*Lease, error)
	Release(dev string) error
}

// RouteIsolator installs and removes VRF-like routing overlays
type RouteIsolator interface {
	Install(dev string, sourceIP, gateway net.IP) (*RoutingOverlay, error)
	Remove(overlay *RoutingOverlay) error
}

// Pinger runs reachability tests bound to an interface
type Pinger interface {
	Run(ctx context.Context, target string, opts PingOptions) PingResult
}

// PingOptions configures one ping run
type PingOptions struct {
	Device      string
	Count       int
	BindAddress net.IP
}

// BandwidthTester runs iperf3 against a remote server
type BandwidthTester interface {
	Run(ctx context.Context, cfg IperfConfig, bindAddress net.IP) IperfResult
}
