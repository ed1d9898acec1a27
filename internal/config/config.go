// Package config handles configuration loading and validation for aaarepl.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunnelmesh/aaarepl/pkg/bytesize"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a key is absent.
const (
	DefaultListen         = ":7780"
	DefaultQueueSize      = 1024
	DefaultBackpressure   = "block"
	DefaultWriteTimeout   = "10s"
	DefaultDialTimeout    = "10s"
	DefaultDNSTimeout     = "5s"
	DefaultMetricsListen  = "127.0.0.1:9780"
	DefaultDiscoveryEvery = "30s"
	DefaultControlSocket  = "/var/run/aaarepl.sock"

	// ControlSocketDisabled turns the control socket off.
	ControlSocketDisabled = "none"

	DefaultMaxFrameSize = bytesize.Size(16 * bytesize.MB)
	MinMaxFrameSize     = bytesize.Size(bytesize.KB)
)

// GossipConfig holds memberlist discovery settings.
type GossipConfig struct {
	Bind  string   `yaml:"bind"`  // memberlist host:port, empty disables gossip
	Seeds []string `yaml:"seeds"` // memberlist addresses to join
}

// DiscoveryConfig holds peer discovery settings.
type DiscoveryConfig struct {
	SRVDomain  string       `yaml:"srv_domain"`  // queried as _aaarepl._tcp.<srv_domain>
	Nameserver string       `yaml:"nameserver"`  // host:port, default from /etc/resolv.conf
	Timeout    string       `yaml:"timeout"`     // DNS exchange timeout
	Interval   string       `yaml:"interval"`    // redial interval when discovery is enabled
	ZoneListen string       `yaml:"zone_listen"` // optional SRV responder for srv_domain
	Gossip     GossipConfig `yaml:"gossip"`
}

// Enabled reports whether any dynamic discovery source is configured.
func (d DiscoveryConfig) Enabled() bool {
	return d.SRVDomain != "" || d.Gossip.Bind != ""
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LokiConfig enables shipping logs to Grafana Loki.
type LokiConfig struct {
	URL    string            `yaml:"url"` // empty disables
	Labels map[string]string `yaml:"labels"`
}

// TracingConfig enables the runtime flight recorder. Snapshots are served
// at /debug/trace on the metrics listener.
type TracingConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BufferSize bytesize.Size `yaml:"buffer_size"`
}

// NodeConfig holds configuration for a replication node.
type NodeConfig struct {
	NodeName       string          `yaml:"node_name"`
	Listen         string          `yaml:"listen"`
	Advertise      string          `yaml:"advertise"` // address other nodes dial, defaults to listen
	Peers          []string        `yaml:"peers"`
	QueueSize      int             `yaml:"queue_size"`
	Backpressure   string          `yaml:"backpressure"` // block | drop-oldest
	MaxFrameSize   bytesize.Size   `yaml:"max_frame_size"`
	WriteTimeout   string          `yaml:"write_timeout"`
	DialTimeout    string          `yaml:"dial_timeout"`
	RedialInterval string          `yaml:"redial_interval"` // empty or "0" disables redial
	Discovery      DiscoveryConfig `yaml:"discovery"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	Tracing        TracingConfig   `yaml:"tracing"`
	Loki           LokiConfig      `yaml:"loki"`
	ControlSocket  string          `yaml:"control_socket"` // "none" disables
	LogLevel       string          `yaml:"log_level"`
}

// Load loads node configuration from a YAML file.
func Load(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in unset fields.
func (c *NodeConfig) ApplyDefaults() {
	if c.NodeName == "" {
		if host, err := os.Hostname(); err == nil {
			c.NodeName = host
		}
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Advertise == "" {
		c.Advertise = c.Listen
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Backpressure == "" {
		c.Backpressure = DefaultBackpressure
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialTimeout == "" {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Discovery.Timeout == "" {
		c.Discovery.Timeout = DefaultDNSTimeout
	}
	// Dynamic discovery is useless without a redial loop
	if c.Discovery.Enabled() && c.Discovery.Interval == "" {
		c.Discovery.Interval = DefaultDiscoveryEvery
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.ControlSocket == "" {
		c.ControlSocket = DefaultControlSocket
	}
}

// IsRoutableAddr reports whether addr is host:port with a host other nodes can
// dial. An empty or unspecified host (":7780", "0.0.0.0:7780") is not.
func IsRoutableAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return false
	}
	return true
}

// ControlSocketEnabled reports whether the node should serve the control socket.
func (c *NodeConfig) ControlSocketEnabled() bool {
	return c.ControlSocket != "" && c.ControlSocket != ControlSocketDisabled
}

// Validate checks if the node configuration is valid.
func (c *NodeConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if _, _, err := net.SplitHostPort(c.Advertise); err != nil {
		return fmt.Errorf("invalid advertise address %q: %w", c.Advertise, err)
	}
	for _, p := range c.Peers {
		if _, _, err := net.SplitHostPort(p); err != nil {
			return fmt.Errorf("invalid peer address %q: %w", p, err)
		}
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}
	if c.Backpressure != "block" && c.Backpressure != "drop-oldest" {
		return fmt.Errorf("backpressure must be \"block\" or \"drop-oldest\", got %q", c.Backpressure)
	}
	if c.MaxFrameSize < MinMaxFrameSize {
		return fmt.Errorf("max_frame_size must be at least %s", MinMaxFrameSize)
	}
	durations := []struct {
		key   string
		value string
	}{
		{"write_timeout", c.WriteTimeout},
		{"dial_timeout", c.DialTimeout},
		{"redial_interval", c.RedialInterval},
		{"discovery.timeout", c.Discovery.Timeout},
		{"discovery.interval", c.Discovery.Interval},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}
	if c.Discovery.ZoneListen != "" && c.Discovery.SRVDomain == "" {
		return fmt.Errorf("discovery.zone_listen requires discovery.srv_domain")
	}
	if c.Discovery.Gossip.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Discovery.Gossip.Bind); err != nil {
			return fmt.Errorf("invalid discovery.gossip.bind %q: %w", c.Discovery.Gossip.Bind, err)
		}
	}
	// Gossip member names and zone records are the advertise address, so it
	// must name this host.
	if c.Discovery.Gossip.Bind != "" || c.Discovery.ZoneListen != "" {
		if !IsRoutableAddr(c.Advertise) {
			return fmt.Errorf("advertise %q must include a reachable host when gossip or zone discovery is enabled", c.Advertise)
		}
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen %q: %w", c.Metrics.Listen, err)
		}
	}
	if c.Tracing.Enabled && !c.Metrics.Enabled {
		return fmt.Errorf("tracing.enabled requires metrics.enabled (snapshots are served on metrics.listen)")
	}
	if c.Loki.URL != "" {
		u, err := url.Parse(c.Loki.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid loki.url %q", c.Loki.URL)
		}
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
		}
	}
	return nil
}

// EffectiveRedialInterval returns how often the node re-resolves peers.
// An explicit redial_interval wins; otherwise discovery.interval is used.
func (c *NodeConfig) EffectiveRedialInterval() time.Duration {
	if d, _ := ParseDuration(c.RedialInterval); d > 0 {
		return d
	}
	d, _ := ParseDuration(c.Discovery.Interval)
	return d
}

// ParseDuration parses a duration string. Empty means zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
