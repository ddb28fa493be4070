package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config represents the entire control point configuration file.
type Config struct {
	Version   int          `yaml:"version"`
	Network   *Network     `yaml:"network"`
	Events    *Events      `yaml:"events"`
	Discovery *Discovery   `yaml:"discovery"`
	Workers   *Workers     `yaml:"workers"`
	Pinned    []PinnedItem `yaml:"pinned,omitempty"` // Devices registered by description URL
	LogLevel  string       `yaml:"log_level,omitempty"`
}

// Network selects the interfaces and address families used for SSDP.
type Network struct {
	Protocol        string   `yaml:"protocol"`                   // ipv4, ipv6 or dual
	Interfaces      []string `yaml:"interfaces,omitempty"`       // Empty means every multicast-capable interface
	SegmentFilter   bool     `yaml:"segment_filter"`             // Drop IPv4 messages from foreign subnets
	SearchTarget    string   `yaml:"search_target"`              // Default M-SEARCH ST
	SearchRate      float64  `yaml:"search_rate"`                // M-SEARCH bursts per second
	IncludeLoopback bool     `yaml:"include_loopback,omitempty"` // Also bind loopback interfaces
}

// Events configures the GENA event receiver.
type Events struct {
	Host                       string `yaml:"host,omitempty"` // Bind address; empty binds all
	Port                       int    `yaml:"port"`           // 0 picks an ephemeral port
	SubscriptionTimeoutSeconds int    `yaml:"subscription_timeout_seconds"`
	Multicast                  bool   `yaml:"multicast"` // Listen for multicast events on 7900
	ReadTimeoutSeconds         int    `yaml:"read_timeout_seconds"`
}

// Discovery holds description download timing.
type Discovery struct {
	ReadyTimeoutSeconds       int `yaml:"ready_timeout_seconds"`
	DescriptionTimeoutSeconds int `yaml:"description_timeout_seconds"`
	FailedLocationTTLSeconds  int `yaml:"failed_location_ttl_seconds"`
}

// Workers sizes the callback and I/O pools.
type Workers struct {
	Callbacks int `yaml:"callbacks"`
	IO        int `yaml:"io"`
}

// PinnedItem is a device that is not discovered but registered by location.
type PinnedItem struct {
	Location string `yaml:"location"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Network: &Network{
			Protocol:      "ipv4",
			SegmentFilter: true,
			SearchTarget:  "ssdp:all",
			SearchRate:    1,
		},
		Events: &Events{
			SubscriptionTimeoutSeconds: 1800,
			ReadTimeoutSeconds:         30,
		},
		Discovery: &Discovery{
			ReadyTimeoutSeconds:       3,
			DescriptionTimeoutSeconds: 10,
			FailedLocationTTLSeconds:  60,
		},
		Workers: &Workers{
			Callbacks: 2,
			IO:        8,
		},
		LogLevel: "",
	}
}

// fillDefaults replaces missing sections with their defaults.
func (c *Config) fillDefaults() {
	def := NewConfig()
	if c.Network == nil {
		c.Network = def.Network
	}
	if c.Events == nil {
		c.Events = def.Events
	}
	if c.Discovery == nil {
		c.Discovery = def.Discovery
	}
	if c.Workers == nil {
		c.Workers = def.Workers
	}
}

// Validate checks the configuration for values the control point cannot use.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}
	c.fillDefaults()

	switch c.Network.Protocol {
	case "ipv4", "ipv6", "dual":
	default:
		return fmt.Errorf("network.protocol must be ipv4, ipv6 or dual, got %q", c.Network.Protocol)
	}
	if c.Network.SearchRate <= 0 {
		return fmt.Errorf("network.search_rate must be positive, got %v", c.Network.SearchRate)
	}
	if c.Events.Port < 0 || c.Events.Port > 65535 {
		return fmt.Errorf("events.port out of range: %d", c.Events.Port)
	}
	if c.Events.SubscriptionTimeoutSeconds <= 0 {
		return fmt.Errorf("events.subscription_timeout_seconds must be positive")
	}
	if c.Workers.Callbacks < 1 || c.Workers.IO < 1 {
		return fmt.Errorf("workers.callbacks and workers.io must be at least 1")
	}
	for i, p := range c.Pinned {
		u, err := url.Parse(p.Location)
		if err != nil || u.Scheme != "http" || u.Host == "" {
			return fmt.Errorf("pinned[%d]: location %q is not an http URL", i, p.Location)
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// SubscriptionTimeout returns the requested GENA subscription duration.
func (e *Events) SubscriptionTimeout() time.Duration {
	return time.Duration(e.SubscriptionTimeoutSeconds) * time.Second
}

// ReadTimeout returns the per-connection read deadline of the event server.
func (e *Events) ReadTimeout() time.Duration {
	return time.Duration(e.ReadTimeoutSeconds) * time.Second
}

// ReadyTimeout returns how long datagram servers wait for their socket.
func (d *Discovery) ReadyTimeout() time.Duration {
	return time.Duration(d.ReadyTimeoutSeconds) * time.Second
}

// DescriptionTimeout returns the description download timeout.
func (d *Discovery) DescriptionTimeout() time.Duration {
	return time.Duration(d.DescriptionTimeoutSeconds) * time.Second
}

// FailedLocationTTL returns how long a failed Location is not retried.
func (d *Discovery) FailedLocationTTL() time.Duration {
	return time.Duration(d.FailedLocationTTLSeconds) * time.Second
}
