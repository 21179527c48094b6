// Package config handles configuration for the sync engine, including
// defaults, environment variables, JSON overlay, and command-line flags.
package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the LAN sync engine.
//
// All values are simple scalars with no protocol impact beyond pacing;
// changing them never changes wire formats.
type Config struct {
	SyncEnabled  bool
	NodeName     string
	NodeRole     string // "HUB" or "PEER"
	DataDir      string
	SharedSecret string

	ListenPort     int    // service port for session exchange and status
	DiscoveryPort  int    // UDP multicast port
	MulticastGroup string

	DiscoveryInterval time.Duration
	DeviceTimeout     time.Duration // silence interval before a peer is marked offline
	SessionTTL        time.Duration
	HandshakeTimeout  time.Duration
	TransferTimeout   time.Duration

	MaxSessions    int
	AllowResurrect bool
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: the shared secret default is insecure and must be overridden.
func (c *Config) LoadDefaults() {
	host, err := os.Hostname()
	if err != nil {
		host = "trosyn-node"
	}

	c.SyncEnabled = true
	c.NodeName = host
	c.NodeRole = "PEER"
	c.DataDir = "./data"
	c.SharedSecret = "trosyn-dev-secret"

	c.ListenPort = 5001
	c.DiscoveryPort = 5000
	c.MulticastGroup = "239.255.43.21"

	c.DiscoveryInterval = 30 * time.Second
	c.DeviceTimeout = 90 * time.Second
	c.SessionTTL = 5 * time.Minute
	c.HandshakeTimeout = 10 * time.Second
	c.TransferTimeout = 30 * time.Second

	c.MaxSessions = 8
	c.AllowResurrect = true
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from the environment (.env supported), an optional JSON file, and finally
// command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
