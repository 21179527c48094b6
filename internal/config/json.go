package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/trosyn/lansync/internal/flagx"
	"github.com/trosyn/lansync/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "90s" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	SyncEnabled       *bool          `json:"sync_enabled"`
	NodeName          string         `json:"node_name"`
	NodeRole          string         `json:"node_role"`
	DataDir           string         `json:"data_dir"`
	SharedSecret      string         `json:"shared_secret"`
	ListenPort        int            `json:"listen_port"`
	DiscoveryPort     int            `json:"discovery_port"`
	MulticastGroup    string         `json:"multicast_group"`
	DiscoveryInterval timex.Duration `json:"discovery_interval"`
	DeviceTimeout     timex.Duration `json:"device_timeout"`
	SessionTTL        timex.Duration `json:"session_ttl"`
	HandshakeTimeout  timex.Duration `json:"handshake_timeout"`
	TransferTimeout   timex.Duration `json:"transfer_timeout"`
	MaxSessions       int            `json:"max_sessions"`
	AllowResurrect    *bool          `json:"allow_resurrect"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. Zero-valued fields in
// the file leave the current config untouched.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.SyncEnabled != nil {
		config.SyncEnabled = *c.SyncEnabled
	}
	if c.NodeName != "" {
		config.NodeName = c.NodeName
	}
	if c.NodeRole != "" {
		config.NodeRole = c.NodeRole
	}
	if c.DataDir != "" {
		config.DataDir = c.DataDir
	}
	if c.SharedSecret != "" {
		config.SharedSecret = c.SharedSecret
	}
	if c.ListenPort != 0 {
		config.ListenPort = c.ListenPort
	}
	if c.DiscoveryPort != 0 {
		config.DiscoveryPort = c.DiscoveryPort
	}
	if c.MulticastGroup != "" {
		config.MulticastGroup = c.MulticastGroup
	}
	if c.DiscoveryInterval.Duration != 0 {
		config.DiscoveryInterval = time.Duration(c.DiscoveryInterval.Duration)
	}
	if c.DeviceTimeout.Duration != 0 {
		config.DeviceTimeout = time.Duration(c.DeviceTimeout.Duration)
	}
	if c.SessionTTL.Duration != 0 {
		config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	}
	if c.HandshakeTimeout.Duration != 0 {
		config.HandshakeTimeout = time.Duration(c.HandshakeTimeout.Duration)
	}
	if c.TransferTimeout.Duration != 0 {
		config.TransferTimeout = time.Duration(c.TransferTimeout.Duration)
	}
	if c.MaxSessions != 0 {
		config.MaxSessions = c.MaxSessions
	}
	if c.AllowResurrect != nil {
		config.AllowResurrect = *c.AllowResurrect
	}
}
