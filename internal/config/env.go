package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays config values from the process environment. A .env file
// in the working directory is loaded first if present; real environment
// variables win over .env entries (godotenv does not override them).
//
// Recognized variables:
//
//	TROSYN_SYNC_ENABLED       bool
//	TROSYN_NODE_NAME          string
//	TROSYN_NODE_ROLE          HUB | PEER
//	TROSYN_DATA_DIR           string
//	TROSYN_SHARED_SECRET      string
//	TROSYN_LISTEN_PORT        int
//	TROSYN_DISCOVERY_PORT     int
//	TROSYN_MULTICAST_GROUP    string
//	TROSYN_DISCOVERY_INTERVAL seconds
//	TROSYN_DEVICE_TIMEOUT     seconds
//	TROSYN_SESSION_TTL        seconds
//	TROSYN_MAX_SESSIONS       int
//	TROSYN_ALLOW_RESURRECT    bool
func parseEnv(config *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("TROSYN_SYNC_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.SyncEnabled = b
		}
	}
	if v, ok := os.LookupEnv("TROSYN_NODE_NAME"); ok {
		config.NodeName = v
	}
	if v, ok := os.LookupEnv("TROSYN_NODE_ROLE"); ok {
		config.NodeRole = v
	}
	if v, ok := os.LookupEnv("TROSYN_DATA_DIR"); ok {
		config.DataDir = v
	}
	if v, ok := os.LookupEnv("TROSYN_SHARED_SECRET"); ok {
		config.SharedSecret = v
	}
	if v, ok := os.LookupEnv("TROSYN_LISTEN_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.ListenPort = n
		}
	}
	if v, ok := os.LookupEnv("TROSYN_DISCOVERY_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.DiscoveryPort = n
		}
	}
	if v, ok := os.LookupEnv("TROSYN_MULTICAST_GROUP"); ok {
		config.MulticastGroup = v
	}
	if v, ok := os.LookupEnv("TROSYN_DISCOVERY_INTERVAL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.DiscoveryInterval = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("TROSYN_DEVICE_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.DeviceTimeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("TROSYN_SESSION_TTL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.SessionTTL = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("TROSYN_MAX_SESSIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxSessions = n
		}
	}
	if v, ok := os.LookupEnv("TROSYN_ALLOW_RESURRECT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.AllowResurrect = b
		}
	}
}
