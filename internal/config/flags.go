package config

import (
	"flag"
	"os"
	"time"

	"github.com/trosyn/lansync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-p int      service listen port
//	-u int      UDP discovery port
//	-m string   multicast group address
//	-n string   node display name
//	-r string   node role (HUB or PEER)
//	-d string   data directory
//	-s string   shared secret
//	-i int      discovery interval, seconds
//	-t int      device timeout, seconds
//	-w int      max concurrent peer sessions
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-p", "-u", "-m", "-n", "-r", "-d", "-s", "-i", "-t", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.IntVar(&config.ListenPort, "p", config.ListenPort, "service listen port")
	fs.IntVar(&config.DiscoveryPort, "u", config.DiscoveryPort, "UDP discovery port")
	fs.StringVar(&config.MulticastGroup, "m", config.MulticastGroup, "multicast group address")
	fs.StringVar(&config.NodeName, "n", config.NodeName, "node display name")
	fs.StringVar(&config.NodeRole, "r", config.NodeRole, "node role (HUB or PEER)")
	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.SharedSecret, "s", config.SharedSecret, "shared secret")

	discoveryInterval := fs.Int("i", int(config.DiscoveryInterval.Seconds()), "discovery interval (in seconds)")
	deviceTimeout := fs.Int("t", int(config.DeviceTimeout.Seconds()), "device timeout (in seconds)")

	fs.IntVar(&config.MaxSessions, "w", config.MaxSessions, "max concurrent peer sessions")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DiscoveryInterval = time.Duration(*discoveryInterval) * time.Second
	config.DeviceTimeout = time.Duration(*deviceTimeout) * time.Second
}
