// Command portsweep scans a host for TCP ports that accept connections.
package main

import (
	"os"

	"github.com/anstrom/portsweep/cmd/cli"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	os.Exit(cli.Execute())
}
