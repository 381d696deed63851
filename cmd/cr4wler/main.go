// Command cr4wler discovers, enriches and stores hosts on a network range.
package main

import (
	"github.com/anstrom/cr4wler/cmd/cli"
	"github.com/anstrom/cr4wler/internal/api/handlers"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
