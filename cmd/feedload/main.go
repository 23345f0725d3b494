package main

import (
	"os"

	"github.com/rudolphlogin/feedload/internal/cli"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(cli.Execute(version, commit, os.Args[1:], os.Stderr))
}
