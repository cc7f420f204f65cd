package main

import (
	"os"

	"soqlrestore/internal/cli"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := cli.NewRootCommand(Version, Commit).Execute(); err != nil {
		cli.PrintError(os.Stderr, err, cli.NoColorRequested(os.Args[1:]))
		os.Exit(1)
	}
}
