package main

import "github.com/ChrisB0-2/apguard/internal/cli"

// version is set via ldflags at build time.
var version = "dev"

func main() {
	cli.Execute(version)
}
