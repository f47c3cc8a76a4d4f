package main

import "github.com/aqlanhadi/datsync/cmd"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.Execute(version)
}
