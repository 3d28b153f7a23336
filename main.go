package main

import "github.com/Zeeeepa/ragforge-sub003/cmd"

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cmd.Main(Version)
}
