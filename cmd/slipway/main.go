package main

import (
	slipwaycmd "github.com/initializ/slipway/cmd"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slipwaycmd.SetVersionInfo(version, commit)
	slipwaycmd.Execute()
}
