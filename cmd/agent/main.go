// Package main is the entry point for the scale-down agent.
// The agent removes scale set nodes that stay idle on both CPU and disk.
package main

import (
	"os"

	"github.com/softcane/scaledown-agent/cmd/agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
