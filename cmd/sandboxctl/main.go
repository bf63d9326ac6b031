// Package main is the entry point for sandboxctl.
//
// Build with: go build -o sandboxctl .
// Run with: ./sandboxctl --help
package main

import (
	"os"

	"github.com/vortex/sandboxd/cmd/sandboxctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
