// Package main is the entry point for meshctl.
// meshctl is the terminal tool for operating a meshplane controller.
package main

import (
	"meshplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
