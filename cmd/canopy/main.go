// Package main is the entry point for the canopy runtime's CLI binary.
package main

import (
	"fmt"
	"os"

	"canopy/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
