// Package main provides the LeapML command-line interface.
package main

import (
	"os"

	"github.com/leapstack-labs/leapml/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
