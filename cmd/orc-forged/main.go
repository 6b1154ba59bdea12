// Package main provides the entry point for the orc-forged CLI.
package main

import (
	"os"

	"github.com/randalmurphal/orc-forged/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
