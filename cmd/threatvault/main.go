// Package main provides the entry point for the threatvault CLI.
package main

import (
	"os"

	"github.com/secstack/threatvault/cmd/threatvault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
