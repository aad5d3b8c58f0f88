// Package main provides the entry point for the ragserve CLI.
package main

import (
	"os"

	"github.com/minhdn/ragserve/cmd/ragserve/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
