// Package main provides the entry point for the searchbridge CLI.
package main

import (
	"os"

	"github.com/searchbridge/searchbridge/cmd/searchbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
