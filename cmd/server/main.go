// Package main is the entry point for the retrieval orchestrator service.
package main

import (
	"fmt"
	"os"

	"github.com/vitaliisemenov/alert-history/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
