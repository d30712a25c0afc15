// Package main provides the entry point for cyclotron.
// Cyclotron is a cycle-level SIMT core timing and backpressure model.
//
// For the full CLI, use: go run ./cmd/cyclotron
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("Cyclotron - SIMT core timing model")
	fmt.Println("")
	fmt.Println("Usage: cyclotron [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config       Path to run configuration JSON file")
	fmt.Println("  -pattern      Traffic pattern: strided, same_bank, random")
	fmt.Println("  -global       Drive global memory instead of shared memory")
	fmt.Println("  -ops          Memory operations per warp")
	fmt.Println("  -max-cycles   Override the configured cycle bound")
	fmt.Println("  -v            Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/cyclotron' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/cyclotron' instead.")
	}
}
