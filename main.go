// Package main provides the entry point for snoopsim.
// Snoopsim is a cycle-accurate simulator of a four-processor shared-memory
// system whose private caches are kept coherent by a snooping bus protocol.
//
// For the full CLI, use: go run ./cmd/snoopsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("Snoopsim - Snooping Cache Coherence Simulator")
	fmt.Println("")
	fmt.Println("Usage: snoopsim [options] <protocol> <fileBase> <cacheSize> <associativity> <blockSize>")
	fmt.Println("")
	fmt.Println("Protocols:")
	fmt.Println("  MESI       Write-invalidate protocol")
	fmt.Println("  Dragon     Write-update protocol")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to timing configuration JSON file")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/snoopsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/snoopsim' instead.")
	}
}
