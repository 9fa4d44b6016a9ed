// Package main provides the snoopsim command-line interface. It simulates
// four processors with private coherent caches over a shared snooping bus
// and prints the resulting timing and traffic statistics.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sarchlab/snoopsim/timing/cache"
	"github.com/sarchlab/snoopsim/timing/coherence"
	"github.com/sarchlab/snoopsim/timing/latency"
	"github.com/sarchlab/snoopsim/timing/system"
	"github.com/sarchlab/snoopsim/trace"
)

var (
	configPath = flag.String("config", "", "Path to timing configuration JSON file")
	verbose    = flag.Bool("v", false, "Verbose output")
)

// options carries the flag values into the testable run path.
type options struct {
	configPath string
	verbose    bool
}

func main() {
	flag.Parse()

	if flag.NArg() != 5 {
		fmt.Fprintf(os.Stderr,
			"Usage: snoopsim [options] <protocol> <fileBase> <cacheSize> <associativity> <blockSize>\n")
		fmt.Fprintf(os.Stderr, "\nProtocols: MESI, Dragon\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts := options{configPath: *configPath, verbose: *verbose}
	if err := run(flag.Args(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses the positional arguments, loads the traces, runs the
// simulation to completion, and prints the report.
func run(args []string, opts options, w io.Writer) error {
	protocol, err := coherence.New(args[0])
	if err != nil {
		return err
	}
	fileBase := args[1]

	cacheSize, err := parsePositive(args[2], "cache size")
	if err != nil {
		return err
	}
	associativity, err := parsePositive(args[3], "associativity")
	if err != nil {
		return err
	}
	blockSize, err := parsePositive(args[4], "block size")
	if err != nil {
		return err
	}

	geometry := cache.Config{
		Size:          cacheSize,
		Associativity: associativity,
		BlockSize:     blockSize,
	}
	if err := geometry.Validate(); err != nil {
		return err
	}

	timing := latency.DefaultTimingConfig()
	if opts.configPath != "" {
		timing, err = latency.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
	}

	traces, err := trace.LoadAll(fileBase)
	if err != nil {
		return err
	}

	s := system.New(protocol, geometry, traces, system.WithTimingConfig(timing))
	stats := s.Run()

	printReport(w, protocol.Name(), stats, opts.verbose)
	return nil
}

func parsePositive(arg, name string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, arg)
	}
	return v, nil
}

// printReport writes the statistics report.
func printReport(w io.Writer, protocolName string, stats system.Statistics, verbose bool) {
	fmt.Fprintf(w, "Protocol: %s\n", protocolName)
	fmt.Fprintf(w, "Total Cycles: %d\n", stats.TotalCycles)

	for id, p := range stats.Processors {
		fmt.Fprintf(w, "Processor %d:\n", id)
		fmt.Fprintf(w, "  Compute Cycles: %d\n", p.ComputeCycles)
		fmt.Fprintf(w, "  Load/Store Instructions: %d\n", p.Loads+p.Stores)
		fmt.Fprintf(w, "  Idle Cycles: %d\n", p.IdleCycles)
		fmt.Fprintf(w, "  Cache Miss Rate: %.1f.\n", p.MissRate())
	}

	fmt.Fprintf(w, "Bus Traffic: %d bytes\n", stats.BusTrafficBytes)
	fmt.Fprintf(w, "Private Data Accesses: %d\n", stats.PrivateAccesses)
	fmt.Fprintf(w, "Public Data Accesses: %d\n", stats.PublicAccesses)

	if !verbose {
		return
	}

	fmt.Fprintf(w, "\nBus Transactions:\n")
	for kind := 0; kind < coherence.NumTxnKinds; kind++ {
		fmt.Fprintf(w, "  %s: %d\n",
			coherence.TxnKind(kind), stats.BusTransactions[kind])
	}
	fmt.Fprintf(w, "Invalidations: %d\n", stats.Invalidations)
	fmt.Fprintf(w, "Word Updates: %d\n", stats.Updates)
}
