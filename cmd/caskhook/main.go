package main

import (
	"fmt"
	"io"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stdout)
		return 0
	}

	var cmd func([]string, io.Writer, io.Writer) error
	switch args[0] {
	case "--version":
		fmt.Fprintf(stdout, "caskhook %s\n", Version)
		return 0
	case "--help", "-h", "help":
		printUsage(stdout)
		return 0
	case "preflight":
		cmd = runPreflight
	case "postflight":
		cmd = runPostflight
	case "stage":
		cmd = runStage
	default:
		fmt.Fprintf(stderr, "Error: unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	if err := cmd(args[1:], stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "caskhook - finalize macOS app bundles installed from Homebrew casks")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  caskhook --version                          Show version information")
	fmt.Fprintln(w, "  caskhook preflight [options] <staged-root>  Finalize a bundle in its staged tree")
	fmt.Fprintln(w, "  caskhook postflight [options]               Finalize the installed bundle")
	fmt.Fprintln(w, "  caskhook stage [options] <archive> <dir>    Extract an archive, then run preflight")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'caskhook <command> --help' for command options.")
}
