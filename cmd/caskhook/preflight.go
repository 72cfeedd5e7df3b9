package main

import (
	"fmt"
	"io"
)

// runPreflight handles the `caskhook preflight` subcommand. It runs the
// staged phase on the extracted archive tree before the host moves the
// bundle into place.
func runPreflight(args []string, stdout, stderr io.Writer) error {
	opts, err := parseHookArgs("preflight", args)
	if err != nil {
		return err
	}

	if opts.showHelp {
		printPreflightHelp(stdout)
		return nil
	}

	if len(opts.args) != 1 {
		return fmt.Errorf("expected exactly one staged root; run 'caskhook preflight --help' for usage")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, opts.verbose)
	defer logger.Sync()

	r := newPipeline(cfg, logger).StagedHook(opts.args[0], cfg.App)
	printReport(stdout, r)
	return nil
}

func printPreflightHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: caskhook preflight [options] <staged-root>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Find the app bundle in an extracted archive, move it to the top of the")
	fmt.Fprintln(w, "staged tree, clear its quarantine marking and make its executables runnable.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -c, --config <file>  Cask file (cask.lua) with app settings")
	fmt.Fprintln(w, "  --app <name>         Expected bundle name (default Clash.app)")
	fmt.Fprintln(w, "  -v, --verbose        Show debug logs")
	fmt.Fprintln(w, "  -h, --help           Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Problems are reported but never fail the install.")
}
