package main

import (
	"fmt"
	"io"
)

// runPostflight handles the `caskhook postflight` subcommand
func runPostflight(args []string, stdout, stderr io.Writer) error {
	opts, err := parseHookArgs("postflight", args, "--appdir")
	if err != nil {
		return err
	}

	if opts.showHelp {
		printPostflightHelp(stdout)
		return nil
	}

	if len(opts.args) != 0 {
		return fmt.Errorf("unexpected argument: %s\nRun 'caskhook postflight --help' for usage", opts.args[0])
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, opts.verbose)
	defer logger.Sync()

	r := newPipeline(cfg, logger).InstalledHook(cfg.AppDir, cfg.App)
	printReport(stdout, r)
	return nil
}

func printPostflightHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: caskhook postflight [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Clear the quarantine marking and fix executable permissions of the")
	fmt.Fprintln(w, "installed bundle. Does nothing when the bundle is not installed.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -c, --config <file>  Cask file (cask.lua) with app settings")
	fmt.Fprintln(w, "  --app <name>         Installed bundle name (default Clash.app)")
	fmt.Fprintln(w, "  --appdir <dir>       Applications directory (default /Applications,")
	fmt.Fprintf(w, "                       or $%s)\n", envAppDir)
	fmt.Fprintln(w, "  -v, --verbose        Show debug logs")
	fmt.Fprintln(w, "  -h, --help           Show this help message")
}
