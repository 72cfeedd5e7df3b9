package main

import (
	"fmt"
	"io"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/stage"
)

// runStage handles the `caskhook stage` subcommand. It extracts a local
// archive the way the host would, then runs the staged phase on the result.
func runStage(args []string, stdout, stderr io.Writer) error {
	opts, err := parseHookArgs("stage", args)
	if err != nil {
		return err
	}

	if opts.showHelp {
		printStageHelp(stdout)
		return nil
	}

	if len(opts.args) != 2 {
		return fmt.Errorf("expected an archive and a staged root; run 'caskhook stage --help' for usage")
	}
	archive, root := opts.args[0], opts.args[1]

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, opts.verbose)
	defer logger.Sync()

	logger.Debug("extracting archive", "archive", archive, "dest", root)
	if err := stage.NewExtractor().Extract(archive, root); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	r := newPipeline(cfg, logger).StagedHook(root, cfg.App)
	printReport(stdout, r)
	return nil
}

func printStageHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: caskhook stage [options] <archive> <staged-root>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Extract a .zip, .tar.gz or .tgz archive into <staged-root>, then run")
	fmt.Fprintln(w, "the preflight finalization on it.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -c, --config <file>  Cask file (cask.lua) with app settings")
	fmt.Fprintln(w, "  --app <name>         Expected bundle name (default Clash.app)")
	fmt.Fprintln(w, "  -v, --verbose        Show debug logs")
	fmt.Fprintln(w, "  -h, --help           Show this help message")
}
