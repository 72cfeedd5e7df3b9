package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/bundle"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/config"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/finalize"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/platform"
)

// envAppDir overrides the default applications directory.
const envAppDir = "CASKHOOK_APPDIR"

// configTimeout bounds platform detection while loading a cask file.
const configTimeout = 10 * time.Second

// hookOpts holds parsed options shared by the hook commands
type hookOpts struct {
	showHelp   bool
	verbose    bool
	configPath string
	app        string
	appDir     string
	args       []string
}

// parseHookArgs parses command line arguments for cmd. Value options other
// than --config and --app are accepted only when listed in extra.
func parseHookArgs(cmd string, args []string, extra ...string) (*hookOpts, error) {
	opts := &hookOpts{
		args: make([]string, 0),
	}

	values := map[string]*string{
		"--config": &opts.configPath,
		"-c":       &opts.configPath,
		"--app":    &opts.app,
	}
	optional := map[string]*string{
		"--appdir": &opts.appDir,
	}
	for _, name := range extra {
		if dst, ok := optional[name]; ok {
			values[name] = dst
		}
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--help", "-h":
			opts.showHelp = true
		case "--verbose", "-v":
			opts.verbose = true
		default:
			if dst, ok := values[arg]; ok {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("%s requires a value", arg)
				}
				i++
				*dst = args[i]
				continue
			}
			// Anything not starting with - is a positional argument
			if len(arg) > 0 && arg[0] != '-' {
				opts.args = append(opts.args, arg)
			} else {
				return nil, fmt.Errorf("unknown option: %s\nRun 'caskhook %s --help' for usage", arg, cmd)
			}
		}
	}

	return opts, nil
}

// loadConfig resolves the cask configuration. Flags override the cask file,
// which overrides the environment, which only replaces the built-in
// applications directory.
func loadConfig(opts *hookOpts) (*config.Config, error) {
	defaults := config.Default()
	if dir := os.Getenv(envAppDir); dir != "" {
		defaults.AppDir = dir
	}
	cfg := defaults

	if opts.configPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), configTimeout)
		defer cancel()

		parser := config.NewParser(platform.NewDetector()).WithDefaults(defaults)
		parsed, err := parser.ParseFile(ctx, opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load cask config: %s", config.FormatError(err, opts.verbose))
		}
		cfg = parsed
	}

	if opts.app != "" {
		cfg.App = opts.app
	}
	if opts.appDir != "" {
		cfg.AppDir = opts.appDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newPipeline builds a pipeline for cfg.
func newPipeline(cfg *config.Config, logger finalize.Logger) *finalize.Pipeline {
	return finalize.New(
		finalize.WithLogger(logger),
		finalize.WithLocator(bundle.NewLocator(cfg.Extension)),
		finalize.WithExecutableDir(cfg.ExecutableDir),
	)
}

// printReport writes the phase report and any manual remediation steps.
func printReport(w io.Writer, r *finalize.Report) {
	fmt.Fprint(w, finalize.FormatReport(r))
	if remediation := finalize.Remediation(r); remediation != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, remediation)
	}
}
