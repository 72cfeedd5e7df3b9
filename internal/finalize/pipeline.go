package finalize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/bundle"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/diag"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/perms"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/quarantine"
)

// Step names recorded on diagnostics.
const (
	StepLocate    = "locate"
	StepStrip     = "strip-quarantine"
	StepNormalize = "normalize-permissions"
)

// BundleLocator finds a bundle in a staged tree, relocating it if nested.
type BundleLocator interface {
	Located(root, expectedName string) (bundle.Located, bool, error)
}

// QuarantineStripper clears the quarantine marking recursively.
type QuarantineStripper interface {
	Strip(path string) ([]string, *diag.Diagnostic)
}

// PermissionNormalizer raises executables in one directory to 0755.
type PermissionNormalizer interface {
	Normalize(dir string) ([]string, diag.List)
}

// Pipeline composes the locate, strip and normalize steps.
// A Pipeline holds no per-invocation state and may serve both phases.
type Pipeline struct {
	locator       BundleLocator
	stripper      QuarantineStripper
	normalizer    PermissionNormalizer
	executableDir string
	logger        Logger
	clock         Clock
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the clock used for report timings.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithExecutableDir sets the executable directory relative to the bundle root.
func WithExecutableDir(rel string) Option {
	return func(p *Pipeline) {
		if rel != "" {
			p.executableDir = rel
		}
	}
}

// WithLocator replaces the bundle locator.
func WithLocator(l BundleLocator) Option {
	return func(p *Pipeline) { p.locator = l }
}

// WithStripper replaces the quarantine stripper.
func WithStripper(s QuarantineStripper) Option {
	return func(p *Pipeline) { p.stripper = s }
}

// WithNormalizer replaces the permission normalizer.
func WithNormalizer(n PermissionNormalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// New creates a pipeline backed by the operating system.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		locator:       bundle.NewLocator(bundle.DefaultExtension),
		stripper:      quarantine.NewStripper(),
		normalizer:    perms.NewNormalizer(),
		executableDir: bundle.DefaultExecutableDir,
		logger:        &noopLogger{},
		clock:         RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Staged runs the staged phase on an extracted archive tree.
// A tree without any bundle ends the phase with a single BundleNotFound
// diagnostic.
func (p *Pipeline) Staged(root, expectedName string) *Report {
	r := p.begin(PhaseStaged)
	defer p.end(r)

	p.logger.Info("staged phase started", "id", r.ID, "root", root, "app", expectedName)

	p.runStep(r, StepLocate, func() diag.List {
		loc, found, err := p.locator.Located(root, expectedName)
		if errors.Is(err, bundle.ErrInvalidName) {
			return diag.List{diag.New(diag.KindInvalidBundleName, expectedName, err)}
		}
		if err != nil {
			return diag.List{diag.New(diag.KindBundleRelocationFailed, root, err)}
		}
		if !found {
			return diag.List{diag.New(diag.KindBundleNotFound, root, nil)}
		}
		r.Bundle = loc.Path
		r.RelocatedFrom = loc.From
		if loc.Relocated() {
			p.logger.Info("bundle relocated", "from", loc.From, "to", loc.Path)
		}
		return nil
	})

	if r.Bundle == "" {
		return r
	}

	p.finalizeBundle(r)
	return r
}

// Installed runs the installed phase on the final bundle path.
// A missing path is a no-op with no diagnostics.
func (p *Pipeline) Installed(bundlePath string) *Report {
	r := p.begin(PhaseInstalled)
	defer p.end(r)

	p.logger.Info("installed phase started", "id", r.ID, "path", bundlePath)

	resolved, err := resolveInstalled(bundlePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d := diag.New(diag.KindBundleNotFound, bundlePath, err)
			d.Step = StepLocate
			r.Diagnostics.Add(d)
			p.logger.Warn("installed bundle not accessible", "path", bundlePath, "error", err)
		} else {
			p.logger.Debug("installed bundle absent, nothing to do", "path", bundlePath)
		}
		return r
	}

	r.Bundle = resolved
	p.finalizeBundle(r)
	return r
}

// StagedHook is the preflight entry point.
func (p *Pipeline) StagedHook(stagedRoot, appName string) *Report {
	return p.Staged(stagedRoot, appName)
}

// InstalledHook is the postflight entry point. The bundle is expected at
// appDir/appName.
func (p *Pipeline) InstalledHook(appDir, appName string) *Report {
	return p.Installed(filepath.Join(appDir, appName))
}

// finalizeBundle strips quarantine, then normalizes the executable directory
// when it exists.
func (p *Pipeline) finalizeBundle(r *Report) {
	p.runStep(r, StepStrip, func() diag.List {
		cleared, d := p.stripper.Strip(r.Bundle)
		r.Cleared = append(r.Cleared, cleared...)
		if d != nil {
			return diag.List{d}
		}
		return nil
	})

	exeDir := bundle.ExecutableDir(r.Bundle, p.executableDir)
	info, err := os.Stat(exeDir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		p.logger.Debug("no executable directory, skipping permissions", "dir", exeDir)
		return
	}
	// Any other stat failure is left for the normalizer to report

	p.runStep(r, StepNormalize, func() diag.List {
		changed, diags := p.normalizer.Normalize(exeDir)
		r.Changed = append(r.Changed, changed...)
		return diags
	})
}

// runStep executes one step under the fail-soft policy. Diagnostics returned
// by fn, and any panic, are recorded on the report; the caller always
// continues.
func (p *Pipeline) runStep(r *Report, name string, fn func() diag.List) {
	defer func() {
		if rec := recover(); rec != nil {
			path := r.Bundle
			if name == StepNormalize {
				path = bundle.ExecutableDir(r.Bundle, p.executableDir)
			}
			d := diag.New(diag.KindStepPanicked, path, fmt.Errorf("panic: %v", rec))
			d.Step = name
			r.Diagnostics.Add(d)
			p.logger.Error("step panicked", "step", name, "panic", rec)
		}
	}()

	p.logger.Debug("step started", "step", name)

	diags := fn()
	for _, d := range diags {
		if d == nil {
			continue
		}
		if d.Step == "" {
			d.Step = name
		}
		if d.Kind == diag.KindBundleNotFound {
			p.logger.Info("no bundle found", "step", name, "path", d.Path)
		} else {
			p.logger.Warn("step failed", "step", name, "kind", d.Kind.String(), "path", d.Path, "error", d.Err)
		}
	}
	r.Diagnostics.Extend(diags)
}

func (p *Pipeline) begin(phase Phase) *Report {
	return &Report{
		ID:        uuid.New().String(),
		Phase:     phase,
		StartedAt: p.clock.Now(),
	}
}

func (p *Pipeline) end(r *Report) {
	r.Duration = p.clock.Now().Sub(r.StartedAt)
	kv := []interface{}{
		"id", r.ID,
		"phase", string(r.Phase),
		"bundle", r.Bundle,
		"cleared", len(r.Cleared),
		"changed", len(r.Changed),
		"diagnostics", len(r.Diagnostics),
		"duration", r.Duration,
	}
	if err := r.Diagnostics.Err(); err != nil {
		kv = append(kv, "error", err)
	}
	p.logger.Info("phase finished", kv...)
}

// resolveInstalled returns the real bundle directory behind path, following a
// symlinked install location.
func resolveInstalled(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	return filepath.EvalSymlinks(path)
}
