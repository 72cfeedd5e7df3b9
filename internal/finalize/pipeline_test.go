package finalize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/caskhook/internal/bundle"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/diag"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/perms"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/quarantine"
	"github.com/ZebulonRouseFrantzich/caskhook/internal/testutil"
)

// markedAttributes treats every path as quarantined until it is cleared.
type markedAttributes struct {
	cleared map[string]bool
}

func newMarkedAttributes() *markedAttributes {
	return &markedAttributes{cleared: map[string]bool{}}
}

func (m *markedAttributes) Remove(path, name string) (bool, error) {
	if m.cleared[path] {
		return false, nil
	}
	m.cleared[path] = true
	return true, nil
}

// stepClock advances by one second on every call.
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	entries []logEntry
}

func (l *recordingLogger) Debug(msg string, kv ...interface{}) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, kv ...interface{})  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, kv ...interface{})  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, kv ...interface{}) { l.add("error", msg) }

func (l *recordingLogger) add(level, msg string) {
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) count(level string) int {
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// kvLogger keeps the key/value pairs of every message.
type kvLogger struct {
	recordingLogger
	fields map[string][]interface{}
}

func (l *kvLogger) Info(msg string, kv ...interface{}) {
	if l.fields == nil {
		l.fields = map[string][]interface{}{}
	}
	l.fields[msg] = kv
}

func (l *kvLogger) value(msg, key string) interface{} {
	kv := l.fields[msg]
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1]
		}
	}
	return nil
}

// fakeStripper returns canned results and records calls.
type fakeStripper struct {
	calls []string
	diag  *diag.Diagnostic
	panic bool
}

func (f *fakeStripper) Strip(path string) ([]string, *diag.Diagnostic) {
	f.calls = append(f.calls, path)
	if f.panic {
		panic("xattr exploded")
	}
	return nil, f.diag
}

// fakeNormalizer returns canned results and records calls.
type fakeNormalizer struct {
	calls []string
	diags diag.List
	panic bool
}

func (f *fakeNormalizer) Normalize(dir string) ([]string, diag.List) {
	f.calls = append(f.calls, dir)
	if f.panic {
		panic("chmod exploded")
	}
	return nil, f.diags
}

type fakeLocator struct {
	err error
}

func (f fakeLocator) Located(root, name string) (bundle.Located, bool, error) {
	return bundle.Located{}, false, f.err
}

func walkPaths(t *testing.T, root string) []string {
	t.Helper()
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return paths
}

func TestStaged_NestedBundleScenario(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	nested := testutil.MakeBundle(t, env.Staged, "SubDir/App.app", map[string]os.FileMode{"main": 0o644})
	want := testutil.TreeDigest(t, nested)

	attrs := newMarkedAttributes()
	p := New(WithStripper(quarantine.NewStripperWith(attrs, quarantine.Attribute)))

	r := p.Staged(env.Staged, "App.app")

	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v, want none", r.Diagnostics)
	}

	canonical := filepath.Join(env.Staged, "App.app")
	if r.Bundle != canonical {
		t.Errorf("Bundle = %q, want %q", r.Bundle, canonical)
	}
	if r.RelocatedFrom != nested {
		t.Errorf("RelocatedFrom = %q, want %q", r.RelocatedFrom, nested)
	}
	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Errorf("old nested path should be gone, stat err = %v", err)
	}

	got := testutil.TreeDigest(t, canonical)
	for k, v := range want {
		if got[k] != v {
			t.Errorf("content %s differs after relocation", k)
		}
	}

	for _, path := range walkPaths(t, canonical) {
		if !attrs.cleared[path] {
			t.Errorf("quarantine not stripped from %s", path)
		}
	}

	exe := filepath.Join(canonical, "Contents", "MacOS", "main")
	if mode := testutil.Mode(t, exe); mode != 0o755 {
		t.Errorf("main mode = %o, want 755", mode)
	}
	if len(r.Changed) != 1 || r.Changed[0] != exe {
		t.Errorf("Changed = %v, want [%s]", r.Changed, exe)
	}
}

func TestStaged_AlreadyCanonical(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := testutil.MakeBundle(t, env.Staged, "App.app", map[string]os.FileMode{"main": 0o755})
	before := testutil.TreeDigest(t, env.Staged)

	r := New().Staged(env.Staged, "App.app")

	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v, want none", r.Diagnostics)
	}
	if r.Bundle != bundlePath || r.RelocatedFrom != "" {
		t.Errorf("Bundle = %q, RelocatedFrom = %q; want unchanged path", r.Bundle, r.RelocatedFrom)
	}
	after := testutil.TreeDigest(t, env.Staged)
	for k, v := range before {
		if after[k] != v {
			t.Errorf("entry %s changed", k)
		}
	}
}

func TestStaged_NoBundle(t *testing.T) {
	tests := []struct {
		name string
		root func(t *testing.T) string
	}{
		{name: "empty tree", root: func(t *testing.T) string { return t.TempDir() }},
		{name: "missing tree", root: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
		{
			name: "files only",
			root: func(t *testing.T) string {
				dir := t.TempDir()
				testutil.WriteFile(t, filepath.Join(dir, "README"), "hi", 0o644)
				return dir
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stripper := &fakeStripper{}
			normalizer := &fakeNormalizer{}
			p := New(WithStripper(stripper), WithNormalizer(normalizer))

			r := p.Staged(tt.root(t), "App.app")

			if len(r.Diagnostics) != 1 || r.Diagnostics[0].Kind != diag.KindBundleNotFound {
				t.Fatalf("Diagnostics = %v, want exactly one BundleNotFound", r.Diagnostics)
			}
			if r.Diagnostics[0].Step != StepLocate {
				t.Errorf("Step = %q, want %q", r.Diagnostics[0].Step, StepLocate)
			}
			if r.Found() {
				t.Error("Found() = true, want false")
			}
			if !r.OK() {
				t.Error("a missing bundle is not a failure; OK() should be true")
			}
			if len(stripper.calls) != 0 || len(normalizer.calls) != 0 {
				t.Errorf("downstream steps ran: strip=%v normalize=%v", stripper.calls, normalizer.calls)
			}
		})
	}
}

func TestStaged_RelocationFailure(t *testing.T) {
	stripper := &fakeStripper{}
	p := New(
		WithLocator(fakeLocator{err: fmt.Errorf("move: %w", fs.ErrPermission)}),
		WithStripper(stripper),
	)

	r := p.Staged(t.TempDir(), "App.app")

	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Kind != diag.KindBundleRelocationFailed {
		t.Fatalf("Diagnostics = %v, want one BundleRelocationFailed", r.Diagnostics)
	}
	if !errors.Is(r.Diagnostics[0], fs.ErrPermission) {
		t.Errorf("diagnostic should wrap the cause: %v", r.Diagnostics[0])
	}
	if len(stripper.calls) != 0 {
		t.Error("stripper should not run without a bundle")
	}
	if r.OK() {
		t.Error("OK() = true, want false")
	}
}

func TestStaged_InvalidName(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	testutil.MakeBundle(t, env.Staged, "sub/App.app", nil)

	stripper := &fakeStripper{}
	r := New(WithStripper(stripper)).Staged(env.Staged, "../App.app")

	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Kind != diag.KindInvalidBundleName {
		t.Fatalf("Diagnostics = %v, want one InvalidBundleName", r.Diagnostics)
	}
	if !errors.Is(r.Diagnostics[0], bundle.ErrInvalidName) {
		t.Errorf("diagnostic should wrap ErrInvalidName: %v", r.Diagnostics[0])
	}
	if len(stripper.calls) != 0 {
		t.Error("stripper should not run without a bundle")
	}
	if _, err := os.Stat(filepath.Join(env.Staged, "sub", "App.app")); err != nil {
		t.Errorf("nested bundle should stay in place: %v", err)
	}
}

func TestStaged_SymlinkedRoot(t *testing.T) {
	tree := t.TempDir()
	testutil.MakeBundle(t, tree, "SubDir/App.app", map[string]os.FileMode{"main": 0o644})
	root := filepath.Join(t.TempDir(), "staged")
	if err := os.Symlink(tree, root); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	attrs := newMarkedAttributes()
	r := New(WithStripper(quarantine.NewStripperWith(attrs, ""))).Staged(root, "App.app")

	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v, want none", r.Diagnostics)
	}
	if want := filepath.Join(root, "App.app"); r.Bundle != want {
		t.Errorf("Bundle = %q, want %q", r.Bundle, want)
	}
	if want := filepath.Join(root, "SubDir", "App.app"); r.RelocatedFrom != want {
		t.Errorf("RelocatedFrom = %q, want %q", r.RelocatedFrom, want)
	}
	if mode := testutil.Mode(t, filepath.Join(tree, "App.app", "Contents", "MacOS", "main")); mode != 0o755 {
		t.Errorf("main mode = %o, want 755", mode)
	}
	for _, path := range walkPaths(t, r.Bundle) {
		if !attrs.cleared[path] {
			t.Errorf("quarantine not stripped from %s", path)
		}
	}
}

func TestStaged_CanonicalSymlink(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	target := testutil.MakeBundle(t, t.TempDir(), "Real.app", map[string]os.FileMode{"main": 0o644})
	if err := os.Symlink(target, filepath.Join(env.Staged, "App.app")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}

	attrs := newMarkedAttributes()
	r := New(WithStripper(quarantine.NewStripperWith(attrs, ""))).Staged(env.Staged, "App.app")

	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v, want none", r.Diagnostics)
	}
	if r.Bundle != resolved {
		t.Errorf("Bundle = %q, want %q", r.Bundle, resolved)
	}
	for _, path := range walkPaths(t, resolved) {
		if !attrs.cleared[path] {
			t.Errorf("quarantine not stripped from %s", path)
		}
	}
	if len(r.Cleared) < 2 {
		t.Errorf("Cleared = %v, want the bundle contents", r.Cleared)
	}
}

func TestStaged_NoExecutableDir(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := filepath.Join(env.Staged, "App.app")
	testutil.WriteFile(t, filepath.Join(bundlePath, "Contents", "Info.plist"), "<plist/>", 0o644)

	stripper := &fakeStripper{}
	normalizer := &fakeNormalizer{}
	r := New(WithStripper(stripper), WithNormalizer(normalizer)).Staged(env.Staged, "App.app")

	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", r.Diagnostics)
	}
	if len(stripper.calls) != 1 || stripper.calls[0] != bundlePath {
		t.Errorf("strip calls = %v, want [%s]", stripper.calls, bundlePath)
	}
	if len(normalizer.calls) != 0 {
		t.Errorf("normalizer should be skipped, calls = %v", normalizer.calls)
	}
}

func TestStaged_FailSoft(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := testutil.MakeBundle(t, env.Staged, "App.app", map[string]os.FileMode{"main": 0o644})
	exeDir := filepath.Join(bundlePath, "Contents", "MacOS")

	stripper := &fakeStripper{diag: diag.New(diag.KindAttributeRemovalFailed, bundlePath, fs.ErrPermission)}
	normalizer := &fakeNormalizer{diags: diag.List{
		diag.New(diag.KindPermissionChangeFailed, filepath.Join(exeDir, "main"), fs.ErrPermission),
	}}
	logger := &recordingLogger{}

	r := New(WithStripper(stripper), WithNormalizer(normalizer), WithLogger(logger)).Staged(env.Staged, "App.app")

	if len(normalizer.calls) != 1 || normalizer.calls[0] != exeDir {
		t.Fatalf("normalizer must still run after a strip failure, calls = %v", normalizer.calls)
	}
	if len(r.Diagnostics) != 2 {
		t.Fatalf("Diagnostics = %v, want 2", r.Diagnostics)
	}
	if r.Diagnostics[0].Step != StepStrip || r.Diagnostics[1].Step != StepNormalize {
		t.Errorf("steps = %q, %q; want %q, %q", r.Diagnostics[0].Step, r.Diagnostics[1].Step, StepStrip, StepNormalize)
	}
	if r.OK() {
		t.Error("OK() = true, want false")
	}
	if logger.count("warn") != 2 {
		t.Errorf("warn logs = %d, want 2", logger.count("warn"))
	}
}

func TestStaged_PanicIsRecovered(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	testutil.MakeBundle(t, env.Staged, "App.app", map[string]os.FileMode{"main": 0o644})

	normalizer := &fakeNormalizer{}
	logger := &recordingLogger{}
	p := New(WithStripper(&fakeStripper{panic: true}), WithNormalizer(normalizer), WithLogger(logger))

	var r *Report
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("panic escaped the pipeline: %v", rec)
			}
		}()
		r = p.Staged(env.Staged, "App.app")
	}()

	if !r.Diagnostics.Has(diag.KindStepPanicked) {
		t.Fatalf("Diagnostics = %v, want StepPanicked", r.Diagnostics)
	}
	if r.Diagnostics[0].Step != StepStrip {
		t.Errorf("Step = %q, want %q", r.Diagnostics[0].Step, StepStrip)
	}
	if len(normalizer.calls) != 1 {
		t.Error("normalizer should run after a panicking strip step")
	}
	if logger.count("error") != 1 {
		t.Errorf("error logs = %d, want 1", logger.count("error"))
	}
}

func TestStaged_NormalizePanicPath(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := testutil.MakeBundle(t, env.Staged, "App.app", map[string]os.FileMode{"main": 0o644})

	p := New(WithStripper(&fakeStripper{}), WithNormalizer(&fakeNormalizer{panic: true}))
	r := p.Staged(env.Staged, "App.app")

	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Kind != diag.KindStepPanicked {
		t.Fatalf("Diagnostics = %v, want one StepPanicked", r.Diagnostics)
	}
	d := r.Diagnostics[0]
	if d.Step != StepNormalize {
		t.Errorf("Step = %q, want %q", d.Step, StepNormalize)
	}
	if want := filepath.Join(bundlePath, "Contents", "MacOS"); d.Path != want {
		t.Errorf("Path = %q, want %q", d.Path, want)
	}
}

func TestStaged_LogsFoldedDiagnostics(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := testutil.MakeBundle(t, env.Staged, "App.app", nil)

	logger := &kvLogger{}
	stripper := &fakeStripper{diag: diag.New(diag.KindAttributeRemovalFailed, bundlePath, fs.ErrPermission)}
	New(WithStripper(stripper), WithLogger(logger)).Staged(env.Staged, "App.app")

	err, ok := logger.value("phase finished", "error").(error)
	if !ok {
		t.Fatal("phase finished log has no error field")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("folded error = %v, want it to wrap the strip cause", err)
	}
}

func TestInstalled_Missing(t *testing.T) {
	stripper := &fakeStripper{}
	r := New(WithStripper(stripper)).Installed(filepath.Join(t.TempDir(), "App.app"))

	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", r.Diagnostics)
	}
	if r.Found() {
		t.Error("Found() = true, want false")
	}
	if len(stripper.calls) != 0 {
		t.Error("stripper should not run for a missing bundle")
	}
	if r.Phase != PhaseInstalled {
		t.Errorf("Phase = %q, want %q", r.Phase, PhaseInstalled)
	}
}

func TestInstalledHook(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := testutil.MakeBundle(t, env.AppDir, "App.app", map[string]os.FileMode{"main": 0o600, "helper": 0o755})

	attrs := newMarkedAttributes()
	p := New(WithStripper(quarantine.NewStripperWith(attrs, "")))

	r := p.InstalledHook(env.AppDir, "App.app")
	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v, want none", r.Diagnostics)
	}
	if r.Bundle != bundlePath {
		t.Errorf("Bundle = %q, want %q", r.Bundle, bundlePath)
	}
	if r.RelocatedFrom != "" {
		t.Error("installed phase never relocates")
	}
	for _, path := range walkPaths(t, bundlePath) {
		if !attrs.cleared[path] {
			t.Errorf("quarantine not stripped from %s", path)
		}
	}
	if mode := testutil.Mode(t, filepath.Join(bundlePath, "Contents", "MacOS", "main")); mode != 0o755 {
		t.Errorf("main mode = %o, want 755", mode)
	}
	if len(r.Changed) != 1 {
		t.Errorf("Changed = %v, want only main", r.Changed)
	}

	// Second run is a clean no-op
	again := p.InstalledHook(env.AppDir, "App.app")
	if len(again.Diagnostics) != 0 || len(again.Changed) != 0 || len(again.Cleared) != 0 {
		t.Errorf("second run = (diags %v, changed %v, cleared %v), want nothing", again.Diagnostics, again.Changed, again.Cleared)
	}
}

func TestInstalled_FollowsSymlink(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	target := testutil.MakeBundle(t, t.TempDir(), "Caskroom/App.app", map[string]os.FileMode{"main": 0o644})
	link := filepath.Join(env.AppDir, "App.app")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	r := New().Installed(link)
	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v, want none", r.Diagnostics)
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	if r.Bundle != resolved {
		t.Errorf("Bundle = %q, want %q", r.Bundle, resolved)
	}
	if mode := testutil.Mode(t, filepath.Join(target, "Contents", "MacOS", "main")); mode != 0o755 {
		t.Errorf("main mode = %o, want 755", mode)
	}
}

func TestInstalled_CustomExecutableDir(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	bundlePath := testutil.MakeBundle(t, env.AppDir, "App.app", nil)
	helper := filepath.Join(bundlePath, "Contents", "Helpers", "agent")
	testutil.WriteFile(t, helper, "bin", 0o644)

	r := New(WithExecutableDir("Contents/Helpers")).Installed(bundlePath)
	if len(r.Diagnostics) != 0 {
		t.Fatalf("Diagnostics = %v", r.Diagnostics)
	}
	if mode := testutil.Mode(t, helper); mode != perms.Executable {
		t.Errorf("helper mode = %o, want %o", mode, perms.Executable)
	}
}

func TestReportMetadata(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := New(WithClock(clock))

	first := p.Staged(t.TempDir(), "App.app")
	second := p.Installed(filepath.Join(t.TempDir(), "App.app"))

	for _, r := range []*Report{first, second} {
		if _, err := uuid.Parse(r.ID); err != nil {
			t.Errorf("ID %q is not a UUID: %v", r.ID, err)
		}
		if r.Duration != time.Second {
			t.Errorf("Duration = %v, want 1s", r.Duration)
		}
	}
	if first.ID == second.ID {
		t.Error("each phase invocation should get its own ID")
	}
	if first.Phase != PhaseStaged || second.Phase != PhaseInstalled {
		t.Errorf("phases = %q, %q", first.Phase, second.Phase)
	}
}
